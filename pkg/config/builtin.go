package config

import (
	"sync"
	"time"

	"github.com/weftlab/loom/pkg/models"
)

// BuiltinConfig holds all built-in configuration data.
// This provides default providers, role template names and masking patterns.
type BuiltinConfig struct {
	Providers       map[string]ProviderSpec
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
	DefaultProvider string
	RoleTemplates   map[models.NodeRole]string
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Providers:       initBuiltinProviders(),
		MaskingPatterns: initBuiltinMaskingPatterns(),
		PatternGroups:   initBuiltinPatternGroups(),
		DefaultProvider: "claude-cli",
		RoleTemplates: map[models.NodeRole]string{
			models.NodeRoleOrchestrator: "orchestrator",
			models.NodeRoleWorker:       "implementer",
		},
	}
}

func initBuiltinProviders() map[string]ProviderSpec {
	return map[string]ProviderSpec{
		// Claude Code in bidirectional streaming mode: one long-lived
		// process per node session, user turns written as stream-json
		// input frames.
		"claude-cli": {
			Type:          models.TransportCLI,
			Protocol:      models.ProtocolStreamJSON,
			Command:       []string{"claude", "--print", "--input-format", "stream-json", "--output-format", "stream-json", "--verbose"},
			ResetCommands: []string{"/clear"},
			KillGrace:     2 * time.Second,
			NativeTools:   models.NativeToolsProvider,
		},
		// Codex CLI speaking one JSON object per line.
		"codex-cli": {
			Type:        models.TransportCLI,
			Protocol:    models.ProtocolJSONL,
			Command:     []string{"codex", "exec", "--json"},
			KillGrace:   2 * time.Second,
			NativeTools: models.NativeToolsProvider,
		},
		// Direct API access; the engine executes every tool call itself.
		"openai": {
			Type:            models.TransportAPI,
			Model:           "gpt-5",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxOutputTokens: 32000,
			NativeTools:     models.NativeToolsEngine,
		},
		// Scripted adapter for tests and offline development.
		"mock": {
			Type:        models.TransportMock,
			NativeTools: models.NativeToolsEngine,
		},
	}
}

func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|passwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM certificates and private keys",
		},
		"env_secret": {
			Pattern:     `(?i)(?:secret|credential)s?["']?\s*[:=]\s*["']?([^"'\s\n]{8,})["']?`,
			Replacement: `"secret": "__MASKED_SECRET__"`,
			Description: "Generic secrets",
		},
	}
}

func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"security": {"api_key", "password", "token", "certificate", "env_secret"},
	}
}
