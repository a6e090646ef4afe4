package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func TestInitializeDefaults(t *testing.T) {
	// Empty config directory: everything comes from built-ins
	configDir := t.TempDir()

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Built-in providers are registered
	assert.True(t, cfg.Providers.Has("claude-cli"))
	assert.True(t, cfg.Providers.Has("codex-cli"))
	assert.True(t, cfg.Providers.Has("openai"))
	assert.True(t, cfg.Providers.Has("mock"))

	// Section defaults apply
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 2, cfg.Engine.StallThreshold)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.ListenAddr)
	assert.False(t, cfg.Retention.Enabled)

	// Defaults resolve from built-ins
	assert.Equal(t, "claude-cli", cfg.Defaults.Provider)
	assert.Equal(t, models.RunModeInteractive, cfg.Defaults.Mode)
	assert.Equal(t, models.GlobalModeImplementation, cfg.Defaults.GlobalMode)
	require.NotNil(t, cfg.Defaults.Masking)
	assert.True(t, cfg.Defaults.Masking.Enabled)
	assert.Equal(t, "security", cfg.Defaults.Masking.PatternGroup)

	// Data directory expands the home shorthand
	assert.False(t, strings.HasPrefix(cfg.DataDir, "~"))
	assert.True(t, strings.HasSuffix(cfg.DataDir, ".loom"))

	stats := cfg.Stats()
	assert.Equal(t, 4, stats.Providers)
	assert.Greater(t, stats.MaskingPatterns, 0)
	assert.Greater(t, stats.PatternGroups, 0)
}

func TestInitializeMissingConfigDir(t *testing.T) {
	// A config directory that does not exist is equivalent to an empty one
	ctx := context.Background()
	cfg, err := Initialize(ctx, filepath.Join(t.TempDir(), "does-not-exist"))

	require.NoError(t, err)
	assert.True(t, cfg.Providers.Has("claude-cli"))
}

func TestInitializeWithLoomYAML(t *testing.T) {
	configDir := t.TempDir()

	config := `
data_dir: /tmp/loom-test-data

engine:
  tick_interval: 1s
  stall_threshold: 3

server:
  listen_addr: "0.0.0.0:9999"

defaults:
  provider: mock
  mode: auto

providers:
  my-agent:
    type: cli
    command: ["my-agent", "--jsonl"]
`
	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/loom-test-data", cfg.DataDir)
	assert.Equal(t, time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 3, cfg.Engine.StallThreshold)
	// Unset engine fields keep defaults
	assert.Equal(t, 200, cfg.Engine.CatchupLimit)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.ListenAddr)

	assert.Equal(t, "mock", cfg.Defaults.Provider)
	assert.Equal(t, models.RunModeAuto, cfg.Defaults.Mode)
	// Unset defaults still resolve
	assert.Equal(t, models.GlobalModeImplementation, cfg.Defaults.GlobalMode)

	// User provider merged alongside built-ins
	spec, err := cfg.GetProvider("my-agent")
	require.NoError(t, err)
	assert.Equal(t, models.TransportCLI, spec.Type)
	assert.Equal(t, []string{"my-agent", "--jsonl"}, spec.Command)
	assert.True(t, cfg.Providers.Has("claude-cli"))
}

func TestInitializeProvidersPrecedence(t *testing.T) {
	configDir := t.TempDir()

	// providers.yaml defines shared-agent; loom.yaml overrides it inline
	providersYAML := `
providers:
  shared-agent:
    type: cli
    command: ["shared", "--v1"]
`
	err := os.WriteFile(filepath.Join(configDir, "providers.yaml"), []byte(providersYAML), 0644)
	require.NoError(t, err)

	loomYAML := `
providers:
  shared-agent:
    type: cli
    command: ["shared", "--v2"]
`
	err = os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(loomYAML), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)

	spec, err := cfg.GetProvider("shared-agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared", "--v2"}, spec.Command)
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := t.TempDir()

	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(`{{{`), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	configDir := t.TempDir()

	// cli provider without a command
	config := `
providers:
  broken:
    type: cli
`
	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "command")
}

func TestInitializeUnknownDefaultProvider(t *testing.T) {
	configDir := t.TempDir()

	config := `
defaults:
  provider: nope
`
	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestEnvironmentVariableInterpolationInConfig(t *testing.T) {
	configDir := t.TempDir()

	config := `
providers:
  custom:
    type: api
    model: "{{.TEST_MODEL}}"
    api_key_env: MY_KEY
    base_url: "{{.TEST_BASE_URL}}"
`
	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_MODEL", "gpt-5-mini")
	t.Setenv("TEST_BASE_URL", "http://localhost:11434/v1")

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)

	spec, err := cfg.GetProvider("custom")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mini", spec.Model)
	assert.Equal(t, "http://localhost:11434/v1", spec.BaseURL)
}

func TestProviderDefaultsApplied(t *testing.T) {
	configDir := t.TempDir()

	config := `
providers:
  bare-cli:
    type: cli
    command: ["agent"]
  bare-api:
    type: api
    model: m1
    api_key_env: K1
`
	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)

	cli, err := cfg.GetProvider("bare-cli")
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolJSONL, cli.Protocol)
	assert.Equal(t, 2*time.Second, cli.KillGrace)
	assert.Equal(t, models.NativeToolsEngine, cli.NativeTools)

	api, err := cfg.GetProvider("bare-api")
	require.NoError(t, err)
	assert.Equal(t, models.NativeToolsEngine, api.NativeTools)
}

func TestCustomMaskingPatterns(t *testing.T) {
	configDir := t.TempDir()

	config := `
masking:
  custom_patterns:
    internal_id:
      pattern: "ID-[0-9]{8}"
      replacement: "__MASKED_ID__"
  pattern_groups:
    internal: ["internal_id", "api_key"]
`
	err := os.WriteFile(filepath.Join(configDir, "loom.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)
	require.NoError(t, err)

	patterns := cfg.PatternsForGroup("internal")
	require.Len(t, patterns, 2)

	// Built-in groups still resolve
	assert.NotEmpty(t, cfg.PatternsForGroup("security"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, filepath.Join(home, ".loom"), ExpandHome("~/.loom"))
	assert.Equal(t, "/var/lib/loom", ExpandHome("/var/lib/loom"))
	assert.Equal(t, "relative/path", ExpandHome("relative/path"))
}
