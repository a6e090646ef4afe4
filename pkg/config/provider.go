package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weftlab/loom/pkg/models"
)

// defaultKillGrace is applied to cli providers that don't set kill_grace.
const defaultKillGrace = 2 * time.Second

// ProviderSpec defines one agent provider a node can run on. The Type field
// selects the adapter implementation; the remaining fields are read by the
// matching adapter only.
type ProviderSpec struct {
	// Transport type (required): cli, api or mock
	Type models.TransportType `yaml:"type"`

	// cli: wire protocol spoken on the subprocess's stdout
	Protocol models.ProtocolType `yaml:"protocol,omitempty"`

	// cli: argv of the subprocess, argv[0] resolved via PATH
	Command []string `yaml:"command,omitempty"`

	// cli: extra environment passed to the subprocess (merged over inherited)
	Env map[string]string `yaml:"env,omitempty"`

	// cli: grace period between interrupt and force-kill
	KillGrace time.Duration `yaml:"kill_grace,omitempty"`

	// api: model name
	Model string `yaml:"model,omitempty"`

	// api: environment variable name holding the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// api: optional custom base URL
	BaseURL string `yaml:"base_url,omitempty"`

	// api: output token ceiling per turn
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty"`

	// Commands replayed into a session on resetNode (e.g. "/clear")
	ResetCommands []string `yaml:"reset_commands,omitempty"`

	// Whether tool calls are executed by the engine or natively by the
	// provider. Nodes can override this per-node.
	NativeTools models.NativeToolHandling `yaml:"native_tools,omitempty"`
}

// ProviderRegistry stores provider specs in memory with thread-safe access
type ProviderRegistry struct {
	providers map[string]*ProviderSpec
	mu        sync.RWMutex
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry(providers map[string]*ProviderSpec) *ProviderRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*ProviderSpec, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ProviderRegistry{
		providers: copied,
	}
}

// Get retrieves a provider spec by name (thread-safe)
func (r *ProviderRegistry) Get(name string) (*ProviderSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return spec, nil
}

// GetAll returns all provider specs (thread-safe)
func (r *ProviderRegistry) GetAll() map[string]*ProviderSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*ProviderSpec, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Names returns a sorted list of all registered provider names (thread-safe)
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of providers in the registry (thread-safe)
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
