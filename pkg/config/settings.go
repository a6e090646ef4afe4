package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/weftlab/loom/pkg/models"
)

const settingsFileName = "settings.json"

// Settings holds the mutable engine settings the API exposes. Unlike the
// YAML configuration these survive edits at runtime: updates are persisted
// to <dataDir>/settings.json and take effect for subsequently created runs
// and nodes.
type Settings struct {
	// Provider assigned to nodes created without an explicit provider
	DefaultProvider string `json:"defaultProvider"`

	// Orchestration mode for new runs (auto or interactive)
	DefaultMode models.RunMode `json:"defaultMode"`

	// Global mode for new runs (planning or implementation)
	DefaultGlobalMode models.GlobalMode `json:"defaultGlobalMode"`

	// When true, nodes created without an explicit permissions mode are gated
	ApprovalsRequired bool `json:"approvalsRequired"`
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	DefaultProvider   *string            `json:"defaultProvider,omitempty"`
	DefaultMode       *models.RunMode    `json:"defaultMode,omitempty"`
	DefaultGlobalMode *models.GlobalMode `json:"defaultGlobalMode,omitempty"`
	ApprovalsRequired *bool              `json:"approvalsRequired,omitempty"`
}

// SettingsStore persists Settings to <dataDir>/settings.json with
// thread-safe access. The file is optional; when absent the configured
// defaults apply until the first update.
type SettingsStore struct {
	path      string
	providers *ProviderRegistry

	mu      sync.Mutex
	current Settings
}

// NewSettingsStore creates a settings store rooted at dataDir, seeded from
// the configuration defaults and overlaid with any persisted settings file.
// An unreadable settings file is logged and ignored rather than failing
// startup.
func NewSettingsStore(dataDir string, cfg *Config) *SettingsStore {
	s := &SettingsStore{
		path:      filepath.Join(dataDir, settingsFileName),
		providers: cfg.Providers,
		current: Settings{
			DefaultProvider:   cfg.Defaults.Provider,
			DefaultMode:       cfg.Defaults.Mode,
			DefaultGlobalMode: cfg.Defaults.GlobalMode,
		},
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read settings file, using defaults", "path", s.path, "error", err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.current); err != nil {
		slog.Warn("Ignoring malformed settings file", "path", s.path, "error", err)
	}
	return s
}

// Get returns the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies a partial update, persists the result and returns it.
// The settings file keeps its previous content if validation fails.
func (s *SettingsStore) Update(patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if patch.DefaultProvider != nil {
		next.DefaultProvider = *patch.DefaultProvider
	}
	if patch.DefaultMode != nil {
		next.DefaultMode = *patch.DefaultMode
	}
	if patch.DefaultGlobalMode != nil {
		next.DefaultGlobalMode = *patch.DefaultGlobalMode
	}
	if patch.ApprovalsRequired != nil {
		next.ApprovalsRequired = *patch.ApprovalsRequired
	}

	if err := s.validate(next); err != nil {
		return s.current, err
	}

	if err := s.save(next); err != nil {
		return s.current, fmt.Errorf("failed to persist settings: %w", err)
	}
	s.current = next
	return next, nil
}

func (s *SettingsStore) validate(settings Settings) error {
	if settings.DefaultProvider == "" {
		return NewValidationError("settings", "", "defaultProvider", fmt.Errorf("provider required"))
	}
	if s.providers != nil && !s.providers.Has(settings.DefaultProvider) {
		return NewValidationError("settings", "", "defaultProvider", fmt.Errorf("provider '%s' not found", settings.DefaultProvider))
	}
	if !settings.DefaultMode.IsValid() {
		return NewValidationError("settings", "", "defaultMode", fmt.Errorf("invalid run mode: %s", settings.DefaultMode))
	}
	if !settings.DefaultGlobalMode.IsValid() {
		return NewValidationError("settings", "", "defaultGlobalMode", fmt.Errorf("invalid global mode: %s", settings.DefaultGlobalMode))
	}
	return nil
}

// save writes atomically via a temp file so a crash mid-write cannot leave
// a truncated settings file behind.
func (s *SettingsStore) save(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
