package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/weftlab/loom/pkg/models"
)

// LoomYAMLConfig represents the complete loom.yaml file structure
type LoomYAMLConfig struct {
	DataDir   string                  `yaml:"data_dir"`
	Server    *ServerConfig           `yaml:"server"`
	Engine    *EngineConfig           `yaml:"engine"`
	Workspace *WorkspaceConfig        `yaml:"workspace"`
	Templates *TemplatesConfig        `yaml:"templates"`
	Retention *RetentionConfig        `yaml:"retention"`
	Defaults  *Defaults               `yaml:"defaults"`
	Providers map[string]ProviderSpec `yaml:"providers"`
	Masking   *MaskingYAMLConfig      `yaml:"masking"`
}

// MaskingYAMLConfig holds user-defined masking patterns and groups from YAML.
type MaskingYAMLConfig struct {
	CustomPatterns map[string]MaskingPattern `yaml:"custom_patterns,omitempty"`
	PatternGroups  map[string][]string       `yaml:"pattern_groups,omitempty"`
}

// ProvidersYAMLConfig represents the providers.yaml file structure
type ProvidersYAMLConfig struct {
	Providers map[string]ProviderSpec `yaml:"providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Both loom.yaml and providers.yaml are optional: the daemon runs on
// built-in defaults with an empty config directory.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Merge built-in + user-defined providers and masking patterns
//  4. Overlay user section configs onto built-in defaults
//  5. Apply provider defaults (protocol, kill grace)
//  6. Build the provider registry
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"masking_patterns", stats.MaskingPatterns,
		"data_dir", cfg.DataDir)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load loom.yaml (sections, defaults, inline providers)
	var loomCfg LoomYAMLConfig
	if err := loader.loadYAML("loom.yaml", &loomCfg); err != nil {
		return nil, NewLoadError("loom.yaml", err)
	}

	// 2. Load providers.yaml
	var providersCfg ProvidersYAMLConfig
	if err := loader.loadYAML("providers.yaml", &providersCfg); err != nil {
		return nil, NewLoadError("providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge providers: builtin < providers.yaml < loom.yaml inline
	providers := mergeProviders(builtin.Providers, providersCfg.Providers)
	for name, spec := range loomCfg.Providers {
		specCopy := spec
		providers[name] = &specCopy
	}

	// 5. Apply provider defaults (before validation)
	for _, spec := range providers {
		applyProviderDefaults(spec)
	}

	// 6. Merge masking patterns and groups
	var customPatterns map[string]MaskingPattern
	var customGroups map[string][]string
	if loomCfg.Masking != nil {
		customPatterns = loomCfg.Masking.CustomPatterns
		customGroups = loomCfg.Masking.PatternGroups
	}
	patterns := mergeMaskingPatterns(builtin.MaskingPatterns, customPatterns)
	groups := make(map[string][]string, len(builtin.PatternGroups)+len(customGroups))
	for name, members := range builtin.PatternGroups {
		groups[name] = append([]string(nil), members...)
	}
	for name, members := range customGroups {
		groups[name] = append([]string(nil), members...)
	}

	// 7. Overlay user YAML onto built-in section defaults. mergo keeps the
	// default for every field the user left unset.
	server := DefaultServerConfig()
	if loomCfg.Server != nil {
		if err := mergo.Merge(server, loomCfg.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}
	engine := DefaultEngineConfig()
	if loomCfg.Engine != nil {
		if err := mergo.Merge(engine, loomCfg.Engine, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge engine config: %w", err)
		}
	}
	workspace := DefaultWorkspaceConfig()
	if loomCfg.Workspace != nil {
		if err := mergo.Merge(workspace, loomCfg.Workspace, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge workspace config: %w", err)
		}
	}
	templates := DefaultTemplatesConfig()
	if loomCfg.Templates != nil {
		if err := mergo.Merge(templates, loomCfg.Templates, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge templates config: %w", err)
		}
	}
	retention := DefaultRetentionConfig()
	if loomCfg.Retention != nil {
		if err := mergo.Merge(retention, loomCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	// 8. Resolve defaults (YAML overrides built-in)
	defaults := loomCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.Provider == "" {
		defaults.Provider = builtin.DefaultProvider
	}
	if defaults.Mode == "" {
		defaults.Mode = models.RunModeInteractive
	}
	if defaults.GlobalMode == "" {
		defaults.GlobalMode = models.GlobalModeImplementation
	}
	if defaults.RoleTemplates == nil {
		defaults.RoleTemplates = make(map[models.NodeRole]string)
	}
	for role, template := range builtin.RoleTemplates {
		if _, ok := defaults.RoleTemplates[role]; !ok {
			defaults.RoleTemplates[role] = template
		}
	}
	if defaults.Masking == nil {
		defaults.Masking = &MaskingDefaults{
			Enabled:      true,
			PatternGroup: "security",
		}
	}

	// 9. Resolve the data directory
	dataDir := loomCfg.DataDir
	if dataDir == "" {
		dataDir = "~/.loom"
	}
	dataDir = ExpandHome(dataDir)

	// The data directory's templates/ is always the last template source
	templates.Dirs = append(templates.Dirs, filepath.Join(dataDir, "templates"))

	return &Config{
		configDir:       configDir,
		DataDir:         dataDir,
		Server:          server,
		Engine:          engine,
		Workspace:       workspace,
		Templates:       templates,
		Retention:       retention,
		Defaults:        defaults,
		Providers:       NewProviderRegistry(providers),
		MaskingPatterns: patterns,
		PatternGroups:   groups,
	}, nil
}

// applyProviderDefaults fills derivable fields so validation can be strict.
func applyProviderDefaults(spec *ProviderSpec) {
	if spec.Type == models.TransportCLI {
		if spec.Protocol == "" {
			spec.Protocol = models.ProtocolJSONL
		}
		if spec.KillGrace == 0 {
			spec.KillGrace = defaultKillGrace
		}
	}
	if spec.NativeTools == "" {
		spec.NativeTools = models.NativeToolsEngine
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file; a missing config file means built-in defaults apply
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Config file not present, using defaults", "path", path)
			return nil
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

