package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state. This is the primary object
// returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// DataDir is the root for runs/, templates/ and settings.json
	DataDir string

	// Section configs, always non-nil after Initialize
	Server    *ServerConfig
	Engine    *EngineConfig
	Workspace *WorkspaceConfig
	Templates *TemplatesConfig
	Retention *RetentionConfig

	// System-wide defaults
	Defaults *Defaults

	// Provider registry
	Providers *ProviderRegistry

	// Tool-output masking patterns and named groups
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Providers       int
	MaskingPatterns int
	PatternGroups   int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{
		MaskingPatterns: len(c.MaskingPatterns),
		PatternGroups:   len(c.PatternGroups),
	}
	if c.Providers != nil {
		s.Providers = c.Providers.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetProvider retrieves a provider spec by name.
// This is a convenience method that wraps Providers.Get().
func (c *Config) GetProvider(name string) (*ProviderSpec, error) {
	return c.Providers.Get(name)
}

// PatternsForGroup resolves a named group to its patterns, skipping names
// with no definition.
func (c *Config) PatternsForGroup(group string) []MaskingPattern {
	names, ok := c.PatternGroups[group]
	if !ok {
		return nil
	}
	out := make([]MaskingPattern, 0, len(names))
	for _, name := range names {
		if pattern, ok := c.MaskingPatterns[name]; ok {
			out = append(out, pattern)
		}
	}
	return out
}
