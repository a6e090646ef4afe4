package config

import "time"

// TemplatesConfig controls role template resolution.
type TemplatesConfig struct {
	// Dirs are searched in order for <name>.md. The loader appends the
	// data directory's templates/ as the final fallback.
	Dirs []string `yaml:"dirs"`

	// CacheTTL bounds how long a resolved template is served without
	// re-reading the file.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Watch enables filesystem-notification invalidation of the cache so
	// template edits show up on the next turn instead of after the TTL.
	Watch bool `yaml:"watch"`
}

// DefaultTemplatesConfig returns the built-in template defaults.
func DefaultTemplatesConfig() *TemplatesConfig {
	return &TemplatesConfig{
		Dirs:     []string{"docs/templates"},
		CacheTTL: 30 * time.Second,
		Watch:    true,
	}
}
