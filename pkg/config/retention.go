package config

import "time"

// RetentionConfig controls pruning of old run directories.
type RetentionConfig struct {
	// Enabled turns the cleanup loop on.
	Enabled bool `yaml:"enabled"`

	// RunRetentionDays is how many days a stopped or failed run's
	// directory is kept before deletion. Active runs are never pruned.
	RunRetentionDays int `yaml:"run_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Enabled:          false,
		RunRetentionDays: 90,
		CleanupInterval:  12 * time.Hour,
	}
}
