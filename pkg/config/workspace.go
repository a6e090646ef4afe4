package config

import "time"

// WorkspaceConfig contains limits for engine-executed workspace tools.
type WorkspaceConfig struct {
	// CommandTimeout bounds a single command tool execution.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// GitApplyTimeout bounds git apply when landing a diff artifact.
	GitApplyTimeout time.Duration `yaml:"git_apply_timeout"`

	// MaxOutputBytes truncates captured command output beyond this size.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// MaxFileBytes caps read_file and write_file payloads.
	MaxFileBytes int `yaml:"max_file_bytes"`

	// PlanningWritePrefixes are the workspace-relative prefixes that stay
	// writable while a run is in planning mode.
	PlanningWritePrefixes []string `yaml:"planning_write_prefixes"`
}

// DefaultWorkspaceConfig returns the built-in workspace defaults.
func DefaultWorkspaceConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		CommandTimeout:        30 * time.Minute,
		GitApplyTimeout:       60 * time.Second,
		MaxOutputBytes:        256 * 1024,
		MaxFileBytes:          4 * 1024 * 1024,
		PlanningWritePrefixes: []string{"docs/"},
	}
}
