package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weftlab/loom/pkg/models"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: providers → masking → sections → defaults
	// This ensures dependencies are validated before dependents

	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	if err := v.validateMaskingPatterns(); err != nil {
		return fmt.Errorf("masking validation failed: %w", err)
	}

	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateEngine(); err != nil {
		return fmt.Errorf("engine validation failed: %w", err)
	}

	if err := v.validateWorkspace(); err != nil {
		return fmt.Errorf("workspace validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateProviders() error {
	for name, spec := range v.cfg.Providers.GetAll() {
		// Validate transport type
		if !spec.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("invalid transport type: %s", spec.Type))
		}

		switch spec.Type {
		case models.TransportCLI:
			if len(spec.Command) == 0 {
				return NewValidationError("provider", name, "command", fmt.Errorf("command required for cli transport"))
			}
			if !spec.Protocol.IsValid() {
				return NewValidationError("provider", name, "protocol", fmt.Errorf("invalid protocol: %s", spec.Protocol))
			}
			if spec.KillGrace < 0 {
				return NewValidationError("provider", name, "kill_grace", fmt.Errorf("must not be negative"))
			}

		case models.TransportAPI:
			if spec.Model == "" {
				return NewValidationError("provider", name, "model", fmt.Errorf("model required for api transport"))
			}
			// The key itself is only read when a node starts on this
			// provider, so an unset variable is not a startup error.
			if spec.APIKeyEnv == "" {
				return NewValidationError("provider", name, "api_key_env", fmt.Errorf("api_key_env required for api transport"))
			}
			if spec.MaxOutputTokens < 0 {
				return NewValidationError("provider", name, "max_output_tokens", fmt.Errorf("must not be negative"))
			}
		}

		// Validate native tool handling (always set after defaults)
		if !spec.NativeTools.IsValid() {
			return NewValidationError("provider", name, "native_tools", fmt.Errorf("invalid native tool handling: %s", spec.NativeTools))
		}
	}

	return nil
}

func (v *ConfigValidator) validateMaskingPatterns() error {
	for name, pattern := range v.cfg.MaskingPatterns {
		if pattern.Pattern == "" {
			return NewValidationError("masking_pattern", name, "pattern", fmt.Errorf("pattern required"))
		}
		if _, err := regexp.Compile(pattern.Pattern); err != nil {
			return NewValidationError("masking_pattern", name, "pattern", fmt.Errorf("invalid regex: %v", err))
		}
		if pattern.Replacement == "" {
			return NewValidationError("masking_pattern", name, "replacement", fmt.Errorf("replacement required"))
		}
	}

	// Validate groups reference existing patterns
	for groupName, members := range v.cfg.PatternGroups {
		if len(members) == 0 {
			return NewValidationError("pattern_group", groupName, "", fmt.Errorf("at least one pattern required"))
		}
		for _, member := range members {
			if _, exists := v.cfg.MaskingPatterns[member]; !exists {
				return NewValidationError("pattern_group", groupName, "", fmt.Errorf("pattern '%s' not found", member))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	if v.cfg.Server.ListenAddr == "" {
		return NewValidationError("server", "", "listen_addr", fmt.Errorf("listen address required"))
	}
	return nil
}

func (v *ConfigValidator) validateEngine() error {
	e := v.cfg.Engine

	if e.TickInterval <= 0 {
		return NewValidationError("engine", "", "tick_interval", fmt.Errorf("must be positive"))
	}
	if e.StallThreshold < 1 {
		return NewValidationError("engine", "", "stall_threshold", fmt.Errorf("must be at least 1"))
	}
	if e.CatchupLimit < 1 {
		return NewValidationError("engine", "", "catchup_limit", fmt.Errorf("must be at least 1"))
	}
	if e.SignalQueueSize < 1 {
		return NewValidationError("engine", "", "signal_queue_size", fmt.Errorf("must be at least 1"))
	}
	if e.ApprovalTimeout < 0 {
		return NewValidationError("engine", "", "approval_timeout", fmt.Errorf("must not be negative"))
	}

	return nil
}

func (v *ConfigValidator) validateWorkspace() error {
	w := v.cfg.Workspace

	if w.CommandTimeout <= 0 {
		return NewValidationError("workspace", "", "command_timeout", fmt.Errorf("must be positive"))
	}
	if w.GitApplyTimeout <= 0 {
		return NewValidationError("workspace", "", "git_apply_timeout", fmt.Errorf("must be positive"))
	}
	if w.MaxOutputBytes < 1024 {
		return NewValidationError("workspace", "", "max_output_bytes", fmt.Errorf("must be at least 1024"))
	}
	if w.MaxFileBytes < 1024 {
		return NewValidationError("workspace", "", "max_file_bytes", fmt.Errorf("must be at least 1024"))
	}

	// Planning-mode write prefixes are workspace-relative
	for i, prefix := range w.PlanningWritePrefixes {
		if prefix == "" {
			return NewValidationError("workspace", "", fmt.Sprintf("planning_write_prefixes[%d]", i), fmt.Errorf("prefix required"))
		}
		if strings.HasPrefix(prefix, "/") || strings.Contains(prefix, "..") {
			return NewValidationError("workspace", "", fmt.Sprintf("planning_write_prefixes[%d]", i), fmt.Errorf("must be a relative path without '..'"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if !r.Enabled {
		return nil
	}

	if r.RunRetentionDays < 1 {
		return NewValidationError("retention", "", "run_retention_days", fmt.Errorf("must be at least 1"))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "", "cleanup_interval", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if d.Provider == "" {
		return NewValidationError("defaults", "", "provider", fmt.Errorf("provider required"))
	}
	if !v.cfg.Providers.Has(d.Provider) {
		return NewValidationError("defaults", "", "provider", fmt.Errorf("provider '%s' not found", d.Provider))
	}

	if !d.Mode.IsValid() {
		return NewValidationError("defaults", "", "mode", fmt.Errorf("invalid run mode: %s", d.Mode))
	}
	if !d.GlobalMode.IsValid() {
		return NewValidationError("defaults", "", "global_mode", fmt.Errorf("invalid global mode: %s", d.GlobalMode))
	}

	for role, template := range d.RoleTemplates {
		if !role.IsValid() {
			return NewValidationError("defaults", "", "role_templates", fmt.Errorf("invalid role: %s", role))
		}
		if template == "" {
			return NewValidationError("defaults", "", "role_templates", fmt.Errorf("template name required for role %s", role))
		}
	}

	if d.Masking != nil && d.Masking.Enabled {
		if d.Masking.PatternGroup == "" {
			return NewValidationError("defaults", "", "masking.pattern_group", fmt.Errorf("pattern group required when masking enabled"))
		}
		if _, exists := v.cfg.PatternGroups[d.Masking.PatternGroup]; !exists {
			return NewValidationError("defaults", "", "masking.pattern_group", fmt.Errorf("pattern group '%s' not found", d.Masking.PatternGroup))
		}
	}

	return nil
}
