package config

import "github.com/weftlab/loom/pkg/models"

// Defaults contains fallbacks applied when a run or node does not specify
// its own values.
type Defaults struct {
	// Provider is the provider name assigned to nodes created without one
	Provider string `yaml:"provider,omitempty"`

	// Mode is the orchestration mode for new runs
	Mode models.RunMode `yaml:"mode,omitempty"`

	// GlobalMode is the workspace discipline for new runs
	GlobalMode models.GlobalMode `yaml:"global_mode,omitempty"`

	// RoleTemplates maps node roles to their default template names
	RoleTemplates map[models.NodeRole]string `yaml:"role_templates,omitempty"`

	// Masking controls tool-output masking
	Masking *MaskingDefaults `yaml:"masking,omitempty"`
}

// MaskingDefaults holds tool-output masking settings, applied to every tool
// result before it is logged or returned to a session.
type MaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}

// TemplateForRole returns the default template name for a role.
func (d *Defaults) TemplateForRole(role models.NodeRole) string {
	if d != nil && d.RoleTemplates != nil {
		if name, ok := d.RoleTemplates[role]; ok {
			return name
		}
	}
	if role == models.NodeRoleOrchestrator {
		return "orchestrator"
	}
	return "implementer"
}
