package models

import "time"

// Run is the projection of one orchestration run. All cross-entity references
// are by id; the maps below are the only owners of nodes, edges, artifacts
// and pending approvals.
type Run struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Status     RunStatus  `json:"status"`
	Mode       RunMode    `json:"mode"`
	GlobalMode GlobalMode `json:"globalMode"`
	Cwd        string     `json:"cwd"`
	Usage      Usage      `json:"usage"`

	Nodes     map[string]*Node     `json:"nodes"`
	Edges     map[string]*Edge     `json:"edges"`
	Artifacts map[string]*Artifact `json:"artifacts"`
	Approvals map[string]*Approval `json:"approvals"`
}

// Usage accumulates token counts reported by provider sessions
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// Add accumulates another usage sample into u
func (u *Usage) Add(delta Usage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.TotalTokens += delta.TotalTokens
}

// IsZero reports whether no tokens have been recorded
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// RunPatch is a partial update to run state. Nil fields are left unchanged.
type RunPatch struct {
	Status     *RunStatus  `json:"status,omitempty"`
	Mode       *RunMode    `json:"mode,omitempty"`
	GlobalMode *GlobalMode `json:"globalMode,omitempty"`
	Cwd        *string     `json:"cwd,omitempty"`
	Usage      *Usage      `json:"usage,omitempty"`
}

// Apply copies the patch's set fields onto the run
func (r *Run) Apply(patch RunPatch) {
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.Mode != nil {
		r.Mode = *patch.Mode
	}
	if patch.GlobalMode != nil {
		r.GlobalMode = *patch.GlobalMode
	}
	if patch.Cwd != nil {
		r.Cwd = *patch.Cwd
	}
	if patch.Usage != nil {
		r.Usage = *patch.Usage
	}
}

// NewRun constructs a run with initialized collections
func NewRun(mode RunMode, globalMode GlobalMode, cwd string, now time.Time) *Run {
	return &Run{
		ID:         NewRunID(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     RunStatusRunning,
		Mode:       mode,
		GlobalMode: globalMode,
		Cwd:        cwd,
		Nodes:      make(map[string]*Node),
		Edges:      make(map[string]*Edge),
		Artifacts:  make(map[string]*Artifact),
		Approvals:  make(map[string]*Approval),
	}
}

// CreateRunRequest contains fields for creating a new run
type CreateRunRequest struct {
	Mode       RunMode    `json:"mode,omitempty"`
	GlobalMode GlobalMode `json:"globalMode,omitempty"`
	Cwd        string     `json:"cwd,omitempty"`
}

// UpdateRunRequest contains mutable run fields
type UpdateRunRequest struct {
	Status     *RunStatus  `json:"status,omitempty"`
	Mode       *RunMode    `json:"mode,omitempty"`
	GlobalMode *GlobalMode `json:"globalMode,omitempty"`
}
