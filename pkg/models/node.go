package models

import "time"

// Node is one long-lived agent conversation inside a run.
type Node struct {
	ID             string             `json:"id"`
	RunID          string             `json:"runId"`
	Label          string             `json:"label"`
	Role           NodeRole           `json:"role"`
	RoleTemplate   string             `json:"roleTemplate"`
	Provider       string             `json:"provider"`
	Status         NodeStatus         `json:"status"`
	Summary        string             `json:"summary,omitempty"`
	LastActivityAt time.Time          `json:"lastActivityAt"`
	Usage          Usage              `json:"usage"`
	Capabilities   Capabilities       `json:"capabilities"`
	Permissions    Permissions        `json:"permissions"`
	NativeTools    NativeToolHandling `json:"nativeTools"`
	Session        SessionInfo        `json:"session"`
	Connection     Connection         `json:"connection"`
	InboxCount     int                `json:"inboxCount"`
	Todos          []TodoItem         `json:"todos,omitempty"`
}

// Capabilities are per-node feature flags consulted by the tool executor.
type Capabilities struct {
	SpawnNodes     bool           `json:"spawnNodes"`
	WriteCode      bool           `json:"writeCode"`
	WriteDocs      bool           `json:"writeDocs"`
	RunCommands    bool           `json:"runCommands"`
	DelegateOnly   bool           `json:"delegateOnly"`
	EdgeManagement EdgeManagement `json:"edgeManagement"`
}

// Permissions control the approval gating applied to a node's tool calls.
type Permissions struct {
	PermissionsMode                 PermissionsMode `json:"permissionsMode"`
	AgentManagementRequiresApproval bool            `json:"agentManagementRequiresApproval"`
}

// SessionInfo describes the provider session bound to a node
type SessionInfo struct {
	SessionID     string   `json:"sessionId,omitempty"`
	ResetCommands []string `json:"resetCommands,omitempty"`
}

// Connection tracks the adapter's liveness as last reported by the provider
type Connection struct {
	State         ConnectionState `json:"state"`
	Streaming     bool            `json:"streaming"`
	LastHeartbeat time.Time       `json:"lastHeartbeat,omitzero"`
}

// TodoItem is one entry of a node's task list, extracted from TodoWrite calls
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// NodePatch is a partial update to node state. Nil fields are left unchanged.
// InboxConsumed marks the turn-dispatch drain so replay reproduces queue
// state; it clears the node's envelope inbox and message queue when folded.
type NodePatch struct {
	Label         *string             `json:"label,omitempty"`
	RoleTemplate  *string             `json:"roleTemplate,omitempty"`
	Provider      *string             `json:"provider,omitempty"`
	Status        *NodeStatus         `json:"status,omitempty"`
	Summary       *string             `json:"summary,omitempty"`
	Usage         *Usage              `json:"usage,omitempty"`
	Capabilities  *Capabilities       `json:"capabilities,omitempty"`
	Permissions   *Permissions        `json:"permissions,omitempty"`
	NativeTools   *NativeToolHandling `json:"nativeTools,omitempty"`
	Session       *SessionInfo        `json:"session,omitempty"`
	Connection    *Connection         `json:"connection,omitempty"`
	InboxCount    *int                `json:"inboxCount,omitempty"`
	InboxConsumed bool                `json:"inboxConsumed,omitempty"`
	Todos         *[]TodoItem         `json:"todos,omitempty"`
	LastActivity  *time.Time          `json:"lastActivityAt,omitempty"`
}

// Apply copies the patch's set fields onto the node
func (n *Node) Apply(patch NodePatch) {
	if patch.Label != nil {
		n.Label = *patch.Label
	}
	if patch.RoleTemplate != nil {
		n.RoleTemplate = *patch.RoleTemplate
	}
	if patch.Provider != nil {
		n.Provider = *patch.Provider
	}
	if patch.Status != nil {
		n.Status = *patch.Status
	}
	if patch.Summary != nil {
		n.Summary = *patch.Summary
	}
	if patch.Usage != nil {
		n.Usage = *patch.Usage
	}
	if patch.Capabilities != nil {
		n.Capabilities = *patch.Capabilities
	}
	if patch.Permissions != nil {
		n.Permissions = *patch.Permissions
	}
	if patch.NativeTools != nil {
		n.NativeTools = *patch.NativeTools
	}
	if patch.Session != nil {
		n.Session = *patch.Session
	}
	if patch.Connection != nil {
		n.Connection = *patch.Connection
	}
	if patch.InboxCount != nil {
		n.InboxCount = *patch.InboxCount
	}
	if patch.Todos != nil {
		n.Todos = *patch.Todos
	}
	if patch.LastActivity != nil {
		n.LastActivityAt = *patch.LastActivity
	}
}

// NodeConfig contains fields for creating a node. Zero values fall back to
// engine defaults at creation time.
type NodeConfig struct {
	Label        string              `json:"label,omitempty"`
	Role         NodeRole            `json:"role,omitempty"`
	RoleTemplate string              `json:"roleTemplate,omitempty"`
	Provider     string              `json:"provider,omitempty"`
	Capabilities *Capabilities       `json:"capabilities,omitempty"`
	Permissions  *Permissions        `json:"permissions,omitempty"`
	NativeTools  *NativeToolHandling `json:"nativeTools,omitempty"`
}

// UpdateNodeRequest contains a node patch plus an optional provider change
type UpdateNodeRequest struct {
	Patch  NodePatch   `json:"patch"`
	Config *NodeConfig `json:"config,omitempty"`
}
