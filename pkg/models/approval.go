package models

import "time"

// Approval is a suspension token gating a single tool execution on operator
// consent. Its id equals the tool-call id it gates.
type Approval struct {
	ID             string    `json:"id"`
	RunID          string    `json:"runId"`
	NodeID         string    `json:"nodeId"`
	Tool           ToolCall  `json:"tool"`
	Context        string    `json:"context,omitempty"`
	TimeoutSeconds int       `json:"timeoutSeconds,omitempty"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// Resolution is the operator's answer to an approval request
type Resolution struct {
	Kind         ResolutionKind `json:"kind"`
	ModifiedArgs map[string]any `json:"modifiedArgs,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// Approved is a convenience constructor for an approved resolution
func Approved() Resolution { return Resolution{Kind: ResolutionApproved} }

// Denied is a convenience constructor for a denied resolution
func Denied(reason string) Resolution {
	return Resolution{Kind: ResolutionDenied, Reason: reason}
}

// Modified is a convenience constructor for a modified resolution
func Modified(args map[string]any) Resolution {
	return Resolution{Kind: ResolutionModified, ModifiedArgs: args}
}
