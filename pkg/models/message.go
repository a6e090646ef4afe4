package models

import "time"

// UserMessage is operator input queued for a node. An empty NodeID targets
// the run's orchestrator node. Interrupting messages go to the head of the
// queue and, if the node is mid-turn, fire an adapter interrupt.
type UserMessage struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	NodeID    string    `json:"nodeId,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Interrupt bool      `json:"interrupt,omitempty"`
}

// RoleUser is the only role user messages carry
const RoleUser = "user"

// PostMessageRequest contains fields for posting a user message
type PostMessageRequest struct {
	NodeID    string `json:"nodeId,omitempty"`
	Content   string `json:"content"`
	Interrupt bool   `json:"interrupt,omitempty"`
}
