package models

import "time"

// Envelope is a structured handoff routed from one node to another. It lives
// in the target node's inbox until consumed by that node's next turn.
type Envelope struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   EnvelopePayload `json:"payload"`
}

// EnvelopePayload carries the handoff content
type EnvelopePayload struct {
	Message    string          `json:"message"`
	Structured map[string]any  `json:"structured,omitempty"`
	Artifacts  []ArtifactRef   `json:"artifacts,omitempty"`
	Status     *EnvelopeStatus `json:"status,omitempty"`
	Response   *ResponseSpec   `json:"response,omitempty"`
	ContextRef string          `json:"contextRef,omitempty"`
}

// ArtifactRef points at an artifact shared through a handoff
type ArtifactRef struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

// EnvelopeStatus marks an envelope as a completion report
type EnvelopeStatus struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ResponseSpec declares what the sender expects back
type ResponseSpec struct {
	Expectation ResponseExpectation `json:"expectation"`
	ReplyTo     string              `json:"replyTo,omitempty"`
}

// IsReport reports whether the envelope carries a completion status
func (e *Envelope) IsReport() bool {
	return e.Payload.Status != nil
}
