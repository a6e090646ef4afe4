package models

// Edge is a routing hint between two nodes. Envelope delivery is never
// restricted to declared edges; they drive the UI layout and the default
// target resolution of send_handoff.
type Edge struct {
	ID            string   `json:"id"`
	RunID         string   `json:"runId"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	Bidirectional bool     `json:"bidirectional"`
	Type          EdgeType `json:"type"`
	Label         string   `json:"label,omitempty"`
}

// Touches reports whether the edge has nodeID as either endpoint
func (e *Edge) Touches(nodeID string) bool {
	return e.From == nodeID || e.To == nodeID
}

// CreateEdgeRequest contains fields for creating an edge
type CreateEdgeRequest struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	Bidirectional bool     `json:"bidirectional,omitempty"`
	Type          EdgeType `json:"type,omitempty"`
	Label         string   `json:"label,omitempty"`
}
