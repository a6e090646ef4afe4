package events

import (
	"time"

	"github.com/weftlab/loom/pkg/models"
)

// Envelope carries the fields common to every event. Concrete event structs
// embed it, so each event marshals to one flat JSON object:
//
//	{"id": "...", "runId": "...", "ts": "...", "type": "...", ...payload}
//
// ID and Ts are stamped by the store at publish time so the log's order and
// the projection's updatedAt agree.
type Envelope struct {
	ID    string    `json:"id"`
	RunID string    `json:"runId"`
	Ts    time.Time `json:"ts"`
	Type  string    `json:"type"`
}

// Env exposes the embedded envelope for stamping
func (e *Envelope) Env() *Envelope { return e }

// Event is implemented by every member of the event sum
type Event interface {
	Env() *Envelope
	EventType() string
}

// --- Run events ---

// RunPatch is the authoritative partial update to run state.
type RunPatch struct {
	Envelope
	Patch models.RunPatch `json:"patch"`
}

func (e *RunPatch) EventType() string { return EventTypeRunPatch }

// RunMode announces the run's orchestration and global modes. Emitted on
// creation and whenever either mode changes.
type RunMode struct {
	Envelope
	Mode       models.RunMode    `json:"mode"`
	GlobalMode models.GlobalMode `json:"globalMode"`
}

func (e *RunMode) EventType() string { return EventTypeRunMode }

// RunStalled reports that loop-safety paused the run.
type RunStalled struct {
	Envelope
	Evidence StallEvidence `json:"evidence"`
}

func (e *RunStalled) EventType() string { return EventTypeRunStalled }

// StallEvidence identifies the repetition that triggered the stall
type StallEvidence struct {
	Kind       string `json:"kind"` // "output-repeat", "diff-repeat", "verification-repeat"
	NodeID     string `json:"nodeId"`
	SampleHash string `json:"sampleHash,omitempty"`
	Count      int    `json:"count"`
}

// --- Node events ---

// NodePatch is the authoritative partial update to node state.
type NodePatch struct {
	Envelope
	NodeID string           `json:"nodeId"`
	Patch  models.NodePatch `json:"patch"`
	// Node is set only on creation so observers and replay see the full
	// initial state rather than a patch against nothing.
	Node *models.Node `json:"node,omitempty"`
}

func (e *NodePatch) EventType() string { return EventTypeNodePatch }

// NodeProgress is the advisory twin of NodePatch: same shape, never folded.
type NodeProgress struct {
	Envelope
	NodeID  string            `json:"nodeId"`
	Status  models.NodeStatus `json:"status"`
	Summary string            `json:"summary,omitempty"`
}

func (e *NodeProgress) EventType() string { return EventTypeNodeProgress }

// NodeDeleted removes a node. The fold cascades to incident edges, approvals
// keyed to the node and (unless preserved) its artifacts.
type NodeDeleted struct {
	Envelope
	NodeID            string `json:"nodeId"`
	PreserveArtifacts bool   `json:"preserveArtifacts,omitempty"`
}

func (e *NodeDeleted) EventType() string { return EventTypeNodeDeleted }

// --- Edge events ---

// EdgeCreated adds an edge to the graph.
type EdgeCreated struct {
	Envelope
	Edge models.Edge `json:"edge"`
}

func (e *EdgeCreated) EventType() string { return EventTypeEdgeCreated }

// EdgeDeleted removes an edge.
type EdgeDeleted struct {
	Envelope
	EdgeID string `json:"edgeId"`
}

func (e *EdgeDeleted) EventType() string { return EventTypeEdgeDeleted }

// --- Artifact events ---

// ArtifactCreated records a persisted artifact.
type ArtifactCreated struct {
	Envelope
	Artifact models.Artifact `json:"artifact"`
}

func (e *ArtifactCreated) EventType() string { return EventTypeArtifactCreated }

// --- Message events ---

// MessageUser enqueues operator input for a node.
type MessageUser struct {
	Envelope
	Message models.UserMessage `json:"message"`
}

func (e *MessageUser) EventType() string { return EventTypeMessageUser }

// AssistantDelta is one streamed assistant text chunk. High frequency;
// ignored by the fold.
type AssistantDelta struct {
	Envelope
	NodeID string `json:"nodeId"`
	TurnID string `json:"turnId,omitempty"`
	Delta  string `json:"delta"`
}

func (e *AssistantDelta) EventType() string { return EventTypeAssistantDelta }

// AssistantFinal is the final assistant message of a turn, with any explicit
// tool calls the provider attached.
type AssistantFinal struct {
	Envelope
	NodeID    string            `json:"nodeId"`
	TurnID    string            `json:"turnId,omitempty"`
	Content   string            `json:"content"`
	ToolCalls []models.ToolCall `json:"toolCalls,omitempty"`
}

func (e *AssistantFinal) EventType() string { return EventTypeAssistantFinal }

// ThinkingDelta is one streamed thinking chunk. Ignored by the fold.
type ThinkingDelta struct {
	Envelope
	NodeID string `json:"nodeId"`
	TurnID string `json:"turnId,omitempty"`
	Delta  string `json:"delta"`
}

func (e *ThinkingDelta) EventType() string { return EventTypeThinkingDelta }

// ThinkingFinal is the complete thinking text of a turn.
type ThinkingFinal struct {
	Envelope
	NodeID  string `json:"nodeId"`
	TurnID  string `json:"turnId,omitempty"`
	Content string `json:"content"`
}

func (e *ThinkingFinal) EventType() string { return EventTypeThinkingFinal }

// MessageReasoning carries a provider's summarized reasoning block.
type MessageReasoning struct {
	Envelope
	NodeID string `json:"nodeId"`
	Text   string `json:"text"`
}

func (e *MessageReasoning) EventType() string { return EventTypeMessageReasoning }

// --- Tool events ---

// ToolProposed announces a parsed tool call before gating and execution.
type ToolProposed struct {
	Envelope
	NodeID string          `json:"nodeId"`
	Tool   models.ToolCall `json:"tool"`
}

func (e *ToolProposed) EventType() string { return EventTypeToolProposed }

// ToolStarted marks the start of a tool execution.
type ToolStarted struct {
	Envelope
	NodeID     string `json:"nodeId"`
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
}

func (e *ToolStarted) EventType() string { return EventTypeToolStarted }

// ToolCompleted carries the result of a tool execution (or the reason it was
// skipped or denied).
type ToolCompleted struct {
	Envelope
	NodeID     string `json:"nodeId"`
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func (e *ToolCompleted) EventType() string { return EventTypeToolCompleted }

// --- Approval events ---

// ApprovalRequested suspends a tool call on operator consent.
type ApprovalRequested struct {
	Envelope
	Approval models.Approval `json:"approval"`
}

func (e *ApprovalRequested) EventType() string { return EventTypeApprovalRequested }

// ApprovalResolved records the operator's decision.
type ApprovalResolved struct {
	Envelope
	ApprovalID string            `json:"approvalId"`
	Resolution models.Resolution `json:"resolution"`
}

func (e *ApprovalResolved) EventType() string { return EventTypeApprovalResolved }

// --- Handoff events ---

// HandoffSent enqueues an envelope into the target node's inbox.
type HandoffSent struct {
	Envelope
	Handoff models.Envelope `json:"envelope"`
}

func (e *HandoffSent) EventType() string { return EventTypeHandoffSent }

// HandoffReported is a HandoffSent whose payload carries a completion
// status. The fold treats both identically.
type HandoffReported struct {
	Envelope
	Handoff models.Envelope `json:"envelope"`
}

func (e *HandoffReported) EventType() string { return EventTypeHandoffReported }

// --- Telemetry events ---

// TelemetryUsage reports a token usage sample for a node. The fold
// accumulates it into the node's and the run's totals.
type TelemetryUsage struct {
	Envelope
	NodeID string       `json:"nodeId"`
	Usage  models.Usage `json:"usage"`
}

func (e *TelemetryUsage) EventType() string { return EventTypeTelemetryUsage }
