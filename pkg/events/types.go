// Package events defines the engine's event sum, the in-process bus that
// fans events out to subscribers, and the WebSocket connection manager that
// delivers them to live observers.
//
// ════════════════════════════════════════════════════════════════
// Event flow
// ════════════════════════════════════════════════════════════════
//
// Every state mutation follows the same path:
//
//	store.Publish(event)
//	  1. append to runs/<runId>/events.jsonl   (ground truth)
//	  2. fold into the in-memory projection
//	  3. write runs/<runId>/run.json snapshot  (best effort)
//	  4. bus.Emit → synchronous subscribers
//
// Observers see events on two channels: "run:<runId>" carries every event of
// one run; "runs" carries run-level events (run.patch, run.mode, run.stalled)
// for the run list page.
//
// Authoritative vs advisory:
//
//	node.patch    mutates the projection (authoritative)
//	node.progress carries the same payload but never mutates state — it is
//	              a UI hint emitted alongside status transitions
//
// Deltas (message.assistant.delta, message.assistant.thinking.delta) are
// appended to the log like everything else but are ignored by the fold; the
// final events carry the full content.
package events

// Event type constants. This is a closed set: the fold, the decode registry
// and the dispatchers must each handle every member.
const (
	EventTypeRunPatch   = "run.patch"
	EventTypeRunMode    = "run.mode"
	EventTypeRunStalled = "run.stalled"

	EventTypeNodePatch    = "node.patch"
	EventTypeNodeProgress = "node.progress"
	EventTypeNodeDeleted  = "node.deleted"

	EventTypeEdgeCreated = "edge.created"
	EventTypeEdgeDeleted = "edge.deleted"

	EventTypeArtifactCreated = "artifact.created"

	EventTypeMessageUser      = "message.user"
	EventTypeAssistantDelta   = "message.assistant.delta"
	EventTypeAssistantFinal   = "message.assistant.final"
	EventTypeThinkingDelta    = "message.assistant.thinking.delta"
	EventTypeThinkingFinal    = "message.assistant.thinking.final"
	EventTypeMessageReasoning = "message.reasoning"

	EventTypeToolProposed  = "tool.proposed"
	EventTypeToolStarted   = "tool.started"
	EventTypeToolCompleted = "tool.completed"

	EventTypeApprovalRequested = "approval.requested"
	EventTypeApprovalResolved  = "approval.resolved"

	EventTypeHandoffSent     = "handoff.sent"
	EventTypeHandoffReported = "handoff.reported"

	EventTypeTelemetryUsage = "telemetry.usage"
)

// GlobalRunsChannel is the channel for run-level events across all runs.
// The run list page subscribes to this for real-time updates.
const GlobalRunsChannel = "runs"

// RunChannel returns the channel name for a specific run's events.
// Format: "run:{run_id}"
func RunChannel(runID string) string {
	return "run:" + runID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string  `json:"action"`                // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string  `json:"channel,omitempty"`     // Channel name (e.g. "run:run-abc")
	LastEventID *string `json:"lastEventId,omitempty"` // For catchup
}
