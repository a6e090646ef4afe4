package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// The jsonl protocol is the engine-native session wire format: one JSON
// object per line in each direction.
//
// Provider to engine:
//
//	{"type":"session","id":"..."}                        session established
//	{"type":"delta","text":"..."}                        assistant text chunk
//	{"type":"thinking","text":"..."}                     thinking chunk
//	{"type":"reasoning","text":"..."}                    summarized reasoning
//	{"type":"message","text":"...","toolCalls":[...]}    turn-final message
//	{"type":"usage","inputTokens":N,"outputTokens":N}    usage sample
//	{"type":"approval_request","id":"...","tool":{...}}  consent gate
//	{"type":"error","message":"..."}                     turn failure
//
// Engine to provider:
//
//	{"type":"prompt","text":"...","kind":"full|delta","turnId":"..."}
//	{"type":"approval_resolution","id":"...","resolution":{...}}
//	{"type":"interrupt"}
//
// Session reset commands ride as prompt frames without a kind. Unknown
// frame types are ignored so either side can extend the protocol.
type jsonlFrame struct {
	Type string `json:"type"`

	// session, approval_request, approval_resolution
	ID string `json:"id,omitempty"`

	// delta, thinking, reasoning, message, prompt
	Text string `json:"text,omitempty"`

	// message
	ToolCalls []models.ToolCall `json:"toolCalls,omitempty"`

	// usage
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`

	// approval_request
	Tool    *models.ToolCall `json:"tool,omitempty"`
	Context string           `json:"context,omitempty"`

	// approval_resolution
	Resolution *models.Resolution `json:"resolution,omitempty"`

	// prompt
	Kind   models.PromptKind `json:"kind,omitempty"`
	TurnID string            `json:"turnId,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

type jsonlCodec struct {
	a *CLIAdapter

	// Accumulated thinking text, flushed into a thinking final when the
	// turn's message frame arrives. Read-goroutine state.
	thinking strings.Builder
}

func newJSONLCodec(a *CLIAdapter) *jsonlCodec {
	return &jsonlCodec{a: a}
}

func (c *jsonlCodec) handleLine(line []byte) {
	var f jsonlFrame
	if err := json.Unmarshal(line, &f); err != nil {
		slog.Debug("Dropping unparseable provider line",
			"node_id", c.a.id.NodeID,
			"error", err)
		return
	}

	nodeID := c.a.id.NodeID
	turnID := c.a.currentTurn()

	switch f.Type {
	case "session":
		c.a.setSessionID(f.ID)

	case "delta":
		c.a.emit(&events.AssistantDelta{NodeID: nodeID, TurnID: turnID, Delta: f.Text})

	case "thinking":
		c.thinking.WriteString(f.Text)
		c.a.emit(&events.ThinkingDelta{NodeID: nodeID, TurnID: turnID, Delta: f.Text})

	case "reasoning":
		c.a.emit(&events.MessageReasoning{NodeID: nodeID, Text: f.Text})

	case "message":
		if c.thinking.Len() > 0 {
			c.a.emit(&events.ThinkingFinal{NodeID: nodeID, TurnID: turnID, Content: c.thinking.String()})
			c.thinking.Reset()
		}
		c.a.emit(&events.AssistantFinal{
			NodeID:    nodeID,
			TurnID:    turnID,
			Content:   f.Text,
			ToolCalls: f.ToolCalls,
		})

	case "usage":
		c.a.emit(&events.TelemetryUsage{
			NodeID: nodeID,
			Usage: models.Usage{
				InputTokens:  f.InputTokens,
				OutputTokens: f.OutputTokens,
				TotalTokens:  f.InputTokens + f.OutputTokens,
			},
		})

	case "approval_request":
		if f.Tool == nil {
			slog.Warn("Provider approval request without a tool, ignoring",
				"node_id", nodeID)
			return
		}
		id := f.ID
		if id == "" {
			id = f.Tool.ID
		}
		c.a.emit(&events.ApprovalRequested{
			Approval: models.Approval{
				ID:          id,
				RunID:       c.a.id.RunID,
				NodeID:      nodeID,
				Tool:        *f.Tool,
				Context:     f.Context,
				RequestedAt: time.Now().UTC(),
			},
		})

	case "error":
		c.a.emitErr(fmt.Errorf("provider error: %s", f.Message))

	default:
		slog.Debug("Ignoring unknown provider frame",
			"node_id", nodeID,
			"type", f.Type)
	}
}

func (c *jsonlCodec) promptFrame(req SendRequest) ([]byte, error) {
	return json.Marshal(jsonlFrame{
		Type:   "prompt",
		Text:   req.Prompt.Render(req.Kind),
		Kind:   req.Kind,
		TurnID: req.TurnID,
	})
}

func (c *jsonlCodec) approvalFrame(approvalID string, res models.Resolution) ([]byte, error) {
	return json.Marshal(jsonlFrame{
		Type:       "approval_resolution",
		ID:         approvalID,
		Resolution: &res,
	})
}

func (c *jsonlCodec) resetFrame(command string) ([]byte, error) {
	return json.Marshal(jsonlFrame{Type: "prompt", Text: command})
}

func (c *jsonlCodec) interruptFrame() ([]byte, error) {
	return json.Marshal(jsonlFrame{Type: "interrupt"})
}
