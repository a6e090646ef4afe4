package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// The stream-json protocol is the wire format spoken by agent CLIs run in
// non-interactive streaming mode. The provider executes its own workspace
// tools and reports them as tool_use / tool_result content blocks; the
// final text of each turn arrives in a result frame. Permission prompts
// surface as control_request frames and are answered with
// control_response frames on stdin.
type sjFrame struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// assistant, user
	Message *sjMessage `json:"message,omitempty"`

	// stream_event
	Event *sjStreamEvent `json:"event,omitempty"`

	// result
	Result  string   `json:"result,omitempty"`
	IsError bool     `json:"is_error,omitempty"`
	Usage   *sjUsage `json:"usage,omitempty"`

	// control_request (both directions)
	RequestID string        `json:"request_id,omitempty"`
	Request   *sjControlReq `json:"request,omitempty"`

	// control_response (both directions)
	Response *sjControlResp `json:"response,omitempty"`
}

type sjMessage struct {
	Role    string    `json:"role"`
	Content []sjBlock `json:"content"`
}

type sjBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type sjStreamEvent struct {
	Type  string   `json:"type"`
	Delta *sjDelta `json:"delta,omitempty"`
}

type sjDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type sjUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type sjControlReq struct {
	Subtype  string         `json:"subtype"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

type sjControlResp struct {
	Subtype   string           `json:"subtype"`
	RequestID string           `json:"request_id,omitempty"`
	Response  *sjPermissionRes `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type sjPermissionRes struct {
	Behavior     string         `json:"behavior"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	Message      string         `json:"message,omitempty"`
}

type streamJSONCodec struct {
	a *CLIAdapter

	// Per-turn accumulation, read-goroutine state. Tool starts are kept
	// to attach names and durations to the matching tool_result.
	text       strings.Builder
	thinking   strings.Builder
	toolNames  map[string]string
	toolStarts map[string]time.Time
}

func newStreamJSONCodec(a *CLIAdapter) *streamJSONCodec {
	return &streamJSONCodec{
		a:          a,
		toolNames:  make(map[string]string),
		toolStarts: make(map[string]time.Time),
	}
}

func (c *streamJSONCodec) handleLine(line []byte) {
	var f sjFrame
	if err := json.Unmarshal(line, &f); err != nil {
		slog.Debug("Dropping unparseable provider line",
			"node_id", c.a.id.NodeID,
			"error", err)
		return
	}

	switch f.Type {
	case "system":
		if f.Subtype == "init" && f.SessionID != "" {
			c.a.setSessionID(f.SessionID)
		}
	case "assistant":
		c.handleAssistant(f.Message)
	case "user":
		c.handleToolResults(f.Message)
	case "stream_event":
		c.handleStreamEvent(f.Event)
	case "result":
		c.handleResult(&f)
	case "control_request":
		c.handleControlRequest(&f)
	case "control_response", "control_cancel_request":
		// Acknowledgements of our own control frames.
	default:
		slog.Debug("Ignoring unknown provider frame",
			"node_id", c.a.id.NodeID,
			"type", f.Type)
	}
}

func (c *streamJSONCodec) handleAssistant(msg *sjMessage) {
	if msg == nil {
		return
	}
	nodeID := c.a.id.NodeID
	turnID := c.a.currentTurn()
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			c.text.WriteString(block.Text)
			c.a.emit(&events.AssistantDelta{NodeID: nodeID, TurnID: turnID, Delta: block.Text})
		case "thinking":
			c.thinking.WriteString(block.Thinking)
			c.a.emit(&events.ThinkingDelta{NodeID: nodeID, TurnID: turnID, Delta: block.Thinking})
		case "tool_use":
			// The provider runs this tool itself; surface the lifecycle
			// so observers see it, but keep it out of the final's tool
			// calls so the engine never re-executes it.
			c.toolNames[block.ID] = block.Name
			c.toolStarts[block.ID] = time.Now()
			c.a.emit(&events.ToolProposed{
				NodeID: nodeID,
				Tool: models.ToolCall{
					ID:              block.ID,
					Name:            block.Name,
					Args:            block.Input,
					ProviderHandled: true,
				},
			})
			c.a.emit(&events.ToolStarted{NodeID: nodeID, ToolCallID: block.ID, Name: block.Name})
		}
	}
}

func (c *streamJSONCodec) handleToolResults(msg *sjMessage) {
	if msg == nil {
		return
	}
	nodeID := c.a.id.NodeID
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		completed := &events.ToolCompleted{
			NodeID:     nodeID,
			ToolCallID: block.ToolUseID,
			Name:       c.toolNames[block.ToolUseID],
			OK:         !block.IsError,
		}
		if block.IsError {
			completed.Error = fmt.Sprint(block.Content)
		} else {
			completed.Output = block.Content
		}
		if started, ok := c.toolStarts[block.ToolUseID]; ok {
			completed.DurationMs = time.Since(started).Milliseconds()
			delete(c.toolStarts, block.ToolUseID)
		}
		c.a.emit(completed)
	}
}

// handleStreamEvent forwards partial-message deltas when the provider is
// configured to emit them. Accumulation stays on the assistant frames,
// which repeat the same content in full blocks.
func (c *streamJSONCodec) handleStreamEvent(ev *sjStreamEvent) {
	if ev == nil || ev.Delta == nil || ev.Type != "content_block_delta" {
		return
	}
	nodeID := c.a.id.NodeID
	turnID := c.a.currentTurn()
	switch ev.Delta.Type {
	case "text_delta":
		c.a.emit(&events.AssistantDelta{NodeID: nodeID, TurnID: turnID, Delta: ev.Delta.Text})
	case "thinking_delta":
		c.a.emit(&events.ThinkingDelta{NodeID: nodeID, TurnID: turnID, Delta: ev.Delta.Thinking})
	}
}

func (c *streamJSONCodec) handleResult(f *sjFrame) {
	nodeID := c.a.id.NodeID
	turnID := c.a.currentTurn()

	if c.thinking.Len() > 0 {
		c.a.emit(&events.ThinkingFinal{NodeID: nodeID, TurnID: turnID, Content: c.thinking.String()})
	}

	if f.IsError {
		c.a.emitErr(fmt.Errorf("provider turn failed: %s", f.Subtype))
	} else {
		content := f.Result
		if content == "" {
			content = c.text.String()
		}
		c.a.emit(&events.AssistantFinal{
			NodeID:  nodeID,
			TurnID:  turnID,
			Content: strings.TrimSpace(content),
		})
	}

	if f.Usage != nil {
		c.a.emit(&events.TelemetryUsage{
			NodeID: nodeID,
			Usage: models.Usage{
				InputTokens:  f.Usage.InputTokens,
				OutputTokens: f.Usage.OutputTokens,
				TotalTokens:  f.Usage.InputTokens + f.Usage.OutputTokens,
			},
		})
	}

	c.text.Reset()
	c.thinking.Reset()
	clear(c.toolNames)
	clear(c.toolStarts)
}

func (c *streamJSONCodec) handleControlRequest(f *sjFrame) {
	if f.Request == nil || f.Request.Subtype != "can_use_tool" {
		return
	}
	c.a.emit(&events.ApprovalRequested{
		Approval: models.Approval{
			ID:     f.RequestID,
			RunID:  c.a.id.RunID,
			NodeID: c.a.id.NodeID,
			Tool: models.ToolCall{
				ID:   f.RequestID,
				Name: f.Request.ToolName,
				Args: f.Request.Input,
			},
			RequestedAt: time.Now().UTC(),
		},
	})
}

func (c *streamJSONCodec) promptFrame(req SendRequest) ([]byte, error) {
	return c.userFrame(req.Prompt.Render(req.Kind))
}

func (c *streamJSONCodec) approvalFrame(approvalID string, res models.Resolution) ([]byte, error) {
	perm := &sjPermissionRes{}
	switch res.Kind {
	case models.ResolutionApproved:
		perm.Behavior = "allow"
	case models.ResolutionModified:
		perm.Behavior = "allow"
		perm.UpdatedInput = res.ModifiedArgs
	case models.ResolutionDenied:
		perm.Behavior = "deny"
		perm.Message = res.Reason
	default:
		return nil, fmt.Errorf("unknown resolution kind %q", res.Kind)
	}
	return json.Marshal(sjFrame{
		Type: "control_response",
		Response: &sjControlResp{
			Subtype:   "success",
			RequestID: approvalID,
			Response:  perm,
		},
	})
}

func (c *streamJSONCodec) resetFrame(command string) ([]byte, error) {
	return c.userFrame(command)
}

func (c *streamJSONCodec) interruptFrame() ([]byte, error) {
	return json.Marshal(sjFrame{
		Type:      "control_request",
		RequestID: "req-" + uuid.NewString(),
		Request:   &sjControlReq{Subtype: "interrupt"},
	})
}

func (c *streamJSONCodec) userFrame(text string) ([]byte, error) {
	return json.Marshal(sjFrame{
		Type: "user",
		Message: &sjMessage{
			Role:    "user",
			Content: []sjBlock{{Type: "text", Text: text}},
		},
	})
}
