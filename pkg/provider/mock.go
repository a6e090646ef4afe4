package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// MockTurn scripts the events one Send produces.
type MockTurn struct {
	// Assistant deltas streamed before the final.
	Deltas []string

	// Emitted as a thinking final before the assistant final when set.
	Thinking string

	// Approval is raised before the final, as a provider-side permission
	// request would be.
	Approval *models.Approval

	// Final assistant content. Empty is valid and completes the turn.
	Final string

	// Tool calls attached to the final.
	ToolCalls []models.ToolCall

	// Telemetry sample emitted after the final.
	Usage *models.Usage

	// Reported through the error listener instead of a final.
	Err error
}

// MockScript drives a MockAdapter through a fixed sequence of turns. Sends
// past the end of Turns fall back to the default echo behavior.
type MockScript struct {
	SessionID string
	Stateless bool

	// FencedCalls makes the adapter claim fenced tool-call extraction,
	// so tests can exercise the stream-json parsing path in-process.
	FencedCalls bool

	Turns []MockTurn
}

// MockAdapter is the in-process scripted session used by tests and offline
// development. Events are delivered synchronously inside Send, which keeps
// scripted tests deterministic; the runner's signal queue absorbs them.
type MockAdapter struct {
	id     Identity
	script MockScript

	onEvent func(events.Event)
	onError func(error)

	mu          sync.Mutex
	turn        int
	sends       []SendRequest
	resolutions map[string]models.Resolution
	interrupts  int
	resets      int
	sessionID   string
	started     bool
	closed      bool
}

// NewMockAdapter creates a mock session. A nil script yields the default
// behavior: every turn completes with the final "ok".
func NewMockAdapter(id Identity, script *MockScript) *MockAdapter {
	a := &MockAdapter{
		id:          id,
		resolutions: make(map[string]models.Resolution),
	}
	if script != nil {
		a.script = *script
	}
	return a
}

// OnEvent registers the event listener. Must be called before Start.
func (a *MockAdapter) OnEvent(fn func(events.Event)) { a.onEvent = fn }

// OnError registers the error listener. Must be called before Start.
func (a *MockAdapter) OnError(fn func(error)) { a.onError = fn }

// Stateful reports the scripted statefulness.
func (a *MockAdapter) Stateful() bool { return !a.script.Stateless }

// FencedToolCalls reports the scripted extraction flag.
func (a *MockAdapter) FencedToolCalls() bool { return a.script.FencedCalls }

// SessionID returns the scripted or generated session identifier.
func (a *MockAdapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start marks the session live.
func (a *MockAdapter) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	a.sessionID = a.script.SessionID
	if a.sessionID == "" {
		a.sessionID = "mock-" + uuid.NewString()
	}
	return nil
}

// Send records the request and plays the next scripted turn.
func (a *MockAdapter) Send(_ context.Context, req SendRequest) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return fmt.Errorf("mock session not started")
	}
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("mock session closed")
	}
	a.sends = append(a.sends, req)
	idx := a.turn
	a.turn++
	a.mu.Unlock()

	turn := MockTurn{Final: "ok"}
	if idx < len(a.script.Turns) {
		turn = a.script.Turns[idx]
	}
	a.play(turn, req.TurnID)
	return nil
}

func (a *MockAdapter) play(turn MockTurn, turnID string) {
	for _, delta := range turn.Deltas {
		a.emit(&events.AssistantDelta{NodeID: a.id.NodeID, TurnID: turnID, Delta: delta})
	}
	if turn.Thinking != "" {
		a.emit(&events.ThinkingFinal{NodeID: a.id.NodeID, TurnID: turnID, Content: turn.Thinking})
	}
	if turn.Approval != nil {
		ap := *turn.Approval
		if ap.RunID == "" {
			ap.RunID = a.id.RunID
		}
		if ap.NodeID == "" {
			ap.NodeID = a.id.NodeID
		}
		a.emit(&events.ApprovalRequested{Approval: ap})
	}
	if turn.Err != nil {
		if a.onError != nil {
			a.onError(turn.Err)
		}
		return
	}
	a.emit(&events.AssistantFinal{
		NodeID:    a.id.NodeID,
		TurnID:    turnID,
		Content:   turn.Final,
		ToolCalls: turn.ToolCalls,
	})
	if turn.Usage != nil {
		a.emit(&events.TelemetryUsage{NodeID: a.id.NodeID, Usage: *turn.Usage})
	}
}

// Interrupt counts the interrupt; the runner injects its own interrupted
// signal, so the mock emits nothing.
func (a *MockAdapter) Interrupt(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interrupts++
	return nil
}

// ResolveApproval records the resolution for assertions.
func (a *MockAdapter) ResolveApproval(_ context.Context, approvalID string, res models.Resolution) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolutions[approvalID] = res
	return nil
}

// ResetSession counts the reset. The script position is kept so multi-phase
// scripts stay predictable across resets.
func (a *MockAdapter) ResetSession(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets++
	return nil
}

// Close marks the session closed.
func (a *MockAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *MockAdapter) emit(ev events.Event) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

// Sends returns the recorded send requests.
func (a *MockAdapter) Sends() []SendRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SendRequest, len(a.sends))
	copy(out, a.sends)
	return out
}

// Interrupts returns how many times Interrupt was called.
func (a *MockAdapter) Interrupts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interrupts
}

// Resets returns how many times ResetSession was called.
func (a *MockAdapter) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

// Resolutions returns the recorded approval resolutions.
func (a *MockAdapter) Resolutions() map[string]models.Resolution {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]models.Resolution, len(a.resolutions))
	for k, v := range a.resolutions {
		out[k] = v
	}
	return out
}

// Closed reports whether Close was called.
func (a *MockAdapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
