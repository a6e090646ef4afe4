// Package provider implements the per-node agent session adapters the
// engine drives: a subprocess CLI adapter speaking one of three line
// protocols, an HTTP chat-completion adapter, and a scripted mock.
package provider

import (
	"context"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
)

// Identity names the node a session belongs to. Adapters stamp it on every
// event they emit.
type Identity struct {
	RunID  string
	NodeID string
}

// SendRequest carries one composed prompt into a session. Each adapter
// renders the prompt for its own wire format: CLI transports write the
// rendered text, the API transport splits the header blocks into a system
// message.
type SendRequest struct {
	Prompt prompt.Prompt
	Kind   models.PromptKind
	TurnID string
}

// Adapter is one opaque provider session bound to a single node. All
// responses flow back through the event callback; Send returns once the
// prompt is on the wire, not when the turn completes.
//
// Register callbacks before Start. Adapters invoke them from their own
// goroutines and never after Close returns.
type Adapter interface {
	// Start establishes the session (spawns the subprocess, resolves the
	// API key). Idempotence is not required; the runner starts each
	// adapter exactly once.
	Start(ctx context.Context) error

	// Send delivers a prompt into the session.
	Send(ctx context.Context, req SendRequest) error

	// Interrupt asks the provider to end the current turn early. The
	// session stays usable.
	Interrupt(ctx context.Context) error

	// ResolveApproval answers a provider-raised approval request. Only
	// meaningful for adapters that emitted an approval.requested event;
	// others return an error.
	ResolveApproval(ctx context.Context, approvalID string, res models.Resolution) error

	// ResetSession clears provider-side conversation state. The next
	// prompt must be sent as a full prompt.
	ResetSession(ctx context.Context) error

	// Close tears the session down. Safe to call more than once.
	Close() error

	// SessionID returns the provider-assigned session identifier, or ""
	// when the provider has not reported one yet.
	SessionID() string

	// Stateful reports whether the session retains conversation state
	// across sends. Stateless adapters need a full prompt every turn.
	Stateful() bool

	// OnEvent registers the listener for assistant, thinking, tool,
	// approval and usage events.
	OnEvent(fn func(events.Event))

	// OnError registers the listener for transport-level failures
	// (process death, API errors). A reported error fails the turn but
	// not the node; the runner decides whether to restart.
	OnError(fn func(error))
}

// ExtractsFencedCalls reports whether a's final message bodies may carry
// fenced tool-call lines the engine must parse out. Adapters opt in by
// implementing FencedToolCalls; everything else carries tool calls
// structurally and returns false here.
func ExtractsFencedCalls(a Adapter) bool {
	type fenced interface {
		FencedToolCalls() bool
	}
	if f, ok := a.(fenced); ok {
		return f.FencedToolCalls()
	}
	return false
}
