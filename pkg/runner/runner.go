// Package runner drives one provider session per node through turns. A turn
// composes a prompt, sends it, drains the adapter's signal queue to a
// terminal outcome, and works through any tool calls the assistant produced,
// suspending on operator approvals. Errors never leave RunTurn as errors;
// every failure mode maps to a TurnResult.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weftlab/loom/pkg/approval"
	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
	"github.com/weftlab/loom/pkg/provider"
	"github.com/weftlab/loom/pkg/tools"
)

// Publisher is the store's event intake. Everything the runner reports
// (forwarded adapter events, tool lifecycle, todo patches) goes through it.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// ToolExecutor runs one engine-side tool call. Implemented by
// tools.Executor.
type ToolExecutor interface {
	Execute(ctx context.Context, run *models.Run, node *models.Node, call models.ToolCall) models.ToolResult
}

// RunEnv resolves the per-run execution environment. The engine implements
// it over each run's workspace; tests substitute stubs.
type RunEnv interface {
	// Executor returns the tool executor bound to the run's workspace.
	Executor(run *models.Run) (ToolExecutor, error)

	// WorkspaceContext gathers the workspace survey rendered into full
	// prompts: top-level listing, agent instructions, git status.
	WorkspaceContext(ctx context.Context, run *models.Run) string

	// Diff returns the workspace's uncommitted changes for loop-safety
	// hashing. Empty when the workspace is not a git repository.
	Diff(ctx context.Context, run *models.Run) (string, error)
}

// Runner owns every live provider session, keyed by node id. All methods
// are safe for concurrent use; turns themselves are serialized per node by
// the scheduler.
type Runner struct {
	factory   provider.Factory
	composer  *prompt.Composer
	publisher Publisher
	approvals *approval.Queue
	env       RunEnv
	catalog   []prompt.ToolInfo
	queueSize int

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRunner creates a runner. All dependencies are required; a nil cfg uses
// the built-in engine defaults.
func NewRunner(factory provider.Factory, composer *prompt.Composer, publisher Publisher, approvals *approval.Queue, env RunEnv, cfg *config.EngineConfig) *Runner {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	defs := tools.Definitions()
	catalog := make([]prompt.ToolInfo, len(defs))
	for i, d := range defs {
		catalog[i] = prompt.ToolInfo{Name: d.Name, Description: d.Description}
	}
	return &Runner{
		factory:   factory,
		composer:  composer,
		publisher: publisher,
		approvals: approvals,
		env:       env,
		catalog:   catalog,
		queueSize: cfg.SignalQueueSize,
		sessions:  make(map[string]*session),
	}
}

// RunTurn drives one turn for the node in the input and returns its
// terminal outcome. Panics are converted to failed results; the scheduler
// may treat the runner as total.
func (r *Runner) RunTurn(ctx context.Context, in models.TurnInput) (res models.TurnResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Turn panicked",
				"run_id", in.Run.ID,
				"node_id", in.Node.ID,
				"panic", rec)
			res = models.Failed(fmt.Sprintf("turn panic: %v", rec), "turn panicked")
		}
	}()

	s, err := r.getSession(ctx, in.Run, in.Node)
	if err != nil {
		return models.Failed(err.Error(), "provider session unavailable")
	}

	s.active.Store(true)
	defer s.active.Store(false)

	if in.Resume {
		if pt := s.takePending(); pt != nil {
			res = r.resumeTurn(ctx, s, in, pt)
		} else {
			// The suspended state is gone (engine restart); the queued
			// input, if any, still deserves a turn.
			slog.Warn("Resume dispatch without a saved turn, starting fresh",
				"run_id", in.Run.ID,
				"node_id", in.Node.ID)
			res = r.startTurn(ctx, s, in)
		}
	} else {
		res = r.startTurn(ctx, s, in)
	}

	// Look the session up again: a failed send may have rebuilt it.
	if cur := r.lookup(in.Node.ID); cur != nil {
		r.syncSessionInfo(ctx, cur, in)
	}
	return res
}

// ResetSession clears provider-side conversation state for a node. Without
// a live session there is nothing to reset; the next turn starts fresh
// regardless.
func (r *Runner) ResetSession(ctx context.Context, runID, nodeID string) error {
	s := r.lookup(nodeID)
	if s == nil {
		return nil
	}
	if err := s.adapter.ResetSession(ctx); err != nil {
		return fmt.Errorf("reset provider session: %w", err)
	}
	s.reset()
	slog.Info("Provider session reset", "run_id", runID, "node_id", nodeID)
	return nil
}

// InterruptNode asks the node's in-flight turn to end early. A node with no
// live session or no active turn is left alone.
func (r *Runner) InterruptNode(ctx context.Context, runID, nodeID string) error {
	s := r.lookup(nodeID)
	if s == nil || !s.active.Load() {
		return nil
	}
	if err := s.adapter.Interrupt(ctx); err != nil {
		slog.Warn("Provider interrupt failed",
			"run_id", runID,
			"node_id", nodeID,
			"error", err)
	}
	s.signals.pushInterrupted()
	return nil
}

// CloseNode tears down a node's session and drops its pending approvals.
func (r *Runner) CloseNode(runID, nodeID string) {
	r.dropSession(nodeID)
	if dropped := r.approvals.DropNode(runID, nodeID); len(dropped) > 0 {
		slog.Info("Dropped pending approvals with node",
			"run_id", runID,
			"node_id", nodeID,
			"approvals", len(dropped))
	}
}

// CloseRun tears down every session belonging to a run.
func (r *Runner) CloseRun(runID string) {
	r.mu.Lock()
	var nodeIDs []string
	for nodeID, s := range r.sessions {
		if s.id.RunID == runID {
			nodeIDs = append(nodeIDs, nodeID)
		}
	}
	r.mu.Unlock()

	for _, nodeID := range nodeIDs {
		r.dropSession(nodeID)
	}
	r.approvals.DropRun(runID)
}

// Close tears down all sessions. Called on engine shutdown.
func (r *Runner) Close() {
	r.mu.Lock()
	nodeIDs := make([]string, 0, len(r.sessions))
	for nodeID := range r.sessions {
		nodeIDs = append(nodeIDs, nodeID)
	}
	r.mu.Unlock()

	for _, nodeID := range nodeIDs {
		r.dropSession(nodeID)
	}
}

// ResolveApproval delivers an operator resolution to the session that owns
// the claimed approval. Adapter-origin approvals go back into the provider;
// runner-origin ones are cached for the suspended tool queue.
func (r *Runner) ResolveApproval(ctx context.Context, p approval.Pending, res models.Resolution) error {
	s := r.lookup(p.NodeID)
	if s == nil {
		return fmt.Errorf("no session for node %s", p.NodeID)
	}
	if p.Origin == approval.OriginAdapter {
		return s.adapter.ResolveApproval(ctx, p.ID, res)
	}
	s.cacheResolution(p.ID, res)
	return nil
}

// getSession returns the node's cached session, creating and starting one
// on first use.
func (r *Runner) getSession(ctx context.Context, run *models.Run, node *models.Node) (*session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[node.ID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	adapter, err := r.factory.NewAdapter(run, node)
	if err != nil {
		return nil, fmt.Errorf("create provider session: %w", err)
	}
	s := newSession(provider.Identity{RunID: run.ID, NodeID: node.ID}, adapter, r.queueSize)
	adapter.OnEvent(s.signals.pushEvent)
	adapter.OnError(s.signals.pushError)
	if err := adapter.Start(ctx); err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("start provider session: %w", err)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[node.ID]; ok {
		// Lost a create race; keep the first session.
		r.mu.Unlock()
		_ = adapter.Close()
		return existing, nil
	}
	r.sessions[node.ID] = s
	r.mu.Unlock()

	slog.Info("Provider session started",
		"run_id", run.ID,
		"node_id", node.ID,
		"provider", node.Provider)

	conn := models.Connection{State: models.ConnectionConnected}
	r.forward(ctx, run.ID, &events.NodePatch{
		NodeID: node.ID,
		Patch:  models.NodePatch{Connection: &conn},
	})
	return s, nil
}

func (r *Runner) lookup(nodeID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[nodeID]
}

// dropSession removes and closes a node's session.
func (r *Runner) dropSession(nodeID string) {
	r.mu.Lock()
	s, ok := r.sessions[nodeID]
	delete(r.sessions, nodeID)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.signals.drain()
	if err := s.adapter.Close(); err != nil {
		slog.Warn("Failed to close provider session", "node_id", nodeID, "error", err)
	}
}

// forward stamps the run id onto an event and publishes it. Publish
// failures are logged, never returned: the turn keeps its in-memory outcome
// even when the log is unwritable.
func (r *Runner) forward(ctx context.Context, runID string, ev events.Event) {
	ev.Env().RunID = runID
	if err := r.publisher.Publish(ctx, ev); err != nil {
		slog.Error("Failed to publish runner event",
			"run_id", runID,
			"type", ev.EventType(),
			"error", err)
	}
}

// syncSessionInfo records a provider-assigned session id the first time the
// adapter reports one (or whenever the provider rotates it).
func (r *Runner) syncSessionInfo(ctx context.Context, s *session, in models.TurnInput) {
	sid := s.adapter.SessionID()
	if sid == "" || sid == in.Node.Session.SessionID {
		return
	}
	info := models.SessionInfo{
		SessionID:     sid,
		ResetCommands: in.Node.Session.ResetCommands,
	}
	r.forward(ctx, in.Run.ID, &events.NodePatch{
		NodeID: in.Node.ID,
		Patch:  models.NodePatch{Session: &info},
	})
}
