// Package scheduler drives turn dispatch with a single cooperative loop.
//
// One goroutine owns all projection mutations: each tick it snapshots the
// store, picks runnable nodes and spawns their turns; finished turns come
// back over a results channel and are applied in the same loop. Turns are
// strictly serialized per node and interleaved across nodes in stable id
// order.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/store"
)

// TurnRunner is the slice of the node runner the scheduler drives.
type TurnRunner interface {
	RunTurn(ctx context.Context, in models.TurnInput) models.TurnResult
	InterruptNode(ctx context.Context, runID, nodeID string) error
}

// turnDone carries a finished turn from its goroutine back to the loop.
type turnDone struct {
	runID  string
	nodeID string
	turnID string
	result models.TurnResult
}

// Scheduler owns the dispatch loop.
type Scheduler struct {
	store  *store.Store
	runner TurnRunner
	cfg    *config.EngineConfig

	results  chan turnDone
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// inFlight marks nodes whose turn result has not been applied yet.
	// The projection alone is not enough: operator ops can flip a node
	// back to idle while its turn is still running. Touched only by the
	// loop goroutine.
	inFlight map[string]bool
}

// NewScheduler creates a scheduler over the store and runner. A nil cfg
// uses the built-in engine defaults.
func NewScheduler(st *store.Store, runner TurnRunner, cfg *config.EngineConfig) *Scheduler {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	return &Scheduler{
		store:    st,
		runner:   runner,
		cfg:      cfg,
		results:  make(chan turnDone, 64),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]bool),
	}
}

// Start begins the dispatch loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the loop and waits for it and all in-flight turns. Cancel the
// Start context first so turns waiting on a provider settle promptly; their
// results are dropped with the projection intact.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "tick_interval", s.cfg.TickInterval)
	for {
		select {
		case <-s.stopCh:
			slog.Info("Scheduler shutting down")
			return
		case <-ctx.Done():
			slog.Info("Context cancelled, scheduler shutting down")
			return
		case done := <-s.results:
			s.applyOutcome(ctx, done)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches one turn for every runnable node of every running run.
func (s *Scheduler) tick(ctx context.Context) {
	for _, run := range s.store.Views() {
		if run.Status != models.RunStatusRunning {
			continue
		}
		for _, node := range run.Nodes {
			if !node.Runnable() || s.inFlight[flightKey(run.ID, node.ID)] {
				continue
			}
			s.dispatch(ctx, run.ID, node)
		}
	}
}

// dispatch marks the node running, drains its queues (unless resuming a
// pending turn) and spawns the turn goroutine.
func (s *Scheduler) dispatch(ctx context.Context, runID string, node store.NodeView) {
	log := slog.With("run_id", runID, "node_id", node.ID)

	run, err := s.store.GetRun(runID)
	if err != nil {
		log.Warn("Run disappeared before dispatch", "error", err)
		return
	}
	turnNode, ok := run.Nodes[node.ID]
	if !ok {
		log.Warn("Node disappeared before dispatch")
		return
	}

	in := models.TurnInput{
		Run:    run,
		Node:   turnNode,
		TurnID: models.NewTurnID(),
		Resume: node.PendingTurn,
	}

	running := models.NodeStatusRunning
	if node.PendingTurn {
		// A resume continues the saved turn; the queues stay put for
		// the turn after it.
		s.store.SetPendingTurn(runID, node.ID, false)
		ev := &events.NodePatch{
			Envelope: events.Envelope{RunID: runID},
			NodeID:   node.ID,
			Patch:    models.NodePatch{Status: &running},
		}
		if err := s.store.Publish(ctx, ev); err != nil {
			log.Error("Failed to mark node running", "error", err)
			return
		}
	} else {
		envelopes, messages, err := s.store.DrainForDispatch(ctx, runID, node.ID, models.NodePatch{
			Status:        &running,
			InboxConsumed: true,
		})
		if err != nil {
			log.Error("Failed to drain node queues", "error", err)
			return
		}
		in.Envelopes = envelopes
		in.Messages = orderInterruptsFirst(messages)
		if node.AutoPromptQueued {
			s.store.SetAutoPrompt(runID, node.ID, false)
		}
	}
	s.progress(ctx, runID, node.ID, models.NodeStatusRunning, "")

	log.Debug("Dispatching turn",
		"turn_id", in.TurnID,
		"resume", in.Resume,
		"envelopes", len(in.Envelopes),
		"messages", len(in.Messages))

	s.inFlight[flightKey(runID, node.ID)] = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.runner.RunTurn(ctx, in)
		select {
		case s.results <- turnDone{runID: runID, nodeID: node.ID, turnID: in.TurnID, result: res}:
		case <-s.stopCh:
		}
	}()
}

// InterruptRun interrupts every running node's adapter. Used on pause; the
// affected turns settle through the normal outcome path.
func (s *Scheduler) InterruptRun(ctx context.Context, runID string) {
	view, err := s.store.View(runID)
	if err != nil {
		return
	}
	for _, node := range view.Nodes {
		if node.Status != models.NodeStatusRunning {
			continue
		}
		if err := s.runner.InterruptNode(ctx, runID, node.ID); err != nil {
			slog.Warn("Failed to interrupt node",
				"run_id", runID,
				"node_id", node.ID,
				"error", err)
		}
	}
}

func flightKey(runID, nodeID string) string { return runID + "/" + nodeID }

// orderInterruptsFirst moves interrupt messages ahead of the rest, keeping
// the original order within each group.
func orderInterruptsFirst(messages []models.UserMessage) []models.UserMessage {
	if len(messages) < 2 {
		return messages
	}
	out := make([]models.UserMessage, 0, len(messages))
	for _, m := range messages {
		if m.Interrupt {
			out = append(out, m)
		}
	}
	for _, m := range messages {
		if !m.Interrupt {
			out = append(out, m)
		}
	}
	return out
}
