// Package engine is the runtime facade. It wires the store, scheduler,
// runner, tool executor and approval queue together and exposes every
// control-plane operation the API layer serves: run and node lifecycle,
// edges, messages, approvals, artifacts and envelope delivery. All
// mutations flow through here; the HTTP layer is a thin translation of
// requests into engine calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weftlab/loom/pkg/approval"
	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/masking"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
	"github.com/weftlab/loom/pkg/provider"
	"github.com/weftlab/loom/pkg/runner"
	"github.com/weftlab/loom/pkg/scheduler"
	"github.com/weftlab/loom/pkg/store"
	"github.com/weftlab/loom/pkg/tools"
	"github.com/weftlab/loom/pkg/workspace"
)

// Engine owns the orchestration runtime for one data directory.
type Engine struct {
	cfg       *config.Config
	settings  *config.SettingsStore
	store     *store.Store
	approvals *approval.Queue
	templates *prompt.TemplateRegistry
	masker    *masking.Masker
	runner    *runner.Runner
	sched     *scheduler.Scheduler

	startedAt time.Time

	// Per-run workspace bindings, created lazily on first tool use and
	// dropped when the run stops or is deleted.
	mu   sync.Mutex
	envs map[string]*runWorkspace
}

// runWorkspace caches the workspace and tool executor bound to one run's
// working directory.
type runWorkspace struct {
	cwd  string
	ws   *workspace.Workspace
	exec *tools.Executor
}

// New creates an engine. All dependencies are required; the provider
// factory decides how node sessions are transported (CLI subprocess, HTTP
// API or mock).
func New(cfg *config.Config, settings *config.SettingsStore, st *store.Store, factory provider.Factory) (*Engine, error) {
	if cfg == nil || settings == nil || st == nil || factory == nil {
		return nil, fmt.Errorf("engine requires config, settings, store and provider factory")
	}

	e := &Engine{
		cfg:       cfg,
		settings:  settings,
		store:     st,
		approvals: approval.NewQueue(),
		templates: prompt.NewTemplateRegistry(cfg.Templates),
		masker:    masking.New(cfg),
		envs:      make(map[string]*runWorkspace),
	}
	e.runner = runner.NewRunner(factory, prompt.NewComposer(e.templates), st, e.approvals, e, cfg.Engine)
	e.sched = scheduler.NewScheduler(st, e.runner, cfg.Engine)
	return e, nil
}

// Start loads persisted runs, normalizes state left behind by a previous
// process, and starts the scheduler loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}
	e.normalizeRestored(ctx)
	e.sched.Start(ctx)
	e.startedAt = time.Now().UTC()

	slog.Info("Engine started",
		"runs", len(e.store.ListRuns()),
		"tick_interval", e.cfg.Engine.TickInterval)
	return nil
}

// Close stops the scheduler, tears down provider sessions run by run in
// parallel (each session close can wait out a subprocess kill grace), and
// releases the template watcher and event logs.
func (e *Engine) Close() error {
	e.sched.Stop()

	var g errgroup.Group
	for _, run := range e.store.ListRuns() {
		runID := run.ID
		g.Go(func() error {
			e.runner.CloseRun(runID)
			return nil
		})
	}
	_ = g.Wait()
	e.runner.Close()

	if err := e.templates.Close(); err != nil {
		slog.Warn("Failed to close template registry", "error", err)
	}

	slog.Info("Engine stopped")
	return e.store.Close()
}

// Store exposes the run store for read-side API handlers (catchup, export,
// artifact reads). Mutations still go through engine operations.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Settings exposes the mutable settings store.
func (e *Engine) Settings() *config.SettingsStore {
	return e.settings
}

// Uptime returns how long the engine has been started.
func (e *Engine) Uptime() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

// PendingApprovals returns the runtime approval queue size.
func (e *Engine) PendingApprovals() int {
	return e.approvals.Len()
}

// closeRunSessions tears down every provider session of a run and drops its
// cached workspace binding.
func (e *Engine) closeRunSessions(runID string) {
	e.runner.CloseRun(runID)
	e.mu.Lock()
	delete(e.envs, runID)
	e.mu.Unlock()
}

// normalizeRestored repairs state a dead process left behind: nodes stuck
// in running (their turns died with the process) become idle with summary
// "interrupted", and stale connection state is cleared so the nodes are
// dispatchable again.
func (e *Engine) normalizeRestored(ctx context.Context) {
	for _, run := range e.store.ListRuns() {
		for _, node := range run.Nodes {
			patch := models.NodePatch{}
			changed := false

			if node.Status == models.NodeStatusRunning {
				idle := models.NodeStatusIdle
				summary := "interrupted"
				patch.Status = &idle
				patch.Summary = &summary
				changed = true
			}
			if node.Connection.State == models.ConnectionConnected || node.Connection.Streaming {
				patch.Connection = &models.Connection{State: models.ConnectionIdle}
				changed = true
			}
			if !changed {
				continue
			}

			slog.Info("Normalized node restored from previous process",
				"run_id", run.ID,
				"node_id", node.ID,
				"status", node.Status)
			if err := e.store.Publish(ctx, &events.NodePatch{
				Envelope: events.Envelope{RunID: run.ID},
				NodeID:   node.ID,
				Patch:    patch,
			}); err != nil {
				slog.Error("Failed to normalize restored node",
					"run_id", run.ID,
					"node_id", node.ID,
					"error", err)
			}
		}
	}
}
