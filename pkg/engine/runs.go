package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// CreateRun creates a run, applying the settings defaults for unset modes.
// A working directory, when given, must name an existing directory; it is
// stored in absolute form so workspace tools resolve consistently.
func (e *Engine) CreateRun(ctx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	settings := e.settings.Get()
	if req.Mode == "" {
		req.Mode = settings.DefaultMode
	}
	if req.GlobalMode == "" {
		req.GlobalMode = settings.DefaultGlobalMode
	}
	if req.Mode != "" && !req.Mode.IsValid() {
		return nil, NewValidationError("mode", fmt.Sprintf("unknown run mode %q", req.Mode))
	}
	if req.GlobalMode != "" && !req.GlobalMode.IsValid() {
		return nil, NewValidationError("globalMode", fmt.Sprintf("unknown global mode %q", req.GlobalMode))
	}

	if req.Cwd != "" {
		abs, err := filepath.Abs(req.Cwd)
		if err != nil {
			return nil, NewValidationError("cwd", "not a resolvable path")
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, NewValidationError("cwd", "must be an existing directory")
		}
		req.Cwd = abs
	}

	run, err := e.store.CreateRun(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	slog.Info("Run created",
		"run_id", run.ID,
		"mode", run.Mode,
		"global_mode", run.GlobalMode,
		"cwd", run.Cwd)
	return run, nil
}

// GetRun returns a deep clone of one run's projection.
func (e *Engine) GetRun(runID string) (*models.Run, error) {
	return e.store.GetRun(runID)
}

// ListRuns returns clones of all runs, newest first.
func (e *Engine) ListRuns() []*models.Run {
	return e.store.ListRuns()
}

// UpdateRun applies status and mode changes. Pausing interrupts in-flight
// turns; resuming queues a synthetic "Continue." for nodes whose last turn
// was cut short; stopping additionally denies pending approvals and closes
// every provider session. Terminal runs reject all updates.
func (e *Engine) UpdateRun(ctx context.Context, runID string, req models.UpdateRunRequest) (*models.Run, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}

	if req.Status != nil && !req.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown run status %q", *req.Status))
	}
	if req.Mode != nil && !req.Mode.IsValid() {
		return nil, NewValidationError("mode", fmt.Sprintf("unknown run mode %q", *req.Mode))
	}
	if req.GlobalMode != nil && !req.GlobalMode.IsValid() {
		return nil, NewValidationError("globalMode", fmt.Sprintf("unknown global mode %q", *req.GlobalMode))
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}

	patch := models.RunPatch{}
	if req.Status != nil && *req.Status != run.Status {
		patch.Status = req.Status
	}
	if req.Mode != nil && *req.Mode != run.Mode {
		patch.Mode = req.Mode
	}
	if req.GlobalMode != nil && *req.GlobalMode != run.GlobalMode {
		patch.GlobalMode = req.GlobalMode
	}
	if patch == (models.RunPatch{}) {
		return run, nil
	}

	if err := e.store.Publish(ctx, &events.RunPatch{
		Envelope: events.Envelope{RunID: runID},
		Patch:    patch,
	}); err != nil {
		return nil, err
	}

	if patch.Mode != nil || patch.GlobalMode != nil {
		e.announceModes(ctx, runID)
	}

	if patch.Status != nil {
		switch *patch.Status {
		case models.RunStatusPaused:
			e.sched.InterruptRun(ctx, runID)
			slog.Info("Run paused", "run_id", runID)

		case models.RunStatusRunning:
			e.reviveInterrupted(ctx, runID)
			slog.Info("Run resumed", "run_id", runID)

		case models.RunStatusStopped, models.RunStatusFailed:
			e.sched.InterruptRun(ctx, runID)
			e.denyPendingApprovals(ctx, runID, "run stopped")
			e.closeRunSessions(runID)
			slog.Info("Run stopped", "run_id", runID, "status", *patch.Status)
		}
	}

	return e.store.GetRun(runID)
}

// DeleteRun closes the run's sessions, then removes its projection and
// directory.
func (e *Engine) DeleteRun(ctx context.Context, runID string) error {
	if _, err := e.store.GetRun(runID); err != nil {
		return err
	}
	e.closeRunSessions(runID)
	if err := e.store.DeleteRun(ctx, runID); err != nil {
		return err
	}
	slog.Info("Run deleted", "run_id", runID)
	return nil
}

// announceModes publishes run.mode with the run's current modes so
// observers tracking only mode changes stay in sync.
func (e *Engine) announceModes(ctx context.Context, runID string) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return
	}
	if err := e.store.Publish(ctx, &events.RunMode{
		Envelope:   events.Envelope{RunID: runID},
		Mode:       run.Mode,
		GlobalMode: run.GlobalMode,
	}); err != nil {
		slog.Error("Failed to announce run modes", "run_id", runID, "error", err)
	}
}

// reviveInterrupted queues a synthetic "Continue." for nodes whose last
// turn was cut short, so resuming a paused run picks up where it left off.
func (e *Engine) reviveInterrupted(ctx context.Context, runID string) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return
	}
	for _, node := range run.Nodes {
		if node.Status != models.NodeStatusIdle || node.Summary != "interrupted" {
			continue
		}
		msg := models.UserMessage{
			ID:        models.NewMessageID(),
			RunID:     runID,
			NodeID:    node.ID,
			Role:      models.RoleUser,
			Content:   "Continue.",
			CreatedAt: time.Now().UTC(),
		}
		if err := e.store.Publish(ctx, &events.MessageUser{
			Envelope: events.Envelope{RunID: runID},
			Message:  msg,
		}); err != nil {
			slog.Error("Failed to queue resume message",
				"run_id", runID,
				"node_id", node.ID,
				"error", err)
		}
	}
}

// denyPendingApprovals resolves every pending approval of a run as denied.
// Used when stopping a run; the sessions the approvals belong to are about
// to close, so none of the gated calls will execute.
func (e *Engine) denyPendingApprovals(ctx context.Context, runID, reason string) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return
	}
	for id := range run.Approvals {
		e.approvals.Take(id)
		if err := e.store.Publish(ctx, &events.ApprovalResolved{
			Envelope:   events.Envelope{RunID: runID},
			ApprovalID: id,
			Resolution: models.Denied(reason),
		}); err != nil {
			slog.Error("Failed to deny pending approval",
				"run_id", runID,
				"approval_id", id,
				"error", err)
		}
	}
}
