package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// ListApprovals returns pending approvals in request order. An empty runID
// lists across all runs. The projection is the source of truth, so
// approvals orphaned by a process restart are still listed.
func (e *Engine) ListApprovals(runID string) ([]models.Approval, error) {
	var runs []*models.Run
	if runID == "" {
		runs = e.store.ListRuns()
	} else {
		run, err := e.store.GetRun(runID)
		if err != nil {
			return nil, err
		}
		runs = []*models.Run{run}
	}

	out := make([]models.Approval, 0)
	for _, run := range runs {
		for _, ap := range run.Approvals {
			out = append(out, *ap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// ResolveApproval answers a pending approval. Runner-origin resolutions
// are cached for the suspended tool queue and picked up when the node's
// resume dispatches; adapter-origin ones are forwarded into the provider
// session. Approvals orphaned by a process restart resolve in the
// projection without executing anything. An unknown id is a warned no-op;
// the return value reports whether anything was applied.
func (e *Engine) ResolveApproval(ctx context.Context, approvalID string, res models.Resolution) (bool, error) {
	if !res.Kind.IsValid() {
		return false, NewValidationError("kind", fmt.Sprintf("unknown resolution kind %q", res.Kind))
	}

	if p, ok := e.approvals.Take(approvalID); ok {
		if err := e.store.Publish(ctx, &events.ApprovalResolved{
			Envelope:   events.Envelope{RunID: p.RunID},
			ApprovalID: p.ID,
			Resolution: res,
		}); err != nil {
			return false, err
		}

		if err := e.runner.ResolveApproval(ctx, p, res); err != nil {
			// Session died between block and resolution; the node starts a
			// fresh turn instead of resuming the suspended one.
			slog.Warn("Approval resolved without live session",
				"run_id", p.RunID,
				"node_id", p.NodeID,
				"approval_id", p.ID,
				"error", err)
		}
		e.store.SetPendingTurn(p.RunID, p.NodeID, true)
		e.unblockNode(ctx, p.RunID, p.NodeID)

		slog.Info("Approval resolved",
			"run_id", p.RunID,
			"node_id", p.NodeID,
			"approval_id", p.ID,
			"kind", res.Kind)
		return true, nil
	}

	// Not in the runtime queue: orphaned by a restart, or plain unknown.
	if orphan := e.findProjectionApproval(approvalID); orphan != nil {
		slog.Warn("Resolving orphaned approval from previous process",
			"run_id", orphan.RunID,
			"node_id", orphan.NodeID,
			"approval_id", approvalID,
			"kind", res.Kind)
		if err := e.store.Publish(ctx, &events.ApprovalResolved{
			Envelope:   events.Envelope{RunID: orphan.RunID},
			ApprovalID: approvalID,
			Resolution: res,
		}); err != nil {
			return false, err
		}
		e.unblockNode(ctx, orphan.RunID, orphan.NodeID)
		return true, nil
	}

	slog.Warn("Ignoring resolution for unknown approval", "approval_id", approvalID)
	return false, nil
}

// unblockNode returns a node blocked on an approval to idle so the
// scheduler can dispatch it again.
func (e *Engine) unblockNode(ctx context.Context, runID, nodeID string) {
	node, err := e.GetNode(runID, nodeID)
	if err != nil || node.Status != models.NodeStatusBlocked {
		return
	}
	idle := models.NodeStatusIdle
	if err := e.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Patch:    models.NodePatch{Status: &idle},
	}); err != nil {
		slog.Error("Failed to unblock node",
			"run_id", runID,
			"node_id", nodeID,
			"error", err)
	}
}

// findProjectionApproval scans all runs for a pending approval by id.
func (e *Engine) findProjectionApproval(approvalID string) *models.Approval {
	for _, run := range e.store.ListRuns() {
		if ap, ok := run.Approvals[approvalID]; ok {
			return ap
		}
	}
	return nil
}
