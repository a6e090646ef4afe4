package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/stall"
)

// applyOutcome folds one finished turn into the projection: terminal status
// events, artifacts, loop-safety and auto-continuation.
func (s *Scheduler) applyOutcome(ctx context.Context, done turnDone) {
	delete(s.inFlight, flightKey(done.runID, done.nodeID))

	res := done.result
	log := slog.With(
		"run_id", done.runID,
		"node_id", done.nodeID,
		"turn_id", done.turnID,
		"outcome", res.Outcome)

	if res.Prompt != "" {
		if _, err := s.store.WriteArtifact(ctx, done.runID, models.RecordArtifactRequest{
			NodeID:  done.nodeID,
			Kind:    models.ArtifactKindPrompt,
			Name:    done.turnID + "-prompt.md",
			Content: res.Prompt,
		}); err != nil {
			log.Warn("Failed to write prompt artifact", "error", err)
		}
	}

	switch res.Outcome {
	case models.TurnCompleted:
		s.applyCompleted(ctx, done, log)
	case models.TurnBlocked:
		s.applyBlocked(ctx, done, log)
	case models.TurnInterrupted:
		log.Info("Turn interrupted")
		s.setNodeStatus(ctx, done.runID, done.nodeID, models.NodeStatusIdle, fallback(res.Summary, "interrupted"))
	case models.TurnFailed:
		log.Warn("Turn failed", "error", res.Error)
		s.setNodeStatus(ctx, done.runID, done.nodeID, models.NodeStatusFailed, fallback(res.Summary, "failed"))
	default:
		log.Error("Turn returned unknown outcome")
		s.setNodeStatus(ctx, done.runID, done.nodeID, models.NodeStatusFailed, "failed")
	}
}

func (s *Scheduler) applyCompleted(ctx context.Context, done turnDone, log *slog.Logger) {
	res := done.result

	if res.Diff != "" {
		if _, err := s.store.WriteArtifact(ctx, done.runID, models.RecordArtifactRequest{
			NodeID:  done.nodeID,
			Kind:    models.ArtifactKindDiff,
			Name:    done.turnID + ".diff",
			Content: res.Diff,
			Metadata: models.ArtifactMetadata{
				Summary: res.Summary,
			},
		}); err != nil {
			log.Warn("Failed to write diff artifact", "error", err)
		}
	}

	s.setNodeStatus(ctx, done.runID, done.nodeID, models.NodeStatusIdle, fallback(res.Summary, "completed"))

	sample := stall.Sample{
		OutputHash:   res.OutputHash,
		DiffHash:     res.DiffHash,
		Verification: res.VerificationFailure,
	}
	if stalled, evidence := s.store.UpdateStall(done.runID, done.nodeID, sample, s.cfg.StallThreshold); stalled {
		s.pauseStalled(ctx, done.runID, done.nodeID, evidence)
		return
	}

	s.maybeQueueAutoPrompt(done.runID, done.nodeID)
}

func (s *Scheduler) applyBlocked(ctx context.Context, done turnDone, log *slog.Logger) {
	res := done.result
	if res.Approval == nil {
		log.Error("Blocked turn carries no approval, failing node")
		s.setNodeStatus(ctx, done.runID, done.nodeID, models.NodeStatusFailed, "failed")
		return
	}

	ap := *res.Approval
	if ap.TimeoutSeconds == 0 && s.cfg.ApprovalTimeout > 0 {
		ap.TimeoutSeconds = int(s.cfg.ApprovalTimeout.Seconds())
	}
	if err := s.store.Publish(ctx, &events.ApprovalRequested{
		Envelope: events.Envelope{RunID: done.runID},
		Approval: ap,
	}); err != nil {
		log.Error("Failed to publish approval request", "error", err)
	}
	s.setNodeStatus(ctx, done.runID, done.nodeID, models.NodeStatusBlocked, res.Summary)
	s.store.SetPendingTurn(done.runID, done.nodeID, true)
	log.Info("Node blocked on approval", "approval_id", ap.ID, "tool", ap.Tool.Name)
}

// pauseStalled pauses the run and blocks the offending node when loop-safety
// trips.
func (s *Scheduler) pauseStalled(ctx context.Context, runID, nodeID string, evidence *events.StallEvidence) {
	slog.Warn("Loop-safety stall detected",
		"run_id", runID,
		"node_id", nodeID,
		"kind", evidence.Kind,
		"count", evidence.Count)

	paused := models.RunStatusPaused
	if err := s.store.Publish(ctx, &events.RunPatch{
		Envelope: events.Envelope{RunID: runID},
		Patch:    models.RunPatch{Status: &paused},
	}); err != nil {
		slog.Error("Failed to pause stalled run", "run_id", runID, "error", err)
	}
	if err := s.store.Publish(ctx, &events.RunStalled{
		Envelope: events.Envelope{RunID: runID},
		Evidence: *evidence,
	}); err != nil {
		slog.Error("Failed to publish stall evidence", "run_id", runID, "error", err)
	}
	s.setNodeStatus(ctx, runID, nodeID, models.NodeStatusBlocked, "stalled")
}

// maybeQueueAutoPrompt flags an orchestrator for self-continuation when its
// run is in auto mode and it has nothing queued.
func (s *Scheduler) maybeQueueAutoPrompt(runID, nodeID string) {
	view, err := s.store.View(runID)
	if err != nil || view.Mode != models.RunModeAuto {
		return
	}
	for _, node := range view.Nodes {
		if node.ID != nodeID {
			continue
		}
		if node.Role == models.NodeRoleOrchestrator && node.InboxLen == 0 && node.MessageLen == 0 {
			s.store.SetAutoPrompt(runID, nodeID, true)
			slog.Debug("Queued auto continuation", "run_id", runID, "node_id", nodeID)
		}
		return
	}
}

// setNodeStatus publishes the authoritative status patch and its advisory
// progress twin.
func (s *Scheduler) setNodeStatus(ctx context.Context, runID, nodeID string, status models.NodeStatus, summary string) {
	now := time.Now().UTC()
	patch := models.NodePatch{Status: &status, LastActivity: &now}
	if summary != "" {
		patch.Summary = &summary
	}
	if err := s.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Patch:    patch,
	}); err != nil {
		slog.Error("Failed to publish node status",
			"run_id", runID,
			"node_id", nodeID,
			"error", err)
	}
	s.progress(ctx, runID, nodeID, status, summary)
}

func (s *Scheduler) progress(ctx context.Context, runID, nodeID string, status models.NodeStatus, summary string) {
	ev := &events.NodeProgress{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Status:   status,
		Summary:  summary,
	}
	if err := s.store.Publish(ctx, ev); err != nil {
		slog.Debug("Failed to publish node progress", "run_id", runID, "node_id", nodeID, "error", err)
	}
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
