package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/store"
)

// PostMessage queues operator input for a node. An empty nodeId targets the
// run's orchestrator node. interrupt=true places the message at the head of
// the queue and, if the node is mid-turn, fires an adapter interrupt so the
// next dispatch picks the message up immediately.
func (e *Engine) PostMessage(ctx context.Context, runID string, req models.PostMessageRequest) (*models.UserMessage, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, NewValidationError("content", "content is required")
	}

	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = orchestratorNode(run)
		if nodeID == "" {
			return nil, NewValidationError("nodeId", "run has no orchestrator node")
		}
	}
	node, ok := run.Nodes[nodeID]
	if !ok {
		return nil, store.ErrNodeNotFound
	}

	msg := models.UserMessage{
		ID:        models.NewMessageID(),
		RunID:     runID,
		NodeID:    nodeID,
		Role:      models.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
		Interrupt: req.Interrupt,
	}
	if err := e.store.Publish(ctx, &events.MessageUser{
		Envelope: events.Envelope{RunID: runID},
		Message:  msg,
	}); err != nil {
		return nil, err
	}

	if req.Interrupt && node.Status == models.NodeStatusRunning {
		if err := e.runner.InterruptNode(ctx, runID, nodeID); err != nil {
			slog.Warn("Failed to interrupt node for message",
				"run_id", runID,
				"node_id", nodeID,
				"error", err)
		}
	}
	return &msg, nil
}

// DeliverEnvelope injects a handoff envelope into a node's inbox. The API
// uses it for operator-injected handoffs; the send_handoff tool funnels
// through the same path. Envelopes carrying a completion status emit
// handoff.reported, everything else handoff.sent.
func (e *Engine) DeliverEnvelope(ctx context.Context, runID string, env models.Envelope) (*models.Envelope, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}
	if env.To == "" {
		return nil, NewValidationError("to", "target node is required")
	}
	if _, ok := run.Nodes[env.To]; !ok {
		return nil, store.ErrNodeNotFound
	}
	if env.From != "" {
		if _, ok := run.Nodes[env.From]; !ok {
			return nil, NewValidationError("from", fmt.Sprintf("unknown node %q", env.From))
		}
	}
	if env.Payload.Message == "" && env.Payload.Structured == nil {
		return nil, NewValidationError("payload", "message or structured content is required")
	}

	if env.ID == "" {
		env.ID = models.NewEnvelopeID()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	var ev events.Event
	if env.IsReport() {
		ev = &events.HandoffReported{
			Envelope: events.Envelope{RunID: runID},
			Handoff:  env,
		}
	} else {
		ev = &events.HandoffSent{
			Envelope: events.Envelope{RunID: runID},
			Handoff:  env,
		}
	}
	if err := e.store.Publish(ctx, ev); err != nil {
		return nil, err
	}
	return &env, nil
}

// orchestratorNode picks the run's orchestrator node, smallest id winning
// so the choice is deterministic when several exist.
func orchestratorNode(run *models.Run) string {
	best := ""
	for id, node := range run.Nodes {
		if node.Role != models.NodeRoleOrchestrator {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best
}
