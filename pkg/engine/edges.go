package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// CreateEdge adds a routing edge between two existing nodes. The type
// defaults to handoff. Edges never restrict delivery; they drive the UI
// layout and send_handoff's default target resolution.
func (e *Engine) CreateEdge(ctx context.Context, runID string, req models.CreateEdgeRequest) (*models.Edge, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}

	if req.From == "" || req.To == "" {
		return nil, NewValidationError("from", "from and to are required")
	}
	if req.From == req.To {
		return nil, NewValidationError("to", "self edges are not allowed")
	}
	if _, ok := run.Nodes[req.From]; !ok {
		return nil, NewValidationError("from", fmt.Sprintf("unknown node %q", req.From))
	}
	if _, ok := run.Nodes[req.To]; !ok {
		return nil, NewValidationError("to", fmt.Sprintf("unknown node %q", req.To))
	}

	edgeType := req.Type
	if edgeType == "" {
		edgeType = models.EdgeTypeHandoff
	}
	if !edgeType.IsValid() {
		return nil, NewValidationError("type", fmt.Sprintf("unknown edge type %q", req.Type))
	}

	edge := &models.Edge{
		ID:            models.NewEdgeID(),
		RunID:         runID,
		From:          req.From,
		To:            req.To,
		Bidirectional: req.Bidirectional,
		Type:          edgeType,
		Label:         req.Label,
	}
	if err := e.store.Publish(ctx, &events.EdgeCreated{
		Envelope: events.Envelope{RunID: runID},
		Edge:     *edge,
	}); err != nil {
		return nil, err
	}

	slog.Info("Edge created",
		"run_id", runID,
		"edge_id", edge.ID,
		"from", edge.From,
		"to", edge.To,
		"type", edge.Type)
	return edge, nil
}

// DeleteEdge removes an edge.
func (e *Engine) DeleteEdge(ctx context.Context, runID, edgeID string) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return ErrRunTerminal
	}
	if _, ok := run.Edges[edgeID]; !ok {
		return ErrEdgeNotFound
	}

	return e.store.Publish(ctx, &events.EdgeDeleted{
		Envelope: events.Envelope{RunID: runID},
		EdgeID:   edgeID,
	})
}
