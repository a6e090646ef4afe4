package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/tools"
)

// graphOps adapts the engine to the tool executor's graph interface. The
// dedicated receiver keeps the tool-facing methods, which encode every
// failure as a tool error, apart from the API-facing operations of the
// same names. Both funnel into the same validation and event paths, so a
// node spawned from inside a turn and one created over HTTP are
// indistinguishable in the log.
type graphOps struct {
	e *Engine
}

// SpawnNode creates a node on behalf of a calling node, wires a handoff
// edge from the caller, and delivers the initial task when given.
func (g graphOps) SpawnNode(ctx context.Context, runID, callerID string, args tools.SpawnNodeArgs) models.ToolResult {
	run, err := g.e.store.GetRun(runID)
	if err != nil {
		return models.ToolError(err.Error())
	}
	caller, ok := run.Nodes[callerID]
	if !ok {
		return models.ToolError("calling node no longer exists")
	}
	if !caller.Capabilities.SpawnNodes {
		return models.ToolError("node lacks spawnNodes capability")
	}

	node, err := g.e.CreateNode(ctx, runID, models.NodeConfig{
		Label:        args.Label,
		Role:         models.NodeRole(args.Role),
		RoleTemplate: args.RoleTemplate,
		Provider:     args.Provider,
	})
	if err != nil {
		return models.ToolError(fmt.Sprintf("spawn_node: %v", err))
	}

	// The node exists from here on; edge and task failures downgrade to
	// notes in the tool output.
	var notes []string
	if _, err := g.e.CreateEdge(ctx, runID, models.CreateEdgeRequest{
		From: callerID,
		To:   node.ID,
		Type: models.EdgeTypeHandoff,
	}); err != nil {
		notes = append(notes, fmt.Sprintf("edge not created: %v", err))
	}

	if args.Task != "" {
		env := models.Envelope{
			From: callerID,
			To:   node.ID,
			Payload: models.EnvelopePayload{
				Message: args.Task,
				Response: &models.ResponseSpec{
					Expectation: models.ResponseRequired,
					ReplyTo:     callerID,
				},
			},
		}
		if _, err := g.e.DeliverEnvelope(ctx, runID, env); err != nil {
			notes = append(notes, fmt.Sprintf("task not delivered: %v", err))
		}
	}

	out := map[string]any{
		"nodeId":   node.ID,
		"label":    node.Label,
		"role":     string(node.Role),
		"provider": node.Provider,
	}
	if len(notes) > 0 {
		out["notes"] = notes
	}
	return models.ToolOK(out)
}

// CreateEdge creates an edge on behalf of a calling node. References
// accept node ids or unique labels. Nodes with self-scoped edge
// management may only create edges that include themselves.
func (g graphOps) CreateEdge(ctx context.Context, runID, callerID string, args tools.CreateEdgeArgs) models.ToolResult {
	run, err := g.e.store.GetRun(runID)
	if err != nil {
		return models.ToolError(err.Error())
	}
	caller, ok := run.Nodes[callerID]
	if !ok {
		return models.ToolError("calling node no longer exists")
	}

	from := resolveNodeRef(run, args.From)
	if from == "" {
		return models.ToolError(fmt.Sprintf("unknown node %q", args.From))
	}
	to := resolveNodeRef(run, args.To)
	if to == "" {
		return models.ToolError(fmt.Sprintf("unknown node %q", args.To))
	}
	if caller.Capabilities.EdgeManagement == models.EdgeManagementSelf &&
		from != callerID && to != callerID {
		return models.ToolError("self-scoped edge management: edge must include the calling node")
	}

	edge, err := g.e.CreateEdge(ctx, runID, models.CreateEdgeRequest{
		From:  from,
		To:    to,
		Type:  models.EdgeType(args.Type),
		Label: args.Label,
	})
	if err != nil {
		return models.ToolError(err.Error())
	}
	return models.ToolOK(map[string]any{
		"edgeId": edge.ID,
		"from":   edge.From,
		"to":     edge.To,
		"type":   string(edge.Type),
	})
}

// SendHandoff delivers an envelope on behalf of a calling node. An
// explicit target may be an id or a unique label; without one, the target
// is inferred from the caller's edges.
func (g graphOps) SendHandoff(ctx context.Context, runID, callerID string, args tools.SendHandoffArgs) models.ToolResult {
	run, err := g.e.store.GetRun(runID)
	if err != nil {
		return models.ToolError(err.Error())
	}
	if _, ok := run.Nodes[callerID]; !ok {
		return models.ToolError("calling node no longer exists")
	}
	if args.Message == "" && args.Structured == nil {
		return models.ToolError("message or structured content is required")
	}

	targetID := ""
	if args.To != "" {
		targetID = resolveNodeRef(run, args.To)
		if targetID == "" {
			return models.ToolError(fmt.Sprintf("unknown target node %q", args.To))
		}
	} else {
		targetID, err = defaultHandoffTarget(run, callerID, args.Status != nil)
		if err != nil {
			return models.ToolError(err.Error())
		}
	}

	delivered, err := g.e.DeliverEnvelope(ctx, runID, models.Envelope{
		From: callerID,
		To:   targetID,
		Payload: models.EnvelopePayload{
			Message:    args.Message,
			Structured: args.Structured,
			Status:     args.Status,
			Response:   args.Response,
		},
	})
	if err != nil {
		return models.ToolError(err.Error())
	}

	kind := "handoff"
	if delivered.IsReport() {
		kind = "report"
	}
	return models.ToolOK(fmt.Sprintf("%s delivered to %s", kind, targetID))
}

// resolveNodeRef resolves a node reference that may be an id or a label.
// Labels must be unique to match; an ambiguous label resolves to nothing.
func resolveNodeRef(run *models.Run, ref string) string {
	if _, ok := run.Nodes[ref]; ok {
		return ref
	}
	match := ""
	for id, node := range run.Nodes {
		if node.Label != ref {
			continue
		}
		if match != "" {
			return ""
		}
		match = id
	}
	return match
}

// defaultHandoffTarget infers where an untargeted handoff goes. Reports
// prefer a report edge from the caller, falling back to replying along the
// single inbound handoff edge; plain handoffs follow the caller's single
// outbound handoff edge. Anything other than exactly one candidate is an
// error.
func defaultHandoffTarget(run *models.Run, callerID string, report bool) (string, error) {
	candidates := make(map[string]bool)
	add := func(id string) {
		if id != "" && id != callerID {
			candidates[id] = true
		}
	}

	if report {
		for _, edge := range run.Edges {
			if edge.Type != models.EdgeTypeReport {
				continue
			}
			if edge.From == callerID {
				add(edge.To)
			}
			if edge.Bidirectional && edge.To == callerID {
				add(edge.From)
			}
		}
		if len(candidates) == 0 {
			for _, edge := range run.Edges {
				if edge.Type == models.EdgeTypeHandoff && edge.To == callerID {
					add(edge.From)
				}
			}
		}
	} else {
		for _, edge := range run.Edges {
			if edge.Type != models.EdgeTypeHandoff {
				continue
			}
			if edge.From == callerID {
				add(edge.To)
			}
			if edge.Bidirectional && edge.To == callerID {
				add(edge.From)
			}
		}
	}

	if len(candidates) == 0 {
		return "", errors.New("no target given and no edge to infer one from")
	}
	if len(candidates) > 1 {
		return "", fmt.Errorf("no target given and %d candidate edges; pass to explicitly", len(candidates))
	}
	for id := range candidates {
		return id, nil
	}
	return "", nil
}
