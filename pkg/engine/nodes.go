package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/store"
)

// CreateNode adds a node to a run. Unset config fields fall back to role
// and settings defaults; the full node is carried on the creation event so
// replay reconstructs it without a prior patch target.
func (e *Engine) CreateNode(ctx context.Context, runID string, cfg models.NodeConfig) (*models.Node, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}

	node, err := e.buildNode(runID, cfg)
	if err != nil {
		return nil, err
	}

	if err := e.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   node.ID,
		Node:     node,
	}); err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	slog.Info("Node created",
		"run_id", runID,
		"node_id", node.ID,
		"label", node.Label,
		"role", node.Role,
		"provider", node.Provider)
	return node, nil
}

// GetNode returns a clone of one node.
func (e *Engine) GetNode(runID, nodeID string) (*models.Node, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	node, ok := run.Nodes[nodeID]
	if !ok {
		return nil, store.ErrNodeNotFound
	}
	return node, nil
}

// UpdateNode applies a node patch. Runtime-owned fields are rejected. A
// provider change (via the patch or the optional config) closes the current
// session and parks the node disconnected; resetNode brings it back.
func (e *Engine) UpdateNode(ctx context.Context, runID, nodeID string, req models.UpdateNodeRequest) (*models.Node, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	node, ok := run.Nodes[nodeID]
	if !ok {
		return nil, store.ErrNodeNotFound
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}

	patch := req.Patch
	if err := rejectRuntimeFields(patch); err != nil {
		return nil, err
	}
	if patch.Capabilities != nil && !patch.Capabilities.EdgeManagement.IsValid() {
		return nil, NewValidationError("capabilities.edgeManagement",
			fmt.Sprintf("unknown edge management %q", patch.Capabilities.EdgeManagement))
	}
	if patch.Permissions != nil && !patch.Permissions.PermissionsMode.IsValid() {
		return nil, NewValidationError("permissions.permissionsMode",
			fmt.Sprintf("unknown permissions mode %q", patch.Permissions.PermissionsMode))
	}
	if patch.NativeTools != nil && !patch.NativeTools.IsValid() {
		return nil, NewValidationError("nativeTools",
			fmt.Sprintf("unknown native tool handling %q", *patch.NativeTools))
	}

	// The optional config carries a provider change; fold it into the patch.
	if req.Config != nil && req.Config.Provider != "" {
		p := req.Config.Provider
		patch.Provider = &p
	}

	if patch.Provider != nil && *patch.Provider != node.Provider {
		spec, err := e.cfg.Providers.Get(*patch.Provider)
		if err != nil {
			return nil, NewValidationError("provider",
				fmt.Sprintf("unknown provider %q", *patch.Provider))
		}
		// The old session cannot survive a provider swap. Close it, deny
		// anything it had suspended, carry the new provider's reset
		// commands, and park the node until the operator resets it.
		e.runner.CloseNode(runID, nodeID)
		e.denyNodeApprovals(ctx, run, nodeID, "provider changed")
		patch.Session = &models.SessionInfo{ResetCommands: spec.ResetCommands}
		patch.Connection = &models.Connection{State: models.ConnectionDisconnected}
		slog.Info("Node provider changed",
			"run_id", runID,
			"node_id", nodeID,
			"from", node.Provider,
			"to", *patch.Provider)
	}

	if patch == (models.NodePatch{}) {
		return node, nil
	}

	if err := e.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Patch:    patch,
	}); err != nil {
		return nil, err
	}

	return e.GetNode(runID, nodeID)
}

// DeleteNode closes the node's session and publishes the deletion; the fold
// cascades to incident edges, pending approvals and (unless preserved) the
// node's artifacts.
func (e *Engine) DeleteNode(ctx context.Context, runID, nodeID string, preserveArtifacts bool) error {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return err
	}
	if _, ok := run.Nodes[nodeID]; !ok {
		return store.ErrNodeNotFound
	}
	if run.Status.IsTerminal() {
		return ErrRunTerminal
	}

	e.runner.CloseNode(runID, nodeID)
	e.denyNodeApprovals(ctx, run, nodeID, "node deleted")

	if err := e.store.Publish(ctx, &events.NodeDeleted{
		Envelope:          events.Envelope{RunID: runID},
		NodeID:            nodeID,
		PreserveArtifacts: preserveArtifacts,
	}); err != nil {
		return err
	}

	// The fold cascades incident edges away; the advisory edge.deleted
	// events tell live subscribers which ones went. Replay folds them as
	// no-ops.
	for id, edge := range run.Edges {
		if !edge.Touches(nodeID) {
			continue
		}
		if err := e.store.Publish(ctx, &events.EdgeDeleted{
			Envelope: events.Envelope{RunID: runID},
			EdgeID:   id,
		}); err != nil {
			slog.Error("Failed to announce cascaded edge delete",
				"run_id", runID,
				"edge_id", id,
				"error", err)
		}
	}

	slog.Info("Node deleted",
		"run_id", runID,
		"node_id", nodeID,
		"preserve_artifacts", preserveArtifacts)
	return nil
}

// ResetNode returns a node to a clean idle state: queues, summary, todos
// and stall counters cleared, connection back to idle, and the provider
// session reset. This is also the recovery path for a node parked
// disconnected after a provider change.
func (e *Engine) ResetNode(ctx context.Context, runID, nodeID string) (*models.Node, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	node, ok := run.Nodes[nodeID]
	if !ok {
		return nil, store.ErrNodeNotFound
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}

	if node.Status == models.NodeStatusRunning {
		if err := e.runner.InterruptNode(ctx, runID, nodeID); err != nil {
			slog.Warn("Failed to interrupt node before reset",
				"run_id", runID,
				"node_id", nodeID,
				"error", err)
		}
	}

	e.store.ResetNodeRuntime(runID, nodeID)

	idle := models.NodeStatusIdle
	empty := ""
	noTodos := []models.TodoItem{}
	if err := e.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Patch: models.NodePatch{
			Status:        &idle,
			Summary:       &empty,
			Todos:         &noTodos,
			Connection:    &models.Connection{State: models.ConnectionIdle},
			InboxConsumed: true,
		},
	}); err != nil {
		return nil, err
	}

	if err := e.runner.ResetSession(ctx, runID, nodeID); err != nil {
		slog.Warn("Failed to reset provider session",
			"run_id", runID,
			"node_id", nodeID,
			"error", err)
	}

	slog.Info("Node reset", "run_id", runID, "node_id", nodeID)
	return e.GetNode(runID, nodeID)
}

// denyNodeApprovals resolves a node's pending approvals as denied. Used
// when the session that raised them is closed out from under them.
func (e *Engine) denyNodeApprovals(ctx context.Context, run *models.Run, nodeID, reason string) {
	for id, ap := range run.Approvals {
		if ap.NodeID != nodeID {
			continue
		}
		e.approvals.Take(id)
		if err := e.store.Publish(ctx, &events.ApprovalResolved{
			Envelope:   events.Envelope{RunID: run.ID},
			ApprovalID: id,
			Resolution: models.Denied(reason),
		}); err != nil {
			slog.Error("Failed to deny node approval",
				"run_id", run.ID,
				"approval_id", id,
				"error", err)
		}
	}
}

// rejectRuntimeFields refuses patch fields the engine owns. Status flows
// from turn outcomes, connection from the session lifecycle, usage from
// telemetry, and queue state from dispatch drains.
func rejectRuntimeFields(patch models.NodePatch) error {
	switch {
	case patch.Status != nil:
		return NewValidationError("status", "engine-managed field")
	case patch.Connection != nil:
		return NewValidationError("connection", "engine-managed field")
	case patch.Session != nil:
		return NewValidationError("session", "engine-managed field")
	case patch.Usage != nil:
		return NewValidationError("usage", "engine-managed field")
	case patch.InboxCount != nil || patch.InboxConsumed:
		return NewValidationError("inbox", "engine-managed field")
	case patch.LastActivity != nil:
		return NewValidationError("lastActivityAt", "engine-managed field")
	}
	return nil
}

// roleCapabilities returns the default capability set for a role:
// orchestrators delegate and write docs, workers do the hands-on work.
func roleCapabilities(role models.NodeRole) models.Capabilities {
	if role == models.NodeRoleOrchestrator {
		return models.Capabilities{
			SpawnNodes:     true,
			WriteDocs:      true,
			DelegateOnly:   true,
			EdgeManagement: models.EdgeManagementAll,
		}
	}
	return models.Capabilities{
		WriteCode:      true,
		WriteDocs:      true,
		RunCommands:    true,
		EdgeManagement: models.EdgeManagementSelf,
	}
}

// buildNode materializes a node from its config plus defaults.
func (e *Engine) buildNode(runID string, cfg models.NodeConfig) (*models.Node, error) {
	role := cfg.Role
	if role == "" {
		role = models.NodeRoleWorker
	}
	if !role.IsValid() {
		return nil, NewValidationError("role", fmt.Sprintf("unknown node role %q", cfg.Role))
	}

	settings := e.settings.Get()
	providerName := cfg.Provider
	if providerName == "" {
		providerName = settings.DefaultProvider
	}
	if providerName == "" {
		return nil, NewValidationError("provider", "no provider given and no default configured")
	}
	spec, err := e.cfg.Providers.Get(providerName)
	if err != nil {
		return nil, NewValidationError("provider", fmt.Sprintf("unknown provider %q", providerName))
	}

	label := cfg.Label
	if label == "" {
		label = string(role)
	}

	template := cfg.RoleTemplate
	if template == "" {
		template = e.cfg.Defaults.TemplateForRole(role)
	}

	caps := roleCapabilities(role)
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
		if caps.EdgeManagement == "" {
			caps.EdgeManagement = models.EdgeManagementNone
		}
		if !caps.EdgeManagement.IsValid() {
			return nil, NewValidationError("capabilities.edgeManagement",
				fmt.Sprintf("unknown edge management %q", caps.EdgeManagement))
		}
	}

	perms := models.Permissions{PermissionsMode: models.PermissionsSkip}
	if settings.ApprovalsRequired {
		perms.PermissionsMode = models.PermissionsGated
	}
	if cfg.Permissions != nil {
		perms = *cfg.Permissions
		if !perms.PermissionsMode.IsValid() {
			return nil, NewValidationError("permissions.permissionsMode",
				fmt.Sprintf("unknown permissions mode %q", perms.PermissionsMode))
		}
	}

	native := models.NativeToolsEngine
	if spec.NativeTools != "" {
		native = spec.NativeTools
	}
	if cfg.NativeTools != nil {
		native = *cfg.NativeTools
		if !native.IsValid() {
			return nil, NewValidationError("nativeTools",
				fmt.Sprintf("unknown native tool handling %q", native))
		}
	}

	now := time.Now().UTC()
	return &models.Node{
		ID:             models.NewNodeID(),
		RunID:          runID,
		Label:          label,
		Role:           role,
		RoleTemplate:   template,
		Provider:       providerName,
		Status:         models.NodeStatusIdle,
		LastActivityAt: now,
		Capabilities:   caps,
		Permissions:    perms,
		NativeTools:    native,
		Session:        models.SessionInfo{ResetCommands: spec.ResetCommands},
		Connection:     models.Connection{State: models.ConnectionIdle},
	}, nil
}
