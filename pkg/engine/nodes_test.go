package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/provider"
	"github.com/weftlab/loom/pkg/store"
)

func TestCreateNodeWorkerDefaults(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)

	node := f.createNode(t, run.ID, models.NodeConfig{})

	assert.Equal(t, models.NodeRoleWorker, node.Role)
	assert.Equal(t, "worker", node.Label)
	assert.Equal(t, "mock", node.Provider)
	assert.Equal(t, "implementer", node.RoleTemplate)
	assert.Equal(t, models.NodeStatusIdle, node.Status)
	assert.Equal(t, models.ConnectionIdle, node.Connection.State)
	assert.Equal(t, models.NativeToolsEngine, node.NativeTools)
	assert.Equal(t, models.PermissionsSkip, node.Permissions.PermissionsMode)

	caps := node.Capabilities
	assert.True(t, caps.WriteCode)
	assert.True(t, caps.WriteDocs)
	assert.True(t, caps.RunCommands)
	assert.False(t, caps.SpawnNodes)
	assert.Equal(t, models.EdgeManagementSelf, caps.EdgeManagement)
}

func TestCreateNodeOrchestratorDefaults(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)

	node := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleOrchestrator})

	assert.Equal(t, "orchestrator", node.Label)
	assert.Equal(t, "orchestrator", node.RoleTemplate)

	caps := node.Capabilities
	assert.True(t, caps.SpawnNodes)
	assert.True(t, caps.DelegateOnly)
	assert.True(t, caps.WriteDocs)
	assert.False(t, caps.WriteCode)
	assert.Equal(t, models.EdgeManagementAll, caps.EdgeManagement)
}

func TestCreateNodeGatedWhenApprovalsRequired(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)

	yes := true
	_, err := f.engine.Settings().Update(config.SettingsPatch{ApprovalsRequired: &yes})
	require.NoError(t, err)

	node := f.createNode(t, run.ID, models.NodeConfig{})
	assert.Equal(t, models.PermissionsGated, node.Permissions.PermissionsMode)
}

func TestCreateNodeUnknownProvider(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)

	_, err := f.engine.CreateNode(context.Background(), run.ID, models.NodeConfig{Provider: "ghost"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCreateNodeNoDefaultProvider(t *testing.T) {
	dataDir := t.TempDir()
	cfg := testConfig(dataDir, "")
	st, err := store.NewStore(dataDir, events.NewBus())
	require.NoError(t, err)
	eng, err := New(cfg, config.NewSettingsStore(dataDir, cfg), st, provider.NewConfigFactory(cfg.Providers, nil))
	require.NoError(t, err)
	defer eng.Close()

	run, err := eng.CreateRun(context.Background(), models.CreateRunRequest{})
	require.NoError(t, err)

	_, err = eng.CreateNode(context.Background(), run.ID, models.NodeConfig{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "no default")
}

func TestUpdateNodeLabel(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{Label: "builder"})

	label := "renamed"
	got, err := f.engine.UpdateNode(context.Background(), run.ID, node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Label: &label},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
}

func TestUpdateNodeRejectsRuntimeFields(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{})

	running := models.NodeStatusRunning
	_, err := f.engine.UpdateNode(context.Background(), run.ID, node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Status: &running},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = f.engine.UpdateNode(context.Background(), run.ID, node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Connection: &models.Connection{State: models.ConnectionIdle}},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestUpdateNodeRejectsUnknownEdgeManagement(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{})

	_, err := f.engine.UpdateNode(context.Background(), run.ID, node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Capabilities: &models.Capabilities{EdgeManagement: "ghost"}},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestUpdateNodeProviderChangeParksNode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{})
	f.seedApproval(t, run.ID, node.ID, "call-1")

	spare := "spare"
	got, err := f.engine.UpdateNode(ctx, run.ID, node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Provider: &spare},
	})
	require.NoError(t, err)
	assert.Equal(t, "spare", got.Provider)
	assert.Equal(t, models.ConnectionDisconnected, got.Connection.State)

	// The swap orphans the node's approvals, so they were denied.
	current, err := f.engine.GetRun(run.ID)
	require.NoError(t, err)
	assert.Empty(t, current.Approvals)
	assert.Equal(t, 0, f.engine.PendingApprovals())

	// Parked means not runnable, even with queued input.
	_, err = f.engine.PostMessage(ctx, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "hello"})
	require.NoError(t, err)
	assert.False(t, f.nodeView(t, run.ID, node.ID).Runnable())

	// Reset is the recovery path.
	got, err = f.engine.ResetNode(ctx, run.ID, node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionIdle, got.Connection.State)
	assert.Equal(t, 0, got.InboxCount)
}

func TestUpdateNodeUnknownProvider(t *testing.T) {
	f := newEngineFixture(t)
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{})

	ghost := "ghost"
	_, err := f.engine.UpdateNode(context.Background(), run.ID, node.ID, models.UpdateNodeRequest{
		Patch: models.NodePatch{Provider: &ghost},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestDeleteNodeCascades(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	run := f.createRun(t)
	boss := f.createNode(t, run.ID, models.NodeConfig{Role: models.NodeRoleOrchestrator})
	hand := f.createNode(t, run.ID, models.NodeConfig{Label: "hand"})

	_, err := f.engine.CreateEdge(ctx, run.ID, models.CreateEdgeRequest{From: boss.ID, To: hand.ID})
	require.NoError(t, err)
	f.seedApproval(t, run.ID, hand.ID, "call-1")
	_, err = f.engine.RecordArtifact(ctx, run.ID, models.RecordArtifactRequest{
		NodeID:  hand.ID,
		Kind:    models.ArtifactKindLog,
		Name:    "build.log",
		Content: "ok\n",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteNode(ctx, run.ID, hand.ID, false))

	got, err := f.engine.GetRun(run.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Nodes, hand.ID)
	assert.Empty(t, got.Edges)
	assert.Empty(t, got.Approvals)
	assert.Empty(t, got.Artifacts)

	_, err = f.engine.GetNode(run.ID, hand.ID)
	assert.ErrorIs(t, err, store.ErrNodeNotFound)

	// The pending approval is denied and the cascaded edge is announced.
	types := f.tailTypes(t, run.ID, 3)
	assert.Equal(t, []string{
		events.EventTypeApprovalResolved,
		events.EventTypeNodeDeleted,
		events.EventTypeEdgeDeleted,
	}, types)
}

func TestDeleteNodePreservesArtifacts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	run := f.createRun(t)
	hand := f.createNode(t, run.ID, models.NodeConfig{Label: "hand"})

	artifact, err := f.engine.RecordArtifact(ctx, run.ID, models.RecordArtifactRequest{
		NodeID:  hand.ID,
		Kind:    models.ArtifactKindLog,
		Name:    "build.log",
		Content: "ok\n",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.DeleteNode(ctx, run.ID, hand.ID, true))

	got, err := f.engine.GetRun(run.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Artifacts, artifact.ID)
}

func TestResetNodeClearsQueuesAndSummary(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	run := f.createRun(t)
	node := f.createNode(t, run.ID, models.NodeConfig{})

	_, err := f.engine.PostMessage(ctx, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "hello"})
	require.NoError(t, err)
	summary := "was working"
	require.NoError(t, f.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: run.ID},
		NodeID:   node.ID,
		Patch:    models.NodePatch{Summary: &summary},
	}))
	require.Equal(t, 1, f.node(t, run.ID, node.ID).InboxCount)

	got, err := f.engine.ResetNode(ctx, run.ID, node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusIdle, got.Status)
	assert.Empty(t, got.Summary)
	assert.Empty(t, got.Todos)
	assert.Equal(t, 0, got.InboxCount)
	assert.Equal(t, 0, f.nodeView(t, run.ID, node.ID).MessageLen)
}
