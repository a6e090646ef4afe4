package e2e

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/provider"
)

// ────────────────────────────────────────────────────────────
// Scenario: restart replay
// ────────────────────────────────────────────────────────────

// A handoff delivered but not yet consumed survives a cold restart with the
// snapshot deleted: the projection comes back from events.jsonl alone, and
// resuming the run lets the target consume the restored envelope.
func TestE2E_RestartReplaysEventLog(t *testing.T) {
	scripts := NewScriptBook().
		Script("builder", &provider.MockScript{Turns: []provider.MockTurn{
			{Final: "picked up after restart"},
		}})
	app := NewTestApp(t, WithScripts(scripts))

	run := app.CreateRun(t)
	// Paused before any node has input, so the envelope below stays queued
	// instead of being consumed on the next tick.
	app.SetRunStatus(t, run.ID, models.RunStatusPaused)

	boss := app.AddNode(t, run.ID, models.NodeConfig{Label: "boss", Role: models.NodeRoleOrchestrator})
	builder := app.AddNode(t, run.ID, models.NodeConfig{Label: "builder"})
	edge := app.AddEdge(t, run.ID, models.CreateEdgeRequest{From: boss.ID, To: builder.ID, Type: models.EdgeTypeHandoff})

	app.DeliverEnvelope(t, run.ID, models.Envelope{
		From: boss.ID,
		To:   builder.ID,
		Payload: models.EnvelopePayload{
			Message:  "do X",
			Response: &models.ResponseSpec{Expectation: models.ResponseRequired},
		},
	})
	require.Equal(t, 1, app.GetNode(t, run.ID, builder.ID).InboxCount)

	// Cold start: stop the first instance and delete its snapshot, leaving
	// the restore path nothing but the event log.
	app.Stop()
	require.NoError(t, os.Remove(filepath.Join(app.DataDir, "runs", run.ID, "run.json")))

	app2 := NewTestApp(t, WithDataDir(app.DataDir), WithScripts(scripts))

	restored := app2.GetRun(t, run.ID)
	assert.Equal(t, models.RunStatusPaused, restored.Status)
	require.Contains(t, restored.Nodes, boss.ID)
	require.Contains(t, restored.Nodes, builder.ID)
	assert.Equal(t, models.NodeStatusIdle, restored.Nodes[boss.ID].Status)
	assert.Equal(t, models.NodeStatusIdle, restored.Nodes[builder.ID].Status)
	assert.Equal(t, 1, restored.Nodes[builder.ID].InboxCount)
	assert.Contains(t, restored.Edges, edge.ID)

	// Resuming dispatches the builder; its prompt carries the envelope the
	// first instance never dispatched.
	app2.SetRunStatus(t, run.ID, models.RunStatusRunning)
	app2.WaitInboxDrained(t, run.ID, builder.ID, 10*time.Second)

	adapter := app2.Scripts.Adapter("builder")
	require.NotNil(t, adapter)
	sends := adapter.Sends()
	require.Len(t, sends, 1)
	task := sends[0].Prompt.Task
	assert.Contains(t, task, "## Incoming handoffs")
	assert.Contains(t, task, "### From "+boss.ID)
	assert.Contains(t, task, "do X")

	assert.Equal(t, "picked up after restart", app2.GetNode(t, run.ID, builder.ID).Summary)
}
