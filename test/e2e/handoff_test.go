package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/provider"
)

// ────────────────────────────────────────────────────────────
// Scenario: handoff between nodes
// ────────────────────────────────────────────────────────────

// The orchestrator delegates over an explicit handoff edge; the worker's
// next runnable tick consumes the envelope and renders it in its task
// prompt.
func TestE2E_HandoffBetweenNodes(t *testing.T) {
	scripts := NewScriptBook().
		Script("boss", &provider.MockScript{Turns: []provider.MockTurn{
			{Final: "delegating to builder", ToolCalls: []models.ToolCall{{
				ID:   "call-hand-1",
				Name: "send_handoff",
				Args: map[string]any{
					"to":       "builder",
					"message":  "do X",
					"response": map[string]any{"expectation": "required"},
				},
			}}},
		}}).
		Script("builder", &provider.MockScript{Turns: []provider.MockTurn{
			{Final: "on it"},
		}})
	app := NewTestApp(t, WithScripts(scripts))

	ctx := context.Background()
	ws, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer ws.Close()

	run := app.CreateRun(t)
	require.NoError(t, ws.Subscribe("run:"+run.ID))

	boss := app.AddNode(t, run.ID, models.NodeConfig{Label: "boss", Role: models.NodeRoleOrchestrator})
	builder := app.AddNode(t, run.ID, models.NodeConfig{Label: "builder"})
	app.AddEdge(t, run.ID, models.CreateEdgeRequest{From: boss.ID, To: builder.ID, Type: models.EdgeTypeHandoff})

	// No nodeId: the message routes to the orchestrator.
	app.PostMessage(t, run.ID, models.PostMessageRequest{Content: "delegate the work"})

	// The envelope lands on the wire mid-turn, between tool.started and
	// tool.completed, followed by the target's queue-depth patch.
	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "handoff.sent" && field(e, "envelope", "to") == builder.ID
	}, 10*time.Second)
	require.NoError(t, err)

	// The builder consumes it on its next runnable tick.
	builderAdapter := pollUntil(t, 10*time.Second, "builder turn dispatched", func() (*provider.MockAdapter, bool) {
		a := app.Scripts.Adapter("builder")
		return a, a != nil && len(a.Sends()) > 0
	})
	app.WaitNodeStatus(t, run.ID, builder.ID, models.NodeStatusIdle, 10*time.Second)

	requireEventOrder(t, ws.Events(), []eventStep{
		step("tool.proposed", func(e WSEvent) bool { return field(e, "tool", "name") == "send_handoff" }),
		step("tool.started", func(e WSEvent) bool { return field(e, "toolCallId") == "call-hand-1" }),
		step("handoff.sent", func(e WSEvent) bool {
			return field(e, "envelope", "from") == boss.ID &&
				field(e, "envelope", "to") == builder.ID &&
				field(e, "envelope", "payload", "message") == "do X"
		}),
		step("node.patch", func(e WSEvent) bool {
			return field(e, "nodeId") == builder.ID && field(e, "patch", "inboxCount") == float64(1)
		}),
		step("tool.completed", func(e WSEvent) bool {
			return field(e, "toolCallId") == "call-hand-1" && field(e, "ok") == true
		}),
	})

	// The envelope rendered under the incoming-handoffs block of the
	// builder's task prompt.
	sends := builderAdapter.Sends()
	require.Len(t, sends, 1)
	task := sends[0].Prompt.Task
	assert.Contains(t, task, "## Incoming handoffs")
	assert.Contains(t, task, "### From "+boss.ID)
	assert.Contains(t, task, "do X")

	// Queue drained; both nodes settled.
	assert.Equal(t, 0, app.GetNode(t, run.ID, builder.ID).InboxCount)
	assert.Equal(t, models.NodeStatusIdle, app.GetNode(t, run.ID, boss.ID).Status)
}

// A report handoff routes back along the inbound edge and is announced as
// handoff.reported.
func TestE2E_ReportRoutesBackToSender(t *testing.T) {
	scripts := NewScriptBook().
		Script("boss", &provider.MockScript{Turns: []provider.MockTurn{
			{Final: "delegating", ToolCalls: []models.ToolCall{{
				ID:   "call-hand-2",
				Name: "send_handoff",
				Args: map[string]any{"to": "builder", "message": "build the lexer"},
			}}},
			{Final: "received the report"},
		}}).
		Script("builder", &provider.MockScript{Turns: []provider.MockTurn{
			{Final: "lexer done", ToolCalls: []models.ToolCall{{
				ID:   "call-rep-1",
				Name: "send_handoff",
				Args: map[string]any{
					"message": "lexer done",
					"status":  map[string]any{"ok": true},
				},
			}}},
		}})
	app := NewTestApp(t, WithScripts(scripts))

	run := app.CreateRun(t)
	boss := app.AddNode(t, run.ID, models.NodeConfig{Label: "boss", Role: models.NodeRoleOrchestrator})
	builder := app.AddNode(t, run.ID, models.NodeConfig{Label: "builder"})
	app.AddEdge(t, run.ID, models.CreateEdgeRequest{From: boss.ID, To: builder.ID, Type: models.EdgeTypeHandoff})

	app.PostMessage(t, run.ID, models.PostMessageRequest{Content: "start"})

	// Boss delegates, builder works and reports, boss consumes the report.
	bossAdapter := pollUntil(t, 15*time.Second, "boss received the report", func() (*provider.MockAdapter, bool) {
		a := app.Scripts.Adapter("boss")
		return a, a != nil && len(a.Sends()) == 2
	})
	app.WaitInboxDrained(t, run.ID, boss.ID, 10*time.Second)

	task := bossAdapter.Sends()[1].Prompt.Task
	assert.Contains(t, task, "### From "+builder.ID+" (report: ok)")
	assert.Contains(t, task, "lexer done")
}
