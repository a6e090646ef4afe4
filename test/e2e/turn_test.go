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
// Scenario: hello world turn
// ────────────────────────────────────────────────────────────

func TestE2E_HelloWorldTurn(t *testing.T) {
	scripts := NewScriptBook().Script("implementer", &provider.MockScript{
		Turns: []provider.MockTurn{
			{Deltas: []string{"hel", "lo"}, Final: "hello"},
		},
	})
	app := NewTestApp(t, WithScripts(scripts))

	ctx := context.Background()
	ws, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer ws.Close()

	run := app.CreateRun(t)
	require.NoError(t, ws.Subscribe("run:"+run.ID))
	_, err = ws.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	node := app.AddNode(t, run.ID, models.NodeConfig{
		Label:        "implementer",
		RoleTemplate: "implementer",
	})

	app.PostMessage(t, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "say hi"})
	app.WaitInboxDrained(t, run.ID, node.ID, 10*time.Second)

	got := app.GetNode(t, run.ID, node.ID)
	assert.Equal(t, models.NodeStatusIdle, got.Status)
	assert.Equal(t, "hello", got.Summary)

	// The whole turn is observable on the run channel, in order. Subscribe
	// catchup replayed the run's seed events, so the sequence starts at
	// creation.
	_, err = ws.WaitForNodeStatus(node.ID, "idle", 5*time.Second)
	require.NoError(t, err)

	requireEventOrder(t, ws.Events(), []eventStep{
		step("run.patch", func(e WSEvent) bool { return field(e, "patch", "status") == "running" }),
		step("run.mode", nil),
		step("node.patch", func(e WSEvent) bool { return field(e, "node", "id") == node.ID }),
		step("message.user", func(e WSEvent) bool { return field(e, "message", "content") == "say hi" }),
		step("node.patch", func(e WSEvent) bool {
			return field(e, "nodeId") == node.ID && field(e, "patch", "inboxCount") == float64(1)
		}),
		step("node.progress", func(e WSEvent) bool {
			return field(e, "nodeId") == node.ID && field(e, "status") == "running"
		}),
		step("message.assistant.delta", func(e WSEvent) bool { return field(e, "delta") == "hel" }),
		step("message.assistant.delta", func(e WSEvent) bool { return field(e, "delta") == "lo" }),
		step("message.assistant.final", func(e WSEvent) bool { return field(e, "content") == "hello" }),
		step("node.progress", func(e WSEvent) bool {
			return field(e, "status") == "idle" && field(e, "summary") == "hello"
		}),
	})

	// Exactly one provider send served the turn.
	adapter := app.Scripts.Adapter("implementer")
	require.NotNil(t, adapter)
	assert.Len(t, adapter.Sends(), 1)
}

// An empty final with no tool calls still completes the turn; the summary
// falls back to "completed".
func TestE2E_EmptyFinalCompletes(t *testing.T) {
	scripts := NewScriptBook().Script("quiet", &provider.MockScript{
		Turns: []provider.MockTurn{{Final: ""}},
	})
	app := NewTestApp(t, WithScripts(scripts))

	run := app.CreateRun(t)
	node := app.AddNode(t, run.ID, models.NodeConfig{Label: "quiet"})

	app.PostMessage(t, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "anything to add?"})
	got := app.WaitInboxDrained(t, run.ID, node.ID, 10*time.Second)

	assert.Equal(t, models.NodeStatusIdle, got.Status)
	assert.Equal(t, "completed", got.Summary)
}

// Posting the same content twice yields two distinct queued messages; the
// next turn consumes both. Pausing the run while posting keeps both
// messages in one dispatch.
func TestE2E_DuplicateMessagesNotDeduplicated(t *testing.T) {
	scripts := NewScriptBook().Script("echo", &provider.MockScript{
		Turns: []provider.MockTurn{{Final: "heard you twice"}},
	})
	app := NewTestApp(t, WithScripts(scripts))

	run := app.CreateRun(t)
	node := app.AddNode(t, run.ID, models.NodeConfig{Label: "echo"})

	app.SetRunStatus(t, run.ID, models.RunStatusPaused)
	first := app.PostMessage(t, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "again"})
	second := app.PostMessage(t, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "again"})
	assert.NotEqual(t, first.ID, second.ID)
	require.Equal(t, 2, app.GetNode(t, run.ID, node.ID).InboxCount)

	app.SetRunStatus(t, run.ID, models.RunStatusRunning)
	app.WaitInboxDrained(t, run.ID, node.ID, 10*time.Second)

	adapter := app.Scripts.Adapter("echo")
	require.NotNil(t, adapter)
	sends := adapter.Sends()
	require.Len(t, sends, 1, "one turn drains the whole queue")
	assert.Contains(t, sends[0].Prompt.Task, "again\n\nagain")
}
