package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/provider"
	"github.com/weftlab/loom/pkg/stall"
)

// ────────────────────────────────────────────────────────────
// Scenario: loop-safety stall on repeated output
// ────────────────────────────────────────────────────────────

// Three turns with byte-identical finals trip the output-repeat detector:
// exactly one run.stalled, the run pauses, the node parks blocked with
// summary "stalled".
func TestE2E_OutputRepeatStall(t *testing.T) {
	scripts := NewScriptBook().Script("loop", &provider.MockScript{
		Turns: []provider.MockTurn{
			{Final: "I am stuck"},
			{Final: "I am stuck"},
			{Final: "I am stuck"},
		},
	})
	app := NewTestApp(t, WithScripts(scripts))

	ctx := context.Background()
	ws, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer ws.Close()

	run := app.CreateRun(t)
	require.NoError(t, ws.Subscribe("run:"+run.ID))

	node := app.AddNode(t, run.ID, models.NodeConfig{Label: "loop"})

	// Two clean turns build the repeat chain without crossing it.
	for i := 1; i <= 2; i++ {
		app.PostMessage(t, run.ID, models.PostMessageRequest{
			NodeID:  node.ID,
			Content: fmt.Sprintf("attempt %d", i),
		})
		app.WaitInboxDrained(t, run.ID, node.ID, 10*time.Second)
		assert.Equal(t, models.RunStatusRunning, app.GetRun(t, run.ID).Status)
	}

	// The third identical final crosses the threshold.
	app.PostMessage(t, run.ID, models.PostMessageRequest{NodeID: node.ID, Content: "attempt 3"})
	app.WaitRunStatus(t, run.ID, models.RunStatusPaused, 10*time.Second)

	got := app.WaitNodeStatus(t, run.ID, node.ID, models.NodeStatusBlocked, 10*time.Second)
	assert.Equal(t, "stalled", got.Summary)

	// Exactly one run.stalled in the log, carrying the repeat evidence.
	evs, err := app.Store.TailEvents(run.ID, 0)
	require.NoError(t, err)
	var stalls []*events.RunStalled
	for _, ev := range evs {
		if s, ok := ev.(*events.RunStalled); ok {
			stalls = append(stalls, s)
		}
	}
	require.Len(t, stalls, 1)
	evidence := stalls[0].Evidence
	assert.Equal(t, stall.KindOutputRepeat, evidence.Kind)
	assert.Equal(t, node.ID, evidence.NodeID)
	assert.Equal(t, 3, evidence.Count)
	assert.Equal(t, stall.Hash("I am stuck"), evidence.SampleHash)

	// Live observers see the stall and the pause.
	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "run.stalled" &&
			field(e, "evidence", "kind") == stall.KindOutputRepeat &&
			field(e, "evidence", "count") == float64(3)
	}, 5*time.Second)
	require.NoError(t, err)
	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "run.patch" && field(e, "patch", "status") == "paused"
	}, 5*time.Second)
	require.NoError(t, err)
}

// Changing output resets the repeat chain: alternating finals never stall.
func TestE2E_VaryingOutputDoesNotStall(t *testing.T) {
	scripts := NewScriptBook().Script("steady", &provider.MockScript{
		Turns: []provider.MockTurn{
			{Final: "step one"},
			{Final: "step two"},
			{Final: "step one"},
			{Final: "step two"},
		},
	})
	app := NewTestApp(t, WithScripts(scripts))

	run := app.CreateRun(t)
	node := app.AddNode(t, run.ID, models.NodeConfig{Label: "steady"})

	for i := 1; i <= 4; i++ {
		app.PostMessage(t, run.ID, models.PostMessageRequest{
			NodeID:  node.ID,
			Content: fmt.Sprintf("go %d", i),
		})
		app.WaitInboxDrained(t, run.ID, node.ID, 10*time.Second)
	}

	assert.Equal(t, models.RunStatusRunning, app.GetRun(t, run.ID).Status)

	evs, err := app.Store.TailEvents(run.ID, 0)
	require.NoError(t, err)
	for _, ev := range evs {
		_, stalled := ev.(*events.RunStalled)
		assert.False(t, stalled, "no stall expected")
	}
}
