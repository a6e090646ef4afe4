package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/stall"
	"github.com/weftlab/loom/pkg/store"
)

// stubRunner scripts turn results per node and records every input.
type stubRunner struct {
	mu         sync.Mutex
	inputs     []models.TurnInput
	results    map[string][]models.TurnResult
	interrupts []string
}

func newStubRunner() *stubRunner {
	return &stubRunner{results: make(map[string][]models.TurnResult)}
}

func (r *stubRunner) script(nodeID string, results ...models.TurnResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[nodeID] = append(r.results[nodeID], results...)
}

func (r *stubRunner) RunTurn(_ context.Context, in models.TurnInput) models.TurnResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	queue := r.results[in.Node.ID]
	if len(queue) == 0 {
		return models.Completed("ok", "ok")
	}
	res := queue[0]
	r.results[in.Node.ID] = queue[1:]
	return res
}

func (r *stubRunner) InterruptNode(_ context.Context, _, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupts = append(r.interrupts, nodeID)
	return nil
}

func (r *stubRunner) recorded() []models.TurnInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TurnInput, len(r.inputs))
	copy(out, r.inputs)
	return out
}

func (r *stubRunner) interrupted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.interrupts...)
}

type schedFixture struct {
	sched  *Scheduler
	store  *store.Store
	runner *stubRunner
	bus    *events.Bus
}

func newFixture(t *testing.T) *schedFixture {
	t.Helper()
	bus := events.NewBus()
	st, err := store.NewStore(t.TempDir(), bus)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	runner := newStubRunner()
	return &schedFixture{
		sched:  NewScheduler(st, runner, nil),
		store:  st,
		runner: runner,
		bus:    bus,
	}
}

func (f *schedFixture) createRun(t *testing.T, mode models.RunMode) *models.Run {
	t.Helper()
	run, err := f.store.CreateRun(context.Background(), models.CreateRunRequest{
		Mode: mode,
		Cwd:  "/tmp/work",
	})
	require.NoError(t, err)
	return run
}

func (f *schedFixture) createNode(t *testing.T, runID, nodeID string, role models.NodeRole) {
	t.Helper()
	err := f.store.Publish(context.Background(), &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Node: &models.Node{
			ID:     nodeID,
			RunID:  runID,
			Label:  "test " + nodeID,
			Role:   role,
			Status: models.NodeStatusIdle,
			Connection: models.Connection{
				State: models.ConnectionConnected,
			},
		},
	})
	require.NoError(t, err)
}

func (f *schedFixture) queueMessage(t *testing.T, runID, nodeID, content string, interrupt bool) {
	t.Helper()
	err := f.store.Publish(context.Background(), &events.MessageUser{
		Envelope: events.Envelope{RunID: runID},
		Message: models.UserMessage{
			ID:        models.NewMessageID(),
			RunID:     runID,
			NodeID:    nodeID,
			Role:      models.RoleUser,
			Content:   content,
			Interrupt: interrupt,
		},
	})
	require.NoError(t, err)
}

func (f *schedFixture) queueEnvelope(t *testing.T, runID, from, to, message string) {
	t.Helper()
	err := f.store.Publish(context.Background(), &events.HandoffSent{
		Envelope: events.Envelope{RunID: runID},
		Handoff: models.Envelope{
			ID:      models.NewEnvelopeID(),
			From:    from,
			To:      to,
			Payload: models.EnvelopePayload{Message: message},
		},
	})
	require.NoError(t, err)
}

// runOneTurn ticks once, waits for the spawned turn and applies its outcome,
// the way the live loop interleaves the two.
func (f *schedFixture) runOneTurn(t *testing.T, ctx context.Context) turnDone {
	t.Helper()
	f.sched.tick(ctx)
	select {
	case done := <-f.sched.results:
		f.sched.applyOutcome(ctx, done)
		return done
	case <-time.After(2 * time.Second):
		t.Fatal("no turn result arrived")
		return turnDone{}
	}
}

// expectNoDispatch ticks once and verifies no turn was spawned.
func (f *schedFixture) expectNoDispatch(t *testing.T, ctx context.Context) {
	t.Helper()
	f.sched.tick(ctx)
	select {
	case done := <-f.sched.results:
		t.Fatalf("unexpected dispatch for node %s", done.nodeID)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *schedFixture) node(t *testing.T, runID, nodeID string) *models.Node {
	t.Helper()
	run, err := f.store.GetRun(runID)
	require.NoError(t, err)
	node, ok := run.Nodes[nodeID]
	require.True(t, ok)
	return node
}

func (f *schedFixture) nodeView(t *testing.T, runID, nodeID string) store.NodeView {
	t.Helper()
	view, err := f.store.View(runID)
	require.NoError(t, err)
	for _, n := range view.Nodes {
		if n.ID == nodeID {
			return n
		}
	}
	t.Fatalf("node %s not in view", nodeID)
	return store.NodeView{}
}

func TestTickDispatchesQueuedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "hello", false)

	done := f.runOneTurn(t, ctx)

	assert.Equal(t, "node-1", done.nodeID)
	inputs := f.runner.recorded()
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0].Messages, 1)
	assert.Equal(t, "hello", inputs[0].Messages[0].Content)
	assert.False(t, inputs[0].Resume)

	node := f.node(t, run.ID, "node-1")
	assert.Equal(t, models.NodeStatusIdle, node.Status)
	assert.Equal(t, "ok", node.Summary)
	assert.Equal(t, 0, node.InboxCount, "queue drained at dispatch")

	// Interactive run, so no auto continuation was queued.
	assert.False(t, f.nodeView(t, run.ID, "node-1").AutoPromptQueued)
	f.expectNoDispatch(t, ctx)
}

func TestTickDispatchesEnvelopes(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.createNode(t, run.ID, "node-2", models.NodeRoleWorker)
	f.queueEnvelope(t, run.ID, "node-1", "node-2", "please review")

	done := f.runOneTurn(t, context.Background())

	assert.Equal(t, "node-2", done.nodeID)
	inputs := f.runner.recorded()
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0].Envelopes, 1)
	assert.Equal(t, "please review", inputs[0].Envelopes[0].Payload.Message)
	assert.Equal(t, 0, f.node(t, run.ID, "node-2").InboxCount)
}

func TestTickSkipsPausedRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "hello", false)

	paused := models.RunStatusPaused
	require.NoError(t, f.store.Publish(ctx, &events.RunPatch{
		Envelope: events.Envelope{RunID: run.ID},
		Patch:    models.RunPatch{Status: &paused},
	}))

	f.expectNoDispatch(t, ctx)
}

func TestTickSkipsDisconnectedNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "hello", false)

	require.NoError(t, f.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: run.ID},
		NodeID:   "node-1",
		Patch: models.NodePatch{
			Connection: &models.Connection{State: models.ConnectionDisconnected},
		},
	}))

	f.expectNoDispatch(t, ctx)
}

func TestDispatchOrdersInterruptsFirst(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "keep going", false)
	f.queueMessage(t, run.ID, "node-1", "stop and reassess", true)

	f.runOneTurn(t, context.Background())

	inputs := f.runner.recorded()
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0].Messages, 2)
	assert.True(t, inputs[0].Messages[0].Interrupt)
	assert.Equal(t, "stop and reassess", inputs[0].Messages[0].Content)
}

func TestOutcomeWritesPromptAndDiffArtifacts(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "fix it", false)

	res := models.Completed("Fixed.", "Fixed.")
	res.Prompt = "# System\nYou are a node.\n"
	res.Diff = "diff --git a/main.go b/main.go\n+fixed\n"
	f.runner.script("node-1", res)

	f.runOneTurn(t, context.Background())

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	kinds := make(map[models.ArtifactKind]int)
	for _, artifact := range got.Artifacts {
		kinds[artifact.Kind]++
	}
	assert.Equal(t, 1, kinds[models.ArtifactKindPrompt])
	assert.Equal(t, 1, kinds[models.ArtifactKindDiff])
}

func TestOutcomeBlockedThenResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "write the file", false)

	approval := &models.Approval{
		ID:     "call-1",
		RunID:  run.ID,
		NodeID: "node-1",
		Tool:   models.ToolCall{ID: "call-1", Name: "write_file"},
	}
	f.runner.script("node-1",
		models.Blocked(approval, "awaiting approval: write_file"),
		models.Completed("Written.", "Written."),
	)

	f.runOneTurn(t, ctx)

	node := f.node(t, run.ID, "node-1")
	assert.Equal(t, models.NodeStatusBlocked, node.Status)
	assert.Equal(t, "awaiting approval: write_file", node.Summary)
	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	require.Contains(t, got.Approvals, "call-1")
	assert.True(t, f.nodeView(t, run.ID, "node-1").PendingTurn)

	// A blocked node is not runnable until something resolves it.
	f.expectNoDispatch(t, ctx)

	// Queue a message mid-block; the resume must not consume it.
	f.queueMessage(t, run.ID, "node-1", "while you wait", false)

	// Simulate the resolution flow returning the node to idle.
	idle := models.NodeStatusIdle
	require.NoError(t, f.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: run.ID},
		NodeID:   "node-1",
		Patch:    models.NodePatch{Status: &idle},
	}))

	f.runOneTurn(t, ctx)

	inputs := f.runner.recorded()
	require.Len(t, inputs, 2)
	assert.True(t, inputs[1].Resume)
	assert.Empty(t, inputs[1].Messages, "resume keeps the queues intact")
	assert.False(t, f.nodeView(t, run.ID, "node-1").PendingTurn, "flag consumed by dispatch")
	assert.Equal(t, models.NodeStatusIdle, f.node(t, run.ID, "node-1").Status)

	// The parked message dispatches as a regular turn afterwards.
	f.runOneTurn(t, ctx)
	inputs = f.runner.recorded()
	require.Len(t, inputs, 3)
	assert.False(t, inputs[2].Resume)
	require.Len(t, inputs[2].Messages, 1)
	assert.Equal(t, "while you wait", inputs[2].Messages[0].Content)
}

func TestOutcomeStallPausesRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)

	var stalls []events.StallEvidence
	unsubscribe := f.bus.Subscribe(run.ID, func(ev events.Event) {
		if stalled, ok := ev.(*events.RunStalled); ok {
			stalls = append(stalls, stalled.Evidence)
		}
	})
	defer unsubscribe()

	same := models.Completed("same answer", "same answer")
	same.OutputHash = stall.Hash("same answer")
	f.runner.script("node-1", same, same, same)

	for i := 0; i < 3; i++ {
		f.queueMessage(t, run.ID, "node-1", "again", false)
		f.runOneTurn(t, ctx)
	}

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, got.Status)
	node := f.node(t, run.ID, "node-1")
	assert.Equal(t, models.NodeStatusBlocked, node.Status)
	assert.Equal(t, "stalled", node.Summary)

	require.Len(t, stalls, 1)
	assert.Equal(t, stall.KindOutputRepeat, stalls[0].Kind)
	assert.Equal(t, "node-1", stalls[0].NodeID)
	assert.Equal(t, 3, stalls[0].Count)
}

func TestOutcomeFailedSetsNodeFailed(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "go", false)
	f.runner.script("node-1", models.Failed("backend unavailable", "provider error"))

	f.runOneTurn(t, context.Background())

	node := f.node(t, run.ID, "node-1")
	assert.Equal(t, models.NodeStatusFailed, node.Status)
	assert.Equal(t, "provider error", node.Summary)
}

func TestOutcomeInterruptedSettlesIdle(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "node-1", "go", false)
	f.runner.script("node-1", models.Interrupted("partial text", "interrupted"))

	f.runOneTurn(t, context.Background())

	node := f.node(t, run.ID, "node-1")
	assert.Equal(t, models.NodeStatusIdle, node.Status)
	assert.Equal(t, "interrupted", node.Summary)
}

func TestAutoContinueOrchestrator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeAuto)
	f.createNode(t, run.ID, "boss", models.NodeRoleOrchestrator)
	f.queueMessage(t, run.ID, "boss", "plan the work", false)

	f.runOneTurn(t, ctx)
	assert.True(t, f.nodeView(t, run.ID, "boss").AutoPromptQueued)

	// The next turn is the self-continuation: empty input, flag consumed
	// at dispatch and requeued when the turn completes with nothing
	// pending.
	done := f.runOneTurn(t, ctx)
	assert.Equal(t, "boss", done.nodeID)
	inputs := f.runner.recorded()
	require.Len(t, inputs, 2)
	assert.Empty(t, inputs[1].Messages)
	assert.Empty(t, inputs[1].Envelopes)
	assert.False(t, inputs[1].Resume)
	assert.True(t, f.nodeView(t, run.ID, "boss").AutoPromptQueued)
}

func TestAutoContinueSkipsWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeAuto)
	f.createNode(t, run.ID, "hand", models.NodeRoleWorker)
	f.queueMessage(t, run.ID, "hand", "do the work", false)

	f.runOneTurn(t, ctx)

	assert.False(t, f.nodeView(t, run.ID, "hand").AutoPromptQueued)
	f.expectNoDispatch(t, ctx)
}

func TestInterruptRunHitsRunningNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, run.ID, "node-1", models.NodeRoleWorker)
	f.createNode(t, run.ID, "node-2", models.NodeRoleWorker)

	running := models.NodeStatusRunning
	require.NoError(t, f.store.Publish(ctx, &events.NodePatch{
		Envelope: events.Envelope{RunID: run.ID},
		NodeID:   "node-1",
		Patch:    models.NodePatch{Status: &running},
	}))

	f.sched.InterruptRun(ctx, run.ID)

	assert.Equal(t, []string{"node-1"}, f.runner.interrupted())
}

func TestSchedulerLoopEndToEnd(t *testing.T) {
	f := newFixture(t)
	cfg := config.DefaultEngineConfig()
	cfg.TickInterval = 10 * time.Millisecond
	f.sched = NewScheduler(f.store, f.runner, cfg)

	created := f.createRun(t, models.RunModeInteractive)
	f.createNode(t, created.ID, "node-1", models.NodeRoleWorker)
	f.queueMessage(t, created.ID, "node-1", "hello", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sched.Start(ctx)

	require.Eventually(t, func() bool {
		run, err := f.store.GetRun(created.ID)
		if err != nil {
			return false
		}
		node, ok := run.Nodes["node-1"]
		return ok && node.Status == models.NodeStatusIdle && len(f.runner.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	f.sched.Stop()
}

func TestOrderInterruptsFirst(t *testing.T) {
	messages := []models.UserMessage{
		{ID: "m1", Content: "a"},
		{ID: "m2", Content: "b", Interrupt: true},
		{ID: "m3", Content: "c"},
	}

	ordered := orderInterruptsFirst(messages)

	require.Len(t, ordered, 3)
	assert.Equal(t, "m2", ordered[0].ID)
	assert.Equal(t, "m1", ordered[1].ID)
	assert.Equal(t, "m3", ordered[2].ID)

	assert.Len(t, orderInterruptsFirst(nil), 0)
}
