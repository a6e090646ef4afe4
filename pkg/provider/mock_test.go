package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
)

func TestMockAdapterDefaultEcho(t *testing.T) {
	adapter := NewMockAdapter(Identity{RunID: "run-1", NodeID: "node-1"}, nil)
	collector := &eventCollector{}
	collector.attach(adapter)

	require.NoError(t, adapter.Start(context.Background()))
	assert.True(t, adapter.Stateful())
	assert.NotEmpty(t, adapter.SessionID())

	require.NoError(t, adapter.Send(context.Background(), SendRequest{TurnID: "turn-1"}))

	// Mock delivery is synchronous.
	require.Len(t, collector.finals(), 1)
	assert.Equal(t, "ok", collector.finals()[0].Content)
	assert.Equal(t, "turn-1", collector.finals()[0].TurnID)
}

func TestMockAdapterScriptedTurns(t *testing.T) {
	script := &MockScript{
		SessionID: "mock-sess",
		Turns: []MockTurn{
			{
				Deltas:   []string{"thinking... ", "almost "},
				Thinking: "plan the change",
				Final:    "first reply",
				Usage:    &models.Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7},
			},
			{
				Final: "spawning",
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "spawn_node", Args: map[string]any{"label": "worker"}},
				},
			},
			{Err: assert.AnError},
		},
	}
	adapter := NewMockAdapter(Identity{NodeID: "node-1"}, script)
	collector := &eventCollector{}
	collector.attach(adapter)
	require.NoError(t, adapter.Start(context.Background()))
	assert.Equal(t, "mock-sess", adapter.SessionID())

	// Turn 1: deltas, thinking final, assistant final, usage.
	require.NoError(t, adapter.Send(context.Background(), SendRequest{TurnID: "t1"}))
	assert.Equal(t, []string{"thinking... ", "almost "}, collector.deltas())
	require.Len(t, collector.finals(), 1)
	assert.Equal(t, "first reply", collector.finals()[0].Content)
	require.Len(t, collector.usages(), 1)
	assert.Equal(t, int64(7), collector.usages()[0].Usage.TotalTokens)

	var thinking *events.ThinkingFinal
	for _, ev := range collector.events {
		if tf, ok := ev.(*events.ThinkingFinal); ok {
			thinking = tf
		}
	}
	require.NotNil(t, thinking)
	assert.Equal(t, "plan the change", thinking.Content)

	// Turn 2: tool calls ride the final.
	require.NoError(t, adapter.Send(context.Background(), SendRequest{TurnID: "t2"}))
	require.Len(t, collector.finals(), 2)
	require.Len(t, collector.finals()[1].ToolCalls, 1)
	assert.Equal(t, "spawn_node", collector.finals()[1].ToolCalls[0].Name)

	// Turn 3: scripted failure, no final.
	require.NoError(t, adapter.Send(context.Background(), SendRequest{TurnID: "t3"}))
	require.Len(t, collector.finals(), 2)
	require.Len(t, collector.errs(), 1)

	// Past the script: default echo.
	require.NoError(t, adapter.Send(context.Background(), SendRequest{TurnID: "t4"}))
	require.Len(t, collector.finals(), 3)
	assert.Equal(t, "ok", collector.finals()[2].Content)
}

func TestMockAdapterRecordsInteractions(t *testing.T) {
	adapter := NewMockAdapter(Identity{NodeID: "node-1"}, &MockScript{Stateless: true})
	collector := &eventCollector{}
	collector.attach(adapter)
	require.NoError(t, adapter.Start(context.Background()))

	assert.False(t, adapter.Stateful())

	req := SendRequest{
		Prompt: prompt.Prompt{Task: "do it"},
		Kind:   models.PromptFull,
		TurnID: "turn-1",
	}
	require.NoError(t, adapter.Send(context.Background(), req))
	require.NoError(t, adapter.Interrupt(context.Background()))
	require.NoError(t, adapter.ResetSession(context.Background()))
	require.NoError(t, adapter.ResolveApproval(context.Background(), "appr-1", models.Denied("no")))

	sends := adapter.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "do it", sends[0].Prompt.Task)
	assert.Equal(t, models.PromptFull, sends[0].Kind)

	assert.Equal(t, 1, adapter.Interrupts())
	assert.Equal(t, 1, adapter.Resets())
	res := adapter.Resolutions()
	require.Contains(t, res, "appr-1")
	assert.Equal(t, models.ResolutionDenied, res["appr-1"].Kind)
}

func TestMockAdapterLifecycleGuards(t *testing.T) {
	adapter := NewMockAdapter(Identity{NodeID: "node-1"}, nil)

	err := adapter.Send(context.Background(), SendRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")

	require.NoError(t, adapter.Start(context.Background()))
	require.NoError(t, adapter.Close())
	assert.True(t, adapter.Closed())

	err = adapter.Send(context.Background(), SendRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
