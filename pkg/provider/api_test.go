package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
)

// scriptedChat answers completions from a queue and records every request.
type scriptedChat struct {
	mu        sync.Mutex
	requests  []openai.ChatCompletionRequest
	responses []openai.ChatCompletionResponse
	err       error
	block     chan struct{}
}

func (s *scriptedChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	if len(s.responses) == 0 {
		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "ok"}},
			},
		}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedChat) captured() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openai.ChatCompletionRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func newAPIHarness(t *testing.T, defs []models.ToolDefinition) (*APIAdapter, *scriptedChat, *eventCollector) {
	t.Helper()
	t.Setenv("LOOM_TEST_API_KEY", "sk-test")
	spec := &config.ProviderSpec{
		Type:            models.TransportAPI,
		Model:           "gpt-5",
		APIKeyEnv:       "LOOM_TEST_API_KEY",
		MaxOutputTokens: 2048,
	}
	adapter, err := NewAPIAdapter(spec, Identity{RunID: "run-1", NodeID: "node-1"}, defs)
	require.NoError(t, err)

	chat := &scriptedChat{}
	adapter.chat = chat

	collector := &eventCollector{}
	collector.attach(adapter)
	require.NoError(t, adapter.Start(context.Background()))
	return adapter, chat, collector
}

func TestAPIAdapterRequiresKey(t *testing.T) {
	spec := &config.ProviderSpec{Type: models.TransportAPI, Model: "gpt-5", APIKeyEnv: "LOOM_TEST_MISSING_KEY"}
	_, err := NewAPIAdapter(spec, Identity{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOOM_TEST_MISSING_KEY")

	spec.APIKeyEnv = ""
	_, err = NewAPIAdapter(spec, Identity{}, nil)
	require.Error(t, err)
}

func TestAPIAdapterFullSend(t *testing.T) {
	adapter, chat, collector := newAPIHarness(t, nil)

	chat.responses = []openai.ChatCompletionResponse{{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi there"}},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}

	req := SendRequest{
		Prompt: prompt.Prompt{System: "sys", Role: "role", Mode: "mode", Task: "task"},
		Kind:   models.PromptFull,
		TurnID: "turn-1",
	}
	require.NoError(t, adapter.Send(context.Background(), req))

	require.Eventually(t, func() bool {
		return len(collector.finals()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	final := collector.finals()[0]
	assert.Equal(t, "hi there", final.Content)
	assert.Equal(t, "turn-1", final.TurnID)
	assert.Empty(t, final.ToolCalls)

	captured := chat.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, "gpt-5", captured[0].Model)
	assert.Equal(t, 2048, captured[0].MaxTokens)
	require.Len(t, captured[0].Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, captured[0].Messages[0].Role)
	assert.Equal(t, "sys\n\nrole", captured[0].Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, captured[0].Messages[1].Role)
	assert.Equal(t, "mode\n\ntask", captured[0].Messages[1].Content)

	// Usage follows the final.
	require.Eventually(t, func() bool {
		return len(collector.usages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	usage := collector.usages()[0]
	assert.Equal(t, int64(10), usage.Usage.InputTokens)
	assert.Equal(t, int64(5), usage.Usage.OutputTokens)
	assert.Equal(t, int64(15), usage.Usage.TotalTokens)
}

func TestAPIAdapterDeltaSendKeepsHistory(t *testing.T) {
	adapter, chat, collector := newAPIHarness(t, nil)

	full := SendRequest{
		Prompt: prompt.Prompt{System: "sys", Role: "role", Mode: "mode", Task: "first"},
		Kind:   models.PromptFull,
		TurnID: "turn-1",
	}
	require.NoError(t, adapter.Send(context.Background(), full))
	require.Eventually(t, func() bool { return len(collector.finals()) == 1 }, 2*time.Second, 10*time.Millisecond)

	delta := SendRequest{
		Prompt: prompt.Prompt{System: "sys", Role: "role", Mode: "mode", Task: "second"},
		Kind:   models.PromptDelta,
		TurnID: "turn-2",
	}
	require.NoError(t, adapter.Send(context.Background(), delta))
	require.Eventually(t, func() bool { return len(collector.finals()) == 2 }, 2*time.Second, 10*time.Millisecond)

	captured := chat.captured()
	require.Len(t, captured, 2)
	// system, first user, assistant reply, second user
	require.Len(t, captured[1].Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleAssistant, captured[1].Messages[2].Role)
	assert.Equal(t, "ok", captured[1].Messages[2].Content)
	assert.Equal(t, "mode\n\nsecond", captured[1].Messages[3].Content)
}

func TestAPIAdapterFullSendResetsHistory(t *testing.T) {
	adapter, chat, collector := newAPIHarness(t, nil)

	req := SendRequest{
		Prompt: prompt.Prompt{System: "sys", Role: "role", Task: "first"},
		Kind:   models.PromptFull,
	}
	require.NoError(t, adapter.Send(context.Background(), req))
	require.Eventually(t, func() bool { return len(collector.finals()) == 1 }, 2*time.Second, 10*time.Millisecond)

	req.Prompt.Task = "fresh start"
	require.NoError(t, adapter.Send(context.Background(), req))
	require.Eventually(t, func() bool { return len(collector.finals()) == 2 }, 2*time.Second, 10*time.Millisecond)

	captured := chat.captured()
	require.Len(t, captured[1].Messages, 2)
	assert.Equal(t, "fresh start", captured[1].Messages[1].Content)
}

func TestAPIAdapterToolCalls(t *testing.T) {
	defs := []models.ToolDefinition{{
		Name:        "read_file",
		Description: "Read a workspace file",
		Schema:      []byte(`{"type":"object","properties":{"path":{"type":"string"}}}`),
	}}
	adapter, chat, collector := newAPIHarness(t, defs)

	chat.responses = []openai.ChatCompletionResponse{{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "read_file",
						Arguments: `{"path":"docs/plan.md"}`,
					},
				}},
			},
		}},
	}}

	require.NoError(t, adapter.Send(context.Background(), SendRequest{
		Prompt: prompt.Prompt{System: "sys", Task: "read the plan"},
		Kind:   models.PromptFull,
		TurnID: "turn-1",
	}))

	require.Eventually(t, func() bool { return len(collector.finals()) == 1 }, 2*time.Second, 10*time.Millisecond)

	final := collector.finals()[0]
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "call_1", final.ToolCalls[0].ID)
	assert.Equal(t, "read_file", final.ToolCalls[0].Name)
	assert.Equal(t, "docs/plan.md", final.ToolCalls[0].Args["path"])
	assert.False(t, final.ToolCalls[0].ProviderHandled)

	// The catalog rides along as native function tools.
	captured := chat.captured()
	require.Len(t, captured[0].Tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, captured[0].Tools[0].Type)
	assert.Equal(t, "read_file", captured[0].Tools[0].Function.Name)
}

func TestAPIAdapterMalformedToolArguments(t *testing.T) {
	assert.Equal(t, map[string]any{"raw": "not json"}, parseCallArguments("not json"))
	assert.Nil(t, parseCallArguments(""))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseCallArguments(`{"a":1}`))
}

func TestAPIAdapterCompletionError(t *testing.T) {
	adapter, chat, collector := newAPIHarness(t, nil)
	chat.err = assert.AnError

	require.NoError(t, adapter.Send(context.Background(), SendRequest{Kind: models.PromptFull}))

	require.Eventually(t, func() bool {
		return len(collector.errs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, collector.errs()[0].Error(), "chat completion")
	assert.Empty(t, collector.finals())
}

func TestAPIAdapterInterruptSuppressesError(t *testing.T) {
	adapter, chat, collector := newAPIHarness(t, nil)
	chat.block = make(chan struct{})

	require.NoError(t, adapter.Send(context.Background(), SendRequest{Kind: models.PromptFull, TurnID: "turn-1"}))
	require.Eventually(t, func() bool {
		return len(chat.captured()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, adapter.Interrupt(context.Background()))

	// The abandoned completion must not surface as a turn failure.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, collector.errs())
	assert.Empty(t, collector.finals())
}

func TestAPIAdapterResetSessionClearsHistory(t *testing.T) {
	adapter, chat, collector := newAPIHarness(t, nil)

	require.NoError(t, adapter.Send(context.Background(), SendRequest{
		Prompt: prompt.Prompt{System: "sys", Task: "first"},
		Kind:   models.PromptFull,
	}))
	require.Eventually(t, func() bool { return len(collector.finals()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, adapter.ResetSession(context.Background()))

	require.NoError(t, adapter.Send(context.Background(), SendRequest{
		Prompt: prompt.Prompt{System: "sys", Task: "after reset"},
		Kind:   models.PromptFull,
	}))
	require.Eventually(t, func() bool { return len(collector.finals()) == 2 }, 2*time.Second, 10*time.Millisecond)

	captured := chat.captured()
	require.Len(t, captured[1].Messages, 2)
}

func TestAPIAdapterSessionBasics(t *testing.T) {
	adapter, _, _ := newAPIHarness(t, nil)
	assert.True(t, adapter.Stateful())
	assert.NotEmpty(t, adapter.SessionID())

	err := adapter.ResolveApproval(context.Background(), "appr-1", models.Approved())
	require.Error(t, err)
}
