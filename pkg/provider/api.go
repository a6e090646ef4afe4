package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
)

// chatClient captures the subset of the OpenAI client the adapter uses.
// Tests substitute a scripted implementation.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// APIAdapter holds a chat-completion conversation in process. The provider
// keeps no state, so the adapter carries the message history itself: the
// prompt header becomes the system message on every full send, each task
// rendering becomes a user message.
//
// Tool calls requested by the model are surfaced for engine execution;
// their results return inside the next prompt's tool-results section, so
// the history stores assistant text only and stays a valid message
// sequence without per-call tool messages.
type APIAdapter struct {
	spec  *config.ProviderSpec
	id    Identity
	chat  chatClient
	tools []openai.Tool

	onEvent func(events.Event)
	onError func(error)

	mu        sync.Mutex
	history   []openai.ChatCompletionMessage
	sessionID string
	cancel    context.CancelFunc
}

// NewAPIAdapter creates an adapter for an api-transport provider spec. The
// API key is read from the spec's environment variable here, when the node
// starts, never at config load.
func NewAPIAdapter(spec *config.ProviderSpec, id Identity, defs []models.ToolDefinition) (*APIAdapter, error) {
	if spec.APIKeyEnv == "" {
		return nil, fmt.Errorf("api provider requires api_key_env")
	}
	key := os.Getenv(spec.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", spec.APIKeyEnv)
	}
	cfg := openai.DefaultConfig(key)
	if spec.BaseURL != "" {
		cfg.BaseURL = spec.BaseURL
	}
	return &APIAdapter{
		spec:  spec,
		id:    id,
		chat:  openai.NewClientWithConfig(cfg),
		tools: encodeFunctionTools(defs),
	}, nil
}

// OnEvent registers the event listener. Must be called before Start.
func (a *APIAdapter) OnEvent(fn func(events.Event)) { a.onEvent = fn }

// OnError registers the error listener. Must be called before Start.
func (a *APIAdapter) OnError(fn func(error)) { a.onError = fn }

// Stateful reports true: the adapter retains the conversation in memory.
func (a *APIAdapter) Stateful() bool { return true }

// SessionID returns the locally assigned session identifier.
func (a *APIAdapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start assigns a session identifier. There is no remote session to open.
func (a *APIAdapter) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = "api-" + uuid.NewString()
	return nil
}

// Send appends the prompt to the conversation and launches the completion.
// The assistant reply arrives through the event listener.
func (a *APIAdapter) Send(ctx context.Context, req SendRequest) error {
	a.mu.Lock()
	if req.Kind == models.PromptFull {
		a.history = a.history[:0]
		if header := headerText(req.Prompt); header != "" {
			a.history = append(a.history, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: header,
			})
		}
	}
	a.history = append(a.history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt.Render(models.PromptDelta),
	})
	messages := make([]openai.ChatCompletionMessage, len(a.history))
	copy(messages, a.history)

	cctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	go a.complete(cctx, messages, req.TurnID)
	return nil
}

func (a *APIAdapter) complete(ctx context.Context, messages []openai.ChatCompletionMessage, turnID string) {
	request := openai.ChatCompletionRequest{
		Model:    a.spec.Model,
		Messages: messages,
		Tools:    a.tools,
	}
	if a.spec.MaxOutputTokens > 0 {
		request.MaxTokens = a.spec.MaxOutputTokens
	}

	resp, err := a.chat.CreateChatCompletion(ctx, request)

	a.mu.Lock()
	a.cancel = nil
	a.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			// Interrupted or torn down; the runner already knows.
			return
		}
		a.emitErr(fmt.Errorf("chat completion: %w", err))
		return
	}
	if len(resp.Choices) == 0 {
		a.emitErr(fmt.Errorf("chat completion returned no choices"))
		return
	}

	msg := resp.Choices[0].Message
	calls := make([]models.ToolCall, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		id := call.ID
		if id == "" {
			id = models.NewToolCallID()
		}
		calls = append(calls, models.ToolCall{
			ID:   id,
			Name: call.Function.Name,
			Args: parseCallArguments(call.Function.Arguments),
		})
	}

	if msg.Content != "" {
		a.mu.Lock()
		a.history = append(a.history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: msg.Content,
		})
		a.mu.Unlock()
	}

	a.emit(&events.AssistantFinal{
		NodeID:    a.id.NodeID,
		TurnID:    turnID,
		Content:   msg.Content,
		ToolCalls: calls,
	})
	a.emit(&events.TelemetryUsage{
		NodeID: a.id.NodeID,
		Usage: models.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:  int64(resp.Usage.TotalTokens),
		},
	})
}

// Interrupt abandons the in-flight completion, if any.
func (a *APIAdapter) Interrupt(_ context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ResolveApproval is not supported: API sessions never raise approvals of
// their own, the engine gates every tool call itself.
func (a *APIAdapter) ResolveApproval(_ context.Context, approvalID string, _ models.Resolution) error {
	return fmt.Errorf("api session cannot resolve approval %s: no provider-side approvals", approvalID)
}

// ResetSession drops the conversation history.
func (a *APIAdapter) ResetSession(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = a.history[:0]
	return nil
}

// Close abandons any in-flight completion.
func (a *APIAdapter) Close() error {
	return a.Interrupt(context.Background())
}

func (a *APIAdapter) emit(ev events.Event) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

func (a *APIAdapter) emitErr(err error) {
	if a.onError != nil {
		a.onError(err)
	}
}

// headerText joins the session-stable prompt blocks into the system
// message.
func headerText(p prompt.Prompt) string {
	parts := make([]string, 0, 2)
	for _, block := range []string{p.System, p.Role} {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n")
}

func encodeFunctionTools(defs []models.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		fn := &openai.FunctionDefinition{
			Name:        def.Name,
			Description: def.Description,
		}
		if len(def.Schema) > 0 {
			fn.Parameters = def.Schema
		}
		tools = append(tools, openai.Tool{
			Type:     openai.ToolTypeFunction,
			Function: fn,
		})
	}
	return tools
}

// parseCallArguments decodes the model-supplied argument JSON. Anything
// that is not a JSON object is preserved under a "raw" key rather than
// dropped.
func parseCallArguments(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}
