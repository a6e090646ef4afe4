package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/weftlab/loom/pkg/models"
)

// Composer builds turn prompts. Stateless — all state comes from parameters
// and the template registry. Thread-safe — no mutable state.
type Composer struct {
	templates *TemplateRegistry
}

// NewComposer creates a Composer backed by the given template registry.
// Panics if templates is nil — callers must provide a valid registry.
func NewComposer(templates *TemplateRegistry) *Composer {
	if templates == nil {
		panic("prompt.NewComposer: templates must not be nil")
	}
	return &Composer{templates: templates}
}

// ComposeInput carries everything one turn's prompt is built from.
type ComposeInput struct {
	Run  *models.Run
	Node *models.Node

	// Queued inputs drained for this turn, oldest first
	Messages  []models.UserMessage
	Envelopes []models.Envelope

	// Results of tool calls executed since the previous prompt
	ToolResults []ToolResult

	// Node ids this node has sent required-response handoffs to that have
	// not replied yet (advisory marker in the task block)
	AwaitingResponseFrom []string

	// Tool catalog rendered into the system block. Empty for providers
	// that execute tools natively.
	Tools []ToolInfo

	// Pre-gathered workspace context (top-level listing, AGENTS.md)
	WorkspaceContext string

	// AutoContinue marks a self-continuation turn with no queued input
	AutoContinue bool
}

// Prompt is a composed turn prompt. HeaderHash covers the system and role
// blocks; a changed hash forces a full resend.
type Prompt struct {
	System string
	Role   string
	Mode   string
	Task   string

	HeaderHash string
}

// Compose builds the four prompt blocks and the header hash.
func (c *Composer) Compose(in ComposeInput) Prompt {
	p := Prompt{
		System: c.composeSystem(in),
		Role:   c.templates.Lookup(in.Node.RoleTemplate, in.Run.Cwd),
		Mode:   composeMode(in.Run.GlobalMode),
		Task:   composeTask(in),
	}
	p.HeaderHash = HeaderHash(p.System, p.Role)
	return p
}

// Render returns the prompt text for the given kind: all four blocks for a
// full prompt, mode and task only for a delta.
func (p Prompt) Render(kind models.PromptKind) string {
	if kind == models.PromptDelta {
		return joinBlocks(p.Mode, p.Task)
	}
	return joinBlocks(p.System, p.Role, p.Mode, p.Task)
}

// HeaderHash hashes the session-stable prompt header (system + role).
func HeaderHash(system, role string) string {
	sum := sha256.Sum256([]byte(system + "\n" + role))
	return hex.EncodeToString(sum[:])
}

func (c *Composer) composeSystem(in ComposeInput) string {
	blocks := []string{systemIntro}

	if len(in.Tools) > 0 {
		blocks = append(blocks, toolProtocol, FormatToolCatalog(in.Tools))
	}
	blocks = append(blocks, FormatWorkspaceSection(in.Run.Cwd, in.WorkspaceContext))

	return joinBlocks(blocks...)
}

func composeMode(mode models.GlobalMode) string {
	if mode == models.GlobalModePlanning {
		return planningPreamble
	}
	return implementationPreamble
}

func composeTask(in ComposeInput) string {
	blocks := []string{FormatIdentitySection(in.Run, in.Node)}

	if section := FormatToolResultsSection(in.ToolResults); section != "" {
		blocks = append(blocks, section)
	}
	if section := FormatMessagesSection(in.Messages); section != "" {
		blocks = append(blocks, section)
	}
	if section := FormatEnvelopesSection(in.Envelopes); section != "" {
		blocks = append(blocks, section)
	}
	if section := FormatAwaitingSection(in.AwaitingResponseFrom); section != "" {
		blocks = append(blocks, section)
	}

	if in.AutoContinue && len(in.Messages) == 0 && len(in.Envelopes) == 0 {
		blocks = append(blocks, autoContinueTask)
	}

	return joinBlocks(blocks...)
}

func joinBlocks(blocks ...string) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n\n")
}
