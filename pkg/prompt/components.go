package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftlab/loom/pkg/models"
)

// ToolInfo is one entry of the tool catalog rendered into the system block.
type ToolInfo struct {
	Name        string
	Description string
}

// FormatToolCatalog builds the available-tools section.
func FormatToolCatalog(tools []ToolInfo) string {
	if len(tools) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available tools\n\n")
	for _, tool := range tools {
		sb.WriteString("- **")
		sb.WriteString(tool.Name)
		sb.WriteString("**: ")
		sb.WriteString(tool.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatWorkspaceSection builds the workspace context section.
// contextText is pre-gathered by the caller (top-level listing, AGENTS.md);
// it is passed as-is.
func FormatWorkspaceSection(cwd, contextText string) string {
	var sb strings.Builder
	sb.WriteString("## Workspace\n\n")
	sb.WriteString("Directory: `")
	sb.WriteString(cwd)
	sb.WriteString("`\n")

	if contextText != "" {
		sb.WriteString("\n")
		sb.WriteString(contextText)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatIdentitySection builds the run/node identity lines of the task block.
func FormatIdentitySection(run *models.Run, node *models.Node) string {
	var sb strings.Builder
	sb.WriteString("## Turn context\n\n")
	fmt.Fprintf(&sb, "Run %s (%s, %s mode)\n", run.ID, run.Mode, run.GlobalMode)
	fmt.Fprintf(&sb, "You are node %s", node.ID)
	if node.Label != "" {
		fmt.Fprintf(&sb, " (%q)", node.Label)
	}
	fmt.Fprintf(&sb, ", role %s.\n", node.Role)
	return sb.String()
}

// FormatMessagesSection renders queued user messages oldest-first.
// Interrupting messages are flagged so the session knows they preempted.
func FormatMessagesSection(messages []models.UserMessage) string {
	if len(messages) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Incoming messages\n\n")
	for _, msg := range messages {
		if msg.Interrupt {
			sb.WriteString("[interrupt] ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// FormatEnvelopesSection renders queued handoff envelopes oldest-first.
func FormatEnvelopesSection(envelopes []models.Envelope) string {
	if len(envelopes) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Incoming handoffs\n")
	for _, env := range envelopes {
		sb.WriteString("\n### From ")
		sb.WriteString(env.From)
		if env.IsReport() {
			if env.Payload.Status.OK {
				sb.WriteString(" (report: ok)")
			} else {
				sb.WriteString(" (report: failed)")
			}
		}
		sb.WriteString("\n")

		if env.Payload.Message != "" {
			sb.WriteString(env.Payload.Message)
			sb.WriteString("\n")
		}
		if env.Payload.Status != nil && env.Payload.Status.Reason != "" {
			sb.WriteString("Reason: ")
			sb.WriteString(env.Payload.Status.Reason)
			sb.WriteString("\n")
		}
		if len(env.Payload.Structured) > 0 {
			if data, err := json.MarshalIndent(env.Payload.Structured, "", "  "); err == nil {
				sb.WriteString("```json\n")
				sb.Write(data)
				sb.WriteString("\n```\n")
			}
		}
		for _, ref := range env.Payload.Artifacts {
			fmt.Fprintf(&sb, "Artifact (%s): %s\n", ref.Type, ref.Ref)
		}
		if env.Payload.Response != nil && env.Payload.Response.Expectation == models.ResponseRequired {
			sb.WriteString("A response is required: reply with send_handoff when done.\n")
		}
	}
	return sb.String()
}

// FormatAwaitingSection renders the advisory marker for outstanding
// required-response handoffs this node has sent.
func FormatAwaitingSection(nodeIDs []string) string {
	if len(nodeIDs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Outstanding\n\n")
	for _, id := range nodeIDs {
		fmt.Fprintf(&sb, "Awaiting response from %s.\n", id)
	}
	return sb.String()
}

// FormatToolResultsSection renders results of tool calls executed since the
// previous prompt, so a stateless session sees what its calls returned.
func FormatToolResultsSection(results []ToolResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Tool results\n")
	for _, res := range results {
		fmt.Fprintf(&sb, "\n### %s (%s)\n", res.Tool, res.CallID)
		if res.Err != "" {
			sb.WriteString("Error: ")
			sb.WriteString(res.Err)
			sb.WriteString("\n")
			continue
		}
		sb.WriteString("```\n")
		sb.WriteString(res.Output)
		sb.WriteString("\n```\n")
	}
	return sb.String()
}

// ToolResult is a completed tool call echoed back into the next prompt.
type ToolResult struct {
	CallID string
	Tool   string
	Output string
	Err    string
}
