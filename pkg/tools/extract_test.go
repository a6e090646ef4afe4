package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func TestExtractFenced(t *testing.T) {
	message := "I'll delegate the review now.\n" +
		"```tool_call\n" +
		`{"id": "call-1", "tool": "send_handoff", "args": {"to": "node-2", "message": "review please"}}` + "\n" +
		"```\n" +
		"And record my progress:\n" +
		"```tool_call\n" +
		`{"tool": "TodoWrite", "args": {"todos": [{"content": "review", "status": "in_progress"}]}}` + "\n" +
		"```\n" +
		"Done for now.\n"

	calls := ExtractFenced(message)
	require.Len(t, calls, 2)

	assert.Equal(t, "call-1", calls[0].ID)
	assert.Equal(t, ToolSendHandoff, calls[0].Name)
	assert.Equal(t, "node-2", calls[0].Args["to"])

	assert.Equal(t, ToolTodoWrite, calls[1].Name)
	assert.True(t, strings.HasPrefix(calls[1].ID, "call-"), "generated id, got %q", calls[1].ID)
}

func TestExtractFencedMultilineBody(t *testing.T) {
	message := "```tool_call\n" +
		"{\n" +
		`  "tool": "write_file",` + "\n" +
		`  "args": {"path": "docs/plan.md", "content": "# Plan"}` + "\n" +
		"}\n" +
		"```\n"

	calls := ExtractFenced(message)
	require.Len(t, calls, 1)
	assert.Equal(t, ToolWriteFile, calls[0].Name)
	assert.Equal(t, "docs/plan.md", calls[0].Args["path"])
}

func TestExtractFencedSkipsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{
			name:    "malformed json",
			message: "```tool_call\nnot json at all\n```\n",
		},
		{
			name:    "unknown tool",
			message: "```tool_call\n{\"tool\": \"rm_rf\", \"args\": {}}\n```\n",
		},
		{
			name:    "unclosed fence",
			message: "```tool_call\n{\"tool\": \"read_file\", \"args\": {\"path\": \"x\"}}\n",
		},
		{
			name:    "plain code fence",
			message: "```json\n{\"tool\": \"read_file\", \"args\": {\"path\": \"x\"}}\n```\n",
		},
		{
			name:    "fence marker with trailing text",
			message: "```tool_call extras\n{\"tool\": \"read_file\", \"args\": {\"path\": \"x\"}}\n```\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ExtractFenced(tt.message))
		})
	}
}

func TestExtractFencedHandlesCRLF(t *testing.T) {
	message := "```tool_call\r\n" +
		`{"tool": "read_file", "args": {"path": "main.go"}}` + "\r\n" +
		"```\r\n"

	calls := ExtractFenced(message)
	require.Len(t, calls, 1)
	assert.Equal(t, ToolReadFile, calls[0].Name)
}

func TestMergeCalls(t *testing.T) {
	explicit := []models.ToolCall{
		{ID: "call-1", Name: ToolReadFile},
		{ID: "call-2", Name: ToolCommand},
	}
	extracted := []models.ToolCall{
		{ID: "call-2", Name: ToolCommand, Args: map[string]any{"command": "dup"}},
		{ID: "call-3", Name: ToolSendHandoff},
	}

	merged := MergeCalls(explicit, extracted)
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"call-1", "call-2", "call-3"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
	// The first occurrence wins, so the duplicate's args are not applied.
	assert.Nil(t, merged[1].Args)
}

func TestMergeCallsEmpty(t *testing.T) {
	assert.Empty(t, MergeCalls(nil, nil))
}
