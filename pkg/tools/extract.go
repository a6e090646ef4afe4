package tools

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/weftlab/loom/pkg/models"
)

const fenceOpen = "```tool_call"
const fenceClose = "```"

// fencedCall is the JSON body of one tool_call fence, matching the format
// the system prompt teaches.
type fencedCall struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ExtractFenced parses engine tool calls out of tool_call fences in an
// assistant message. Only fences whose body is a single JSON object naming
// a catalog tool are returned; everything else is skipped. Calls without an
// id get a generated one.
func ExtractFenced(content string) []models.ToolCall {
	var (
		out        []models.ToolCall
		body       []string
		collecting bool
	)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if !collecting {
			if strings.TrimSpace(line) == fenceOpen {
				collecting = true
				body = body[:0]
			}
			continue
		}
		if strings.TrimSpace(line) == fenceClose {
			collecting = false
			if call, ok := parseFencedBody(strings.Join(body, "\n")); ok {
				out = append(out, call)
			}
			continue
		}
		body = append(body, line)
	}
	// An unclosed fence at end of message is discarded.
	return out
}

func parseFencedBody(body string) (models.ToolCall, bool) {
	var f fencedCall
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		slog.Debug("Skipping malformed tool_call fence", "error", err)
		return models.ToolCall{}, false
	}
	if !IsKnown(f.Tool) {
		slog.Debug("Skipping tool_call fence with unknown tool", "tool", f.Tool)
		return models.ToolCall{}, false
	}
	id := f.ID
	if id == "" {
		id = models.NewToolCallID()
	}
	return models.ToolCall{ID: id, Name: f.Tool, Args: f.Args}, true
}

// MergeCalls combines tool-call lists, dropping duplicate ids and keeping
// each call at its first occurrence's position.
func MergeCalls(lists ...[]models.ToolCall) []models.ToolCall {
	var out []models.ToolCall
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, call := range list {
			if call.ID != "" && seen[call.ID] {
				continue
			}
			seen[call.ID] = true
			out = append(out, call)
		}
	}
	return out
}
