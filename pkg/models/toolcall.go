package models

import "encoding/json"

// ToolDefinition describes one tool as exposed to providers with native
// function calling. Schema is a JSON Schema document for the args object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolCall is one tool invocation requested by an assistant message.
// ProviderHandled marks calls the provider already executed itself; the
// engine emits events for those but never re-executes them.
type ToolCall struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Args            map[string]any `json:"args,omitempty"`
	ProviderHandled bool           `json:"providerHandled,omitempty"`
}

// ToolResult is the outcome of executing one tool call
type ToolResult struct {
	OK     bool   `json:"ok"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToolOK wraps a successful output
func ToolOK(output any) ToolResult { return ToolResult{OK: true, Output: output} }

// ToolError wraps a failed execution
func ToolError(msg string) ToolResult { return ToolResult{OK: false, Error: msg} }
