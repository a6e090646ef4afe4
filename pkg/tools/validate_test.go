package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorAcceptsAndRejects(t *testing.T) {
	val, err := newValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr bool
	}{
		{
			name: "read_file ok",
			tool: ToolReadFile,
			args: map[string]any{"path": "main.go"},
		},
		{
			name:    "read_file missing path",
			tool:    ToolReadFile,
			args:    map[string]any{},
			wantErr: true,
		},
		{
			name:    "read_file wrong type",
			tool:    ToolReadFile,
			args:    map[string]any{"path": 42},
			wantErr: true,
		},
		{
			name: "list_files nil args",
			tool: ToolListFiles,
			args: nil,
		},
		{
			name:    "command empty string",
			tool:    ToolCommand,
			args:    map[string]any{"command": ""},
			wantErr: true,
		},
		{
			name: "spawn_node minimal",
			tool: ToolSpawnNode,
			args: map[string]any{"label": "reviewer"},
		},
		{
			name:    "spawn_node bad role",
			tool:    ToolSpawnNode,
			args:    map[string]any{"label": "x", "role": "manager"},
			wantErr: true,
		},
		{
			name: "send_handoff with status",
			tool: ToolSendHandoff,
			args: map[string]any{
				"to":      "node-2",
				"message": "done",
				"status":  map[string]any{"ok": true},
			},
		},
		{
			name:    "send_handoff status missing ok",
			tool:    ToolSendHandoff,
			args:    map[string]any{"to": "node-2", "message": "done", "status": map[string]any{"reason": "?"}},
			wantErr: true,
		},
		{
			name: "todos ok",
			tool: ToolTodoWrite,
			args: map[string]any{"todos": []any{map[string]any{"content": "a", "status": "pending"}}},
		},
		{
			name:    "todos item missing status",
			tool:    ToolTodoWrite,
			args:    map[string]any{"todos": []any{map[string]any{"content": "a"}}},
			wantErr: true,
		},
		{
			name: "integer args validate after round trip",
			tool: ToolListFiles,
			args: map[string]any{"max_files": 10},
		},
		{
			name: "unknown tool passes validation",
			tool: "mystery",
			args: map[string]any{"whatever": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := val.validate(tt.tool, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid "+tt.tool+" args")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseTodos(t *testing.T) {
	todos, err := ParseTodos(map[string]any{
		"todos": []any{
			map[string]any{"content": "write tests", "status": "in_progress", "activeForm": "Writing tests"},
			map[string]any{"content": "ship", "status": "pending"},
		},
	})
	require.NoError(t, err)
	require.Len(t, todos, 2)
	assert.Equal(t, "write tests", todos[0].Content)
	assert.Equal(t, "Writing tests", todos[0].ActiveForm)
	assert.Equal(t, "pending", todos[1].Status)
}

func TestParseTodosEmpty(t *testing.T) {
	todos, err := ParseTodos(map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, todos)
}
