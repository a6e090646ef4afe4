// Package tools executes the engine-side tool calls a turn produces.
// Workspace tools run file and command operations confined to the run
// directory; graph tools dispatch to engine-injected handlers that mutate
// the orchestration graph. Arguments are validated against per-tool JSON
// Schemas before anything touches disk.
package tools

import (
	"encoding/json"

	"github.com/weftlab/loom/pkg/models"
)

// Engine tool names.
const (
	ToolReadFile    = "read_file"
	ToolWriteFile   = "write_file"
	ToolListFiles   = "list_files"
	ToolDeleteFile  = "delete_file"
	ToolCommand     = "command"
	ToolApplyPatch  = "apply_patch"
	ToolSpawnNode   = "spawn_node"
	ToolCreateEdge  = "create_edge"
	ToolSendHandoff = "send_handoff"
	ToolTodoWrite   = "TodoWrite"
)

// Per-tool argument schemas. Kept permissive on extra properties so
// provider-specific decorations do not fail validation.
var toolSchemas = map[string]string{
	ToolReadFile: `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`,
	ToolWriteFile: `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`,
	ToolListFiles: `{
		"type": "object",
		"properties": {"max_files": {"type": "integer", "minimum": 1}}
	}`,
	ToolDeleteFile: `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`,
	ToolCommand: `{
		"type": "object",
		"properties": {"command": {"type": "string", "minLength": 1}},
		"required": ["command"]
	}`,
	ToolApplyPatch: `{
		"type": "object",
		"properties": {"patch": {"type": "string", "minLength": 1}},
		"required": ["patch"]
	}`,
	ToolSpawnNode: `{
		"type": "object",
		"properties": {
			"label": {"type": "string", "minLength": 1},
			"role": {"type": "string", "enum": ["orchestrator", "worker"]},
			"roleTemplate": {"type": "string"},
			"provider": {"type": "string"},
			"task": {"type": "string"}
		},
		"required": ["label"]
	}`,
	ToolCreateEdge: `{
		"type": "object",
		"properties": {
			"from": {"type": "string", "minLength": 1},
			"to": {"type": "string", "minLength": 1},
			"type": {"type": "string", "enum": ["handoff", "report"]},
			"label": {"type": "string"}
		},
		"required": ["from", "to"]
	}`,
	ToolSendHandoff: `{
		"type": "object",
		"properties": {
			"to": {"type": "string", "minLength": 1},
			"message": {"type": "string"},
			"structured": {"type": "object"},
			"status": {
				"type": "object",
				"properties": {
					"ok": {"type": "boolean"},
					"reason": {"type": "string"}
				},
				"required": ["ok"]
			},
			"response": {
				"type": "object",
				"properties": {
					"expectation": {"type": "string", "enum": ["none", "optional", "required"]},
					"replyTo": {"type": "string"}
				}
			}
		},
		"required": ["to", "message"]
	}`,
	ToolTodoWrite: `{
		"type": "object",
		"properties": {
			"todos": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"content": {"type": "string"},
						"status": {"type": "string"},
						"activeForm": {"type": "string"}
					},
					"required": ["content", "status"]
				}
			}
		},
		"required": ["todos"]
	}`,
}

var toolDescriptions = map[string]string{
	ToolReadFile:    "Read a file from the workspace (path relative to the working directory).",
	ToolWriteFile:   "Write content to a workspace file, creating parent directories as needed.",
	ToolListFiles:   "List workspace files as relative paths, skipping dependency and VCS directories.",
	ToolDeleteFile:  "Delete a workspace file.",
	ToolCommand:     "Run a shell command in the working directory and return its output.",
	ToolApplyPatch:  "Apply a unified diff to the workspace via git apply.",
	ToolSpawnNode:   "Create a new agent node in this run and optionally hand it an initial task.",
	ToolCreateEdge:  "Create a routing edge between two nodes of this run.",
	ToolSendHandoff: "Send a handoff envelope to another node's inbox. Include status for completion reports.",
	ToolTodoWrite:   "Replace this node's todo list.",
}

// workspaceTools are the names executed against the run directory. They are
// skipped by the runner when the provider handles workspace tools natively.
var workspaceTools = map[string]bool{
	ToolReadFile:   true,
	ToolWriteFile:  true,
	ToolListFiles:  true,
	ToolDeleteFile: true,
	ToolCommand:    true,
	ToolApplyPatch: true,
}

// IsWorkspaceTool reports whether name is an engine workspace tool.
func IsWorkspaceTool(name string) bool {
	return workspaceTools[name]
}

// IsAgentManagement reports whether name mutates the run graph structure
// and is therefore subject to the edgeManagement capability gate.
func IsAgentManagement(name string) bool {
	return name == ToolSpawnNode || name == ToolCreateEdge
}

// IsKnown reports whether name is in the engine catalog. Used as the
// allowlist for fenced tool-call extraction.
func IsKnown(name string) bool {
	_, ok := toolSchemas[name]
	return ok
}

// AgentManagementGate reports why node may not run an agent-management
// tool, or "" when it is allowed.
func AgentManagementGate(node *models.Node, name string) string {
	em := node.Capabilities.EdgeManagement
	switch name {
	case ToolSpawnNode:
		if em != models.EdgeManagementAll {
			return `spawn_node requires edgeManagement "all"`
		}
	case ToolCreateEdge:
		if em != models.EdgeManagementSelf && em != models.EdgeManagementAll {
			return `create_edge requires edgeManagement "self" or "all"`
		}
	}
	return ""
}

// Definitions returns the catalog as provider-facing tool definitions,
// ordered workspace tools first, then graph tools.
func Definitions() []models.ToolDefinition {
	names := []string{
		ToolReadFile, ToolWriteFile, ToolListFiles, ToolDeleteFile,
		ToolCommand, ToolApplyPatch,
		ToolSpawnNode, ToolCreateEdge, ToolSendHandoff, ToolTodoWrite,
	}
	out := make([]models.ToolDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, models.ToolDefinition{
			Name:        name,
			Description: toolDescriptions[name],
			Schema:      json.RawMessage(toolSchemas[name]),
		})
	}
	return out
}

// ParseTodos decodes a TodoWrite argument object into todo items.
func ParseTodos(args map[string]any) ([]models.TodoItem, error) {
	var decoded struct {
		Todos []models.TodoItem `json:"todos"`
	}
	if err := decodeArgs(args, &decoded); err != nil {
		return nil, err
	}
	return decoded.Todos, nil
}

// decodeArgs maps a loose argument object onto a typed struct through a
// JSON round trip.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
