package tools

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/workspace"
)

// Masker redacts secrets from tool output before it reaches the event log.
type Masker interface {
	Mask(text string) string
}

// SpawnNodeArgs are the decoded arguments of a spawn_node call.
type SpawnNodeArgs struct {
	Label        string `json:"label"`
	Role         string `json:"role"`
	RoleTemplate string `json:"roleTemplate"`
	Provider     string `json:"provider"`
	Task         string `json:"task"`
}

// CreateEdgeArgs are the decoded arguments of a create_edge call.
type CreateEdgeArgs struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

// SendHandoffArgs are the decoded arguments of a send_handoff call.
type SendHandoffArgs struct {
	To         string                 `json:"to"`
	Message    string                 `json:"message"`
	Structured map[string]any         `json:"structured"`
	Status     *models.EnvelopeStatus `json:"status"`
	Response   *models.ResponseSpec   `json:"response"`
}

// GraphOps is implemented by the engine. Graph-mutating tools dispatch to
// it so the executor stays decoupled from the store and scheduler. Handlers
// encode their own failures as tool errors.
type GraphOps interface {
	SpawnNode(ctx context.Context, runID, callerID string, args SpawnNodeArgs) models.ToolResult
	CreateEdge(ctx context.Context, runID, callerID string, args CreateEdgeArgs) models.ToolResult
	SendHandoff(ctx context.Context, runID, callerID string, args SendHandoffArgs) models.ToolResult
}

// Executor dispatches tool calls by name. It is deliberately dumb about
// turn mechanics: approval gating, agent-management capability checks and
// provider-native skipping happen in the runner before Execute is called.
// The executor owns argument validation, workspace capability checks and
// output masking.
type Executor struct {
	ws          *workspace.Workspace
	graph       GraphOps
	masker      Masker
	val         *validator
	cfg         *config.WorkspaceConfig
	docPrefixes []string
}

// NewExecutor creates an executor bound to one run's workspace. graph and
// masker may be nil; graph tools then fail as tool errors and output passes
// through unmasked. A nil cfg applies the built-in workspace defaults;
// zero fields in a partial cfg fall back per operation.
func NewExecutor(ws *workspace.Workspace, graph GraphOps, masker Masker, cfg *config.WorkspaceConfig) (*Executor, error) {
	val, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("compile tool schemas: %w", err)
	}
	if cfg == nil {
		cfg = config.DefaultWorkspaceConfig()
	}
	prefixes := cfg.PlanningWritePrefixes
	if len(prefixes) == 0 {
		prefixes = []string{"docs/"}
	}
	return &Executor{
		ws:          ws,
		graph:       graph,
		masker:      masker,
		val:         val,
		cfg:         cfg,
		docPrefixes: prefixes,
	}, nil
}

// Execute runs one tool call and returns its result. It never panics and
// never returns a Go error: every failure is a tool error in the result so
// the turn can continue.
func (e *Executor) Execute(ctx context.Context, run *models.Run, node *models.Node, call models.ToolCall) models.ToolResult {
	if err := e.val.validate(call.Name, call.Args); err != nil {
		return e.masked(models.ToolError(err.Error()))
	}

	switch call.Name {
	case ToolReadFile:
		return e.masked(e.readFile(call.Args))
	case ToolListFiles:
		return e.masked(e.listFiles(call.Args))
	case ToolWriteFile:
		return e.masked(e.writeFile(run, node, call.Args))
	case ToolDeleteFile:
		return e.masked(e.deleteFile(run, node, call.Args))
	case ToolCommand:
		return e.masked(e.runCommand(ctx, run, node, call.Args))
	case ToolApplyPatch:
		return e.masked(e.applyPatch(ctx, run, node, call.Args))
	case ToolSpawnNode, ToolCreateEdge, ToolSendHandoff:
		return e.masked(e.dispatchGraph(ctx, run, node, call))
	case ToolTodoWrite:
		// The runner satisfies TodoWrite by emitting the todos patch; if a
		// call still reaches the executor, acknowledging is harmless.
		return models.ToolOK("todo list updated")
	default:
		return models.ToolError(fmt.Sprintf("unknown tool: %s", call.Name))
	}
}

func (e *Executor) readFile(args map[string]any) models.ToolResult {
	content, err := e.ws.ReadFile(stringArg(args, "path"), e.cfg.MaxFileBytes)
	if err != nil {
		return models.ToolError(err.Error())
	}
	return models.ToolOK(content)
}

func (e *Executor) listFiles(args map[string]any) models.ToolResult {
	maxFiles := intArg(args, "max_files")
	files, err := e.ws.ListFiles(maxFiles)
	if err != nil {
		return models.ToolError(err.Error())
	}
	if len(files) == 0 {
		return models.ToolOK("workspace contains no files")
	}
	return models.ToolOK(strings.Join(files, "\n"))
}

func (e *Executor) writeFile(run *models.Run, node *models.Node, args map[string]any) models.ToolResult {
	rel := stringArg(args, "path")
	if reason := e.writeGate(run, node, rel); reason != "" {
		return models.ToolError(reason)
	}
	content := stringArg(args, "content")
	if e.cfg.MaxFileBytes > 0 && len(content) > e.cfg.MaxFileBytes {
		return models.ToolError(fmt.Sprintf("content exceeds the %d byte file limit", e.cfg.MaxFileBytes))
	}
	if err := e.ws.WriteFile(rel, content); err != nil {
		return models.ToolError(err.Error())
	}
	return models.ToolOK(fmt.Sprintf("wrote %s (%d bytes)", rel, len(content)))
}

func (e *Executor) deleteFile(run *models.Run, node *models.Node, args map[string]any) models.ToolResult {
	rel := stringArg(args, "path")
	if reason := e.writeGate(run, node, rel); reason != "" {
		return models.ToolError(reason)
	}
	if err := e.ws.DeleteFile(rel); err != nil {
		return models.ToolError(err.Error())
	}
	return models.ToolOK(fmt.Sprintf("deleted %s", rel))
}

func (e *Executor) runCommand(ctx context.Context, run *models.Run, node *models.Node, args map[string]any) models.ToolResult {
	if reason := commandGate(run, node); reason != "" {
		return models.ToolError(reason)
	}
	res, err := e.ws.RunCommand(ctx, stringArg(args, "command"), workspace.ExecOptions{
		Timeout:        e.cfg.CommandTimeout,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	})
	if err != nil {
		out := models.ToolError(err.Error())
		if res != nil {
			out.Output = formatCmdOutput(res)
		}
		return out
	}
	if res.ExitCode != 0 {
		return models.ToolResult{
			Output: formatCmdOutput(res),
			Error:  fmt.Sprintf("command failed (exit %d)", res.ExitCode),
		}
	}
	return models.ToolOK(formatCmdOutput(res))
}

func (e *Executor) applyPatch(ctx context.Context, run *models.Run, node *models.Node, args map[string]any) models.ToolResult {
	if reason := patchGate(run, node); reason != "" {
		return models.ToolError(reason)
	}
	res, err := e.ws.ApplyDiff(ctx, stringArg(args, "patch"), e.cfg.GitApplyTimeout)
	if err != nil {
		msg := err.Error()
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			msg += ": " + strings.TrimSpace(res.Stderr)
		}
		return models.ToolError(msg)
	}
	return models.ToolOK("patch applied")
}

func (e *Executor) dispatchGraph(ctx context.Context, run *models.Run, node *models.Node, call models.ToolCall) models.ToolResult {
	if e.graph == nil {
		return models.ToolError("graph tools are not available in this context")
	}
	switch call.Name {
	case ToolSpawnNode:
		var args SpawnNodeArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return models.ToolError(fmt.Sprintf("decode spawn_node args: %v", err))
		}
		return e.graph.SpawnNode(ctx, run.ID, node.ID, args)
	case ToolCreateEdge:
		var args CreateEdgeArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return models.ToolError(fmt.Sprintf("decode create_edge args: %v", err))
		}
		return e.graph.CreateEdge(ctx, run.ID, node.ID, args)
	default:
		var args SendHandoffArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return models.ToolError(fmt.Sprintf("decode send_handoff args: %v", err))
		}
		return e.graph.SendHandoff(ctx, run.ID, node.ID, args)
	}
}

// masked applies the secret masker to the string parts of a result.
func (e *Executor) masked(res models.ToolResult) models.ToolResult {
	if e.masker == nil {
		return res
	}
	if s, ok := res.Output.(string); ok && s != "" {
		res.Output = e.masker.Mask(s)
	}
	if res.Error != "" {
		res.Error = e.masker.Mask(res.Error)
	}
	return res
}

// writeGate reports why node may not write rel, or "" when allowed.
// Planning mode confines writes to documentation paths; in implementation
// mode writeDocs alone still only covers documentation paths.
func (e *Executor) writeGate(run *models.Run, node *models.Node, rel string) string {
	caps := node.Capabilities
	if caps.DelegateOnly {
		return "node is delegate-only"
	}
	if !caps.WriteCode && !caps.WriteDocs {
		return "node lacks write capability"
	}
	docs := e.docsPath(rel)
	if run.GlobalMode == models.GlobalModePlanning && !docs {
		return fmt.Sprintf("planning mode restricts writes to documentation paths: %s", rel)
	}
	if !caps.WriteCode && !docs {
		return fmt.Sprintf("node may only write documentation paths: %s", rel)
	}
	return ""
}

func commandGate(run *models.Run, node *models.Node) string {
	if node.Capabilities.DelegateOnly {
		return "node is delegate-only"
	}
	if !node.Capabilities.RunCommands {
		return "node lacks runCommands capability"
	}
	if run.GlobalMode == models.GlobalModePlanning {
		return "command requires implementation mode"
	}
	return ""
}

func patchGate(run *models.Run, node *models.Node) string {
	if node.Capabilities.DelegateOnly {
		return "node is delegate-only"
	}
	if !node.Capabilities.WriteCode {
		return "apply_patch requires writeCode capability"
	}
	if run.GlobalMode == models.GlobalModePlanning {
		return "apply_patch requires implementation mode"
	}
	return ""
}

// docsPath reports whether rel is a documentation path: anything under a
// configured documentation prefix or any markdown file.
func (e *Executor) docsPath(rel string) bool {
	p := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	for _, prefix := range e.docPrefixes {
		clean := strings.TrimSuffix(prefix, "/")
		if p == clean || strings.HasPrefix(p, clean+"/") {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	return ext == ".md" || ext == ".mdx"
}

func formatCmdOutput(res *workspace.CmdResult) string {
	out := strings.TrimRight(res.Stdout, "\n")
	if errText := strings.TrimSpace(res.Stderr); errText != "" {
		if out != "" {
			out += "\n"
		}
		out += "[stderr]\n" + errText
	}
	if out == "" {
		out = "(no output)"
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
