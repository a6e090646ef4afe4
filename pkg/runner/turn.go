package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weftlab/loom/pkg/approval"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/prompt"
	"github.com/weftlab/loom/pkg/provider"
	"github.com/weftlab/loom/pkg/stall"
	"github.com/weftlab/loom/pkg/tools"
)

// summaryMax caps node summaries derived from final messages.
const summaryMax = 120

// startTurn composes and sends a fresh prompt, then waits the turn out.
func (r *Runner) startTurn(ctx context.Context, s *session, in models.TurnInput) models.TurnResult {
	r.sweepStale(ctx, s, in.Run.ID)

	wsContext, gathered := s.contextText()
	if !gathered {
		wsContext = r.env.WorkspaceContext(ctx, in.Run)
		s.setContextText(wsContext)
	}

	input := prompt.ComposeInput{
		Run:                  in.Run,
		Node:                 in.Node,
		Messages:             in.Messages,
		Envelopes:            in.Envelopes,
		ToolResults:          s.takeLastResults(),
		AwaitingResponseFrom: s.settleAwaiting(in.Envelopes),
		WorkspaceContext:     wsContext,
		// A dispatch with nothing queued is the scheduler's self-continue.
		AutoContinue: len(in.Messages) == 0 && len(in.Envelopes) == 0,
	}
	if in.Node.NativeTools == models.NativeToolsEngine {
		input.Tools = r.catalog
	}
	p := r.composer.Compose(input)
	kind := s.state.Decide(p.HeaderHash)

	req := provider.SendRequest{Prompt: p, Kind: kind, TurnID: in.TurnID}
	if err := s.adapter.Send(ctx, req); err != nil {
		// The session may be dead (subprocess exit between turns). Rebuild
		// once and retry; a fresh session always takes a full prompt.
		slog.Warn("Prompt send failed, restarting provider session",
			"run_id", in.Run.ID,
			"node_id", in.Node.ID,
			"error", err)
		r.dropSession(in.Node.ID)

		fresh, createErr := r.getSession(ctx, in.Run, in.Node)
		if createErr != nil {
			return models.Failed(createErr.Error(), "provider session unavailable")
		}
		s = fresh
		s.active.Store(true)
		defer s.active.Store(false)
		kind = s.state.Decide(p.HeaderHash)
		req.Kind = kind
		if err := s.adapter.Send(ctx, req); err != nil {
			return models.Failed(fmt.Sprintf("send prompt: %v", err), "prompt send failed")
		}
	}
	s.state.NotePromptSent(kind, p.HeaderHash)

	pt := newPendingTurn(in.TurnID)
	res := r.awaitOutcome(ctx, s, in, pt)
	res.Prompt = p.Render(kind)
	return res
}

// resumeTurn continues a turn suspended on an approval: the saved tool
// queue picks up at its head, or, when the suspension came from inside the
// adapter, the signal queue is drained until the provider finishes.
func (r *Runner) resumeTurn(ctx context.Context, s *session, in models.TurnInput, pt *pendingTurn) models.TurnResult {
	slog.Info("Resuming suspended turn",
		"run_id", in.Run.ID,
		"node_id", in.Node.ID,
		"turn_id", pt.turnID,
		"queued_tools", len(pt.queue))
	s.state.NoteResume()

	if len(pt.queue) == 0 {
		return r.awaitOutcome(ctx, s, in, pt)
	}
	return r.processQueue(ctx, s, in, pt)
}

// awaitOutcome pops signals until the turn reaches a terminal state.
func (r *Runner) awaitOutcome(ctx context.Context, s *session, in models.TurnInput, pt *pendingTurn) models.TurnResult {
	var partial strings.Builder

	for {
		sig, ok := s.signals.pop(ctx)
		if !ok {
			return models.Interrupted(strings.TrimSpace(partial.String()), "canceled")
		}
		switch {
		case sig.interrupted:
			return models.Interrupted(strings.TrimSpace(partial.String()), "interrupted")

		case sig.err != nil:
			// Transport failures invalidate header-elision; the next
			// prompt goes out full.
			s.state.MarkDisconnected()
			return models.Failed(sig.err.Error(), "provider error")
		}

		switch ev := sig.event.(type) {
		case *events.AssistantDelta:
			partial.WriteString(ev.Delta)
			r.forward(ctx, in.Run.ID, ev)

		case *events.AssistantFinal:
			r.forward(ctx, in.Run.ID, ev)
			return r.finishTurn(ctx, s, in, pt, ev)

		case *events.ApprovalRequested:
			if res, done := r.adapterApproval(ctx, s, in, pt, ev); done {
				return res
			}

		case *events.ToolProposed:
			r.forward(ctx, in.Run.ID, ev)
			// A provider-side TodoWrite still updates the node's task
			// list, even though the provider executes it itself.
			if isTodoWrite(ev.Tool.Name) {
				r.applyTodos(ctx, in, ev.Tool.Args)
			}

		default:
			r.forward(ctx, in.Run.ID, sig.event)
		}
	}
}

// adapterApproval handles an approval the provider raised itself. Gated
// nodes suspend on the operator; everything else is approved on the spot.
func (r *Runner) adapterApproval(ctx context.Context, s *session, in models.TurnInput, pt *pendingTurn, ev *events.ApprovalRequested) (models.TurnResult, bool) {
	ap := ev.Approval
	if in.Node.Permissions.PermissionsMode != models.PermissionsGated {
		if err := s.adapter.ResolveApproval(ctx, ap.ID, models.Approved()); err != nil {
			slog.Warn("Failed to auto-approve provider request",
				"run_id", in.Run.ID,
				"node_id", in.Node.ID,
				"approval_id", ap.ID,
				"error", err)
		}
		return models.TurnResult{}, false
	}

	r.approvals.Add(approval.Pending{
		ID:          ap.ID,
		RunID:       in.Run.ID,
		NodeID:      in.Node.ID,
		Tool:        ap.Tool,
		Context:     ap.Context,
		Origin:      approval.OriginAdapter,
		RequestedAt: ap.RequestedAt,
	})
	s.savePending(pt)
	return models.Blocked(&ap, "awaiting approval: "+ap.Tool.Name), true
}

// finishTurn is the decision point after a final message: collect tool
// calls from the two sources and either complete or work the queue.
func (r *Runner) finishTurn(ctx context.Context, s *session, in models.TurnInput, pt *pendingTurn, final *events.AssistantFinal) models.TurnResult {
	pt.message = final.Content

	calls := final.ToolCalls
	if s.fenced {
		calls = tools.MergeCalls(calls, tools.ExtractFenced(final.Content))
	}
	if len(calls) == 0 {
		return r.completeTurn(ctx, s, in, pt)
	}

	pt.queue = calls
	return r.processQueue(ctx, s, in, pt)
}

// processQueue works through the pending turn's tool calls in order,
// returning blocked when a call needs an operator and the resolution is not
// cached yet.
func (r *Runner) processQueue(ctx context.Context, s *session, in models.TurnInput, pt *pendingTurn) models.TurnResult {
	node := in.Node

	for len(pt.queue) > 0 {
		call := pt.queue[0]

		if !pt.proposed[call.ID] {
			r.forward(ctx, in.Run.ID, &events.ToolProposed{NodeID: node.ID, Tool: call})
			pt.proposed[call.ID] = true
		}

		// The provider executed (or will execute) these itself; the
		// engine only records that it stayed out of the way.
		providerNative := tools.IsWorkspaceTool(call.Name) && node.NativeTools == models.NativeToolsProvider
		if providerNative || (call.ProviderHandled && !isTodoWrite(call.Name)) {
			r.completeCall(ctx, in, pt, call,
				models.ToolError("executed natively by the provider"), 0)
			pt.queue = pt.queue[1:]
			continue
		}

		if reason := tools.AgentManagementGate(node, call.Name); reason != "" {
			r.completeCall(ctx, in, pt, call, models.ToolError(reason), 0)
			pt.queue = pt.queue[1:]
			continue
		}

		if needsApproval(node, call) {
			res, cached := s.takeResolution(call.ID)
			if !cached {
				ap := models.Approval{
					ID:          call.ID,
					RunID:       in.Run.ID,
					NodeID:      node.ID,
					Tool:        call.Clone(),
					Context:     approvalContext(node, call),
					RequestedAt: time.Now().UTC(),
				}
				r.approvals.Add(approval.Pending{
					ID:          ap.ID,
					RunID:       ap.RunID,
					NodeID:      ap.NodeID,
					Tool:        ap.Tool,
					Context:     ap.Context,
					Origin:      approval.OriginRunner,
					RequestedAt: ap.RequestedAt,
				})
				s.savePending(pt)
				return models.Blocked(&ap, "awaiting approval: "+call.Name)
			}

			switch res.Kind {
			case models.ResolutionDenied:
				msg := "denied by operator"
				if res.Reason != "" {
					msg += ": " + res.Reason
				}
				r.completeCall(ctx, in, pt, call, models.ToolError(msg), 0)
				// A denial abandons everything after the denied call.
				pt.queue = nil
				continue

			case models.ResolutionModified:
				if res.ModifiedArgs == nil {
					r.completeCall(ctx, in, pt, call,
						models.ToolError("modified args were not an object, treating as denied"), 0)
					pt.queue = nil
					continue
				}
				call.Args = res.ModifiedArgs
			}
		}

		if isTodoWrite(call.Name) {
			r.completeCall(ctx, in, pt, call, r.applyTodos(ctx, in, call.Args), 0)
			pt.queue = pt.queue[1:]
			continue
		}

		exec, err := r.env.Executor(in.Run)
		if err != nil {
			r.completeCall(ctx, in, pt, call,
				models.ToolError(fmt.Sprintf("tool executor unavailable: %v", err)), 0)
			pt.queue = pt.queue[1:]
			continue
		}

		r.forward(ctx, in.Run.ID, &events.ToolStarted{
			NodeID:     node.ID,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
		start := time.Now()
		result := exec.Execute(ctx, in.Run, node, call)
		r.completeCall(ctx, in, pt, call, result, time.Since(start))

		if result.OK && call.Name == tools.ToolSendHandoff {
			if to, required := handoffAwaits(call.Args); required {
				s.markAwaiting(to)
			}
		}
		pt.queue = pt.queue[1:]
	}

	return r.completeTurn(ctx, s, in, pt)
}

// completeCall publishes the tool.completed event and folds the result into
// the turn's running state.
func (r *Runner) completeCall(ctx context.Context, in models.TurnInput, pt *pendingTurn, call models.ToolCall, result models.ToolResult, dur time.Duration) {
	ev := &events.ToolCompleted{
		NodeID:     in.Node.ID,
		ToolCallID: call.ID,
		Name:       call.Name,
		OK:         result.OK,
		Output:     result.Output,
		Error:      result.Error,
	}
	if dur > 0 {
		ev.DurationMs = dur.Milliseconds()
	}
	r.forward(ctx, in.Run.ID, ev)

	pt.results = append(pt.results, prompt.ToolResult{
		CallID: call.ID,
		Tool:   call.Name,
		Output: resultText(result.Output),
		Err:    result.Error,
	})
	if !result.OK {
		pt.errors = append(pt.errors, call.Name+": "+result.Error)
		if call.Name == tools.ToolCommand {
			pt.verification = stall.Hash(resultText(result.Output) + "\n" + result.Error)
		}
	}
}

// completeTurn assembles the completed result: message plus tool-error
// bullets, the loop-safety hashes, and the workspace diff.
func (r *Runner) completeTurn(ctx context.Context, s *session, in models.TurnInput, pt *pendingTurn) models.TurnResult {
	message := pt.message
	if len(pt.errors) > 0 {
		var sb strings.Builder
		sb.WriteString(message)
		sb.WriteString("\n\nTool errors:\n")
		for _, e := range pt.errors {
			sb.WriteString("- ")
			sb.WriteString(e)
			sb.WriteString("\n")
		}
		message = strings.TrimSpace(sb.String())
	}
	s.setLastResults(pt.results)

	res := models.Completed(message, summarize(message))
	res.OutputHash = stall.Hash(message)
	res.VerificationFailure = pt.verification

	diff, err := r.env.Diff(ctx, in.Run)
	if err != nil {
		slog.Debug("Workspace diff unavailable",
			"run_id", in.Run.ID,
			"node_id", in.Node.ID,
			"error", err)
	} else if diff != "" {
		res.Diff = diff
		res.DiffHash = stall.Hash(diff)
	}
	return res
}

// sweepStale forwards events that arrived after the previous turn settled
// (trailing usage samples, session frames) and drops markers that applied
// to a turn that no longer exists.
func (r *Runner) sweepStale(ctx context.Context, s *session, runID string) {
	for {
		sig, ok := s.signals.tryPop()
		if !ok {
			return
		}
		switch {
		case sig.event != nil:
			r.forward(ctx, runID, sig.event)
		case sig.err != nil:
			slog.Warn("Dropping stale provider error",
				"node_id", s.id.NodeID,
				"error", sig.err)
		}
	}
}

// applyTodos turns TodoWrite args into the node's task list patch.
func (r *Runner) applyTodos(ctx context.Context, in models.TurnInput, args map[string]any) models.ToolResult {
	todos, err := tools.ParseTodos(args)
	if err != nil {
		return models.ToolError(fmt.Sprintf("invalid TodoWrite args: %v", err))
	}
	r.forward(ctx, in.Run.ID, &events.NodePatch{
		NodeID: in.Node.ID,
		Patch:  models.NodePatch{Todos: &todos},
	})
	return models.ToolOK("todo list updated")
}

// needsApproval reports whether a call must wait for the operator.
func needsApproval(node *models.Node, call models.ToolCall) bool {
	if node.Permissions.PermissionsMode == models.PermissionsGated {
		return true
	}
	return tools.IsAgentManagement(call.Name) && node.Permissions.AgentManagementRequiresApproval
}

// isTodoWrite matches direct TodoWrite calls and provider-wrapped names
// such as "mcp__todos__TodoWrite" or "todos.TodoWrite".
func isTodoWrite(name string) bool {
	if name == tools.ToolTodoWrite {
		return true
	}
	if i := strings.LastIndex(name, "__"); i >= 0 {
		return name[i+2:] == tools.ToolTodoWrite
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:] == tools.ToolTodoWrite
	}
	return false
}

// approvalContext renders the one-line description shown to the operator.
func approvalContext(node *models.Node, call models.ToolCall) string {
	who := node.Label
	if who == "" {
		who = node.ID
	}
	switch call.Name {
	case tools.ToolCommand:
		if cmd, ok := call.Args["command"].(string); ok {
			return fmt.Sprintf("%s wants to run: %s", who, cmd)
		}
	case tools.ToolWriteFile, tools.ToolDeleteFile:
		if path, ok := call.Args["path"].(string); ok {
			return fmt.Sprintf("%s wants to %s %s", who, call.Name, path)
		}
	case tools.ToolSpawnNode:
		if label, ok := call.Args["label"].(string); ok {
			return fmt.Sprintf("%s wants to spawn node %q", who, label)
		}
	}
	return fmt.Sprintf("%s wants to call %s", who, call.Name)
}

// handoffAwaits reports the target of a send_handoff that declares a
// required response.
func handoffAwaits(args map[string]any) (string, bool) {
	to, _ := args["to"].(string)
	resp, _ := args["response"].(map[string]any)
	if to == "" || resp == nil {
		return "", false
	}
	exp, _ := resp["expectation"].(string)
	return to, exp == string(models.ResponseRequired)
}

// summarize derives a short node summary from a final message: the first
// non-empty line, truncated.
func summarize(message string) string {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runes := []rune(line); len(runes) > summaryMax {
			return string(runes[:summaryMax]) + "..."
		}
		return line
	}
	return ""
}

// resultText flattens a tool result's output for prompt echo.
func resultText(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
