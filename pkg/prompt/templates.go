// Package prompt composes the per-turn prompt a node's session receives and
// decides how much of it must be resent. A prompt is four blocks: system
// (engine context plus the tool protocol), role (the node's role template),
// mode (planning or implementation preamble) and task (identity, queued
// messages, queued handoffs). The system and role blocks change rarely, so
// stateful sessions receive them once and get delta prompts afterwards.
package prompt

// systemIntro opens every full prompt. It tells the session what it is
// running inside of and how its output is interpreted.
const systemIntro = `You are a node in a multi-agent coding session. An engine schedules your
turns, delivers messages and handoffs from other nodes, executes your tool
calls and records everything you produce.

Rules:
- Work only inside the workspace directory given below.
- Communicate with other nodes through the send_handoff tool, never by
  writing files they are expected to poll.
- When you finish the current objective, summarize what you did in one or
  two sentences at the end of your message.`

// toolProtocol explains the fenced tool-call format for sessions whose
// provider does not execute tools natively. The engine extracts these
// fences from the final message and runs them in order.
const toolProtocol = `To call a tool, emit a fenced block exactly like this in your message:

` + "```tool_call" + `
{"id": "call-1", "tool": "read_file", "args": {"path": "main.go"}}
` + "```" + `

One JSON object per fence, one fence per call. The "id" must be unique
within your message. Results arrive in your next prompt. Unknown tool names
are rejected.`

// planningPreamble is the mode block while the run is in planning mode.
const planningPreamble = `## Mode: planning

The workspace is read-only apart from the documentation paths listed below.
Investigate, design and write plans; do not modify code, and do not run
state-changing commands. Produce design notes and task breakdowns instead.`

// implementationPreamble is the mode block while the run is in
// implementation mode.
const implementationPreamble = `## Mode: implementation

Carry out the work: edit files, run commands and verify the results. Keep
changes scoped to the current objective.`

// autoContinueTask is rendered when a turn has no queued input and the node
// re-runs on its own (auto-mode orchestrators).
const autoContinueTask = `No new input. Review the state of your plan and continue with the next
step, or report completion with a handoff to the appropriate node.`

// missingTemplateFormat renders the placeholder for an unresolvable role
// template. The placeholder is cached like a real template so the lookup
// cost is paid once. %s = template name.
const missingTemplateFormat = "Role template not found: %s"
