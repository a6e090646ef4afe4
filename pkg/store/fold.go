package store

import (
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// foldEvent applies one event to the projection. It is deterministic: the
// live path and replay run the exact same function, so
// fold(replay(L)) == fold(live application of L) for any log L.
//
// The returned run is the input run except for the first event of a fresh
// replay, where the projection is bootstrapped from the event envelope.
//
// Rules worth calling out:
//   - node.progress and the delta events never mutate state; they exist for
//     observers only.
//   - telemetry.usage accumulates additively; the derived node.patch and
//     run.patch the live path emits afterwards carry absolute totals, so
//     replaying both stays consistent.
//   - node.patch with inboxConsumed clears the node's queues, mirroring the
//     scheduler's dispatch-time drain.
//   - events referring to unknown nodes are dropped silently; replay must
//     not fail on a log written around a concurrent delete.
func foldEvent(run *models.Run, rt *RunRuntime, ev events.Event) *models.Run {
	if run == nil {
		run = bootstrapRun(ev.Env())
	}
	env := ev.Env()
	run.UpdatedAt = env.Ts

	switch e := ev.(type) {
	case *events.RunPatch:
		run.Apply(e.Patch)

	case *events.RunMode:
		run.Mode = e.Mode
		run.GlobalMode = e.GlobalMode

	case *events.RunStalled:
		// State change arrives via the accompanying run.patch.

	case *events.NodePatch:
		if e.Node != nil {
			run.Nodes[e.NodeID] = e.Node.Clone()
			rt.node(e.NodeID)
		}
		node, ok := run.Nodes[e.NodeID]
		if !ok {
			return run
		}
		if e.Patch.InboxConsumed {
			rt.node(e.NodeID).clearQueues()
		}
		node.Apply(e.Patch)
		if e.Patch.InboxConsumed && e.Patch.InboxCount == nil {
			node.InboxCount = 0
		}

	case *events.NodeProgress:
		// Advisory only.

	case *events.NodeDeleted:
		deleteNodeCascade(run, rt, e.NodeID, e.PreserveArtifacts)

	case *events.EdgeCreated:
		edge := e.Edge
		run.Edges[edge.ID] = &edge

	case *events.EdgeDeleted:
		delete(run.Edges, e.EdgeID)

	case *events.ArtifactCreated:
		artifact := e.Artifact
		run.Artifacts[artifact.ID] = &artifact

	case *events.MessageUser:
		node, ok := run.Nodes[e.Message.NodeID]
		if !ok {
			return run
		}
		nrt := rt.node(e.Message.NodeID)
		if e.Message.Interrupt {
			nrt.Messages = append([]models.UserMessage{e.Message}, nrt.Messages...)
		} else {
			nrt.Messages = append(nrt.Messages, e.Message)
		}
		node.InboxCount = nrt.queueLen()
		node.LastActivityAt = env.Ts

	case *events.AssistantDelta, *events.ThinkingDelta:
		// High-frequency stream chunks; the finals carry the content.

	case *events.AssistantFinal:
		touchNode(run, e.NodeID, env)

	case *events.ThinkingFinal:
		touchNode(run, e.NodeID, env)

	case *events.MessageReasoning:
		touchNode(run, e.NodeID, env)

	case *events.ToolProposed:
		touchNode(run, e.NodeID, env)

	case *events.ToolStarted:
		touchNode(run, e.NodeID, env)

	case *events.ToolCompleted:
		touchNode(run, e.NodeID, env)

	case *events.ApprovalRequested:
		approval := e.Approval
		run.Approvals[approval.ID] = &approval

	case *events.ApprovalResolved:
		delete(run.Approvals, e.ApprovalID)

	case *events.HandoffSent:
		enqueueEnvelope(run, rt, e.Handoff)

	case *events.HandoffReported:
		enqueueEnvelope(run, rt, e.Handoff)

	case *events.TelemetryUsage:
		if node, ok := run.Nodes[e.NodeID]; ok {
			node.Usage.Add(e.Usage)
		}
		run.Usage.Add(e.Usage)
	}

	return run
}

// bootstrapRun creates an empty projection for a log whose snapshot is gone.
// The first folded event supplies identity and creation time.
func bootstrapRun(env *events.Envelope) *models.Run {
	return &models.Run{
		ID:        env.RunID,
		CreatedAt: env.Ts,
		UpdatedAt: env.Ts,
		Status:    models.RunStatusRunning,
		Nodes:     make(map[string]*models.Node),
		Edges:     make(map[string]*models.Edge),
		Artifacts: make(map[string]*models.Artifact),
		Approvals: make(map[string]*models.Approval),
	}
}

// touchNode bumps a node's last-activity timestamp.
func touchNode(run *models.Run, nodeID string, env *events.Envelope) {
	if node, ok := run.Nodes[nodeID]; ok {
		node.LastActivityAt = env.Ts
	}
}

// enqueueEnvelope appends a handoff to the target inbox and keeps the
// target's inboxCount in sync.
func enqueueEnvelope(run *models.Run, rt *RunRuntime, handoff models.Envelope) {
	node, ok := run.Nodes[handoff.To]
	if !ok {
		return
	}
	nrt := rt.node(handoff.To)
	nrt.Inbox = append(nrt.Inbox, handoff.Clone())
	node.InboxCount = nrt.queueLen()
}

// deleteNodeCascade removes a node and everything keyed to it: incident
// edges, approvals, queued runtime state and (unless preserved) artifacts.
func deleteNodeCascade(run *models.Run, rt *RunRuntime, nodeID string, preserveArtifacts bool) {
	if _, ok := run.Nodes[nodeID]; !ok {
		return
	}
	delete(run.Nodes, nodeID)
	delete(rt.Nodes, nodeID)

	for id, edge := range run.Edges {
		if edge.Touches(nodeID) {
			delete(run.Edges, id)
		}
	}
	for id, approval := range run.Approvals {
		if approval.NodeID == nodeID {
			delete(run.Approvals, id)
		}
	}
	if !preserveArtifacts {
		for id, artifact := range run.Artifacts {
			if artifact.NodeID == nodeID {
				delete(run.Artifacts, id)
			}
		}
	}
}
