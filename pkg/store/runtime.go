package store

import (
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/stall"
)

// RunRuntime holds per-run state that is derived from the log (the queues)
// or purely ephemeral (stall counters, scheduler flags). Queues are folded
// so replay reconstructs them; everything else resets on restart.
type RunRuntime struct {
	Nodes map[string]*NodeRuntime
}

// NodeRuntime is the mutable runtime companion of one node.
type NodeRuntime struct {
	Inbox    []models.Envelope
	Messages []models.UserMessage

	Stall            stall.Counters
	AutoPromptQueued bool
	PendingTurn      bool
}

func newRunRuntime() *RunRuntime {
	return &RunRuntime{Nodes: make(map[string]*NodeRuntime)}
}

// node returns the runtime entry for nodeID, creating it if needed.
func (rt *RunRuntime) node(nodeID string) *NodeRuntime {
	n, ok := rt.Nodes[nodeID]
	if !ok {
		n = &NodeRuntime{}
		rt.Nodes[nodeID] = n
	}
	return n
}

// queueLen is the combined inbox size that node.inboxCount mirrors.
func (n *NodeRuntime) queueLen() int {
	return len(n.Inbox) + len(n.Messages)
}

// clearQueues drops all pending envelopes and messages.
func (n *NodeRuntime) clearQueues() {
	n.Inbox = nil
	n.Messages = nil
}

// RunView is a scheduler-facing snapshot of one run. All fields are copies;
// mutating them never touches the projection.
type RunView struct {
	ID     string
	Status models.RunStatus
	Mode   models.RunMode
	Nodes  []NodeView
}

// NodeView is a scheduler-facing snapshot of one node's dispatch state.
type NodeView struct {
	ID               string
	Role             models.NodeRole
	Status           models.NodeStatus
	Connection       models.ConnectionState
	InboxLen         int
	MessageLen       int
	PendingTurn      bool
	AutoPromptQueued bool
}

// Runnable applies the scheduler's runnable predicate to the view.
func (v NodeView) Runnable() bool {
	if v.Status != models.NodeStatusIdle {
		return false
	}
	if v.Connection == models.ConnectionDisconnected {
		return false
	}
	return v.InboxLen > 0 || v.MessageLen > 0 || v.PendingTurn || v.AutoPromptQueued
}
