// Package approval tracks tool calls suspended on operator consent. The
// queue is the runtime registry only; the persisted view of pending
// approvals lives in each run's projection, folded from approval events.
// The queue's job is routing: it remembers which node owns an approval and
// whether the request originated inside a provider session or inside the
// runner's own tool queue, because the two resolve differently.
package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/weftlab/loom/pkg/models"
)

// Origin says where an approval request came from. Adapter-origin
// resolutions are forwarded into the provider session; runner-origin
// resolutions are cached for the suspended tool queue.
type Origin string

const (
	// OriginRunner marks approvals raised by the runner's tool-queue gate.
	OriginRunner Origin = "runner"
	// OriginAdapter marks approvals raised inside a provider session.
	OriginAdapter Origin = "adapter"
)

// Pending is one approval awaiting resolution.
type Pending struct {
	ID          string
	RunID       string
	NodeID      string
	Tool        models.ToolCall
	Context     string
	Origin      Origin
	RequestedAt time.Time
}

// Queue is the in-memory registry of pending approvals, keyed by approval
// id (which equals the gated tool call's id for runner-origin requests).
type Queue struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// NewQueue creates an empty approval queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]*Pending)}
}

// Add registers a pending approval. Re-adding the same id overwrites, so a
// resumed turn re-requesting the same gate stays a single entry.
func (q *Queue) Add(p Pending) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[p.ID] = &p
}

// Take claims and removes a pending approval. The claim is atomic: of two
// concurrent resolutions for the same id, exactly one receives ok=true, so
// approval.resolved is never emitted twice.
func (q *Queue) Take(id string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[id]
	if !ok {
		return Pending{}, false
	}
	delete(q.pending, id)
	return *p, true
}

// Get returns a pending approval without claiming it.
func (q *Queue) Get(id string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// List returns the pending approvals for a run, oldest first. An empty
// runID lists every run.
func (q *Queue) List(runID string) []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Pending, 0, len(q.pending))
	for _, p := range q.pending {
		if runID != "" && p.RunID != runID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// DropNode removes every pending approval owned by a node and returns the
// dropped ids. Called when a node's session closes or the node is deleted.
func (q *Queue) DropNode(runID, nodeID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped []string
	for id, p := range q.pending {
		if p.RunID == runID && p.NodeID == nodeID {
			delete(q.pending, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// DropRun removes every pending approval of a run and returns the dropped
// ids.
func (q *Queue) DropRun(runID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped []string
	for id, p := range q.pending {
		if p.RunID == runID {
			delete(q.pending, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Len returns the number of pending approvals across all runs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
