package approval

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/models"
)

func pendingFixture(id, runID, nodeID string) Pending {
	return Pending{
		ID:     id,
		RunID:  runID,
		NodeID: nodeID,
		Tool:   models.ToolCall{ID: id, Name: "command", Args: map[string]any{"command": "make test"}},
		Origin: OriginRunner,
	}
}

func TestQueueAddTake(t *testing.T) {
	q := NewQueue()
	q.Add(pendingFixture("call-1", "run-1", "node-1"))
	assert.Equal(t, 1, q.Len())

	p, ok := q.Take("call-1")
	require.True(t, ok)
	assert.Equal(t, "node-1", p.NodeID)
	assert.Equal(t, "command", p.Tool.Name)
	assert.False(t, p.RequestedAt.IsZero())
	assert.Equal(t, 0, q.Len())

	_, ok = q.Take("call-1")
	assert.False(t, ok)
}

func TestQueueTakeUnknown(t *testing.T) {
	q := NewQueue()
	_, ok := q.Take("nope")
	assert.False(t, ok)
}

func TestQueueReAddOverwrites(t *testing.T) {
	q := NewQueue()
	q.Add(pendingFixture("call-1", "run-1", "node-1"))

	updated := pendingFixture("call-1", "run-1", "node-1")
	updated.Context = "resumed"
	q.Add(updated)

	require.Equal(t, 1, q.Len())
	p, ok := q.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "resumed", p.Context)
}

func TestQueueTakeIsExclusive(t *testing.T) {
	q := NewQueue()
	q.Add(pendingFixture("call-1", "run-1", "node-1"))

	const resolvers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, resolvers)
	for range resolvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.Take("call-1"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestQueueListSortsOldestFirst(t *testing.T) {
	q := NewQueue()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	second := pendingFixture("call-2", "run-1", "node-1")
	second.RequestedAt = base.Add(time.Minute)
	q.Add(second)

	first := pendingFixture("call-1", "run-1", "node-2")
	first.RequestedAt = base
	q.Add(first)

	other := pendingFixture("call-9", "run-2", "node-9")
	other.RequestedAt = base
	q.Add(other)

	list := q.List("run-1")
	require.Len(t, list, 2)
	assert.Equal(t, "call-1", list[0].ID)
	assert.Equal(t, "call-2", list[1].ID)

	all := q.List("")
	assert.Len(t, all, 3)
}

func TestQueueDropNode(t *testing.T) {
	q := NewQueue()
	q.Add(pendingFixture("call-1", "run-1", "node-1"))
	q.Add(pendingFixture("call-2", "run-1", "node-1"))
	q.Add(pendingFixture("call-3", "run-1", "node-2"))

	dropped := q.DropNode("run-1", "node-1")
	assert.Equal(t, []string{"call-1", "call-2"}, dropped)
	assert.Equal(t, 1, q.Len())

	assert.Empty(t, q.DropNode("run-1", "node-1"))
}

func TestQueueDropRun(t *testing.T) {
	q := NewQueue()
	q.Add(pendingFixture("call-1", "run-1", "node-1"))
	q.Add(pendingFixture("call-2", "run-2", "node-1"))

	dropped := q.DropRun("run-1")
	assert.Equal(t, []string{"call-1"}, dropped)

	p, ok := q.Get("call-2")
	require.True(t, ok)
	assert.Equal(t, "run-2", p.RunID)
}
