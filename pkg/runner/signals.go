package runner

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/weftlab/loom/pkg/events"
)

// defaultSignalBuffer bounds the adapter-to-runner queue when no capacity
// is configured.
const defaultSignalBuffer = 1024

// signal is one unit the turn loop pops: an adapter event, a transport
// error, or an injected interrupt marker.
type signal struct {
	event       events.Event
	err         error
	interrupted bool
}

// signalQueue buffers adapter callbacks for the turn loop. Adapters push
// from their own goroutines; exactly one turn loop pops at a time. Provider
// events are small, so the buffer is effectively unbounded in normal
// operation; once it fills, the blocked push applies backpressure to the
// adapter's read goroutine.
type signalQueue struct {
	nodeID string
	ch     chan signal

	// softLimit is the depth at which the queue starts complaining.
	softLimit int
	warned    atomic.Bool
}

func newSignalQueue(nodeID string, size int) *signalQueue {
	if size <= 0 {
		size = defaultSignalBuffer
	}
	return &signalQueue{
		nodeID:    nodeID,
		ch:        make(chan signal, size),
		softLimit: max(size/4, 1),
	}
}

// pushEvent enqueues one adapter event.
func (q *signalQueue) pushEvent(ev events.Event) {
	q.push(signal{event: ev})
}

// pushError enqueues one transport error.
func (q *signalQueue) pushError(err error) {
	q.push(signal{err: err})
}

// pushInterrupted enqueues the interrupt marker.
func (q *signalQueue) pushInterrupted() {
	q.push(signal{interrupted: true})
}

func (q *signalQueue) push(sig signal) {
	if len(q.ch) >= q.softLimit && q.warned.CompareAndSwap(false, true) {
		slog.Warn("Provider signal queue past soft limit",
			"node_id", q.nodeID,
			"depth", len(q.ch))
	}
	q.ch <- sig
}

// pop blocks until a signal arrives or ctx is done.
func (q *signalQueue) pop(ctx context.Context) (signal, bool) {
	select {
	case sig := <-q.ch:
		if len(q.ch) == 0 {
			q.warned.Store(false)
		}
		return sig, true
	case <-ctx.Done():
		return signal{}, false
	}
}

// tryPop returns the next buffered signal without blocking.
func (q *signalQueue) tryPop() (signal, bool) {
	select {
	case sig := <-q.ch:
		return sig, true
	default:
		return signal{}, false
	}
}

// drain discards everything currently buffered.
func (q *signalQueue) drain() {
	for {
		if _, ok := q.tryPop(); !ok {
			return
		}
	}
}
