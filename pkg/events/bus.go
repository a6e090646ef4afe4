package events

import (
	"log/slog"
	"sync"
)

// Bus fans events out to in-process subscribers. Delivery is synchronous in
// the publisher's goroutine and best-effort: a panicking subscriber is
// recovered and logged so one bad listener cannot stall the publish path.
// Subscribers must not re-enter the store's mutating API.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	runID string // empty = all runs
	fn    func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers fn for every event of runID, or for all runs when
// runID is empty. The returned function removes the subscription; calling it
// more than once is harmless.
func (b *Bus) Subscribe(runID string, fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{runID: runID, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit delivers ev to every matching subscriber. Matching subscriptions are
// snapshotted under the lock, then invoked without it so a slow subscriber
// cannot block Subscribe/unsubscribe.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.runID == "" || sub.runID == ev.Env().RunID {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.deliver(sub, ev)
	}
}

// deliver invokes one subscriber with panic recovery.
func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked",
				"event_type", ev.EventType(), "run_id", ev.Env().RunID, "panic", r)
		}
	}()
	sub.fn(ev)
}

// SubscriberCount returns the number of registered subscriptions.
// Used by tests to poll instead of sleeping.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
