package events

import "log/slog"

// runLevel reports whether an event belongs on the global runs channel in
// addition to its own run channel.
func runLevel(eventType string) bool {
	switch eventType {
	case EventTypeRunPatch, EventTypeRunMode, EventTypeRunStalled:
		return true
	default:
		return false
	}
}

// AttachBus feeds a bus into the connection manager: every event is
// broadcast on its run channel, and run-level events are mirrored on the
// global runs channel for the run list page. Returns the unsubscribe
// function.
func AttachBus(bus *Bus, m *ConnectionManager) func() {
	return bus.Subscribe("", func(ev Event) {
		data, err := Encode(ev)
		if err != nil {
			slog.Error("Failed to encode event for broadcast",
				"event_type", ev.EventType(),
				"run_id", ev.Env().RunID,
				"error", err)
			return
		}
		m.Broadcast(RunChannel(ev.Env().RunID), data)
		if runLevel(ev.EventType()) {
			m.Broadcast(GlobalRunsChannel, data)
		}
	})
}
