package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/weftlab/loom/pkg/events"
)

// maxEventLine bounds a single event record. Assistant finals can carry whole
// files, so this is generous.
const maxEventLine = 16 * 1024 * 1024

// EventLog is one run's append-only JSONL file. Appends go through a single
// kept-open handle; reads open their own handle so tailing never disturbs
// the writer.
type EventLog struct {
	path string
	f    *os.File
}

// OpenEventLog opens (creating if needed) the log at path for appending.
func OpenEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &EventLog{path: path, f: f}, nil
}

// Append writes one event as a single JSON line. An error here means the
// event must be considered to have never happened.
func (l *EventLog) Append(ev events.Event) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("failed to append event %s: %w", ev.Env().ID, err)
	}
	return nil
}

// Close releases the write handle.
func (l *EventLog) Close() error {
	return l.f.Close()
}

// ReadAll decodes every event in log order.
func (l *EventLog) ReadAll() ([]events.Event, error) {
	var out []events.Event
	err := l.scan(func(line []byte) error {
		ev, err := events.Decode(line)
		if err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// ReadSince decodes the events after the one with lastEventID. An empty
// lastEventID (or an id not in the log) yields the whole log.
func (l *EventLog) ReadSince(lastEventID string) ([]events.Event, error) {
	lines, err := l.ReadRawSince(lastEventID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(lines))
	for _, line := range lines {
		ev, err := events.Decode(line)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ReadRawSince returns the wire-format lines after the event with
// lastEventID. An empty lastEventID (or an id not present in the log)
// returns everything; the caller reconciles from the full stream.
func (l *EventLog) ReadRawSince(lastEventID string, limit int) ([][]byte, error) {
	var all [][]byte
	found := -1
	err := l.scan(func(line []byte) error {
		copied := append([]byte(nil), line...)
		if lastEventID != "" && found == -1 {
			var head struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(copied, &head); err == nil && head.ID == lastEventID {
				found = len(all)
			}
		}
		all = append(all, copied)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found >= 0 {
		all = all[found+1:]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// scan streams log lines through fn using a dedicated read handle.
func (l *EventLog) scan(fn func(line []byte) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open event log for reading: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		if err := fn(data); err != nil {
			return fmt.Errorf("event log line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan event log: %w", err)
	}
	return nil
}
