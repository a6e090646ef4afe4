package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/weftlab/loom/pkg/models"
)

// snapshotFile is the on-disk shape of runs/<runId>/run.json. Queues are
// persisted alongside the projection because inboxCount must match the
// actual queue contents after a restore (the fold keeps them in sync, the
// snapshot must too).
type snapshotFile struct {
	LastEventID string                          `json:"lastEventId"`
	Run         *models.Run                     `json:"run"`
	Inboxes     map[string][]models.Envelope    `json:"inboxes,omitempty"`
	Messages    map[string][]models.UserMessage `json:"messages,omitempty"`
}

// writeSnapshot persists the projection via a temp file and rename, so a
// crash mid-write leaves either the old snapshot or a complete new one.
func writeSnapshot(dir string, state *runState) error {
	snap := snapshotFile{
		LastEventID: state.lastEventID,
		Run:         state.run,
	}
	for nodeID, nrt := range state.rt.Nodes {
		if len(nrt.Inbox) > 0 {
			if snap.Inboxes == nil {
				snap.Inboxes = make(map[string][]models.Envelope)
			}
			snap.Inboxes[nodeID] = nrt.Inbox
		}
		if len(nrt.Messages) > 0 {
			if snap.Messages == nil {
				snap.Messages = make(map[string][]models.UserMessage)
			}
			snap.Messages[nodeID] = nrt.Messages
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := filepath.Join(dir, snapshotName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, snapshotName)); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// restoreRun rebuilds a run's state from its directory. The snapshot is an
// optimization: when present and readable, only the log tail after its
// lastEventId is folded. A missing or corrupt snapshot falls back to a full
// replay from the first event. Either path ends in the same state because
// the fold is deterministic.
func restoreRun(dir string) (*runState, error) {
	log, err := OpenEventLog(filepath.Join(dir, eventLogName))
	if err != nil {
		return nil, err
	}

	state := &runState{rt: newRunRuntime(), log: log}

	snap, snapErr := readSnapshot(dir)
	switch {
	case snapErr == nil:
		state.run = snap.Run
		state.lastEventID = snap.LastEventID
		for nodeID, inbox := range snap.Inboxes {
			state.rt.node(nodeID).Inbox = inbox
		}
		for nodeID, messages := range snap.Messages {
			state.rt.node(nodeID).Messages = messages
		}
	case os.IsNotExist(snapErr):
		// No snapshot yet; replay the whole log.
	default:
		slog.Warn("Ignoring unreadable snapshot, replaying log",
			"dir", dir, "error", snapErr)
	}

	tail, err := log.ReadSince(state.lastEventID)
	if err != nil {
		log.Close()
		return nil, err
	}
	for _, ev := range tail {
		state.run = foldEvent(state.run, state.rt, ev)
		state.lastEventID = ev.Env().ID
	}

	if state.run == nil {
		log.Close()
		return nil, fmt.Errorf("run directory %s has no snapshot and no events", dir)
	}
	return state, nil
}

// readSnapshot loads and validates runs/<runId>/run.json.
func readSnapshot(dir string) (*snapshotFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, snapshotName))
	if err != nil {
		return nil, err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.Run == nil || snap.Run.ID == "" {
		return nil, fmt.Errorf("snapshot has no run")
	}
	// Maps are omitted from JSON when empty; the projection expects them
	// allocated.
	if snap.Run.Nodes == nil {
		snap.Run.Nodes = make(map[string]*models.Node)
	}
	if snap.Run.Edges == nil {
		snap.Run.Edges = make(map[string]*models.Edge)
	}
	if snap.Run.Artifacts == nil {
		snap.Run.Artifacts = make(map[string]*models.Artifact)
	}
	if snap.Run.Approvals == nil {
		snap.Run.Approvals = make(map[string]*models.Approval)
	}
	return &snap, nil
}
