package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/stall"
)

// Sentinel errors returned by store lookups. The API layer maps these to
// HTTP status codes.
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrArtifactNotFound = errors.New("artifact not found")
)

const (
	runsDirName      = "runs"
	eventLogName     = "events.jsonl"
	snapshotName     = "run.json"
	artifactsDirName = "artifacts"
)

// Store owns every run's event log, projection and runtime state. It is the
// single writer: all mutations enter through Publish (or the publish-derived
// helpers) under one mutex, which gives each run's log a total order.
//
// Reads hand out deep clones, so callers can never mutate the projection
// behind the store's back. Bus delivery happens synchronously inside the
// publish path; subscribers must not call back into the store.
type Store struct {
	root string
	bus  *events.Bus

	mu   sync.Mutex
	runs map[string]*runState
}

// runState bundles everything the store tracks for one run.
type runState struct {
	run         *models.Run
	rt          *RunRuntime
	log         *EventLog
	lastEventID string
}

// NewStore creates a store rooted at dataDir, creating the runs directory if
// needed. Existing runs are not loaded until LoadAll.
func NewStore(dataDir string, bus *events.Bus) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, runsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{
		root: dataDir,
		bus:  bus,
		runs: make(map[string]*runState),
	}, nil
}

// LoadAll restores every run found under the data directory. A run that
// fails to restore is skipped with an error log; one corrupt run must not
// take down the engine.
func (s *Store) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(filepath.Join(s.root, runsDirName))
	if err != nil {
		return fmt.Errorf("failed to list runs directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		state, err := restoreRun(s.runDirLocked(runID))
		if err != nil {
			slog.Error("Failed to restore run, skipping", "run_id", runID, "error", err)
			continue
		}
		s.runs[runID] = state
		slog.Info("Restored run",
			"run_id", runID,
			"status", state.run.Status,
			"nodes", len(state.run.Nodes))
	}
	return nil
}

// Close releases every run's log handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for runID, state := range s.runs {
		if err := state.log.Close(); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", runID, err))
		}
	}
	return errors.Join(errs...)
}

// CreateRun creates the run directory, opens its event log and seeds the
// projection. The initial run.patch and run.mode events make a from-scratch
// replay reconstruct the same state.
func (s *Store) CreateRun(ctx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.RunModeInteractive
	}
	globalMode := req.GlobalMode
	if globalMode == "" {
		globalMode = models.GlobalModeImplementation
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid run mode %q", mode)
	}
	if !globalMode.IsValid() {
		return nil, fmt.Errorf("invalid global mode %q", globalMode)
	}

	runID := models.NewRunID()
	dir := filepath.Join(s.root, runsDirName, runID)
	if err := os.MkdirAll(filepath.Join(dir, artifactsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	log, err := OpenEventLog(filepath.Join(dir, eventLogName))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The run itself is born from folding the seed events, so a cold replay
	// of the log reconstructs the identical projection, creation time
	// included.
	state := &runState{rt: newRunRuntime(), log: log}
	s.runs[runID] = state

	status := models.RunStatusRunning
	cwd := req.Cwd
	patch := &events.RunPatch{
		Envelope: events.Envelope{RunID: runID},
		Patch: models.RunPatch{
			Status:     &status,
			Mode:       &mode,
			GlobalMode: &globalMode,
			Cwd:        &cwd,
		},
	}
	modeEv := &events.RunMode{
		Envelope:   events.Envelope{RunID: runID},
		Mode:       mode,
		GlobalMode: globalMode,
	}
	if err := s.publishLocked(state, patch); err != nil {
		s.abortCreateLocked(runID, state)
		return nil, err
	}
	if err := s.publishLocked(state, modeEv); err != nil {
		s.abortCreateLocked(runID, state)
		return nil, err
	}

	slog.Info("Created run", "run_id", runID, "mode", mode, "global_mode", globalMode)
	return state.run.Clone(), nil
}

// abortCreateLocked rolls back a run whose seed events failed to persist.
func (s *Store) abortCreateLocked(runID string, state *runState) {
	delete(s.runs, runID)
	state.log.Close()
	os.RemoveAll(s.runDirLocked(runID))
}

// DeleteRun closes the run's log, drops it from memory and removes its
// directory with everything in it.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	state, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return ErrRunNotFound
	}
	delete(s.runs, runID)
	s.mu.Unlock()

	if err := state.log.Close(); err != nil {
		slog.Warn("Failed to close event log during delete", "run_id", runID, "error", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, runsDirName, runID)); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}
	slog.Info("Deleted run", "run_id", runID)
	return nil
}

// GetRun returns a deep clone of the run's projection.
func (s *Store) GetRun(runID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return state.run.Clone(), nil
}

// ListRuns returns deep clones of every run, newest first.
func (s *Store) ListRuns() []*models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Run, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, state.run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// RunDir returns the run's directory under the data root. It does not check
// existence.
func (s *Store) RunDir(runID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runDirLocked(runID)
}

func (s *Store) runDirLocked(runID string) string {
	return filepath.Join(s.root, runsDirName, runID)
}

// Publish stamps, persists, folds and fans out one event:
//  1. Stamp id, ts and type.
//  2. Append to the event log. Failure aborts: the event never happened.
//  3. Fold into the projection.
//  4. Write the snapshot. Failure is a warning; the log suffices.
//  5. Emit on the bus.
//
// telemetry.usage additionally publishes derived node.patch and run.patch
// events carrying the new absolute totals, and inbox enqueues (message.user,
// handoff.sent, handoff.reported) publish a derived node.patch with the
// target's new queue depth. Replay does not re-derive them because the
// derived events are themselves in the log.
func (s *Store) Publish(ctx context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[ev.Env().RunID]
	if !ok {
		return ErrRunNotFound
	}
	return s.publishLocked(state, ev)
}

func (s *Store) publishLocked(state *runState, ev events.Event) error {
	env := ev.Env()
	env.ID = models.NewEventID()
	env.Ts = time.Now().UTC()
	env.Type = ev.EventType()

	if err := state.log.Append(ev); err != nil {
		return err
	}
	state.run = foldEvent(state.run, state.rt, ev)
	state.lastEventID = env.ID

	if err := writeSnapshot(s.runDirLocked(env.RunID), state); err != nil {
		slog.Warn("Failed to write run snapshot", "run_id", env.RunID, "error", err)
	}
	s.bus.Emit(ev)

	switch e := ev.(type) {
	case *events.TelemetryUsage:
		return s.publishUsagePatchesLocked(state, e)
	case *events.MessageUser:
		return s.publishInboxPatchLocked(state, e.Message.NodeID)
	case *events.HandoffSent:
		return s.publishInboxPatchLocked(state, e.Handoff.To)
	case *events.HandoffReported:
		return s.publishInboxPatchLocked(state, e.Handoff.To)
	}
	return nil
}

// publishUsagePatchesLocked emits the derived patches that follow a
// telemetry.usage event, carrying absolute totals read after the fold.
func (s *Store) publishUsagePatchesLocked(state *runState, usage *events.TelemetryUsage) error {
	if node, ok := state.run.Nodes[usage.NodeID]; ok {
		total := node.Usage
		patch := &events.NodePatch{
			Envelope: events.Envelope{RunID: usage.RunID},
			NodeID:   usage.NodeID,
			Patch:    models.NodePatch{Usage: &total},
		}
		if err := s.publishLocked(state, patch); err != nil {
			return err
		}
	}
	total := state.run.Usage
	patch := &events.RunPatch{
		Envelope: events.Envelope{RunID: usage.RunID},
		Patch:    models.RunPatch{Usage: &total},
	}
	return s.publishLocked(state, patch)
}

// publishInboxPatchLocked emits the derived node.patch that follows an inbox
// enqueue, carrying the target's absolute queue depth read after the fold.
// Enqueues to unknown nodes fold to nothing, so no patch follows them either.
func (s *Store) publishInboxPatchLocked(state *runState, nodeID string) error {
	node, ok := state.run.Nodes[nodeID]
	if !ok {
		return nil
	}
	count := node.InboxCount
	patch := &events.NodePatch{
		Envelope: events.Envelope{RunID: state.run.ID},
		NodeID:   nodeID,
		Patch:    models.NodePatch{InboxCount: &count},
	}
	return s.publishLocked(state, patch)
}

// DrainForDispatch atomically snapshots a node's pending input and publishes
// the dispatch patch (typically status=running plus inboxConsumed=true). The
// returned slices are the turn's input; the fold clears the live queues, so
// replay reproduces the post-dispatch queue state.
func (s *Store) DrainForDispatch(ctx context.Context, runID, nodeID string, patch models.NodePatch) ([]models.Envelope, []models.UserMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	if _, ok := state.run.Nodes[nodeID]; !ok {
		return nil, nil, ErrNodeNotFound
	}

	nrt := state.rt.node(nodeID)
	inbox := make([]models.Envelope, len(nrt.Inbox))
	for i, env := range nrt.Inbox {
		inbox[i] = env.Clone()
	}
	messages := append([]models.UserMessage(nil), nrt.Messages...)

	ev := &events.NodePatch{
		Envelope: events.Envelope{RunID: runID},
		NodeID:   nodeID,
		Patch:    patch,
	}
	if err := s.publishLocked(state, ev); err != nil {
		return nil, nil, err
	}
	return inbox, messages, nil
}

// Views returns a dispatch snapshot of every run for the scheduler tick.
func (s *Store) Views() []RunView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunView, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, buildView(state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// View returns the dispatch snapshot of one run.
func (s *Store) View(runID string) (RunView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return RunView{}, ErrRunNotFound
	}
	return buildView(state), nil
}

func buildView(state *runState) RunView {
	view := RunView{
		ID:     state.run.ID,
		Status: state.run.Status,
		Mode:   state.run.Mode,
		Nodes:  make([]NodeView, 0, len(state.run.Nodes)),
	}
	for id, node := range state.run.Nodes {
		nrt := state.rt.node(id)
		view.Nodes = append(view.Nodes, NodeView{
			ID:               id,
			Role:             node.Role,
			Status:           node.Status,
			Connection:       node.Connection.State,
			InboxLen:         len(nrt.Inbox),
			MessageLen:       len(nrt.Messages),
			PendingTurn:      nrt.PendingTurn,
			AutoPromptQueued: nrt.AutoPromptQueued,
		})
	}
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })
	return view
}

// SetPendingTurn flags a node for resume after an approval resolution.
func (s *Store) SetPendingTurn(runID, nodeID string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.runs[runID]; ok {
		state.rt.node(nodeID).PendingTurn = pending
	}
}

// SetAutoPrompt flags an orchestrator node for AUTO-mode self-continuation.
func (s *Store) SetAutoPrompt(runID, nodeID string, queued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.runs[runID]; ok {
		state.rt.node(nodeID).AutoPromptQueued = queued
	}
}

// UpdateStall feeds one turn sample into the node's loop-safety counters and
// reports whether the node just crossed the stall threshold.
func (s *Store) UpdateStall(runID, nodeID string, sample stall.Sample, threshold int) (bool, *events.StallEvidence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return false, nil
	}
	nrt := state.rt.node(nodeID)
	return stall.Update(&nrt.Stall, nodeID, sample, threshold)
}

// ResetNodeRuntime clears a node's stall counters and scheduler flags. Queue
// clearing goes through a folded node.patch so replay agrees.
func (s *Store) ResetNodeRuntime(runID, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return
	}
	nrt := state.rt.node(nodeID)
	nrt.Stall.Reset()
	nrt.PendingTurn = false
	nrt.AutoPromptQueued = false
}

// PendingEnvelopes returns clones of a node's queued handoff envelopes
// without consuming them.
func (s *Store) PendingEnvelopes(runID, nodeID string) []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return nil
	}
	nrt := state.rt.node(nodeID)
	out := make([]models.Envelope, len(nrt.Inbox))
	for i, env := range nrt.Inbox {
		out[i] = env.Clone()
	}
	return out
}

// CatchupEvents serves WebSocket reconnect catch-up. Run channels replay the
// log after lastEventID; the global runs channel has no log of its own, so
// clients list runs over REST instead and catch-up returns nothing.
func (s *Store) CatchupEvents(ctx context.Context, channel, lastEventID string, limit int) ([]json.RawMessage, error) {
	runID, ok := parseRunChannel(channel)
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	state, found := s.runs[runID]
	s.mu.Unlock()
	if !found {
		return nil, ErrRunNotFound
	}

	lines, err := state.log.ReadRawSince(lastEventID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(lines))
	for i, line := range lines {
		out[i] = json.RawMessage(line)
	}
	return out, nil
}

// TailEvents returns the last n decoded events of a run's log, oldest
// first. Used by the dashboard aggregate; corrupt trailing lines fail the
// read rather than being skipped.
func (s *Store) TailEvents(runID string, n int) ([]events.Event, error) {
	s.mu.Lock()
	state, found := s.runs[runID]
	s.mu.Unlock()
	if !found {
		return nil, ErrRunNotFound
	}

	all, err := state.log.ReadAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// parseRunChannel extracts the run id from a "run:<id>" channel name.
func parseRunChannel(channel string) (string, bool) {
	const prefix = "run:"
	if len(channel) <= len(prefix) || channel[:len(prefix)] != prefix {
		return "", false
	}
	return channel[len(prefix):], true
}
