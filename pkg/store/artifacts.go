package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// WriteArtifact persists content under the run's artifact directory and
// publishes artifact.created. The blob is written before the event so a
// folded artifact always points at an existing file.
func (s *Store) WriteArtifact(ctx context.Context, runID string, req models.RecordArtifactRequest) (*models.Artifact, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("artifact name is required")
	}
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("invalid artifact kind %q", req.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	if req.NodeID != "" {
		if _, ok := state.run.Nodes[req.NodeID]; !ok {
			return nil, ErrNodeNotFound
		}
	}

	artifact := models.Artifact{
		ID:        models.NewArtifactID(),
		RunID:     runID,
		NodeID:    req.NodeID,
		Kind:      req.Kind,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	fileName := artifact.ID + "-" + safeArtifactName(req.Name)
	artifact.Path = filepath.Join(artifactsDirName, fileName)

	full := filepath.Join(s.runDirLocked(runID), artifact.Path)
	if err := os.WriteFile(full, []byte(req.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	ev := &events.ArtifactCreated{
		Envelope: events.Envelope{RunID: runID},
		Artifact: artifact,
	}
	if err := s.publishLocked(state, ev); err != nil {
		os.Remove(full)
		return nil, err
	}
	return &artifact, nil
}

// ReadArtifact returns an artifact's bytes.
func (s *Store) ReadArtifact(runID, artifactID string) (*models.Artifact, []byte, error) {
	s.mu.Lock()
	state, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, ErrRunNotFound
	}
	artifact, ok := state.run.Artifacts[artifactID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, ErrArtifactNotFound
	}
	copied := *artifact
	dir := s.runDirLocked(runID)
	s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(dir, copied.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return &copied, data, nil
}

// safeArtifactName reduces a user-supplied name to a filesystem-safe form.
// Path separators and anything outside [A-Za-z0-9._-] become underscores,
// and leading dots are stripped so the result can never escape the artifact
// directory or hide itself.
func safeArtifactName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = "artifact"
	}
	const maxName = 120
	if len(out) > maxName {
		out = out[:maxName]
	}
	return out
}
