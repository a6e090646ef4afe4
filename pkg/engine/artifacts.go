package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/weftlab/loom/pkg/models"
)

// RecordArtifact persists a named blob under the run's artifact directory
// and publishes artifact.created.
func (e *Engine) RecordArtifact(ctx context.Context, runID string, req models.RecordArtifactRequest) (*models.Artifact, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if !req.Kind.IsValid() {
		return nil, NewValidationError("kind", fmt.Sprintf("unknown artifact kind %q", req.Kind))
	}

	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, ErrRunTerminal
	}

	return e.store.WriteArtifact(ctx, runID, req)
}

// ListArtifacts returns a run's artifacts, oldest first.
func (e *Engine) ListArtifacts(runID string) ([]models.Artifact, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Artifact, 0, len(run.Artifacts))
	for _, artifact := range run.Artifacts {
		out = append(out, *artifact)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReadArtifact returns an artifact's metadata and bytes.
func (e *Engine) ReadArtifact(runID, artifactID string) (*models.Artifact, []byte, error) {
	return e.store.ReadArtifact(runID, artifactID)
}
