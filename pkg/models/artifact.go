package models

import "time"

// Artifact is a blob persisted under a run's artifact directory
type Artifact struct {
	ID        string           `json:"id"`
	RunID     string           `json:"runId"`
	NodeID    string           `json:"nodeId,omitempty"`
	Kind      ArtifactKind     `json:"kind"`
	Name      string           `json:"name"`
	Path      string           `json:"path"`
	CreatedAt time.Time        `json:"createdAt"`
	Metadata  ArtifactMetadata `json:"metadata,omitzero"`
}

// ArtifactMetadata carries optional details about an artifact
type ArtifactMetadata struct {
	FilesChanged int    `json:"filesChanged,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// RecordArtifactRequest contains fields for persisting an artifact
type RecordArtifactRequest struct {
	NodeID   string           `json:"nodeId,omitempty"`
	Kind     ArtifactKind     `json:"kind"`
	Name     string           `json:"name"`
	Content  string           `json:"content"`
	Metadata ArtifactMetadata `json:"metadata,omitzero"`
}
