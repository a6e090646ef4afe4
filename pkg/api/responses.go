package api

import (
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

// RunListResponse is returned by GET /api/runs.
type RunListResponse struct {
	Runs []*models.Run `json:"runs"`
}

// EventListResponse is returned by GET /api/runs/:id/events.
type EventListResponse struct {
	Events []events.Event `json:"events"`
}

// ApprovalListResponse is returned by GET /api/approvals.
type ApprovalListResponse struct {
	Approvals []models.Approval `json:"approvals"`
}

// ResolveApprovalResponse is returned by POST /api/approvals/:id/resolve.
// Applied is false when the approval was no longer pending.
type ResolveApprovalResponse struct {
	Applied bool `json:"applied"`
}

// ArtifactListResponse is returned by GET /api/runs/:id/artifacts.
type ArtifactListResponse struct {
	Artifacts []models.Artifact `json:"artifacts"`
}

// ArtifactContentResponse is returned by GET /api/runs/:id/artifacts/:artifactId.
type ArtifactContentResponse struct {
	Artifact models.Artifact `json:"artifact"`
	Content  string          `json:"content"`
}

// VersionResponse is returned by GET /api/version.
type VersionResponse struct {
	Name   string `json:"name"`
	Commit string `json:"commit"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one component's health within a HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
