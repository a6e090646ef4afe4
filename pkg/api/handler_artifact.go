package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/models"
)

// recordArtifactHandler handles POST /api/runs/:id/artifacts.
func (s *Server) recordArtifactHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req models.RecordArtifactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	artifact, err := s.engine.RecordArtifact(c.Request().Context(), runID, req)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, artifact)
}

// listArtifactsHandler handles GET /api/runs/:id/artifacts.
func (s *Server) listArtifactsHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	artifacts, err := s.engine.ListArtifacts(runID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ArtifactListResponse{Artifacts: artifacts})
}

// getArtifactHandler handles GET /api/runs/:id/artifacts/:artifactId.
// Returns the artifact metadata together with its stored content.
func (s *Server) getArtifactHandler(c *echo.Context) error {
	runID, artifactID := c.Param("id"), c.Param("artifactId")
	if runID == "" || artifactID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id and artifact id are required")
	}

	artifact, content, err := s.engine.ReadArtifact(runID, artifactID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ArtifactContentResponse{
		Artifact: *artifact,
		Content:  string(content),
	})
}
