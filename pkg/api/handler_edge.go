package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/models"
)

// createEdgeHandler handles POST /api/runs/:id/edges.
func (s *Server) createEdgeHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req models.CreateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	edge, err := s.engine.CreateEdge(c.Request().Context(), runID, req)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, edge)
}

// deleteEdgeHandler handles DELETE /api/runs/:id/edges/:edgeId.
func (s *Server) deleteEdgeHandler(c *echo.Context) error {
	runID, edgeID := c.Param("id"), c.Param("edgeId")
	if runID == "" || edgeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id and edge id are required")
	}

	if err := s.engine.DeleteEdge(c.Request().Context(), runID, edgeID); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
