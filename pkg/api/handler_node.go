package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/models"
)

// createNodeHandler handles POST /api/runs/:id/nodes.
func (s *Server) createNodeHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var cfg models.NodeConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	node, err := s.engine.CreateNode(c.Request().Context(), runID, cfg)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, node)
}

// getNodeHandler handles GET /api/runs/:id/nodes/:nodeId.
func (s *Server) getNodeHandler(c *echo.Context) error {
	runID, nodeID := c.Param("id"), c.Param("nodeId")
	if runID == "" || nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id and node id are required")
	}

	node, err := s.engine.GetNode(runID, nodeID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, node)
}

// updateNodeHandler handles PATCH /api/runs/:id/nodes/:nodeId.
func (s *Server) updateNodeHandler(c *echo.Context) error {
	runID, nodeID := c.Param("id"), c.Param("nodeId")
	if runID == "" || nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id and node id are required")
	}

	var req models.UpdateNodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	node, err := s.engine.UpdateNode(c.Request().Context(), runID, nodeID, req)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, node)
}

// deleteNodeHandler handles DELETE /api/runs/:id/nodes/:nodeId.
// ?preserveArtifacts=true keeps the node's artifacts in the run.
func (s *Server) deleteNodeHandler(c *echo.Context) error {
	runID, nodeID := c.Param("id"), c.Param("nodeId")
	if runID == "" || nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id and node id are required")
	}

	preserve := c.QueryParam("preserveArtifacts") == "true"

	if err := s.engine.DeleteNode(c.Request().Context(), runID, nodeID, preserve); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// resetNodeHandler handles POST /api/runs/:id/nodes/:nodeId/reset.
func (s *Server) resetNodeHandler(c *echo.Context) error {
	runID, nodeID := c.Param("id"), c.Param("nodeId")
	if runID == "" || nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id and node id are required")
	}

	node, err := s.engine.ResetNode(c.Request().Context(), runID, nodeID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, node)
}
