package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/models"
)

// createRunHandler handles POST /api/runs.
func (s *Server) createRunHandler(c *echo.Context) error {
	var req models.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	run, err := s.engine.CreateRun(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, run)
}

// listRunsHandler handles GET /api/runs.
func (s *Server) listRunsHandler(c *echo.Context) error {
	runs := s.engine.ListRuns()
	return c.JSON(http.StatusOK, &RunListResponse{Runs: runs})
}

// getRunHandler handles GET /api/runs/:id.
func (s *Server) getRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	run, err := s.engine.GetRun(runID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, run)
}

// updateRunHandler handles PATCH /api/runs/:id.
func (s *Server) updateRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req models.UpdateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	run, err := s.engine.UpdateRun(c.Request().Context(), runID, req)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, run)
}

// deleteRunHandler handles DELETE /api/runs/:id.
func (s *Server) deleteRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	if err := s.engine.DeleteRun(c.Request().Context(), runID); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// runEventsHandler handles GET /api/runs/:id/events.
// Returns the newest events from the run's log; ?limit=0 returns the full log.
func (s *Server) runEventsHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
		limit = n
	}

	evs, err := s.engine.Store().TailEvents(runID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &EventListResponse{Events: evs})
}

// exportRunHandler handles GET /api/runs/:id/export.
// Streams the run directory (snapshot, event log, artifacts) as a zip.
func (s *Server) exportRunHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	// Resolve the run before committing the response status; stream errors
	// after this point can only be logged.
	if _, err := s.engine.GetRun(runID); err != nil {
		return mapServiceError(err)
	}

	h := c.Response().Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+".zip"))
	c.Response().WriteHeader(http.StatusOK)

	if err := s.engine.Store().ExportRun(runID, c.Response()); err != nil {
		slog.Error("Run export failed mid-stream", "run_id", runID, "error", err)
	}
	return nil
}
