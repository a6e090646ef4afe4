package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/models"
)

// listApprovalsHandler handles GET /api/approvals. ?runId= narrows the
// list to one run; without it all pending approvals are returned.
func (s *Server) listApprovalsHandler(c *echo.Context) error {
	approvals, err := s.engine.ListApprovals(c.QueryParam("runId"))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ApprovalListResponse{Approvals: approvals})
}

// resolveApprovalHandler handles POST /api/approvals/:id/resolve.
// Resolving an approval the engine no longer tracks (daemon restarted,
// node deleted) is a no-op: applied=false, never an error.
func (s *Server) resolveApprovalHandler(c *echo.Context) error {
	approvalID := c.Param("id")
	if approvalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approval id is required")
	}

	var res models.Resolution
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	applied, err := s.engine.ResolveApproval(c.Request().Context(), approvalID, res)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ResolveApprovalResponse{Applied: applied})
}
