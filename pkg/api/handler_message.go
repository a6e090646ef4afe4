package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/models"
)

// postMessageHandler handles POST /api/runs/:id/messages.
// The message is queued on the target node's inbox; the scheduler picks it
// up on its next tick, so the response only acknowledges acceptance.
func (s *Server) postMessageHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req models.PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg, err := s.engine.PostMessage(c.Request().Context(), runID, req)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, msg)
}

// deliverEnvelopeHandler handles POST /api/runs/:id/envelopes.
// Injects a handoff envelope as if a node had sent it; mainly useful for
// scripting runs and re-driving a stuck handoff by hand.
func (s *Server) deliverEnvelopeHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var env models.Envelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	delivered, err := s.engine.DeliverEnvelope(c.Request().Context(), runID, env)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, delivered)
}
