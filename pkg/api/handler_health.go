package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only the daemon's own components are checked; provider subprocesses are
// excluded so a wedged CLI session cannot make a supervisor restart loom.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.engine == nil || s.engine.Uptime() == 0 {
		status = healthStatusUnhealthy
		checks["engine"] = HealthCheck{Status: healthStatusUnhealthy, Message: "engine not started"}
	} else {
		checks["engine"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.connManager == nil {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["websocket"] = HealthCheck{Status: healthStatusDegraded, Message: "connection manager unavailable"}
	} else {
		checks["websocket"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
