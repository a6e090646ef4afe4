package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/version"
)

// dashboardHandler handles GET /api/dashboard.
func (s *Server) dashboardHandler(c *echo.Context) error {
	dash, err := s.engine.Dashboard(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, dash)
}

// getSettingsHandler handles GET /api/settings.
func (s *Server) getSettingsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Settings().Get())
}

// updateSettingsHandler handles PUT /api/settings. Only fields present in
// the body change; the result is persisted to settings.json.
func (s *Server) updateSettingsHandler(c *echo.Context) error {
	var patch config.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	settings, err := s.engine.Settings().Update(patch)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, settings)
}

// versionHandler handles GET /api/version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &VersionResponse{
		Name:   version.AppName,
		Commit: version.GitCommit,
	})
}
