package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/engine"
	"github.com/weftlab/loom/pkg/store"
)

// mapServiceError maps engine and store errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *engine.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	var cfgErr *config.ValidationError
	if errors.As(err, &cfgErr) {
		return echo.NewHTTPError(http.StatusBadRequest, cfgErr.Error())
	}
	if errors.Is(err, store.ErrRunNotFound) ||
		errors.Is(err, store.ErrNodeNotFound) ||
		errors.Is(err, store.ErrArtifactNotFound) ||
		errors.Is(err, engine.ErrEdgeNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, engine.ErrRunTerminal) {
		return echo.NewHTTPError(http.StatusConflict, "run is in a terminal state")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
