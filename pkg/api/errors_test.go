package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/engine"
	"github.com/weftlab/loom/pkg/store"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "engine validation error maps to 400",
			err:        engine.NewValidationError("mode", "unknown run mode"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "unknown run mode",
		},
		{
			name:       "settings validation error maps to 400",
			err:        config.NewValidationError("settings", "", "defaultProvider", fmt.Errorf("provider 'ghost' not found")),
			expectCode: http.StatusBadRequest,
			expectMsg:  "provider 'ghost' not found",
		},
		{
			name:       "run not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", store.ErrRunNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "node not found maps to 404",
			err:        store.ErrNodeNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "artifact not found maps to 404",
			err:        store.ErrArtifactNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "edge not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", engine.ErrEdgeNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "terminal run maps to 409",
			err:        engine.ErrRunTerminal,
			expectCode: http.StatusConflict,
			expectMsg:  "terminal state",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
