// Package api binds the engine's control-plane operations to HTTP and
// WebSocket endpoints. All state changes go through the engine; handlers
// only translate between HTTP and service calls.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/engine"
	"github.com/weftlab/loom/pkg/events"
)

// Server is the HTTP control plane for a loom daemon.
type Server struct {
	echo        *echo.Echo
	engine      *engine.Engine
	connManager *events.ConnectionManager
	cfg         *config.ServerConfig

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg *config.ServerConfig, eng *engine.Engine, connManager *events.ConnectionManager) *Server {
	e := echo.New()

	s := &Server{
		echo:        e,
		engine:      eng,
		connManager: connManager,
		cfg:         cfg,
	}

	e.Use(securityHeaders())
	s.setupRoutes()

	return s
}

// setupRoutes registers the full route table. /health stays unauthenticated
// so process supervisors can probe it; everything else sits behind the
// bearer-token middleware (a no-op when no token is configured).
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler, bearerAuth(s.cfg.AuthToken))

	api := s.echo.Group("/api", bearerAuth(s.cfg.AuthToken))

	api.GET("/version", s.versionHandler)
	api.GET("/dashboard", s.dashboardHandler)
	api.GET("/settings", s.getSettingsHandler)
	api.PUT("/settings", s.updateSettingsHandler)

	api.POST("/runs", s.createRunHandler)
	api.GET("/runs", s.listRunsHandler)
	api.GET("/runs/:id", s.getRunHandler)
	api.PATCH("/runs/:id", s.updateRunHandler)
	api.DELETE("/runs/:id", s.deleteRunHandler)
	api.GET("/runs/:id/events", s.runEventsHandler)
	api.GET("/runs/:id/export", s.exportRunHandler)

	api.POST("/runs/:id/nodes", s.createNodeHandler)
	api.GET("/runs/:id/nodes/:nodeId", s.getNodeHandler)
	api.PATCH("/runs/:id/nodes/:nodeId", s.updateNodeHandler)
	api.DELETE("/runs/:id/nodes/:nodeId", s.deleteNodeHandler)
	api.POST("/runs/:id/nodes/:nodeId/reset", s.resetNodeHandler)

	api.POST("/runs/:id/edges", s.createEdgeHandler)
	api.DELETE("/runs/:id/edges/:edgeId", s.deleteEdgeHandler)

	api.POST("/runs/:id/messages", s.postMessageHandler)
	api.POST("/runs/:id/envelopes", s.deliverEnvelopeHandler)

	api.POST("/runs/:id/artifacts", s.recordArtifactHandler)
	api.GET("/runs/:id/artifacts", s.listArtifactsHandler)
	api.GET("/runs/:id/artifacts/:artifactId", s.getArtifactHandler)

	api.GET("/approvals", s.listApprovalsHandler)
	api.POST("/approvals/:id/resolve", s.resolveApprovalHandler)
}

// Start begins serving on addr. Blocks until the server stops; returns
// http.ErrServerClosed after a graceful Shutdown.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	return srv.ListenAndServe()
}

// StartWithListener serves on an already-bound listener. Tests use this
// to run on an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	return srv.Serve(ln)
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
