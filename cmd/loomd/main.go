// loomd is the loom daemon — it owns the run store, drives node turns via
// the scheduler, and exposes the HTTP/WebSocket control plane.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/weftlab/loom/pkg/api"
	"github.com/weftlab/loom/pkg/cleanup"
	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/engine"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/provider"
	"github.com/weftlab/loom/pkg/store"
	"github.com/weftlab/loom/pkg/tools"
	"github.com/weftlab/loom/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("LOOM_CONFIG_DIR", "~/.loom"),
		"Path to configuration directory")
	listenAddr := flag.String("listen", "", "Listen address override (host:port)")
	flag.Parse()

	dir := config.ExpandHome(*configDir)

	// Load .env file from config directory
	envPath := filepath.Join(dir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting loomd",
		"version", version.Full(),
		"config_dir", dir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, dir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// 2. Open the event-sourced run store
	bus := events.NewBus()
	st, err := store.NewStore(cfg.DataDir, bus)
	if err != nil {
		slog.Error("Failed to open run store", "data_dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	settings := config.NewSettingsStore(cfg.DataDir, cfg)

	// 3. Create the engine (providers, workspace tools, scheduler)
	factory := provider.NewConfigFactory(cfg.Providers, tools.Definitions())
	eng, err := engine.New(cfg, settings, st, factory)
	if err != nil {
		slog.Error("Failed to create engine", "error", err)
		os.Exit(1)
	}

	// 4. Start the engine: replay persisted runs, then begin ticking
	if err := eng.Start(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	// 5. Streaming infrastructure: bus events fan out to WebSocket clients
	connManager := events.NewConnectionManager(st, 10*time.Second, cfg.Engine.CatchupLimit)
	detach := events.AttachBus(bus, connManager)
	defer detach()

	// 6. Retention sweeper for expired runs
	cleanupSvc := cleanup.NewService(cfg.Retention, st)
	cleanupSvc.Start(ctx)

	// 7. Create HTTP server
	httpServer := api.NewServer(cfg.Server, eng, connManager)

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.Start(cfg.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("loomd started successfully",
		"data_dir", cfg.DataDir,
		"runs", len(st.ListRuns()))

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests first so nothing new
	// reaches the engine while sessions are being torn down.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cleanupSvc.Stop()

	// Engine close waits out provider kill grace per session; cap it so a
	// wedged subprocess cannot hang shutdown forever.
	done := make(chan struct{})
	go func() {
		if err := eng.Close(); err != nil {
			slog.Error("Engine close error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Shutdown timeout exceeded — sessions will be normalized on next start")
	}

	slog.Info("Shutdown complete")
}
