// Package e2e boots complete loom instances — store, engine, scripted
// provider sessions, HTTP server, WebSocket fanout — and drives them over
// the public API the way a UI or loomctl would.
package e2e

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftlab/loom/pkg/api"
	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/engine"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/store"
)

// TestApp boots a complete loom instance for e2e testing.
type TestApp struct {
	// Core
	Config   *config.Config
	Store    *store.Store
	Settings *config.SettingsStore
	Engine   *engine.Engine

	// Test wiring
	Scripts *ScriptBook

	// Real infrastructure
	ConnManager *events.ConnectionManager
	Server      *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"
	DataDir string // survives Stop, for restart tests
	WorkDir string // default run working directory

	t         *testing.T
	detach    func()
	closeOnce sync.Once
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	dataDir        string
	tick           time.Duration
	stallThreshold int
	scripts        *ScriptBook
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithDataDir reuses an existing data directory instead of a fresh temp
// dir. Restart tests point a second instance at the first one's directory.
func WithDataDir(dir string) TestAppOption {
	return func(c *testAppConfig) { c.dataDir = dir }
}

// WithTickInterval overrides the scheduler tick (default 20ms in tests).
func WithTickInterval(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.tick = d }
}

// WithStallThreshold overrides the loop-safety repeat threshold.
func WithStallThreshold(n int) TestAppOption {
	return func(c *testAppConfig) { c.stallThreshold = n }
}

// WithScripts injects a pre-filled script book. Sharing one book across
// restarts keeps node scripts available to the second instance.
func WithScripts(book *ScriptBook) TestAppOption {
	return func(c *testAppConfig) { c.scripts = book }
}

// NewTestApp creates and starts a full loom test instance. Shutdown is
// registered via t.Cleanup automatically; restart tests call Stop earlier.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{tick: 20 * time.Millisecond}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.dataDir == "" {
		tc.dataDir = t.TempDir()
	}
	if tc.scripts == nil {
		tc.scripts = NewScriptBook()
	}

	cfg := defaultTestConfig(tc)

	// 1. Store and bus over the data directory.
	bus := events.NewBus()
	st, err := store.NewStore(tc.dataDir, bus)
	require.NoError(t, err)

	// 2. Engine with scripted provider sessions.
	settings := config.NewSettingsStore(tc.dataDir, cfg)
	eng, err := engine.New(cfg, settings, st, tc.scripts.Factory())
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	// 3. WebSocket fanout bridged to the bus.
	connManager := events.NewConnectionManager(st, 5*time.Second, cfg.Engine.CatchupLimit)
	detach := events.AttachBus(bus, connManager)

	// 4. HTTP server on an ephemeral port.
	server := api.NewServer(cfg.Server, eng, connManager)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:      cfg,
		Store:       st,
		Settings:    settings,
		Engine:      eng,
		Scripts:     tc.scripts,
		ConnManager: connManager,
		Server:      server,
		BaseURL:     "http://" + addr,
		WSURL:       "ws://" + addr + "/ws",
		DataDir:     tc.dataDir,
		WorkDir:     t.TempDir(),
		t:           t,
		detach:      detach,
	}

	t.Cleanup(app.Stop)
	return app
}

// Stop shuts the instance down in reverse-creation order. The data
// directory survives, so a follow-up instance can restore from it. Safe to
// call twice; the registered cleanup no-ops after a manual Stop.
func (app *TestApp) Stop() {
	app.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		app.detach()
		if err := app.Engine.Close(); err != nil {
			app.t.Logf("engine close: %v", err)
		}
	})
}

// defaultTestConfig builds a config with a single mock provider and a fast
// scheduler tick. Tests needing more providers or templates extend it
// through options rather than replacing it.
func defaultTestConfig(tc *testAppConfig) *config.Config {
	cfg := &config.Config{
		DataDir:   tc.dataDir,
		Server:    config.DefaultServerConfig(),
		Engine:    config.DefaultEngineConfig(),
		Workspace: config.DefaultWorkspaceConfig(),
		Templates: config.DefaultTemplatesConfig(),
		Retention: config.DefaultRetentionConfig(),
		Defaults:  &config.Defaults{Provider: "mock"},
		Providers: config.NewProviderRegistry(map[string]*config.ProviderSpec{
			"mock": {Type: models.TransportMock},
		}),
	}
	cfg.Templates.Watch = false
	cfg.Engine.TickInterval = tc.tick
	if tc.stallThreshold > 0 {
		cfg.Engine.StallThreshold = tc.stallThreshold
	}
	return cfg
}
