// Package cleanup provides data retention for run directories.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/store"
)

// Service periodically prunes stopped and failed runs older than the
// configured retention window. Active runs are never touched. Deletion
// goes through the store so the projection and the on-disk directory
// stay consistent.
type Service struct {
	config *config.RetentionConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, st *store.Store) *Service {
	return &Service{
		config: cfg,
		store:  st,
		now:    time.Now,
	}
}

// Start launches the background cleanup loop. A disabled config makes
// Start (and the matching Stop) a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Enabled {
		slog.Info("Cleanup service disabled")
		return
	}
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention_days", s.config.RunRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.pruneOldRuns(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOldRuns(ctx)
		}
	}
}

// pruneOldRuns deletes terminal runs whose last activity predates the
// retention window.
func (s *Service) pruneOldRuns(ctx context.Context) {
	count := 0
	for _, run := range s.store.ListRuns() {
		if !s.expired(run) {
			continue
		}
		if err := s.store.DeleteRun(ctx, run.ID); err != nil {
			slog.Error("Retention: failed to delete run", "run_id", run.ID, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("Retention: pruned old runs", "count", count)
	}
}

// expired reports whether a run is terminal and past the retention window.
func (s *Service) expired(run *models.Run) bool {
	cutoff := s.now().Add(-time.Duration(s.config.RunRetentionDays) * 24 * time.Hour)
	return run.Status.IsTerminal() && !run.UpdatedAt.After(cutoff)
}
