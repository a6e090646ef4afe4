package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weftlab/loom/pkg/models"
)

const recentEventLimit = 20

// EventSummary is a trimmed event reference for dashboard listings.
type EventSummary struct {
	ID    string    `json:"id"`
	RunID string    `json:"runId"`
	Type  string    `json:"type"`
	Ts    time.Time `json:"ts"`
}

// Dashboard is the cross-run aggregate served to cockpit UIs: status
// counts, token totals, pending approvals and the most recent events.
type Dashboard struct {
	Runs             int                       `json:"runs"`
	RunsByStatus     map[models.RunStatus]int  `json:"runsByStatus"`
	Nodes            int                       `json:"nodes"`
	NodesByStatus    map[models.NodeStatus]int `json:"nodesByStatus"`
	PendingApprovals int                       `json:"pendingApprovals"`
	TotalUsage       models.Usage              `json:"totalUsage"`
	RecentEvents     []EventSummary            `json:"recentEvents"`
	UptimeSeconds    int64                     `json:"uptimeSeconds"`
}

// Dashboard builds the aggregate view. Counts come from the in-memory
// projections; event tails are read from each run's log concurrently. A
// run whose tail cannot be read contributes no events instead of failing
// the whole view.
func (e *Engine) Dashboard(ctx context.Context) (*Dashboard, error) {
	runs := e.store.ListRuns()

	d := &Dashboard{
		Runs:          len(runs),
		RunsByStatus:  make(map[models.RunStatus]int),
		NodesByStatus: make(map[models.NodeStatus]int),
		RecentEvents:  []EventSummary{},
		UptimeSeconds: int64(e.Uptime().Seconds()),
	}
	for _, run := range runs {
		d.RunsByStatus[run.Status]++
		d.TotalUsage.Add(run.Usage)
		d.Nodes += len(run.Nodes)
		for _, node := range run.Nodes {
			d.NodesByStatus[node.Status]++
		}
		d.PendingApprovals += len(run.Approvals)
	}

	var mu sync.Mutex
	var recent []EventSummary
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, run := range runs {
		runID := run.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			tail, err := e.store.TailEvents(runID, recentEventLimit)
			if err != nil {
				slog.Debug("Skipping event tail for dashboard",
					"run_id", runID,
					"error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, ev := range tail {
				env := ev.Env()
				recent = append(recent, EventSummary{
					ID:    env.ID,
					RunID: env.RunID,
					Type:  env.Type,
					Ts:    env.Ts,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(recent, func(i, j int) bool {
		if recent[i].Ts.Equal(recent[j].Ts) {
			return recent[i].ID > recent[j].ID
		}
		return recent[i].Ts.After(recent[j].Ts)
	})
	if len(recent) > recentEventLimit {
		recent = recent[:recentEventLimit]
	}
	d.RecentEvents = recent
	return d, nil
}
