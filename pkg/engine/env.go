package engine

import (
	"context"
	"fmt"

	"github.com/weftlab/loom/pkg/models"
	"github.com/weftlab/loom/pkg/runner"
	"github.com/weftlab/loom/pkg/tools"
	"github.com/weftlab/loom/pkg/workspace"
)

// The engine is the runner's execution environment: it binds each run's
// working directory to a workspace and tool executor on first use and
// caches the binding until the run stops or is deleted.

// Executor returns the tool executor bound to the run's workspace.
func (e *Engine) Executor(run *models.Run) (runner.ToolExecutor, error) {
	rw, err := e.workspaceFor(run)
	if err != nil {
		return nil, err
	}
	return rw.exec, nil
}

// WorkspaceContext gathers the workspace survey rendered into full
// prompts. Runs without a working directory get none.
func (e *Engine) WorkspaceContext(ctx context.Context, run *models.Run) string {
	if run.Cwd == "" {
		return ""
	}
	rw, err := e.workspaceFor(run)
	if err != nil {
		return ""
	}
	return rw.ws.Context(ctx)
}

// Diff returns the workspace's uncommitted changes. Runs without a working
// directory have no diff; that is not an error.
func (e *Engine) Diff(ctx context.Context, run *models.Run) (string, error) {
	if run.Cwd == "" {
		return "", nil
	}
	rw, err := e.workspaceFor(run)
	if err != nil {
		return "", err
	}
	return rw.ws.Diff(ctx)
}

// workspaceFor returns the run's cached workspace binding, creating it on
// first use. A stale binding (the run's cwd changed) is replaced.
func (e *Engine) workspaceFor(run *models.Run) (*runWorkspace, error) {
	if run.Cwd == "" {
		return nil, fmt.Errorf("run %s has no working directory", run.ID)
	}

	e.mu.Lock()
	if rw, ok := e.envs[run.ID]; ok && rw.cwd == run.Cwd {
		e.mu.Unlock()
		return rw, nil
	}
	e.mu.Unlock()

	ws, err := workspace.New(run.Cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	exec, err := tools.NewExecutor(ws, graphOps{e}, e.masker, e.cfg.Workspace)
	if err != nil {
		return nil, err
	}

	rw := &runWorkspace{cwd: run.Cwd, ws: ws, exec: exec}
	e.mu.Lock()
	if existing, ok := e.envs[run.ID]; ok && existing.cwd == run.Cwd {
		// Lost a create race; keep the first binding.
		e.mu.Unlock()
		return existing, nil
	}
	e.envs[run.ID] = rw
	e.mu.Unlock()
	return rw, nil
}
