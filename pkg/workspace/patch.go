package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotGitRepo is returned by git operations when the workspace root has
// no .git directory.
var ErrNotGitRepo = errors.New("workspace is not a git repository")

const (
	applyTimeout = 60 * time.Second
	gitTimeout   = 10 * time.Second
)

// PatchResult captures one git apply attempt.
type PatchResult struct {
	Applied bool
	Stdout  string
	Stderr  string
}

// ApplyDiff pipes a unified diff through git apply. Whitespace warnings are
// suppressed so model-produced patches are not rejected for trailing blanks.
// timeout <= 0 applies the default.
func (w *Workspace) ApplyDiff(ctx context.Context, diff string, timeout time.Duration) (*PatchResult, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, errors.New("diff is empty")
	}
	if !w.isGitRepo() {
		return nil, ErrNotGitRepo
	}
	if timeout <= 0 {
		timeout = applyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proc := exec.CommandContext(ctx, "git", "apply", "--whitespace=nowarn", "-")
	proc.Dir = w.root
	proc.Stdin = strings.NewReader(diff)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	err := proc.Run()
	res := &PatchResult{
		Applied: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("git apply timed out after %s", timeout)
		}
		return res, fmt.Errorf("git apply: %w", err)
	}
	return res, nil
}

// Diff returns the tracked-file diff, or "" when the workspace is not a git
// repository.
func (w *Workspace) Diff(ctx context.Context) (string, error) {
	if !w.isGitRepo() {
		return "", nil
	}
	res, err := w.RunCommand(ctx, "git diff", ExecOptions{Timeout: gitTimeout})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git diff failed: %s", strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (w *Workspace) isGitRepo() bool {
	info, err := os.Stat(filepath.Join(w.root, ".git"))
	return err == nil && info.IsDir()
}
