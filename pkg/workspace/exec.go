package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// defaultCommandTimeout bounds commands whose caller does not set one.
	defaultCommandTimeout = 10 * time.Minute

	// defaultMaxOutput caps captured stdout and stderr per stream.
	defaultMaxOutput = 512 * 1024
)

// CmdResult captures one command execution. Stdout and Stderr are truncated
// at the configured output cap with a marker noting the dropped byte count.
type CmdResult struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecOptions adjust one RunCommand invocation. Zero values fall back to
// the package defaults.
type ExecOptions struct {
	Env            map[string]string
	Timeout        time.Duration
	MaxOutputBytes int
}

// RunCommand executes cmd with the shell in the workspace root. A non-zero
// exit is reported through ExitCode, not the error; the error is reserved
// for spawn failures, timeouts and cancellation. Partial output is retained
// in all cases.
func (w *Workspace) RunCommand(ctx context.Context, cmd string, opts ExecOptions) (*CmdResult, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, errors.New("cmd is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	limit := opts.MaxOutputBytes
	if limit <= 0 {
		limit = defaultMaxOutput
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proc := exec.CommandContext(ctx, "/bin/bash", "-lc", cmd)
	proc.Dir = w.root
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	proc.Env = env

	stdout := &headBuffer{limit: limit}
	stderr := &headBuffer{limit: limit}
	proc.Stdout = stdout
	proc.Stderr = stderr

	start := time.Now()
	err := proc.Run()
	res := &CmdResult{
		Cmd:      cmd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("command timed out after %s", timeout)
	case ctx.Err() != nil:
		return res, fmt.Errorf("command canceled: %w", ctx.Err())
	default:
		return res, fmt.Errorf("run command: %w", err)
	}
}

// headBuffer keeps the first limit bytes written and discards the rest,
// tracking how much was dropped. Each exec stream gets its own instance, so
// no locking is needed.
type headBuffer struct {
	limit   int
	buf     []byte
	dropped int64
}

func (b *headBuffer) Write(p []byte) (int, error) {
	n := len(p)
	take := min(b.limit-len(b.buf), n)
	if take > 0 {
		b.buf = append(b.buf, p[:take]...)
	} else {
		take = 0
	}
	b.dropped += int64(n - take)
	return n, nil
}

func (b *headBuffer) String() string {
	if b.dropped <= 0 {
		return string(b.buf)
	}
	return fmt.Sprintf("%s\n[truncated %d bytes]", b.buf, b.dropped)
}
