package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/events"
	"github.com/weftlab/loom/pkg/models"
)

const (
	// Upper bound for a single protocol line on stdout. Final assistant
	// messages carry whole file contents at times, so this is generous.
	maxLineBytes = 8 * 1024 * 1024

	// Applied when a spec reaches the adapter without a kill grace set
	// (registry specs always carry one).
	killGraceFallback = 2 * time.Second
)

// wireCodec is the protocol half of a CLI session: it parses stdout lines
// into events and encodes engine requests into stdin frames. Frame builders
// are pure; handleLine runs only on the read goroutine.
type wireCodec interface {
	handleLine(line []byte)
	promptFrame(req SendRequest) ([]byte, error)
	approvalFrame(approvalID string, res models.Resolution) ([]byte, error)
	resetFrame(command string) ([]byte, error)
	interruptFrame() ([]byte, error)
}

// CLIAdapter drives one agent subprocess over stdin/stdout. The jsonl and
// stream-json protocols hold a long-lived process for the whole session;
// the raw protocol spawns one process per send and treats its output as
// plain text.
type CLIAdapter struct {
	spec *config.ProviderSpec
	id   Identity
	cwd  string

	onEvent func(events.Event)
	onError func(error)

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	codec       wireCodec
	sessionID   string
	turnID      string
	started     bool
	closing     bool
	interrupted bool

	exited chan struct{}
	stderr *tailBuffer
}

// NewCLIAdapter creates a CLI adapter for spec. cwd becomes the working
// directory of the subprocess; empty means inherit.
func NewCLIAdapter(spec *config.ProviderSpec, id Identity, cwd string) *CLIAdapter {
	return &CLIAdapter{
		spec:   spec,
		id:     id,
		cwd:    cwd,
		stderr: &tailBuffer{limit: 4 * 1024},
	}
}

// OnEvent registers the event listener. Must be called before Start.
func (a *CLIAdapter) OnEvent(fn func(events.Event)) { a.onEvent = fn }

// OnError registers the error listener. Must be called before Start.
func (a *CLIAdapter) OnError(fn func(error)) { a.onError = fn }

// Stateful reports whether the subprocess retains conversation state. The
// raw protocol restarts the process per turn and retains nothing.
func (a *CLIAdapter) Stateful() bool {
	return a.spec.Protocol != models.ProtocolRaw
}

// FencedToolCalls reports whether assistant message bodies may carry fenced
// tool-call lines the engine must extract. Only the stream-json protocol
// does; jsonl carries structured tool calls and raw carries plain text.
func (a *CLIAdapter) FencedToolCalls() bool {
	return a.spec.Protocol == models.ProtocolStreamJSON
}

// SessionID returns the session identifier the provider reported, if any.
func (a *CLIAdapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start spawns the session process. Raw-protocol sessions spawn per send
// instead, so Start only checks the command.
func (a *CLIAdapter) Start(ctx context.Context) error {
	if len(a.spec.Command) == 0 {
		return fmt.Errorf("provider command is empty")
	}
	if a.spec.Protocol == models.ProtocolRaw {
		return nil
	}
	return a.spawn(ctx)
}

func (a *CLIAdapter) spawn(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("provider session already started")
	}

	cmd := exec.Command(a.spec.Command[0], a.spec.Command[1:]...)
	if a.cwd != "" {
		cmd.Dir = a.cwd
	}
	env := os.Environ()
	for k, v := range a.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = a.stderr

	var codec wireCodec
	switch a.spec.Protocol {
	case models.ProtocolStreamJSON:
		codec = newStreamJSONCodec(a)
	default:
		codec = newJSONLCodec(a)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", a.spec.Command[0], err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.codec = codec
	a.started = true
	a.exited = make(chan struct{})

	go a.supervise(cmd, stdout, codec, a.exited)
	return nil
}

// supervise reads stdout to EOF, then reaps the process and reports an
// unexpected exit. Runs for the lifetime of the subprocess.
func (a *CLIAdapter) supervise(cmd *exec.Cmd, stdout io.Reader, codec wireCodec, exited chan struct{}) {
	a.readLoop(stdout, codec)
	err := cmd.Wait()
	close(exited)

	if a.isClosing() {
		return
	}
	name := a.spec.Command[0]
	tail := strings.TrimSpace(a.stderr.String())
	switch {
	case err != nil && tail != "":
		a.emitErr(fmt.Errorf("provider process %q exited: %w (stderr: %s)", name, err, tail))
	case err != nil:
		a.emitErr(fmt.Errorf("provider process %q exited: %w", name, err))
	default:
		a.emitErr(fmt.Errorf("provider process %q exited before close", name))
	}
}

func (a *CLIAdapter) readLoop(r io.Reader, codec wireCodec) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		codec.handleLine(line)
	}
	if err := scanner.Err(); err != nil && !a.isClosing() {
		a.emitErr(fmt.Errorf("read provider output: %w", err))
	}
}

// Send puts one prompt on the wire. For the raw protocol this spawns the
// one-shot process; events stream back asynchronously in both cases.
func (a *CLIAdapter) Send(ctx context.Context, req SendRequest) error {
	a.mu.Lock()
	a.turnID = req.TurnID
	a.interrupted = false
	codec := a.codec
	started := a.started
	a.mu.Unlock()

	if a.spec.Protocol == models.ProtocolRaw {
		go a.runOneShot(ctx, req)
		return nil
	}
	if !started {
		return fmt.Errorf("provider session not started")
	}
	frame, err := codec.promptFrame(req)
	if err != nil {
		return err
	}
	return a.writeLine(frame)
}

// Interrupt ends the current turn early. Protocols with an in-band
// interrupt frame get one; otherwise the process receives SIGINT.
func (a *CLIAdapter) Interrupt(_ context.Context) error {
	a.mu.Lock()
	a.interrupted = true
	codec := a.codec
	cmd := a.cmd
	a.mu.Unlock()

	if codec != nil {
		frame, err := codec.interruptFrame()
		if err == nil && frame != nil {
			if werr := a.writeLine(frame); werr == nil {
				return nil
			}
		}
	}
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Signal(os.Interrupt)
	}
	return nil
}

// ResolveApproval forwards an operator resolution for an approval the
// provider raised itself.
func (a *CLIAdapter) ResolveApproval(_ context.Context, approvalID string, res models.Resolution) error {
	a.mu.Lock()
	codec := a.codec
	a.mu.Unlock()
	if codec == nil {
		return fmt.Errorf("provider session has no approval channel")
	}
	frame, err := codec.approvalFrame(approvalID, res)
	if err != nil {
		return err
	}
	return a.writeLine(frame)
}

// ResetSession replays the provider's configured reset commands into the
// session. Raw sessions carry no state, so there is nothing to clear.
func (a *CLIAdapter) ResetSession(_ context.Context) error {
	if a.spec.Protocol == models.ProtocolRaw {
		return nil
	}
	a.mu.Lock()
	codec := a.codec
	a.mu.Unlock()
	if codec == nil {
		return fmt.Errorf("provider session not started")
	}
	for _, command := range a.spec.ResetCommands {
		frame, err := codec.resetFrame(command)
		if err != nil {
			return err
		}
		if err := a.writeLine(frame); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the subprocess down: stdin is closed so the process can exit
// on its own, and after the kill grace it is killed.
func (a *CLIAdapter) Close() error {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	cmd := a.cmd
	stdin := a.stdin
	exited := a.exited
	a.mu.Unlock()

	if cmd == nil {
		return nil
	}

	var errs []error
	if stdin != nil {
		if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	}

	grace := a.spec.KillGrace
	if grace <= 0 {
		grace = killGraceFallback
	}
	if exited == nil {
		// Raw one-shot still in flight; there is no session to wind down.
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("kill %q: %w", a.spec.Command[0], err))
			}
		}
		return errors.Join(errs...)
	}
	select {
	case <-exited:
	case <-time.After(grace):
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill %q: %w", a.spec.Command[0], err))
		}
		<-exited
	}
	return errors.Join(errs...)
}

// runOneShot executes one raw-protocol turn: spawn, write the prompt,
// stream stdout as text deltas, emit the accumulated text as the final.
func (a *CLIAdapter) runOneShot(ctx context.Context, req SendRequest) {
	// Stateless sessions always get the full prompt.
	text := req.Prompt.Render(models.PromptFull)

	cmd := exec.CommandContext(ctx, a.spec.Command[0], a.spec.Command[1:]...)
	if a.cwd != "" {
		cmd.Dir = a.cwd
	}
	env := os.Environ()
	for k, v := range a.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = a.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.emitErr(fmt.Errorf("stdout pipe: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		a.emitErr(fmt.Errorf("start %q: %w", a.spec.Command[0], err))
		return
	}
	a.mu.Lock()
	a.cmd = cmd
	a.mu.Unlock()

	var out strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			out.WriteString(chunk)
			a.emit(&events.AssistantDelta{NodeID: a.id.NodeID, TurnID: req.TurnID, Delta: chunk})
		}
		if rerr != nil {
			break
		}
	}
	werr := cmd.Wait()

	a.mu.Lock()
	a.cmd = nil
	interrupted := a.interrupted
	a.mu.Unlock()

	a.emit(&events.AssistantFinal{
		NodeID:  a.id.NodeID,
		TurnID:  req.TurnID,
		Content: strings.TrimSpace(out.String()),
	})
	if werr != nil && !interrupted && ctx.Err() == nil && !a.isClosing() {
		tail := strings.TrimSpace(a.stderr.String())
		if tail != "" {
			a.emitErr(fmt.Errorf("provider %q failed: %w (stderr: %s)", a.spec.Command[0], werr, tail))
		} else {
			a.emitErr(fmt.Errorf("provider %q failed: %w", a.spec.Command[0], werr))
		}
	}
}

func (a *CLIAdapter) writeLine(frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stdin == nil {
		return fmt.Errorf("provider session not started")
	}
	if _, err := a.stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write to provider: %w", err)
	}
	return nil
}

func (a *CLIAdapter) setSessionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

func (a *CLIAdapter) currentTurn() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnID
}

func (a *CLIAdapter) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

func (a *CLIAdapter) emit(ev events.Event) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

func (a *CLIAdapter) emitErr(err error) {
	if a.onError != nil {
		a.onError(err)
		return
	}
	slog.Error("Provider error with no listener registered",
		"node_id", a.id.NodeID,
		"error", err)
}

// tailBuffer keeps the last limit bytes written to it. Used to attach the
// end of a subprocess's stderr to exit errors.
type tailBuffer struct {
	limit int

	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
