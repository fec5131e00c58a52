package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/seantiz/foreman/internal/model"
	"github.com/seantiz/foreman/internal/store"
)

const (
	// defaultGracePeriod is how long Stop waits after SIGTERM before
	// force-killing the subprocess.
	defaultGracePeriod = 3 * time.Second

	// lineBufferSize is the channel buffer between the stdout reader
	// goroutine and the execute loop.
	lineBufferSize = 64

	// maxLineSize caps a single stdout line at 1 MiB.
	maxLineSize = 1 << 20
)

// TerminalConfig parameterizes the subprocess per agent flavor. The task
// text is written to the process's stdin; the command template itself
// carries no task placeholder.
type TerminalConfig struct {
	Command     string
	Args        []string
	Env         []string
	Dir         string
	GracePeriod time.Duration
}

// TerminalWorker drives an interactive agent CLI subprocess, feeding
// tasks to its stdin and parsing streamed JSON chunks from its stdout.
type TerminalWorker struct {
	id      string
	cfg     TerminalConfig
	logger  *slog.Logger
	results store.ResultStore
	pub     PublishFunc

	// execMu enforces task-serial execution: a second Execute while one
	// is in flight would interleave reads on the shared stdout stream.
	execMu sync.Mutex

	mu         sync.Mutex
	status     model.WorkerStatus
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *bytes.Buffer
	exitErr    error
	stopped    bool
	lines      chan string
	procDone   chan struct{}
	quit       chan struct{}
	quitClosed bool
}

// NewTerminalWorker constructs a terminal AI worker. It satisfies the
// registry Constructor signature.
func NewTerminalWorker(id string, deps Deps) (Worker, error) {
	cfg := deps.Terminal
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: terminal command is required", ErrInvalidArgument)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &TerminalWorker{
		id:      id,
		cfg:     cfg,
		logger:  deps.Logger.With("worker_id", id, "worker_type", TypeTerminal),
		results: deps.Results,
		pub:     deps.Publish,
		status:  model.StatusPending,
	}, nil
}

func (w *TerminalWorker) ID() string   { return w.id }
func (w *TerminalWorker) Type() string { return TypeTerminal }

// Status returns the worker's current lifecycle state.
func (w *TerminalWorker) Status() model.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// setStatus applies a transition if it is allowed; invalid transitions
// (such as leaving a terminal state) are ignored.
func (w *TerminalWorker) setStatus(to model.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if model.ValidTransition(w.status, to) {
		w.status = to
	}
}

// Start spawns the subprocess and begins consuming its stdout.
func (w *TerminalWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cmd != nil {
		w.mu.Unlock()
		return nil
	}
	w.status = model.StatusStarting

	cmd := exec.Command(w.cfg.Command, w.cfg.Args...)
	cmd.Env = w.cfg.Env
	cmd.Dir = w.cfg.Dir
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.status = model.StatusFailed
		w.mu.Unlock()
		return fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.status = model.StatusFailed
		w.mu.Unlock()
		return fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		w.status = model.StatusFailed
		w.mu.Unlock()
		return fmt.Errorf("%w: launch %q: %w", ErrSpawnFailed, w.cfg.Command, err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stderr = stderr
	w.lines = make(chan string, lineBufferSize)
	w.procDone = make(chan struct{})
	w.quit = make(chan struct{})
	w.status = model.StatusRunning
	w.mu.Unlock()

	go w.readOutput(stdout)

	w.logger.Info("terminal worker started", "command", w.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// readOutput scans subprocess stdout into the line channel, then reaps
// the process. The channel close is the in-band EOF signal for Execute.
// The send selects on quit so a full buffer with no Execute draining it
// (a process that keeps emitting after its completion marker) cannot
// pin this goroutine past Stop.
func (w *TerminalWorker) readOutput(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
scan:
	for scanner.Scan() {
		select {
		case w.lines <- scanner.Text():
		case <-w.quit:
			break scan
		}
	}

	err := w.cmd.Wait()
	w.mu.Lock()
	w.exitErr = err
	w.mu.Unlock()

	close(w.procDone)
	close(w.lines)
}

// Execute sends one task to the subprocess and consumes the streamed
// response until a completion marker, the timeout, or process exit.
func (w *TerminalWorker) Execute(ctx context.Context, task string, timeout time.Duration) (*model.WorkerResult, error) {
	if !w.execMu.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrWorkerBusy, w.id)
	}
	defer w.execMu.Unlock()

	w.mu.Lock()
	stdin := w.stdin
	lines := w.lines
	w.mu.Unlock()
	if stdin == nil || lines == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, w.id)
	}

	started := time.Now().UTC()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var content strings.Builder
	malformed := 0

	finish := func(status model.WorkerStatus, errText string) *model.WorkerResult {
		completed := time.Now().UTC()
		r := &model.WorkerResult{
			WorkerID:        w.id,
			Status:          status,
			Content:         content.String(),
			Error:           errText,
			StartedAt:       started,
			CompletedAt:     &completed,
			DurationSeconds: completed.Sub(started).Seconds(),
			Metadata: map[string]string{
				"malformed_chunks": strconv.Itoa(malformed),
			},
		}
		persistResult(w.logger, w.results, TypeTerminal, r)
		return r
	}

	if _, err := io.WriteString(stdin, task+"\n"); err != nil {
		w.setStatus(model.StatusFailed)
		return finish(model.StatusFailed, fmt.Sprintf("write task: %v", err)), nil
	}

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				// Forcibly terminate; accumulated content is never discarded.
				w.terminate()
				w.setStatus(model.StatusTimeout)
				w.logger.Warn("task timed out", "timeout", timeout)
				return finish(model.StatusTimeout, fmt.Sprintf("task timed out after %s", timeout)), nil
			}
			w.terminate()
			w.setStatus(model.StatusFailed)
			return finish(model.StatusFailed, "execution canceled"), nil

		case line, ok := <-lines:
			if !ok {
				// Subprocess exited before signaling completion.
				errText := w.exitText()
				w.setStatus(model.StatusFailed)
				w.logger.Warn("process exited before completion marker", "error", errText)
				return finish(model.StatusFailed, errText), nil
			}

			if w.pub != nil {
				w.pub(w.id, SourceStdout, line)
			}

			chunk, ok := ParseChunk([]byte(line))
			if !ok {
				malformed++
				continue
			}

			content.WriteString(ExtractContent(chunk))

			if IsComplete(chunk) {
				w.setStatus(model.StatusCompleted)
				return finish(model.StatusCompleted, ""), nil
			}
		}
	}
}

// exitText describes how the subprocess died, including captured stderr.
func (w *TerminalWorker) exitText() string {
	w.mu.Lock()
	exitErr := w.exitErr
	var stderrText string
	if w.stderr != nil {
		stderrText = strings.TrimSpace(w.stderr.String())
	}
	w.mu.Unlock()

	msg := "process exited before completion marker"
	if exitErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, exitErr)
	}
	if stderrText != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderrText)
	}
	return msg
}

// closeQuit releases the reader goroutine from a blocked send. Safe to
// call more than once.
func (w *TerminalWorker) closeQuit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.quit != nil && !w.quitClosed {
		close(w.quit)
		w.quitClosed = true
	}
}

// terminate force-kills the subprocess without waiting for grace.
func (w *TerminalWorker) terminate() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	w.closeQuit()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		w.logger.Debug("kill process", "error", err)
	}
}

// Stop sends SIGTERM, waits for the grace period, then force-kills.
// It is idempotent and never returns an error for a dead process.
func (w *TerminalWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	cmd := w.cmd
	stdin := w.stdin
	procDone := w.procDone
	w.mu.Unlock()

	defer w.setStatus(model.StatusStopped)

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// Unblock the reader so procDone can close once the process exits.
	w.closeQuit()

	if stdin != nil {
		_ = stdin.Close()
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	select {
	case <-procDone:
	case <-time.After(w.cfg.GracePeriod):
		w.logger.Warn("grace period elapsed, force-killing")
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}

	w.logger.Info("terminal worker stopped")
	return nil
}
