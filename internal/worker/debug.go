package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/foreman/internal/model"
	"github.com/seantiz/foreman/internal/store"
)

const (
	// defaultCaptureInterval is how often the monitor snapshots its pane.
	defaultCaptureInterval = 5 * time.Second

	// defaultHistoryLimit bounds the in-memory capture ring in local-only mode.
	defaultHistoryLimit = 32
)

// CaptureFunc grabs the visible contents of a terminal target.
type CaptureFunc func(ctx context.Context, target string) (string, error)

// DebugConfig parameterizes the debug monitor flavor.
type DebugConfig struct {
	// Target is the tmux pane to observe, e.g. "agents:0.1".
	Target string

	Interval     time.Duration
	HistoryLimit int

	// Capture overrides the snapshot mechanism; nil means tmux capture-pane.
	Capture CaptureFunc
}

// DebugMonitorWorker passively observes an existing terminal session,
// periodically capturing its visible output and forwarding snapshots to
// the persistence collaborator. It cannot execute tasks. When tmux or
// the collaborator is unavailable it degrades to a local-only mode that
// keeps a bounded in-memory capture history.
type DebugMonitorWorker struct {
	id      string
	cfg     DebugConfig
	logger  *slog.Logger
	results store.ResultStore
	pub     PublishFunc
	capture CaptureFunc

	mu        sync.Mutex
	status    model.WorkerStatus
	localOnly bool
	history   []string
	seq       int
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDebugMonitorWorker constructs a debug monitor worker. It satisfies
// the registry Constructor signature.
func NewDebugMonitorWorker(id string, deps Deps) (Worker, error) {
	cfg := deps.Debug
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, fmt.Errorf("%w: debug target pane is required", ErrInvalidArgument)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCaptureInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &DebugMonitorWorker{
		id:      id,
		cfg:     cfg,
		logger:  deps.Logger.With("worker_id", id, "worker_type", TypeDebug),
		results: deps.Results,
		pub:     deps.Publish,
		capture: cfg.Capture,
		status:  model.StatusPending,
	}, nil
}

func (w *DebugMonitorWorker) ID() string   { return w.id }
func (w *DebugMonitorWorker) Type() string { return TypeDebug }

// Status returns the worker's current lifecycle state.
func (w *DebugMonitorWorker) Status() model.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Start begins the capture loop. It degrades gracefully rather than
// failing hard: a missing tmux binary or absent persistence collaborator
// leaves the worker running in local-only mode.
func (w *DebugMonitorWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.status = model.StatusStarting

	if w.capture == nil {
		if _, err := exec.LookPath("tmux"); err != nil {
			w.logger.Warn("tmux not found, captures disabled", "error", err)
			w.capture = func(context.Context, string) (string, error) {
				return "", fmt.Errorf("tmux unavailable")
			}
			w.localOnly = true
		} else {
			w.capture = tmuxCapture
		}
	}
	if w.results == nil {
		w.localOnly = true
	}
	if w.localOnly {
		w.logger.Info("debug monitor running in local-only capture mode")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.status = model.StatusRunning
	w.mu.Unlock()

	go w.captureLoop(loopCtx)

	w.logger.Info("debug monitor started", "target", w.cfg.Target, "interval", w.cfg.Interval)
	return nil
}

// tmuxCapture snapshots the visible contents of a tmux pane.
func tmuxCapture(ctx context.Context, target string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", "capture-pane", "-p", "-t", target).Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w", target, err)
	}
	return string(out), nil
}

func (w *DebugMonitorWorker) captureLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.captureOnce(ctx)
		}
	}
}

func (w *DebugMonitorWorker) captureOnce(ctx context.Context) {
	content, err := w.capture(ctx, w.cfg.Target)
	if err != nil {
		w.logger.Debug("capture failed", "error", err)
		return
	}

	w.mu.Lock()
	seq := w.seq
	w.seq++
	w.history = append(w.history, content)
	if len(w.history) > w.cfg.HistoryLimit {
		w.history = w.history[len(w.history)-w.cfg.HistoryLimit:]
	}
	localOnly := w.localOnly
	w.mu.Unlock()

	if w.pub != nil {
		w.pub(w.id, SourceCapture, content)
	}

	if localOnly {
		return
	}
	if err := w.results.InsertCapture(ctx, w.id, seq, content); err != nil {
		w.logger.Error("failed to persist capture", "seq", seq, "error", err)
	}
}

// History returns the in-memory capture ring, oldest first.
func (w *DebugMonitorWorker) History() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.history))
	copy(out, w.history)
	return out
}

// Execute always fails: the debug monitor is a passive observer and
// never transitions to completed for any input.
func (w *DebugMonitorWorker) Execute(ctx context.Context, task string, timeout time.Duration) (*model.WorkerResult, error) {
	return nil, fmt.Errorf("%w: debug monitor workers do not execute tasks", ErrUnsupportedOperation)
}

// Stop cancels the capture loop. Idempotent and safe before Start.
func (w *DebugMonitorWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	cancel := w.cancel
	done := w.done
	if model.ValidTransition(w.status, model.StatusStopped) {
		w.status = model.StatusStopped
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	w.logger.Info("debug monitor stopped")
	return nil
}
