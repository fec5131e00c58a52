// Package worker defines the worker contract and its three flavors: a
// subprocess-backed terminal AI worker that parses a streamed-JSON
// protocol, a container-backed worker that tracks completion through an
// out-of-band socket notification, and a passive debug monitor that
// observes an existing terminal session.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/foreman/internal/model"
	"github.com/seantiz/foreman/internal/store"
)

// Worker is an external execution unit running at most one task at a time.
// Concrete flavors are registered in a Registry by type tag; the contract
// is never instantiated directly.
type Worker interface {
	// ID returns the worker's unique identifier, generated at spawn.
	ID() string

	// Type returns the flavor tag the worker was registered under.
	Type() string

	// Start brings up the underlying process or container.
	Start(ctx context.Context) error

	// Execute runs one task bounded by timeout and returns its outcome.
	// Task-level failure and timeout are reported inside the result, not
	// as an error; errors are reserved for structural problems such as a
	// busy worker or an unstarted process.
	Execute(ctx context.Context, task string, timeout time.Duration) (*model.WorkerResult, error)

	// Stop tears down the underlying process or container. It is
	// idempotent and safe to call from any status, including before Start.
	Stop(ctx context.Context) error

	// Status returns the worker's current lifecycle state.
	Status() model.WorkerStatus
}

// Output source tags, carried with every published line so stream
// consumers can tell agent stdout from exec output and pane captures.
const (
	SourceStdout  = "stdout"
	SourceExec    = "exec"
	SourceCapture = "capture"
)

// PublishFunc delivers one line of worker output, tagged with its
// source, to stream subscribers.
type PublishFunc func(workerID, source, line string)

// Deps carries the collaborators and flavor configuration shared by all
// worker constructors. Results and Publish may be nil; workers degrade to
// best-effort when they are.
type Deps struct {
	Logger  *slog.Logger
	Results store.ResultStore
	Publish PublishFunc

	Terminal  TerminalConfig
	Container ContainerConfig
	Debug     DebugConfig
}

// persistResult writes a result to the persistence collaborator,
// best-effort. Store failures are logged and never propagate to the
// execution path.
func persistResult(logger *slog.Logger, results store.ResultStore, workerType string, r *model.WorkerResult) {
	if results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta := map[string]string{"worker_type": workerType}
	if err := results.SaveResult(ctx, r.WorkerID, r, meta); err != nil {
		logger.Error("failed to persist result", "worker_id", r.WorkerID, "error", err)
	}
}
