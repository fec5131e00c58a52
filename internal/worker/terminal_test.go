package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/foreman/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newShellWorker builds a started terminal worker whose subprocess runs
// the given shell script. The script reads one task line from stdin.
func newShellWorker(t *testing.T, script string) *TerminalWorker {
	t.Helper()
	wk, err := NewTerminalWorker(model.NewID(), Deps{
		Logger: testLogger(),
		Terminal: TerminalConfig{
			Command:     "/bin/sh",
			Args:        []string{"-c", script},
			GracePeriod: 200 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewTerminalWorker: %v", err)
	}
	w := wk.(*TerminalWorker)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestTerminalExecuteCompleted(t *testing.T) {
	w := newShellWorker(t, `read task
printf '%s\n' '{"delta":{"content":"hel"}}' 'not json' '{"text":"lo"}' '{"done":true}'
read hold`)

	res, err := w.Execute(context.Background(), "do the thing", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
	if res.Content != "hello" {
		t.Errorf("Content = %q, want %q", res.Content, "hello")
	}
	if !res.IsSuccess() {
		t.Error("IsSuccess() = false for completed result")
	}
	if res.Metadata["malformed_chunks"] != "1" {
		t.Errorf("malformed_chunks = %q, want %q", res.Metadata["malformed_chunks"], "1")
	}
	if w.Status() != model.StatusCompleted {
		t.Errorf("worker status = %s, want completed", w.Status())
	}
}

func TestTerminalExecuteTimeout(t *testing.T) {
	w := newShellWorker(t, `read task
printf '%s\n' '{"text":"partial"}'
sleep 30`)

	res, err := w.Execute(context.Background(), "task", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != model.StatusTimeout {
		t.Errorf("Status = %s, want timeout (not failed)", res.Status)
	}
	// Accumulated content is retained on timeout.
	if res.Content != "partial" {
		t.Errorf("Content = %q, want %q", res.Content, "partial")
	}
}

func TestTerminalExecuteProcessExit(t *testing.T) {
	w := newShellWorker(t, `read task
printf '%s\n' '{"text":"x"}'
echo oops >&2
exit 3`)

	res, err := w.Execute(context.Background(), "task", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if res.Content != "x" {
		t.Errorf("Content = %q, want partial content retained", res.Content)
	}
	if res.Error == "" {
		t.Error("Error should carry exit details")
	}
}

func TestTerminalExecuteBusy(t *testing.T) {
	w := newShellWorker(t, `read task
sleep 30`)

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Execute(context.Background(), "slow", 2*time.Second)
		errCh <- err
	}()

	// Give the first call time to take the single-flight lock.
	time.Sleep(100 * time.Millisecond)

	_, err := w.Execute(context.Background(), "second", time.Second)
	if !errors.Is(err, ErrWorkerBusy) {
		t.Errorf("second Execute error = %v, want ErrWorkerBusy", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("first Execute: %v", err)
	}
}

func TestTerminalSpawnError(t *testing.T) {
	wk, err := NewTerminalWorker(model.NewID(), Deps{
		Logger:   testLogger(),
		Terminal: TerminalConfig{Command: "/no/such/binary"},
	})
	if err != nil {
		t.Fatalf("NewTerminalWorker: %v", err)
	}

	err = wk.Start(context.Background())
	if !errors.Is(err, ErrSpawnFailed) {
		t.Errorf("Start error = %v, want ErrSpawnFailed", err)
	}
	if wk.Status() != model.StatusFailed {
		t.Errorf("status = %s, want failed", wk.Status())
	}
}

func TestTerminalExecuteBeforeStart(t *testing.T) {
	wk, err := NewTerminalWorker(model.NewID(), Deps{
		Logger:   testLogger(),
		Terminal: TerminalConfig{Command: "/bin/sh"},
	})
	if err != nil {
		t.Fatalf("NewTerminalWorker: %v", err)
	}

	_, err = wk.Execute(context.Background(), "task", time.Second)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Execute error = %v, want ErrNotRunning", err)
	}
}

func TestTerminalStopAfterOutputFlood(t *testing.T) {
	// The process keeps emitting long after its completion marker, far
	// past the reader's channel buffer, with no Execute left to drain it.
	w := newShellWorker(t, `read task
echo '{"done":true}'
i=0
while [ $i -lt 200 ]; do echo '{"delta":{"content":"x"}}'; i=$((i+1)); done
sleep 30`)

	res, err := w.Execute(context.Background(), "task", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}

	// Let the flood fill the line buffer and block the reader's send.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= w.cfg.GracePeriod {
		t.Errorf("Stop took %s, should not exhaust the %s grace period", elapsed, w.cfg.GracePeriod)
	}

	// The reader goroutine reached Wait and exited.
	select {
	case <-w.procDone:
	case <-time.After(time.Second):
		t.Error("reader goroutine still alive after Stop")
	}
}

func TestTerminalStopIdempotent(t *testing.T) {
	w := newShellWorker(t, `read task`)

	for i := 0; i < 3; i++ {
		if err := w.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if w.Status() != model.StatusStopped {
		t.Errorf("status = %s, want stopped", w.Status())
	}
}

func TestTerminalStopBeforeStart(t *testing.T) {
	wk, err := NewTerminalWorker(model.NewID(), Deps{
		Logger:   testLogger(),
		Terminal: TerminalConfig{Command: "/bin/sh"},
	})
	if err != nil {
		t.Fatalf("NewTerminalWorker: %v", err)
	}
	if err := wk.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if wk.Status() != model.StatusStopped {
		t.Errorf("status = %s, want stopped", wk.Status())
	}
}
