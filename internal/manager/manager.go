// Package manager implements the worker orchestration core: a registry
// of live workers, a shared concurrency gate bounding in-flight
// executions across all flavors, and uniform dispatch that reports every
// outcome as a WorkerResult.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/foreman/internal/model"
	"github.com/seantiz/foreman/internal/worker"
)

// DefaultTimeout is applied when an execute request carries no timeout.
const DefaultTimeout = 300 * time.Second

// defaultMonitorInterval replaces non-positive Monitor intervals.
const defaultMonitorInterval = time.Second

// Concurrency gate bounds. Out-of-range capacities are clamped, never
// rejected: the host's process/container budget is shared across all
// worker flavors, so the cap is global rather than per-type.
const (
	minConcurrent = 1
	maxConcurrent = 100
)

// WorkerInfo is a point-in-time view of one registered worker.
type WorkerInfo struct {
	WorkerID   string             `json:"worker_id"`
	WorkerType string             `json:"worker_type"`
	Status     model.WorkerStatus `json:"status"`
}

// Manager owns the worker registry and dispatches tasks under the shared
// concurrency gate.
type Manager struct {
	flavors  *worker.Registry
	deps     worker.Deps
	logger   *slog.Logger
	broker   *Broker
	gate     *semaphore.Weighted
	capacity int

	mu      sync.RWMutex
	workers map[string]worker.Worker
}

// New creates a manager. maxConcurrent is clamped to [1,100].
func New(flavors *worker.Registry, deps worker.Deps, maxConcurrent int, logger *slog.Logger) *Manager {
	capacity := clampCapacity(maxConcurrent)

	m := &Manager{
		flavors:  flavors,
		logger:   logger,
		broker:   NewBroker(),
		gate:     semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		workers:  make(map[string]worker.Worker),
	}

	deps.Logger = logger
	deps.Publish = m.broker.Publish
	m.deps = deps

	return m
}

func clampCapacity(n int) int {
	if n < minConcurrent {
		return minConcurrent
	}
	if n > maxConcurrent {
		return maxConcurrent
	}
	return n
}

// Capacity returns the gate's capacity, fixed at construction.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Broker returns the worker output broker for stream subscription.
func (m *Manager) Broker() *Broker {
	return m.broker
}

// Spawn creates, starts, and registers count workers of the given type,
// returning their freshly generated ids. The operation is all-or-nothing:
// an unknown type or a failed start leaves zero new workers registered.
func (m *Manager) Spawn(ctx context.Context, workerType string, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", worker.ErrInvalidArgument)
	}

	ctor, err := m.flavors.Resolve(workerType)
	if err != nil {
		return nil, err
	}

	created := make([]worker.Worker, 0, count)
	rollback := func() {
		for _, w := range created {
			if stopErr := w.Stop(ctx); stopErr != nil {
				m.logger.Error("failed to stop worker during spawn rollback",
					"worker_id", w.ID(), "error", stopErr)
			}
		}
	}

	for i := 0; i < count; i++ {
		w, err := ctor(model.NewID(), m.deps)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("construct %s worker: %w", workerType, err)
		}
		if err := w.Start(ctx); err != nil {
			created = append(created, w)
			rollback()
			return nil, fmt.Errorf("start %s worker: %w", workerType, err)
		}
		created = append(created, w)
	}

	ids := make([]string, 0, count)
	m.mu.Lock()
	for _, w := range created {
		m.workers[w.ID()] = w
		ids = append(ids, w.ID())
	}
	registeredWorkers.Set(float64(len(m.workers)))
	m.mu.Unlock()

	workersSpawned.WithLabelValues(workerType).Add(float64(count))
	m.logger.Info("workers spawned", "worker_type", workerType, "count", count)

	return ids, nil
}

// lookup resolves a worker id against the registry.
func (m *Manager) lookup(workerID string) (worker.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", worker.ErrWorkerNotFound, workerID)
	}
	return w, nil
}

// Execute dispatches one task to the given worker. The caller suspends
// while awaiting a free gate slot — this is the system's primary
// backpressure mechanism — and the slot is released unconditionally in
// every outcome.
func (m *Manager) Execute(ctx context.Context, workerID, task string, timeout time.Duration) (*model.WorkerResult, error) {
	w, err := m.lookup(workerID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	gateWait := time.Now()
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire gate slot: %w", err)
	}
	gateWaitDuration.Observe(time.Since(gateWait).Seconds())
	executionsInFlight.Inc()
	defer func() {
		executionsInFlight.Dec()
		m.gate.Release(1)
	}()

	res, err := w.Execute(ctx, task, timeout)
	if err != nil {
		return nil, err
	}

	executionsTotal.WithLabelValues(w.Type(), string(res.Status)).Inc()
	executionDuration.WithLabelValues(w.Type()).Observe(res.DurationSeconds)

	return res, nil
}

// ExecuteBatch dispatches all id/task pairs concurrently, each bound by
// the shared gate, and returns results in input order regardless of
// completion order. A failing or timing-out element is represented as a
// failed/timeout entry at its position; it never aborts the batch.
func (m *Manager) ExecuteBatch(ctx context.Context, workerIDs []string, tasks []string, timeout time.Duration) ([]*model.WorkerResult, error) {
	if len(workerIDs) != len(tasks) {
		return nil, fmt.Errorf("%w: %d ids, %d tasks", worker.ErrLengthMismatch, len(workerIDs), len(tasks))
	}

	// All ids must resolve before anything is dispatched.
	for _, id := range workerIDs {
		if _, err := m.lookup(id); err != nil {
			return nil, err
		}
	}

	results := make([]*model.WorkerResult, len(workerIDs))
	var wg sync.WaitGroup
	for i := range workerIDs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Execute(ctx, workerIDs[i], tasks[i], timeout)
			if err != nil {
				// Structural failures (busy worker, canceled gate wait)
				// become failed entries so the batch stays whole.
				now := time.Now().UTC()
				res = &model.WorkerResult{
					WorkerID:    workerIDs[i],
					Status:      model.StatusFailed,
					Error:       err.Error(),
					StartedAt:   now,
					CompletedAt: &now,
				}
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	return results, nil
}

// Monitor emits a status snapshot of the given workers every interval
// until ctx is done. Unknown ids are omitted from snapshots. The stream
// is infinite and caller-terminated; a fresh call starts a fresh stream.
func (m *Manager) Monitor(ctx context.Context, workerIDs []string, interval time.Duration) <-chan map[string]model.WorkerStatus {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	ch := make(chan map[string]model.WorkerStatus, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		emit := func() bool {
			snapshot := make(map[string]model.WorkerStatus, len(workerIDs))
			m.mu.RLock()
			for _, id := range workerIDs {
				if w, ok := m.workers[id]; ok {
					snapshot[id] = w.Status()
				}
			}
			m.mu.RUnlock()

			select {
			case ch <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !emit() {
					return
				}
			}
		}
	}()

	return ch
}

// List returns a snapshot of all registered workers, sorted by id.
func (m *Manager) List() []WorkerInfo {
	m.mu.RLock()
	infos := make([]WorkerInfo, 0, len(m.workers))
	for id, w := range m.workers {
		infos = append(infos, WorkerInfo{
			WorkerID:   id,
			WorkerType: w.Type(),
			Status:     w.Status(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].WorkerID < infos[j].WorkerID
	})
	return infos
}

// Info returns the snapshot for one worker.
func (m *Manager) Info(workerID string) (WorkerInfo, error) {
	w, err := m.lookup(workerID)
	if err != nil {
		return WorkerInfo{}, err
	}
	return WorkerInfo{
		WorkerID:   workerID,
		WorkerType: w.Type(),
		Status:     w.Status(),
	}, nil
}

// Close stops and deregisters one worker. The id is invalid afterwards.
func (m *Manager) Close(ctx context.Context, workerID string) error {
	m.mu.Lock()
	w, ok := m.workers[workerID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", worker.ErrWorkerNotFound, workerID)
	}
	delete(m.workers, workerID)
	registeredWorkers.Set(float64(len(m.workers)))
	m.mu.Unlock()

	if err := w.Stop(ctx); err != nil {
		m.logger.Error("failed to stop worker", "worker_id", workerID, "error", err)
	}
	m.broker.Close(workerID)

	m.logger.Info("worker closed", "worker_id", workerID)
	return nil
}

// CloseAll stops and deregisters every worker, best-effort: a failure
// stopping one worker is logged and does not prevent the rest from
// being stopped and deregistered. The registry is always empty on return.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	closing := make([]worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		closing = append(closing, w)
	}
	m.workers = make(map[string]worker.Worker)
	registeredWorkers.Set(0)
	m.mu.Unlock()

	for _, w := range closing {
		if err := w.Stop(ctx); err != nil {
			m.logger.Error("failed to stop worker", "worker_id", w.ID(), "error", err)
		}
		m.broker.Close(w.ID())
	}

	m.logger.Info("all workers closed", "count", len(closing))
}
