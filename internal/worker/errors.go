package worker

import "errors"

// Structural errors. These are returned synchronously with zero side
// effects, before any process or container is touched. Per-task outcomes
// (failure, timeout) are never surfaced as errors — they are encoded in
// the WorkerResult so batch dispatch can't be aborted by one bad element.
var (
	// ErrWorkerBusy is returned when Execute is called on a worker that
	// already has a task in flight.
	ErrWorkerBusy = errors.New("worker busy")

	// ErrWorkerNotFound is returned when a worker id does not resolve to a
	// registered worker.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrUnknownWorkerType is returned by spawn for an unregistered type tag.
	ErrUnknownWorkerType = errors.New("unknown worker type")

	// ErrLengthMismatch is returned by batch dispatch when the id and task
	// lists differ in length.
	ErrLengthMismatch = errors.New("worker ids and tasks length mismatch")

	// ErrInvalidArgument is returned for malformed task input, such as an
	// empty container command.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedOperation is returned by workers that cannot execute
	// tasks, such as the debug monitor.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrSpawnFailed wraps subprocess launch failures.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrContainerStart wraps container create/start failures.
	ErrContainerStart = errors.New("container start failed")

	// ErrNotRunning is returned when Execute is called on a worker whose
	// underlying process or container was never started.
	ErrNotRunning = errors.New("worker not running")
)
