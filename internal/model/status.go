package model

// WorkerStatus is the lifecycle state of a worker or an execution result.
type WorkerStatus string

// Worker status constants.
const (
	StatusPending   WorkerStatus = "pending"
	StatusStarting  WorkerStatus = "starting"
	StatusRunning   WorkerStatus = "running"
	StatusCompleted WorkerStatus = "completed"
	StatusFailed    WorkerStatus = "failed"
	StatusTimeout   WorkerStatus = "timeout"
	StatusStopped   WorkerStatus = "stopped"
)

// validTransitions maps each status to the set of statuses it may transition to.
// The four end states (completed, failed, timeout, stopped) are terminal and
// have no outgoing transitions.
var validTransitions = map[WorkerStatus]map[WorkerStatus]bool{
	StatusPending: {
		StatusStarting: true,
		StatusFailed:   true,
		StatusStopped:  true,
	},
	StatusStarting: {
		StatusRunning: true,
		StatusFailed:  true,
		StatusStopped: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
		StatusStopped:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to WorkerStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether s is one of the four end states.
func TerminalStatus(s WorkerStatus) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusStopped:
		return true
	}
	return false
}
