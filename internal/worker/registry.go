package worker

import (
	"fmt"
	"sort"
	"sync"
)

// Worker type tags.
const (
	TypeTerminal  = "terminal"
	TypeContainer = "container"
	TypeDebug     = "debug"
)

// Constructor builds a worker of one flavor with the given id.
type Constructor func(id string, deps Deps) (Worker, error)

// Registry maps worker type tags to their constructors. Flavors are
// registered once at startup; Resolve is called on every spawn.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty worker flavor registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a constructor under the given type tag.
func (r *Registry) Register(workerType string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[workerType] = c
}

// Resolve returns the constructor for the given type tag.
func (r *Registry) Resolve(workerType string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.constructors[workerType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkerType, workerType)
	}
	return c, nil
}

// Types returns the registered type tags, sorted for a stable API response.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry with all three built-in flavors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeTerminal, NewTerminalWorker)
	r.Register(TypeContainer, NewContainerWorker)
	r.Register(TypeDebug, NewDebugMonitorWorker)
	return r
}
