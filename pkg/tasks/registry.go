package tasks

import (
	"context"
	"sync"
)

/*
Registry tracks the running handler per task together with pending
cancel requests.  The engine consults it before consuming each yield,
so a cancellation wins over updates the handler raced to produce.
*/
type Registry struct {
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	canceled map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		running:  make(map[string]context.CancelFunc),
		canceled: make(map[string]struct{}),
	}
}

// Track registers the cancel func of a task's running handler.
func (registry *Registry) Track(taskID string, cancel context.CancelFunc) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.running[taskID] = cancel
}

/*
Untrack clears a task once its handler has fully wound down.  Pending
cancel marks go with it, so a later message can re-open the task
without inheriting a stale cancellation.
*/
func (registry *Registry) Untrack(taskID string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	delete(registry.running, taskID)
	delete(registry.canceled, taskID)
}

// Running reports whether a handler is currently attached to the task.
func (registry *Registry) Running(taskID string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	_, ok := registry.running[taskID]

	return ok
}

/*
Cancel marks the task canceled and signals its handler's context.  It
reports whether a handler was running; when none is, the caller owns
the canceled transition itself.
*/
func (registry *Registry) Cancel(taskID string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	cancel, ok := registry.running[taskID]

	if !ok {
		return false
	}

	registry.canceled[taskID] = struct{}{}
	cancel()

	return true
}

// Canceled reports whether a cancel request is pending for the task.
func (registry *Registry) Canceled(taskID string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	_, ok := registry.canceled[taskID]

	return ok
}
