package app

import (
	"sync"

	"stay_chat/internal/domain"
)

// Runtime is the process-wide handle created once at startup. Every live
// store subscription registers here so shutdown can release them all; no
// component reaches into a singleton.
type Runtime struct {
	mu      sync.Mutex
	closed  bool
	next    int
	cancels map[int]domain.CancelFunc
}

func NewRuntime() *Runtime {
	return &Runtime{cancels: make(map[int]domain.CancelFunc)}
}

// Track registers a live subscription and returns its untrack function. If
// the runtime is already shut down the subscription is cancelled on the spot.
func (r *Runtime) Track(cancel domain.CancelFunc) func() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return func() {}
	}
	id := r.next
	r.next++
	r.cancels[id] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
	}
}

// Shutdown releases every tracked subscription exactly once.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	old := r.cancels
	r.cancels = nil
	r.mu.Unlock()

	for _, cancel := range old {
		cancel()
	}
}
