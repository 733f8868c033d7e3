// Package registry tracks the cancel signal of every in-flight relay.
package registry

import "sync"

// Registry maps a thread id to the cancel signal of the relay streaming into it.
type Registry struct {
	mu      sync.Mutex
	signals map[string]chan struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		signals: make(map[string]chan struct{}),
	}
}

// NewSignal returns a single-slot cancel signal suitable for Register.
func NewSignal() chan struct{} {
	return make(chan struct{}, 1)
}

// Register stores signal for threadID. A prior entry is replaced without
// being signalled.
func (r *Registry) Register(threadID string, signal chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[threadID] = signal
}

// Cancel removes the entry for threadID and delivers its signal. It reports
// false when no relay is registered or the signal slot was already taken.
func (r *Registry) Cancel(threadID string) bool {
	r.mu.Lock()
	signal, ok := r.signals[threadID]
	if ok {
		delete(r.signals, threadID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case signal <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unregister removes the entry for threadID if it still holds signal. It is
// safe to call more than once.
func (r *Registry) Unregister(threadID string, signal chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.signals[threadID]; ok && current == signal {
		delete(r.signals, threadID)
	}
}

// Active reports whether a relay is registered for threadID.
func (r *Registry) Active(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.signals[threadID]
	return ok
}

// Len returns the number of registered relays.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}
