// Package event provides generic event emission utilities.
//
// Emitter calls handlers synchronously on the emitting goroutine. Queue and
// AsyncEmitter move delivery onto a single goroutine so emitters can hold
// locks that handlers need.
package event

import "sync"

// Emitter provides thread-safe event emission with handler registration.
// It handles the common pattern of registering handlers and emitting events
// to all registered handlers safely.
type Emitter[E any] struct {
	// +checklocks:mu
	handlers []registration[E]
	// +checklocks:mu
	nextID uint64
	mu     sync.RWMutex
}

type registration[E any] struct {
	id uint64
	fn func(E)
}

// OnEvent registers an event handler and returns a function that removes it.
// Handlers are called in registration order.
func (e *Emitter[E]) OnEvent(handler func(E)) (remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, registration[E]{id: id, fn: handler})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, r := range e.handlers {
			if r.id == id {
				e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered handlers.
func (e *Emitter[E]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Emit sends an event to all registered handlers.
// Handlers are called with a copy of the handler slice to allow
// safe iteration even if new handlers are registered during emission.
// Must not be called with lock held.
func (e *Emitter[E]) Emit(event E) {
	e.mu.RLock()
	handlers := make([]registration[E], len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		h.fn(event)
	}
}
