// Package fanout broadcasts payload-free signals to in-process subscribers.
package fanout

import "sync"

// Hub holds a set of callbacks. Broadcast calls each one on the caller's
// goroutine, so callbacks must not block.
type Hub struct {
	mu   sync.Mutex
	subs map[uint64]func()
	next uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]func())}
}

// Add registers fn and returns a function removing it. The remover is safe
// to call more than once.
func (h *Hub) Add(fn func()) (remove func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Broadcast invokes every registered callback once.
func (h *Hub) Broadcast() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of registered callbacks.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
