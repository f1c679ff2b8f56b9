// ABOUTME: Listener fan-out shared by remote service implementations
// ABOUTME: Registration returns a cancel func; emission copies the listener set first

package remote

import "sync"

// Hub is a set of listeners.
type Hub struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
}

// Add registers l and returns the func removing it.
func (h *Hub) Add(l Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[int]Listener)
	}
	id := h.next
	h.next++
	h.listeners[id] = l
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Emit delivers records to every listener. Empty batches are dropped.
func (h *Hub) Emit(table TableID, records []Record) {
	if len(records) == 0 {
		return
	}
	h.mu.Lock()
	ls := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		ls = append(ls, l)
	}
	h.mu.Unlock()

	for _, l := range ls {
		l(table, records)
	}
}
