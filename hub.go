package main

import (
	"sync"

	"github.com/linklayer/cantact-go/cantact"
)

// Hub fans received frames out to any number of subscribers: the shell's
// dump command, websocket clients and the capture writer. Slow subscribers
// drop frames rather than stalling the receive path.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]chan cantact.Frame
	next uint64
}

func newHub() *Hub {
	return &Hub{subs: make(map[uint64]chan cantact.Frame)}
}

// Publish delivers a frame to every subscriber without blocking.
func (h *Hub) Publish(f cantact.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- f:
		default:
			// subscriber is not keeping up
		}
	}
}

// Subscribe registers a buffered subscriber channel. The cancel function
// unregisters and closes it.
func (h *Hub) Subscribe(buffer int) (<-chan cantact.Frame, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan cantact.Frame, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[id]; ok {
			close(cur)
			delete(h.subs, id)
		}
	}
	return ch, cancel
}
