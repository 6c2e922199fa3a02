package chat

import (
	"sync"

	"github.com/wirehub/chatd/pkg/protocol"
)

// History is a bounded in-memory ring of recent chat messages, replayed to
// connections as they activate. It is a convenience, not a durability
// guarantee; nothing survives a restart.
type History struct {
	mu   sync.Mutex
	ring []*protocol.Message
	next int
	full bool
}

// NewHistory creates a history that retains the last capacity messages.
// Capacity zero or less disables retention.
func NewHistory(capacity int) *History {
	h := &History{}
	if capacity > 0 {
		h.ring = make([]*protocol.Message, capacity)
	}
	return h
}

// Push records a message, displacing the oldest when full.
func (h *History) Push(m *protocol.Message) {
	if len(h.ring) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = m
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns the retained messages, oldest first.
func (h *History) Recent() []*protocol.Message {
	if len(h.ring) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*protocol.Message
	if h.full {
		out = make([]*protocol.Message, 0, len(h.ring))
		out = append(out, h.ring[h.next:]...)
		out = append(out, h.ring[:h.next]...)
		return out
	}
	return append(out, h.ring[:h.next]...)
}
