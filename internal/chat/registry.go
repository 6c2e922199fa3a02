package chat

import (
	"errors"
	"sync"
)

// ErrRegistryFull is returned by Insert when the configured connection limit
// is reached. The new connection is rejected; the listener keeps running.
var ErrRegistryFull = errors.New("registry at capacity")

// Registry is the authoritative set of live connections. An id present in
// the registry always refers to a live connection; Remove is the only way to
// invalidate an id and must happen before the connection is released.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	limit   int // 0 = unbounded
}

// NewRegistry creates a registry bounded to limit connections (0 means
// unbounded).
func NewRegistry(limit int) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		limit:   limit,
	}
}

// Insert adds a client. It fails closed with ErrRegistryFull at capacity.
func (r *Registry) Insert(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.clients) >= r.limit {
		return ErrRegistryFull
	}
	r.clients[c.ID] = c
	return nil
}

// Remove deletes and returns the client with the given id, or nil if the id
// is unknown. Removing an absent id is a no-op, never a crash.
func (r *Registry) Remove(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)
	return c
}

// Get returns the client with the given id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns a point-in-time copy of the membership. Callers iterate
// the copy without holding the registry lock, so a callback may remove
// clients without deadlocking; a client removed mid-iteration is simply
// already in the snapshot or skipped.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
