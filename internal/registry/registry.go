// Package registry tracks the clients currently holding an active
// session and when each was last heard from. It is the only mutable
// shared state in the core; every access goes through one RWMutex.
package registry

import (
	"sync"
	"time"
)

// Connection is one registered client session
type Connection struct {
	ClientID string
	LastSeen time.Time
}

// Registry manages registered connections
type Registry struct {
	conns map[string]*Connection
	mu    sync.RWMutex

	// now is swapped out by tests that simulate the clock
	now func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		now:   time.Now,
	}
}

// SetClock replaces the registry's clock. Test use only.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Upsert registers a connection, overwriting any existing entry for
// the same client id, and returns the recorded timestamp.
func (r *Registry) Upsert(clientID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.conns[clientID] = &Connection{ClientID: clientID, LastSeen: now}
	return now
}

// Touch refreshes a connection's LastSeen. A touch for an unknown id
// is accepted and does nothing; it never inserts.
func (r *Registry) Touch(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[clientID]
	if !ok {
		return false
	}
	conn.LastSeen = r.now()
	return true
}

// Remove drops a connection. Removing an absent id is a no-op.
func (r *Registry) Remove(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[clientID]
	delete(r.conns, clientID)
	return ok
}

// Contains reports whether the client id has an active session
func (r *Registry) Contains(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[clientID]
	return ok
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// List returns a snapshot of all active connections
func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, *c)
	}
	return conns
}

// Reap removes every connection silent for longer than timeout and
// returns the evicted ids. Scan and removal happen under one write
// lock, so an entry refreshed concurrently is judged by its fresh
// timestamp and nothing is evicted twice.
func (r *Registry) Reap(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var stale []string
	for id, conn := range r.conns {
		if now.Sub(conn.LastSeen) > timeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.conns, id)
	}
	return stale
}
