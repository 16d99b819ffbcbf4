package server

import (
	"sync"
	"sync/atomic"

	"charge-telemetry-alerts/internal/session"
)

// Registry assigns unique connection identifiers and tracks live
// sessions. Identifiers are monotonic for the life of the process and
// never reused.
type Registry struct {
	counter atomic.Int64

	mu   sync.RWMutex
	live map[int64]*session.Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[int64]*session.Session)}
}

// NextID allocates the next connection identifier.
func (r *Registry) NextID() int64 {
	return r.counter.Add(1)
}

// Add tracks a running session.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[s.ID()] = s
}

// Remove forgets a finished session.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
