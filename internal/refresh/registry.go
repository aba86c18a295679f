package refresh

import "sync"

// Registry tracks feeds with a refresh in progress so a feed is never
// dispatched twice concurrently. A feed already held is skipped for the
// current pass, not queued.
type Registry struct {
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// NewRegistry creates an empty single-flight registry.
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[int64]struct{})}
}

// TryAcquire claims the feed for refreshing. It returns false when another
// worker already holds it.
func (r *Registry) TryAcquire(feedID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[feedID]; busy {
		return false
	}
	r.inflight[feedID] = struct{}{}
	return true
}

// Release returns the feed to the dispatchable pool.
func (r *Registry) Release(feedID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, feedID)
}

// Len reports how many feeds are currently in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
