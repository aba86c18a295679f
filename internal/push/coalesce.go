package push

import "sync"

// Coalescer collapses repeated push notifications for a feed into one
// pending refresh. It is a bounded set rather than a queue: notifications
// arriving before the next cycle drain cost nothing extra.
type Coalescer struct {
	mu      sync.Mutex
	pending map[int64]struct{}
	limit   int
}

// NewCoalescer creates a Coalescer holding at most limit pending feeds.
// A limit <= 0 means unbounded.
func NewCoalescer(limit int) *Coalescer {
	return &Coalescer{
		pending: make(map[int64]struct{}),
		limit:   limit,
	}
}

// Mark flags a feed for immediate refresh. It returns true when this is the
// first notification since the last drain; repeats and overflow return false.
func (c *Coalescer) Mark(feedID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[feedID]; ok {
		return false
	}
	if c.limit > 0 && len(c.pending) >= c.limit {
		return false
	}
	c.pending[feedID] = struct{}{}
	return true
}

// Pending reports whether a feed is flagged without consuming the flag.
func (c *Coalescer) Pending(feedID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[feedID]
	return ok
}

// Drain returns and clears all pending feed ids.
func (c *Coalescer) Drain() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.pending = make(map[int64]struct{})
	return ids
}
