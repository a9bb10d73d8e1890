package chat

import (
	"sync"
	"time"
)

// Clock issues lamport_clock values for outgoing messages. Each value is
// greater than every value issued or observed before it, and never lower
// than the wall clock in seconds, so values stay increasing per sender
// across restarts.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock returns a clock reading wall time from now. nil uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Tick returns the next value.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.last + 1
	if wall := c.now().Unix(); wall > next {
		next = wall
	}
	c.last = next
	return next
}

// Observe folds in a value seen on another message.
func (c *Clock) Observe(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.last {
		c.last = v
	}
}

// Last returns the most recent value issued or observed.
func (c *Clock) Last() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
