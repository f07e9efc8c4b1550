package loop

import "sync/atomic"

// Clock is a monotonic logical clock. Every scheduled task is stamped with
// the next value so that tasks due at the same virtual instant run in the
// order they were scheduled.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
