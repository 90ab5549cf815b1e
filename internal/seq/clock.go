// Package seq provides the monotonic logical clock used for handle minting,
// report sequence numbers and journal step ordering.
package seq

import "sync/atomic"

// Clock hands out strictly increasing int64 values.
//
// Thread-safety: Clock is safe for concurrent use. Values returned by Next
// are unique for the lifetime of the clock, including across goroutines.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start; the first Next returns
// start+1. Negative positions are allowed.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
