package engine

import "sync/atomic"

// TickClock is the host's monotonic tick counter.
//
// Ticks start at 0 and only move forward. Advancing the clock is the
// Scheduler's job; everything else only reads it.
//
// Thread-safety: TickClock is safe for concurrent use (atomic operations).
type TickClock struct {
	tick atomic.Int64
}

// NewTickClock creates a new clock starting at tick 0.
func NewTickClock() *TickClock {
	return &TickClock{}
}

// NewTickClockAt creates a clock starting at a specific tick.
func NewTickClockAt(start int64) *TickClock {
	c := &TickClock{}
	c.tick.Store(start)
	return c
}

// Next advances the clock by one tick and returns the new tick.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *TickClock) Next() int64 {
	return c.tick.Add(1)
}

// Current returns the current tick without advancing.
func (c *TickClock) Current() int64 {
	return c.tick.Load()
}
