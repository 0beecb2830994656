package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping every state transition.
//
// Journal entries are ordered by these seq numbers, never by wall time:
// wall clocks can move backwards across restarts, logical seqs cannot
// (the clock is re-seeded from the journal's high-water mark on start).
//
// Thread-safety: safe for concurrent use via atomics, though the engine's
// single-writer loop is normally the only caller of Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a specific sequence number.
// Used after restart to continue from the journal's last recorded seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
