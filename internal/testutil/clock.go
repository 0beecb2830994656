// Package testutil provides deterministic test doubles for the engine's
// external time and validation dependencies.
package testutil

import (
	"sync"
	"time"
)

// TimeSource is a settable wall clock for tests. Feed its Now method to
// the engine's WithNowFunc option and advance it explicitly to exercise
// retention and staleness policies without sleeping.
//
// Thread-safety: all methods are safe for concurrent use.
type TimeSource struct {
	mu  sync.Mutex
	now time.Time
}

// NewTimeSource creates a time source frozen at start.
func NewTimeSource(start time.Time) *TimeSource {
	return &TimeSource{now: start}
}

// Now returns the current frozen time.
func (ts *TimeSource) Now() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.now
}

// Advance moves the clock forward by d.
func (ts *TimeSource) Advance(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.now = ts.now.Add(d)
}

// Set jumps the clock to t.
func (ts *TimeSource) Set(t time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.now = t
}
