// Package simclock provides the injectable time source for the SUT.
//
// Every component that needs time receives a Clock at construction. The
// production server uses SystemClock; simulation runs use Simulated, which
// only moves when the driver advances it. Nothing in the SUT reads the wall
// clock directly - TTL expiry and any ordering-sensitive logic become fully
// controllable from a test.
package simclock

import (
	"sync"
	"time"
)

// Clock is the time source interface threaded through the SUT.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. Production default.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Simulated is a manually advanced clock for deterministic runs.
//
// The clock starts at a fixed epoch so two runs with the same seed see the
// same timestamps. Advancing is instant - no real sleeping - which lets the
// driver exercise TTL expiry without slowing a run down.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the fixed starting instant for simulated clocks.
// An arbitrary but stable point; changing it would churn golden traces.
var Epoch = time.Date(2187, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewSimulated creates a simulated clock positioned at Epoch.
func NewSimulated() *Simulated {
	return &Simulated{now: Epoch}
}

// NewSimulatedAt creates a simulated clock positioned at a specific instant.
// Used by replay to resume from a recorded position.
func NewSimulatedAt(t time.Time) *Simulated {
	return &Simulated{now: t}
}

// Now returns the current simulated instant.
func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
// Negative durations are ignored - the clock never moves backwards.
func (c *Simulated) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}
