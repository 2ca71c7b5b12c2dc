package runtime

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time in nanoseconds since the Unix epoch.
// It is sampled once at the start of every step.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().UnixNano())
}

// ManualClock only moves when told to.
type ManualClock struct {
	ns atomic.Uint64
}

// NewManualClock returns a clock fixed at start.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.ns.Store(start)
	return c
}

func (c *ManualClock) Now() uint64 {
	return c.ns.Load()
}

// Set moves the clock to ns.
func (c *ManualClock) Set(ns uint64) {
	c.ns.Store(ns)
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.ns.Add(uint64(d))
}
