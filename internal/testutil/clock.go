package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a StepClock reports after Reset.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a wall clock for tests that advances a fixed step on every
// reading, so node ctime/mtime values are reproducible and strictly
// increasing.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	step  time.Duration
	calls int64
}

// NewStepClock creates a clock advancing step per call. A zero step means
// one second.
func NewStepClock(step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Second
	}
	return &StepClock{step: step}
}

// Now returns Epoch plus one step per previous call. Pass it as a
// graph.Clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now was called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
