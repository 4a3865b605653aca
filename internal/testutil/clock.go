package testutil

import (
	"sync"
	"time"
)

// SteppingTime is a deterministic wall clock for tests.
//
// Every call to Now returns the previous value advanced by a fixed step,
// so durations and timestamps in recorded results are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SteppingTime struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	calls int64
}

// DefaultBase is the first instant returned by a default SteppingTime.
var DefaultBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewSteppingTime creates a clock starting at base that advances by step
// on every call. A zero base means DefaultBase.
func NewSteppingTime(base time.Time, step time.Duration) *SteppingTime {
	if base.IsZero() {
		base = DefaultBase
	}
	return &SteppingTime{base: base, step: step}
}

// Now returns base + n*step for the n-th call (starting at 0).
func (c *SteppingTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *SteppingTime) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to base.
func (c *SteppingTime) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}

// FixedIDGenerator returns the same execution ID every time.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator for id. An empty id becomes
// "test-execution-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-execution-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
