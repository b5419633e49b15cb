// Package debounce provides a coalescing queue: every Push replaces the queued
// value and restarts the quiet period, and a single drain receives the latest
// value once the period elapses.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Coalescer debounces values of type T.
type Coalescer[T any] struct {
	clock clockwork.Clock
	delay time.Duration
	drain func(T)

	mu      sync.Mutex
	pending T
	queued  bool
	timer   clockwork.Timer
	gen     uint64
	stopped bool
}

// New returns a Coalescer that calls drain with the last pushed value once no
// Push happened for delay. A nil clock uses the real clock.
func New[T any](clock clockwork.Clock, delay time.Duration, drain func(T)) *Coalescer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coalescer[T]{clock: clock, delay: delay, drain: drain}
}

// Push queues v, replacing any value that has not been drained yet.
func (c *Coalescer[T]) Push(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.pending = v
	c.queued = true
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.delay, func() { c.fire(gen) })
}

// Pending reports whether a value is waiting for the quiet period to elapse.
func (c *Coalescer[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}

// Flush drains the queued value immediately, if any.
func (c *Coalescer[T]) Flush() {
	v, ok := c.take(0, false)
	if ok {
		c.drain(v)
	}
}

// Stop flushes the queued value and rejects further pushes.
func (c *Coalescer[T]) Stop() {
	c.Flush()
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *Coalescer[T]) fire(gen uint64) {
	v, ok := c.take(gen, true)
	if ok {
		c.drain(v)
	}
}

func (c *Coalescer[T]) take(gen uint64, checkGen bool) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.queued || (checkGen && gen != c.gen) {
		return zero, false
	}
	v := c.pending
	c.pending = zero
	c.queued = false
	c.gen++
	// A fired timer is already spent; only a flush has one left to stop.
	if c.timer != nil && !checkGen {
		c.timer.Stop()
	}
	c.timer = nil
	return v, true
}
