// Package counter holds the two process-wide monotonic counters the
// back end needs (spec.md §5): fresh virtual-register/label ids inside
// the IR generator, and fresh epilogue-label ids inside the x86
// emitter. Both are ordinary structs guarded by a mutex and passed
// explicitly to the stage that needs them, rather than ambient
// package-level globals — the guard exists so independent translation
// units could share a process without a data race, not because
// anything in cmd/oxide compiles more than one file per process today.
package counter

import "sync"

// Counter is a guarded monotonically increasing integer source.
type Counter struct {
	mu   sync.Mutex
	next int
}

// New returns a counter whose first Next() is start.
func New(start int) *Counter {
	return &Counter{next: start}
}

// Next returns the next value and advances the counter.
func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next++
	return v
}
