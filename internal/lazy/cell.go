// Package lazy provides a guarded, lazily-initialized value.
package lazy

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cell holds a value that is produced on first use.
// Reads after initialization are lock-free. Only one initializer runs at a
// time, and a failed initialization is not cached so the next caller retries.
type Cell[T any] struct {
	mu    sync.Mutex
	value atomic.Pointer[T]
}

// Get returns the value and whether it has been initialized.
func (c *Cell[T]) Get() (T, bool) {
	if v := c.value.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// GetOrInit returns the cached value, calling init to produce it if needed.
func (c *Cell[T]) GetOrInit(ctx context.Context, init func(context.Context) (T, error)) (T, error) {
	if v := c.value.Load(); v != nil {
		return *v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have won the race while we waited for the lock
	if v := c.value.Load(); v != nil {
		return *v, nil
	}

	v, err := init(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.value.Store(&v)
	return v, nil
}

// Reset drops the cached value.
func (c *Cell[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value.Store(nil)
}
