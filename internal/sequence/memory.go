package sequence

import (
	"context"
	"sync"
)

type counter struct {
	mu    sync.Mutex
	value int64
}

// MemoryAllocator keeps per-prefix counters in process memory. The map lock
// is held only to find a counter; each prefix has its own lock.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// NewMemoryAllocator returns an empty allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]*counter)}
}

func (a *MemoryAllocator) counterFor(prefix string) *counter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[prefix]
	if !ok {
		c = &counter{}
		a.counters[prefix] = c
	}
	return c
}

// Next increments and returns the counter for prefix.
func (a *MemoryAllocator) Next(ctx context.Context, prefix string) (int64, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c := a.counterFor(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value, nil
}

// Seed raises the counter for prefix to at least floor.
func (a *MemoryAllocator) Seed(prefix string, floor int64) {
	c := a.counterFor(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	if floor > c.value {
		c.value = floor
	}
}
