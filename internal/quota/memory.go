// ABOUTME: In-memory quota counter with one mutex per storage key
// ABOUTME: Stale days are treated as zero on the next access

package quota

import (
	"context"
	"sync"
)

type memoryEntry struct {
	mu    sync.Mutex
	day   string
	count int
}

// countFor returns the count for day, treating a stale day as zero.
// Must be called with mu held.
func (e *memoryEntry) countFor(day string) int {
	if e.day != day {
		return 0
	}
	return e.count
}

// MemoryCounter keeps daily counts in process memory.
type MemoryCounter struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]*memoryEntry)}
}

func (c *MemoryCounter) entry(key string) *memoryEntry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e
	}
	e = &memoryEntry{}
	c.entries[key] = e
	return e
}

// IncrementIfBelow implements Counter.
func (c *MemoryCounter) IncrementIfBelow(_ context.Context, key, day string, limit int) (int, bool, error) {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	count := e.countFor(day)
	if count >= limit {
		return count, false, nil
	}
	e.day = day
	e.count = count + 1
	return e.count, true, nil
}

// Get implements Counter.
func (c *MemoryCounter) Get(_ context.Context, key, day string) (int, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.countFor(day), nil
}

// Reset implements Counter.
func (c *MemoryCounter) Reset(_ context.Context, key, day string) error {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.day = day
	e.count = 0
	return nil
}

// DailyTotals implements TotalsCounter.
func (c *MemoryCounter) DailyTotals(_ context.Context, day string) (Totals, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t := Totals{Day: day}
	for _, e := range c.entries {
		e.mu.Lock()
		n := e.countFor(day)
		e.mu.Unlock()
		if n > 0 {
			t.Actions += n
			t.Identities++
		}
	}
	return t, nil
}
