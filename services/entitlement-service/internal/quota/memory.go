package quota

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count    int64
	expireAt time.Time
}

// MemoryCounter is an in-process Counter for tests and single-instance runs.
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{now: now, entries: map[string]memoryEntry{}}
}

func (c *MemoryCounter) Consume(_ context.Context, key string, limit int64, expireAt time.Time) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.liveLocked(key)
	if e.count >= limit {
		return e.count, false, nil
	}
	if e.count == 0 {
		e.expireAt = expireAt
	}
	e.count++
	c.entries[key] = e
	return e.count, true, nil
}

func (c *MemoryCounter) Used(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key).count, nil
}

func (c *MemoryCounter) liveLocked(key string) memoryEntry {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}
	}
	if !e.expireAt.IsZero() && !c.now().Before(e.expireAt) {
		delete(c.entries, key)
		return memoryEntry{}
	}
	return e
}
