package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryCounter is the process-local fallback used when no Redis is
// configured (single-instance deployments, tests). It preserves the same
// contract: atomic increment-and-expire, absent key reads as zero.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter builds an in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// IsLimited reports whether key's count has reached limit.
func (c *MemoryCounter) IsLimited(_ context.Context, key string, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveLocked(key)
	return entry != nil && entry.count >= limit
}

// Increment bumps the counter under the lock; the window expiry is armed on
// first increment only, matching the Redis variant.
func (c *MemoryCounter) Increment(_ context.Context, key string, window time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.liveLocked(key); entry != nil {
		entry.count++
		return
	}
	c.entries[key] = &memoryEntry{count: 1, expiresAt: c.now().Add(window)}
}

// ResetAt returns the counter expiry, or nil for an absent key.
func (c *MemoryCounter) ResetAt(_ context.Context, key string) *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.liveLocked(key)
	if entry == nil {
		return nil
	}
	at := entry.expiresAt
	return &at
}

// Reset drops the counter for key.
func (c *MemoryCounter) Reset(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// liveLocked returns the entry for key, lazily expiring it first.
func (c *MemoryCounter) liveLocked(key string) *memoryEntry {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil
	}
	return entry
}
