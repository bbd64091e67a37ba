package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is the in-process ResultCache. Entries are kept in insertion
// order; inserting into a full cache evicts the oldest entry first, so the
// entry count never exceeds maxEntries regardless of traffic.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest
	maxEntries int
	ttl        time.Duration
	closed     bool

	// now is swappable for TTL tests.
	now func() time.Time
}

type memoryEntry struct {
	key      string
	result   any
	storedAt time.Time
}

// NewMemoryCache creates a bounded in-memory cache. maxEntries <= 0 falls
// back to the default bound; ttl == 0 disables expiry.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultConfig().MaxEntries
	}
	return &MemoryCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached result or ErrCacheMiss. Expired entries are dropped
// on read.
func (c *MemoryCache) Get(ctx context.Context, executionID string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCacheClosed
	}

	elem, ok := c.entries[executionID]
	if !ok {
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if c.expired(entry) {
		c.removeElement(elem)
		return nil, ErrCacheMiss
	}
	return entry.result, nil
}

// Set stores the result, evicting expired entries and then the oldest entry
// until the bound holds.
func (c *MemoryCache) Set(ctx context.Context, executionID string, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	if elem, ok := c.entries[executionID]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.result = result
		entry.storedAt = c.now()
		c.order.MoveToBack(elem)
		return nil
	}

	c.pruneExpiredLocked()
	for len(c.entries) >= c.maxEntries {
		c.removeElement(c.order.Front())
	}

	elem := c.order.PushBack(&memoryEntry{
		key:      executionID,
		result:   result,
		storedAt: c.now(),
	})
	c.entries[executionID] = elem
	return nil
}

// Delete removes the entry if present.
func (c *MemoryCache) Delete(ctx context.Context, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}
	if elem, ok := c.entries[executionID]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Len returns the current entry count.
func (c *MemoryCache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrCacheClosed
	}
	c.pruneExpiredLocked()
	return len(c.entries), nil
}

// Close drops all entries. Idempotent.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.entries = nil
	c.order.Init()
	return nil
}

func (c *MemoryCache) expired(entry *memoryEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl
}

func (c *MemoryCache) pruneExpiredLocked() {
	if c.ttl <= 0 {
		return
	}
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if c.expired(elem.Value.(*memoryEntry)) {
			c.removeElement(elem)
		}
		elem = next
	}
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}

var _ ResultCache = (*MemoryCache)(nil)
