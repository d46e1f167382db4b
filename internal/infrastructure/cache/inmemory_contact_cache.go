package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryContactCache is a process-local ContactCache with TTL expiry.
type InMemoryContactCache struct {
	mu      sync.RWMutex
	entries map[string]inMemoryEntry
	ttl     time.Duration
	done    chan struct{}
	closed  sync.Once
}

type inMemoryEntry struct {
	contactID string
	expiresAt time.Time
}

var _ ContactCache = (*InMemoryContactCache)(nil)

// NewInMemoryContactCache creates an in-memory cache. A zero ttl means
// entries live for 24 hours.
func NewInMemoryContactCache(ttl time.Duration) *InMemoryContactCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c := &InMemoryContactCache{
		entries: make(map[string]inMemoryEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached contact id for a tax code.
func (c *InMemoryContactCache) Get(_ context.Context, code string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[code]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.contactID, true
}

// Put records the contact id for a tax code.
func (c *InMemoryContactCache) Put(_ context.Context, code, contactID string) {
	c.mu.Lock()
	c.entries[code] = inMemoryEntry{
		contactID: contactID,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Close stops the cleanup goroutine.
func (c *InMemoryContactCache) Close() error {
	c.closed.Do(func() { close(c.done) })
	return nil
}

func (c *InMemoryContactCache) cleanupLoop() {
	interval := c.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.done:
			return
		}
	}
}

func (c *InMemoryContactCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	for code, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, code)
		}
	}
	c.mu.Unlock()
}
