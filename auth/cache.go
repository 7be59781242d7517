// Package auth authenticates requests with JWT access tokens, caching
// validation results so the signature is verified once per token.
package auth

import (
	"container/list"
	"sync"
	"time"
)

type (
	// tokenCache is a bounded cache with per-entry expiry and LRU
	// eviction. Lookups are explicit: a miss and an expired entry are
	// both reported as not found.
	tokenCache struct {
		size int
		ttl  time.Duration
		now  func() time.Time

		mu    sync.Mutex
		cache map[string]*cacheEntry
		// least recently used key at the end
		history *list.List
	}

	cacheEntry struct {
		expiresAt time.Time
		value     any
		// reference in the history
		href *list.Element
	}
)

func newTokenCache(size int, ttl time.Duration) *tokenCache {
	return &tokenCache{
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]*cacheEntry, size),
		history: list.New(),
	}
}

func (c *tokenCache) lookup(key string) (any, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		// remove expired
		delete(c.cache, key)
		c.history.Remove(e.href)
		return nil, false
	}
	c.history.MoveToFront(e.href)
	return e.value, true
}

// put caches value until the earlier of expiresAt and now+ttl. A zero
// expiresAt means the cache ttl alone bounds the entry.
func (c *tokenCache) put(key string, value any, expiresAt time.Time) {
	now := c.now()
	deadline := now.Add(c.ttl)
	if !expiresAt.IsZero() && expiresAt.Before(deadline) {
		deadline = expiresAt
	}
	if !deadline.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		e.expiresAt = deadline
		e.value = value
		c.history.MoveToFront(e.href)
		return
	}

	c.cache[key] = &cacheEntry{
		expiresAt: deadline,
		value:     value,
		href:      c.history.PushFront(key),
	}

	// remove least used
	if len(c.cache) > c.size {
		leastUsed := c.history.Back()
		delete(c.cache, leastUsed.Value.(string))
		c.history.Remove(leastUsed)
	}
}

func (c *tokenCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.cache[key]; ok {
		delete(c.cache, key)
		c.history.Remove(e.href)
	}
}
