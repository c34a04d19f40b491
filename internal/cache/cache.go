// Package cache keeps encoded per-user responses for a short TTL and
// answers conditional requests from their ETags. Every entry belongs to
// one user so a user's pages can be dropped together when their data
// changes.
package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TTLMeetings bounds a cached meeting page. Pages are also invalidated
// explicitly when a meeting is logged.
const TTLMeetings = 5 * time.Minute

const evictInterval = time.Minute

type entry struct {
	owner     string
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	byOwner map[string]map[string]struct{}
	// gens counts invalidations per owner.
	gens    map[string]uint64
	enabled bool
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a cache. A disabled cache stores nothing but still computes
// ETags, so conditional requests keep working.
func New(enabled bool) *Cache {
	c := newCache(enabled, time.Now)
	if enabled {
		go c.evictLoop(evictInterval)
	}
	return c
}

func newCache(enabled bool, now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		byOwner: make(map[string]map[string]struct{}),
		gens:    make(map[string]uint64),
		enabled: enabled,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Close stops the eviction loop.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

// MeetingsKey is the cache key for a user's meeting history page.
func MeetingsKey(userID string, limit int) string {
	return fmt.Sprintf("meetings:%s:%d", userID, limit)
}

// Get returns a live entry's data and ETag.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || !c.now().Before(e.expiresAt) {
		c.misses.Add(1)
		return nil, "", false
	}
	c.hits.Add(1)
	return e.data, e.etag, true
}

// Generation returns owner's invalidation count. Read it before loading
// the data to cache and pass it to Set.
func (c *Cache) Generation(owner string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[owner]
}

// Set stores data for owner under key and returns its ETag. Nothing is
// stored when owner was invalidated after gen was read, since data may
// predate that change.
func (c *Cache) Set(owner, key string, gen uint64, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled {
		return etag
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[owner] != gen {
		return etag
	}
	c.entries[key] = entry{owner: owner, data: data, etag: etag, expiresAt: c.now().Add(ttl)}
	keys := c.byOwner[owner]
	if keys == nil {
		keys = make(map[string]struct{})
		c.byOwner[owner] = keys
	}
	keys[key] = struct{}{}
	return etag
}

// Invalidate drops every entry owned by the given users and bumps their
// generations.
func (c *Cache) Invalidate(owners ...string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, owner := range owners {
		c.gens[owner]++
		for key := range c.byOwner[owner] {
			delete(c.entries, key)
		}
		delete(c.byOwner, owner)
	}
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]any{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
		"owners":       len(c.byOwner),
		"hits":         c.hits.Load(),
		"misses":       c.misses.Load(),
	}
}

func (c *Cache) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evict()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if now.Before(e.expiresAt) {
			continue
		}
		delete(c.entries, key)
		if keys := c.byOwner[e.owner]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byOwner, e.owner)
			}
		}
	}
}

// ComputeETag returns a weak validator for data.
func ComputeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf(`W/"%x"`, sum[:8])
}

// CheckETagMatch reports whether an If-None-Match header matches etag.
// The header may list several validators; comparison is weak.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}
