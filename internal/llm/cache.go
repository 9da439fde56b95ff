package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// maxCacheEntries bounds memory for long categorization runs.
const maxCacheEntries = 4096

type cacheEntry struct {
	expiry time.Time
	text   string
}

// responseCache keeps completions for identical prompts for a fixed TTL.
// Expired entries are dropped lazily when the cache fills up.
type responseCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	limit   int
	mu      sync.Mutex
}

// newResponseCache creates a cache. A non-positive ttl disables caching.
func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		ttl:     ttl,
		limit:   maxCacheEntries,
	}
}

// promptKey ignores MaxTokens: the same statement text gets the same answer.
func promptKey(p Prompt) string {
	h := sha256.New()
	h.Write([]byte(p.System))
	h.Write([]byte{0})
	h.Write([]byte(p.User))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *responseCache) get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return "", false
	}
	return entry.text, true
}

func (c *responseCache) set(key, text string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.limit {
		c.evict(now)
	}
	c.entries[key] = cacheEntry{text: text, expiry: now.Add(c.ttl)}
}

// evict drops expired entries, or the one closest to expiry when none are.
func (c *responseCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.expiry.Before(oldest) {
			oldestKey, oldest = key, entry.expiry
		}
	}
	if len(c.entries) >= c.limit {
		delete(c.entries, oldestKey)
	}
}

func (c *responseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops every entry.
func (c *responseCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
