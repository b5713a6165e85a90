package tameng

import (
	"hash/fnv"
	"sync"
	"time"
)

const numCacheShards = 16

// ResponseCache stores parsed responses for a TTL. Expired entries are treated as misses
// but stay in memory until the same key is written again.
type ResponseCache struct {
	shards []*cacheShard
	now    func() time.Time
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewResponseCache returns an empty cache.
func NewResponseCache() *ResponseCache {
	shards := make([]*cacheShard, numCacheShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &ResponseCache{
		shards: shards,
		now:    time.Now,
	}
}

func (c *ResponseCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(len(c.shards))]
}

// Get returns the response stored under key if it has not expired.
func (c *ResponseCache) Get(key string) (*Response, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists || !c.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Value, true
}

// Set stores resp under key for ttl, replacing any previous entry.
func (c *ResponseCache) Set(key string, resp *Response, ttl time.Duration) {
	shard := c.getShard(key)
	entry := &CacheEntry{
		Value:     resp,
		ExpiresAt: c.now().Add(ttl),
	}

	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
}

// Len counts stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// DefaultCacheKey builds the METHOD:path key used when a directive has no explicit key.
// Requests differing only by body or query share a key.
func DefaultCacheKey(method, path string) string {
	var buf []byte
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, path...)
	return string(buf)
}

func cacheKeyFor(config *RequestConfig) string {
	if config.Cache != nil && config.Cache.Key != "" {
		return config.Cache.Key
	}
	return DefaultCacheKey(config.Method, config.Path)
}
