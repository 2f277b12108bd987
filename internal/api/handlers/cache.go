package handlers

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// ReadCache memoizes read endpoint payloads for a short TTL. Ingestion
// handlers flush it after every committed run.
type ReadCache struct {
	c *cache.Cache
}

// NewReadCache creates a cache; ttl <= 0 disables caching.
func NewReadCache(ttl time.Duration) *ReadCache {
	if ttl <= 0 {
		return &ReadCache{}
	}
	return &ReadCache{c: cache.New(ttl, 2*ttl)}
}

// Load returns the cached value for key or computes and stores it.
// Errors are never cached.
func (rc *ReadCache) Load(key string, load func() (any, error)) (any, error) {
	if rc == nil || rc.c == nil {
		return load()
	}
	if v, ok := rc.c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	rc.c.SetDefault(key, v)
	return v, nil
}

// Flush drops every entry.
func (rc *ReadCache) Flush() {
	if rc != nil && rc.c != nil {
		rc.c.Flush()
	}
}

// Len is the number of live entries.
func (rc *ReadCache) Len() int {
	if rc == nil || rc.c == nil {
		return 0
	}
	return rc.c.ItemCount()
}
