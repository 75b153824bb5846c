package cache

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

// LocalConfig configures the in-memory backend.
type LocalConfig struct {
	TTL        time.Duration
	MaxEntries int
	// Now defaults to time.Now.
	Now func() time.Time
}

type localEntry struct {
	value   []byte
	expires time.Time
}

// LocalCache implements Cache with an in-process map.
// This is suitable for single-instance deployments.
type LocalCache struct {
	mu         sync.Mutex
	entries    map[string]localEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewLocalCache creates an empty in-memory cache.
func NewLocalCache(cfg LocalConfig) *LocalCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LocalCache{
		entries:    make(map[string]localEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
}

// Get returns a copy of the stored value, or nil once it has expired.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value. When full, expired entries are swept first and then
// the entry closest to expiry is evicted.
func (c *LocalCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[key] = localEntry{
		value:   append([]byte(nil), value...),
		expires: now.Add(c.ttl),
	}
	return nil
}

func (c *LocalCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len reports the number of stored entries, expired or not.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops every entry.
func (c *LocalCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]localEntry)
	c.mu.Unlock()
	return nil
}
