package registry

import (
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// machineCache is a TTL cache for machine context lookups. Registry data
// changes on human timescales, so a short TTL keeps repeated turns in the
// same session from hammering the host platform.
type machineCache struct {
	entries    sync.Map
	defaultTTL time.Duration
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

func newMachineCache(defaultTTL time.Duration) *machineCache {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	return &machineCache{defaultTTL: defaultTTL}
}

func (c *machineCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.entries.Store(key, cacheEntry{
		value:     value,
		expiresAt: time.Now().UTC().Add(ttl),
	})
}

func (c *machineCache) Get(key string) (interface{}, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(cacheEntry)
	if !ok {
		c.entries.Delete(key)
		return nil, false
	}
	if time.Now().UTC().After(entry.expiresAt) {
		c.entries.Delete(key)
		return nil, false
	}
	return entry.value, true
}

func (c *machineCache) Delete(key string) {
	c.entries.Delete(key)
}
