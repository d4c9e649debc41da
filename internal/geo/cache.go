package geo

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache TTL defaults. The same client IP is looked up once per visit
// and again for every message, so a short-lived cache spares the
// providers without letting records go stale.
const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 16
)

// providerCache is a TTL-bounded LRU over raw provider payloads keyed
// by provider name. Failed lookups are never cached; only good
// payloads are worth repeating.
type providerCache struct {
	lru *expirable.LRU[string, json.RawMessage]
}

func newProviderCache(size int, ttl time.Duration) *providerCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &providerCache{
		lru: expirable.NewLRU[string, json.RawMessage](size, nil, ttl),
	}
}

func (c *providerCache) get(provider string) (json.RawMessage, bool) {
	return c.lru.Get(provider)
}

func (c *providerCache) set(provider string, payload json.RawMessage) {
	c.lru.Add(provider, payload)
}
