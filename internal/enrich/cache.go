package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage"
)

// CacheEntry wraps a cached result with its freshness horizon.
// Invariant: ExpiresAt = CreatedAt + ttl. Entries past ExpiresAt are still
// returned, flagged stale; the substrate retention window handles eviction.
type CacheEntry struct {
	Value     CachedResult `json:"value"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// CacheHit is a cache read result; Stale marks entries past their TTL.
type CacheHit struct {
	Entry CacheEntry
	Stale bool
}

// ResultCacheConfig controls key namespacing and horizons.
type ResultCacheConfig struct {
	Prefix    string        // default "comps:v1:"
	TTL       time.Duration // logical freshness, default 24h
	Retention time.Duration // substrate retention, default 7d
}

// ResultCache is the durable result store shared between the scheduler and
// the direct price-lookup path. Last-writer-wins; no transactions.
type ResultCache struct {
	kv        storage.KV
	prefix    string
	ttl       time.Duration
	retention time.Duration
	clock     Clock
}

// NewResultCache builds a ResultCache over the given KV provider.
func NewResultCache(kv storage.KV, cfg ResultCacheConfig, clock Clock) *ResultCache {
	if cfg.Prefix == "" {
		cfg.Prefix = "comps:v1:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ResultCache{
		kv:        kv,
		prefix:    cfg.Prefix,
		ttl:       cfg.TTL,
		retention: cfg.Retention,
		clock:     clock,
	}
}

// Get returns the entry for key, nil when absent. Expired entries are
// returned with Stale set rather than discarded, so callers can fall back
// to degraded data. Storage errors propagate; callers decide whether to
// treat them as a miss.
func (c *ResultCache) Get(ctx context.Context, key string) (*CacheHit, error) {
	raw, err := c.kv.Get(ctx, c.prefix+key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("cache decode %q: %w", key, err)
	}
	return &CacheHit{
		Entry: entry,
		Stale: c.clock.Now().After(entry.ExpiresAt),
	}, nil
}

// Set overwrites the entry for key with a fresh TTL.
func (c *ResultCache) Set(ctx context.Context, key string, value CachedResult) error {
	now := c.clock.Now().UTC()
	entry := CacheEntry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := c.kv.Set(ctx, c.prefix+key, raw, c.retention); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// ClearAll removes every cached result under the namespace.
func (c *ResultCache) ClearAll(ctx context.Context) (int, error) {
	removed, err := c.kv.Purge(ctx, c.prefix)
	if err != nil {
		return removed, fmt.Errorf("cache clear: %w", err)
	}
	return removed, nil
}

// TTL reports the configured logical freshness horizon.
func (c *ResultCache) TTL() time.Duration { return c.ttl }
