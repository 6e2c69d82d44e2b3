package redis

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROJECTION CACHE
// Адаптер Cache под кэш проекций слоя запросов: промах - (nil, nil),
// ошибки соединения не маскируются.
// ══════════════════════════════════════════════════════════════════════════════

// ProjectionCache adapts Cache to the query-layer projection cache
// contract: a miss is reported as (nil, nil) so callers fall through
// to the repositories without branching on sentinel errors.
type ProjectionCache struct {
	cache *Cache
}

// NewProjectionCache creates a projection cache backed by the given client.
func NewProjectionCache(cache *Cache) *ProjectionCache {
	return &ProjectionCache{cache: cache}
}

// Get returns the cached value or (nil, nil) when the key is absent.
func (p *ProjectionCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.cache.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Set stores the value under the key with the given TTL.
func (p *ProjectionCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.cache.SetBytes(ctx, key, value, ttl)
}

// Delete removes the key.
func (p *ProjectionCache) Delete(ctx context.Context, key string) error {
	return p.cache.Delete(ctx, key)
}
