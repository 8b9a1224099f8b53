package infra

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

const DefaultMemoryCacheCleanupInterval = 30 * time.Minute

// MemoryCache is an in-process hot cache for single-node deployments and tests.
// Entries are copied on the way in and out so callers cannot mutate cached state.
type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache(defaultExpiration time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultExpiration, DefaultMemoryCacheCleanupInterval),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*entity.Artifact, bool, error) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	artifact, ok := value.(entity.Artifact)
	if !ok {
		c.cache.Delete(key)
		return nil, false, nil
	}
	return &artifact, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, artifact *entity.Artifact, ttl time.Duration) error {
	c.cache.Set(key, *artifact, ttl)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Expiry reports when key expires; zero time means no expiry was set.
func (c *MemoryCache) Expiry(key string) (time.Time, bool) {
	_, expiration, found := c.cache.GetWithExpiration(key)
	return expiration, found
}

func (c *MemoryCache) ItemCount() int {
	return c.cache.ItemCount()
}
