package store

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/tessera/internal/model"
)

// valueCache is the read-through cache in front of entity_values. A nil
// inner cache disables it.
type valueCache struct {
	cache *gocache.Cache
}

func newValueCache(ttl time.Duration) *valueCache {
	if ttl <= 0 {
		return &valueCache{}
	}
	return &valueCache{cache: gocache.New(ttl, 2*ttl)}
}

func cacheKey(entityID, attr string) string {
	return entityID + "\x00" + attr
}

func (c *valueCache) get(entityID, attr string) (model.Value, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, found := c.cache.Get(cacheKey(entityID, attr))
	if !found {
		return nil, false
	}
	v, ok := raw.(model.Value)
	return v, ok
}

func (c *valueCache) set(entityID, attr string, v model.Value) {
	if c.cache == nil {
		return
	}
	c.cache.Set(cacheKey(entityID, attr), v, gocache.DefaultExpiration)
}

func (c *valueCache) delete(entityID, attr string) {
	if c.cache == nil {
		return
	}
	c.cache.Delete(cacheKey(entityID, attr))
}

func (c *valueCache) len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.ItemCount()
}
