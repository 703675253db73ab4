package client

import "sync"

// typeTag distinguishes the parsed representations a single string key
// may be cached under.
type typeTag int

const (
	tagInt typeTag = iota
	tagFloat
	tagBool
)

type typedCacheKey struct {
	key string
	tag typeTag
}

// typedCache is the per-key-per-type parsed-value cache. It is
// invalidated wholesale on every release adoption by discarding the map
// and starting a fresh one, rather than tracking per-entry staleness.
type typedCache struct {
	mu   sync.Mutex
	vals map[typedCacheKey]any
}

func newTypedCache() *typedCache {
	return &typedCache{vals: make(map[typedCacheKey]any)}
}

func (c *typedCache) get(key string, tag typeTag) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[typedCacheKey{key: key, tag: tag}]
	return v, ok
}

func (c *typedCache) set(key string, tag typeTag, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[typedCacheKey{key: key, tag: tag}] = value
}

// invalidate discards every cached parsed value. Called once per
// release adoption.
func (c *typedCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals = make(map[typedCacheKey]any)
}
