package filter

import (
	lru "github.com/hashicorp/golang-lru"
)

// programCache keeps compiled filters keyed by expression
type programCache struct {
	cache *lru.Cache
}

// newProgramCache creates a cache holding at most size filters
func newProgramCache(size int) (*programCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &programCache{cache: c}, nil
}

func (c *programCache) Get(expression string) (CompiledFilter, bool) {
	v, ok := c.cache.Get(expression)
	if !ok {
		return nil, false
	}
	return v.(CompiledFilter), true
}

func (c *programCache) Put(expression string, filter CompiledFilter) {
	c.cache.Add(expression, filter)
}

func (c *programCache) Clear() {
	c.cache.Purge()
}

func (c *programCache) Size() int {
	return c.cache.Len()
}
