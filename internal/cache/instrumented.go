package cache

type InstrumentedCache struct {
	cache Cache
	stats *Stats
}

func NewInstrumentedCache(cache Cache, stats *Stats) *InstrumentedCache {
	if cache == nil {
		return nil
	}
	return &InstrumentedCache{
		cache: cache,
		stats: stats,
	}
}

func (c *InstrumentedCache) Get(key string) (Entry, bool) {
	if c == nil || c.cache == nil {
		return Entry{}, false
	}
	entry, ok := c.cache.Get(key)
	if ok {
		c.stats.Hit()
		return entry, true
	}
	c.stats.Miss()
	return Entry{}, false
}

func (c *InstrumentedCache) Put(key string, entry Entry) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Put(key, entry)
}
