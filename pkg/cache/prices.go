// Package cache provides a sharded concurrent price map for the host-side
// read model. Sharding keeps the websocket and HTTP readers off a single
// mutex while the aggregator merges tick batches.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// ShardedPriceCache maps symbol -> latest merged price.
type ShardedPriceCache struct {
	shards [shardCount]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	price     float64
	updatedAt time.Time
}

// NewShardedPriceCache creates an empty cache.
func NewShardedPriceCache() *ShardedPriceCache {
	c := &ShardedPriceCache{}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *ShardedPriceCache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Set stores the latest price for a symbol.
func (c *ShardedPriceCache) Set(symbol string, price float64) {
	s := c.shardFor(symbol)
	s.mu.Lock()
	s.items[symbol] = entry{price: price, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get returns the price for a symbol.
func (c *ShardedPriceCache) Get(symbol string) (float64, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e.price, ok
}

// GetWithAge returns the price and how long ago it was merged.
func (c *ShardedPriceCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return e.price, time.Since(e.updatedAt), true
}

// GetAll returns a copy of every cached price.
func (c *ShardedPriceCache) GetAll() map[string]float64 {
	out := make(map[string]float64)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, e := range s.items {
			out[sym] = e.price
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of tracked symbols.
func (c *ShardedPriceCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
