// Package cache holds recently fetched market data so hot read paths do not
// hammer the venues on every request.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"trading-gateway/pkg/venues/common"
)

const numShards = 16

// TickerCache is a sharded cache of per-venue tickers with a freshness
// bound. Entries older than the TTL are treated as absent.
type TickerCache struct {
	shards [numShards]*tickerShard
	ttl    time.Duration
}

type tickerShard struct {
	mu    sync.RWMutex
	items map[string]tickerEntry
}

type tickerEntry struct {
	ticker    common.Ticker
	updatedAt time.Time
}

// NewTickerCache creates a cache whose entries stay valid for ttl.
func NewTickerCache(ttl time.Duration) *TickerCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	c := &TickerCache{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &tickerShard{items: make(map[string]tickerEntry)}
	}
	return c
}

func key(venueID, symbol string) string { return venueID + "|" + symbol }

func (c *TickerCache) getShard(k string) *tickerShard {
	h := fnv.New32a()
	h.Write([]byte(k))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a ticker under its venue and symbol.
func (c *TickerCache) Set(t common.Ticker) {
	shard := c.getShard(key(t.VenueID, t.Symbol))
	shard.mu.Lock()
	shard.items[key(t.VenueID, t.Symbol)] = tickerEntry{ticker: t, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get returns the cached ticker if it is still fresh.
func (c *TickerCache) Get(venueID, symbol string) (common.Ticker, bool) {
	k := key(venueID, symbol)
	shard := c.getShard(k)
	shard.mu.RLock()
	entry, ok := shard.items[k]
	shard.mu.RUnlock()
	if !ok || time.Since(entry.updatedAt) > c.ttl {
		return common.Ticker{}, false
	}
	return entry.ticker, true
}

// GetWithAge returns the ticker regardless of freshness, with its age.
func (c *TickerCache) GetWithAge(venueID, symbol string) (common.Ticker, time.Duration, bool) {
	k := key(venueID, symbol)
	shard := c.getShard(k)
	shard.mu.RLock()
	entry, ok := shard.items[k]
	shard.mu.RUnlock()
	if !ok {
		return common.Ticker{}, 0, false
	}
	return entry.ticker, time.Since(entry.updatedAt), true
}

// Delete removes one entry.
func (c *TickerCache) Delete(venueID, symbol string) {
	k := key(venueID, symbol)
	shard := c.getShard(k)
	shard.mu.Lock()
	delete(shard.items, k)
	shard.mu.Unlock()
}

// Len counts entries across all shards, stale ones included.
func (c *TickerCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup drops entries older than maxAge and reports how many went.
func (c *TickerCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for k, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
