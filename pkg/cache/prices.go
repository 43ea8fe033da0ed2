package cache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const numShards = 16

// Quote is the last observed price of a symbol.
type Quote struct {
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Prices is a sharded last-price cache. Writers are the scan loop's price
// ticks; readers are the control API and the reconciler.
type Prices struct {
	shards [numShards]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewPrices creates an empty cache.
func NewPrices() *Prices {
	c := &Prices{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]Quote)}
	}
	return c
}

func (c *Prices) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price as the latest quote for symbol.
func (c *Prices) Set(symbol string, price float64) {
	s := c.shardFor(symbol)
	s.mu.Lock()
	s.items[symbol] = Quote{Price: price, UpdatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the latest price for symbol.
func (c *Prices) Get(symbol string) (float64, bool) {
	q, ok := c.Quote(symbol)
	return q.Price, ok
}

// Quote returns the latest quote for symbol.
func (c *Prices) Quote(symbol string) (Quote, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	q, ok := s.items[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Snapshot copies every quote.
func (c *Prices) Snapshot() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for k, v := range s.items {
			out[k] = v
		}
		s.mu.RUnlock()
	}
	return out
}

// Stale lists symbols, sorted, whose quote is older than maxAge.
func (c *Prices) Stale(maxAge time.Duration) []string {
	cutoff := c.now().Add(-maxAge)
	var out []string
	for sym, q := range c.Snapshot() {
		if q.UpdatedAt.Before(cutoff) {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Retain drops every symbol not in keep and returns how many were removed.
func (c *Prices) Retain(keep []string) int {
	valid := make(map[string]struct{}, len(keep))
	for _, s := range keep {
		valid[s] = struct{}{}
	}
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for sym := range s.items {
			if _, ok := valid[sym]; !ok {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of cached symbols.
func (c *Prices) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
