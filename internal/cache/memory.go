package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/shubhsaxena/catalog-search/internal/config"
	"github.com/shubhsaxena/catalog-search/internal/observability"
)

// ResponseCache holds serialized gateway responses in memory for a fixed TTL.
// Entries are spread over independently locked shards. Expired entries are
// never returned and are purged by Sweep, which Get runs at most once per
// sweep interval.
type ResponseCache struct {
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	shards        []*shard
	lastSweep     atomic.Int64
	sweeping      atomic.Bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	payload   []byte
	createdAt time.Time
}

type Option func(*ResponseCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

func NewResponseCache(cfg config.CacheConfig, opts ...Option) *ResponseCache {
	n := cfg.Shards
	if n <= 0 {
		n = 16
	}

	c := &ResponseCache{
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		shards:        make([]*shard, n),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastSweep.Store(c.now().UnixNano())
	return c
}

// Get returns the payload stored under key if it is younger than the TTL.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.sweepIfDue()

	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !c.fresh(e) {
		return nil, false
	}
	return e.payload, true
}

// Put stores payload under key, replacing any previous entry.
func (c *ResponseCache) Put(key string, payload []byte) {
	s := c.shardFor(key)
	s.mu.Lock()
	_, existed := s.entries[key]
	s.entries[key] = entry{payload: payload, createdAt: c.now()}
	s.mu.Unlock()

	if !existed {
		observability.CacheEntries.Inc()
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !c.fresh(e) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}

	c.lastSweep.Store(c.now().UnixNano())
	if removed > 0 {
		observability.CacheEvictions.Add(float64(removed))
		observability.CacheEntries.Sub(float64(removed))
	}
	return removed
}

func (c *ResponseCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

func (c *ResponseCache) fresh(e entry) bool {
	return c.now().Sub(e.createdAt) < c.ttl
}

func (c *ResponseCache) sweepIfDue() {
	last := time.Unix(0, c.lastSweep.Load())
	if c.now().Sub(last) < c.sweepInterval {
		return
	}
	if !c.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer c.sweeping.Store(false)
	c.Sweep()
}

func (c *ResponseCache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}
