package morning

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bencan1a/calendarBot-sub009/server/observability"
)

// cacheTTL bounds how long a memoized summary stays valid.
const cacheTTL = 300 * time.Second

// Cache memoizes analyzer results. Backends must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, res *Result)
}

// NewCache returns a Redis-backed cache when a client is provided and an
// in-memory TTL cache otherwise.
func NewCache(client *redis.Client, clock clockwork.Clock, log zerolog.Logger) Cache {
	if client != nil {
		return &redisCache{client: client, log: log.With().Str("component", "morning-cache").Logger()}
	}
	return &memoryCache{clock: clock, entries: make(map[string]memoryEntry)}
}

type memoryEntry struct {
	res     *Result
	expires time.Time
}

// memoryCache is a TTL map: reads evict the expired key they hit, writes run
// a cleanup pass so the map stays bounded without a background sweeper.
type memoryCache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]memoryEntry
}

func (c *memoryCache) Get(_ context.Context, key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		observability.MorningSummaryCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.clock.Now().After(entry.expires) {
		delete(c.entries, key)
		observability.MorningSummaryCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	observability.MorningSummaryCache.WithLabelValues("hit").Inc()
	return entry.res, true
}

func (c *memoryCache) Set(_ context.Context, key string, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryEntry{res: res, expires: now.Add(cacheTTL)}
}

// redisCache stores JSON-encoded results with a server-side TTL. Errors are
// treated as misses so a flaky Redis only costs recomputation.
type redisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

func (c *redisCache) Get(ctx context.Context, key string) (*Result, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("cache read failed")
		}
		observability.MorningSummaryCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		observability.MorningSummaryCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	observability.MorningSummaryCache.WithLabelValues("hit").Inc()
	return &res, true
}

func (c *redisCache) Set(ctx context.Context, key string, res *Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache write failed")
	}
}
