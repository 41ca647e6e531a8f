package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds configuration for the response cache.
type Config struct {
	// DefaultTTL for cached responses.
	DefaultTTL time.Duration
	// TTLBySource allows different TTLs per source.
	TTLBySource map[string]time.Duration
	// SweepInterval is how often expired entries are proactively evicted.
	SweepInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:    10 * time.Minute,
		SweepInterval: time.Minute,
		TTLBySource: map[string]time.Duration{
			"musicbrainz": time.Hour,
			"wikipedia":   time.Hour,
			"datamuse":    30 * time.Minute,
			"wordnik":     30 * time.Minute,
		},
	}
}

type entry struct {
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
	TTL      time.Duration   `json:"ttl"`
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.CachedAt.Add(e.TTL))
}

// ResponseCache is a TTL store of prior successful responses, keyed by a
// deterministic signature of (source, endpoint, params). The memory tier is
// authoritative; an optional Redis tier survives beyond it and is read
// through on memory misses.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	config  *Config
	rdb     *redis.Client // nil disables the second tier
	logger  *zap.Logger

	hits   int64
	misses int64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a cache with an optional Redis tier (pass nil to run memory
// only).
func New(config *Config, rdb *redis.Client, logger *zap.Logger) *ResponseCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		entries: make(map[string]entry),
		config:  config,
		rdb:     rdb,
		logger:  logger,
	}
}

// Key builds the deterministic cache key for one request signature. Params
// are sorted so map iteration order cannot change the key.
func Key(source, endpoint string, params map[string]string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}

	return "response:" + source + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// Get returns the cached data for key if it has not expired. Expired entries
// are evicted on read.
func (c *ResponseCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if !e.expired(now) {
			atomic.AddInt64(&c.hits, 1)
			return e.Data, true
		}
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if e2, still := c.entries[key]; still && e2.expired(now) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	if data, ok := c.redisGet(ctx, key); ok {
		atomic.AddInt64(&c.hits, 1)
		return data, true
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

// Set stores data for key with the source's TTL.
func (c *ResponseCache) Set(ctx context.Context, key, source string, data json.RawMessage) {
	ttl := c.ttlFor(source)
	e := entry{Data: data, CachedAt: time.Now(), TTL: ttl}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.rdb != nil {
		payload, err := json.Marshal(e)
		if err == nil {
			if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
				c.logger.Warn("redis cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}

func (c *ResponseCache) redisGet(ctx context.Context, key string) (json.RawMessage, bool) {
	if c.rdb == nil {
		return nil, false
	}
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, false
	}
	if e.expired(time.Now()) {
		return nil, false
	}

	// Promote back into the memory tier.
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e.Data, true
}

func (c *ResponseCache) ttlFor(source string) time.Duration {
	if ttl, ok := c.config.TTLBySource[source]; ok {
		return ttl
	}
	if c.config.DefaultTTL > 0 {
		return c.config.DefaultTTL
	}
	return DefaultConfig().DefaultTTL
}

// Len returns the number of live entries in the memory tier.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *ResponseCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Start launches the periodic sweep that evicts expired entries to bound
// memory. The loop stops when ctx is cancelled or Stop is called.
func (c *ResponseCache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				evicted := c.sweep()
				if evicted > 0 {
					c.logger.Debug("cache sweep", zap.Int("evicted", evicted))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (c *ResponseCache) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
}

func (c *ResponseCache) sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
