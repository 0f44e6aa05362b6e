package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how often the same address is re-probed. A cached
// "not ready" is trusted until it expires, trading a staleness window for
// backend load reduction.
const DefaultTTL = 30 * time.Second

// Cache stores probe outcomes per instance address. Both ready and not-ready
// results are cached for the full TTL to prevent probe storms.
type Cache interface {
	// Get returns the cached readiness for addr. The second return is false
	// on a cache miss.
	Get(ctx context.Context, addr string) (ready bool, ok bool, err error)
	Put(ctx context.Context, addr string, ready bool, ttl time.Duration) error
}

const keyPrefix = "vdib:readiness:"

// RedisCache shares probe outcomes across broker replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix}
}

func (c *RedisCache) Get(ctx context.Context, addr string) (bool, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+addr).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("readiness get: %w", err)
	}
	return value == "Y", true, nil
}

func (c *RedisCache) Put(ctx context.Context, addr string, ready bool, ttl time.Duration) error {
	value := "N"
	if ready {
		value = "Y"
	}
	if err := c.client.Set(ctx, c.prefix+addr, value, ttl).Err(); err != nil {
		return fmt.Errorf("readiness put: %w", err)
	}
	return nil
}

type memoryEntry struct {
	ready     bool
	expiresAt time.Time
}

// MemoryCache is a process-local cache for tests and single-node setups.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, addr string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[addr]
	if !ok {
		return false, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, addr)
		return false, false, nil
	}
	return entry.ready, true, nil
}

func (c *MemoryCache) Put(_ context.Context, addr string, ready bool, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = memoryEntry{ready: ready, expiresAt: c.now().Add(ttl)}
	return nil
}
