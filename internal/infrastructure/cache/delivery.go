package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryCache remembers webhook deliveries that were fully processed so
// duplicates can be acknowledged without touching the database. It is only a
// fast path; the conditional status update stays authoritative.
type DeliveryCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

type RedisDeliveryCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeliveryCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeliveryCache {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "academy:webhook"
	}
	return &RedisDeliveryCache{client: client, prefix: trimmed, ttl: ttl}
}

func (c *RedisDeliveryCache) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

func (c *RedisDeliveryCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisDeliveryCache) MarkProcessed(ctx context.Context, key string) error {
	return c.client.Set(ctx, c.key(key), 1, c.ttl).Err()
}

// MemoryDeliveryCache is the in-process variant used by the simulator.
type MemoryDeliveryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDeliveryCache(ttl time.Duration) *MemoryDeliveryCache {
	return &MemoryDeliveryCache{ttl: ttl, entries: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryDeliveryCache) Seen(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if c.now().After(expires) {
		delete(c.entries, key)
		return false, nil
	}
	return true, nil
}

func (c *MemoryDeliveryCache) MarkProcessed(_ context.Context, key string) error {
	c.mu.Lock()
	c.entries[key] = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// NoopDeliveryCache never reports a delivery as seen.
type NoopDeliveryCache struct{}

func (NoopDeliveryCache) Seen(context.Context, string) (bool, error) { return false, nil }

func (NoopDeliveryCache) MarkProcessed(context.Context, string) error { return nil }
