package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	allowValue = "1"
	denyValue  = "0"
)

// MemoryDecisionCache keeps decisions in process memory.
type MemoryDecisionCache struct {
	store *gocache.Cache
}

// NewMemoryDecisionCache builds an in-process cache. Expired entries are purged
// every cleanup interval.
func NewMemoryDecisionCache(defaultTTL, cleanup time.Duration) *MemoryDecisionCache {
	return &MemoryDecisionCache{store: gocache.New(defaultTTL, cleanup)}
}

// GetDecision returns the cached decision for key, if any.
func (c *MemoryDecisionCache) GetDecision(_ context.Context, key string) (bool, bool, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return false, false, nil
	}
	allowed, ok := v.(bool)
	if !ok {
		c.store.Delete(key)
		return false, false, nil
	}
	return allowed, true, nil
}

// SetDecision stores a decision for ttl.
func (c *MemoryDecisionCache) SetDecision(_ context.Context, key string, allowed bool, ttl time.Duration) error {
	c.store.Set(key, allowed, ttl)
	return nil
}

// Flush drops every cached decision.
func (c *MemoryDecisionCache) Flush() {
	c.store.Flush()
}

// RedisDecisionCache shares decisions between processes through Redis.
type RedisDecisionCache struct {
	client redis.UniversalClient
}

// NewRedisDecisionCache builds a Redis backed cache.
func NewRedisDecisionCache(client redis.UniversalClient) *RedisDecisionCache {
	return &RedisDecisionCache{client: client}
}

// GetDecision returns the cached decision for key, if any.
func (c *RedisDecisionCache) GetDecision(ctx context.Context, key string) (bool, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("platform/cache: get %s: %w", key, err)
	}
	switch v {
	case allowValue:
		return true, true, nil
	case denyValue:
		return false, true, nil
	default:
		return false, false, nil
	}
}

// SetDecision stores a decision for ttl.
func (c *RedisDecisionCache) SetDecision(ctx context.Context, key string, allowed bool, ttl time.Duration) error {
	v := denyValue
	if allowed {
		v = allowValue
	}
	if err := c.client.Set(ctx, key, v, ttl).Err(); err != nil {
		return fmt.Errorf("platform/cache: set %s: %w", key, err)
	}
	return nil
}
