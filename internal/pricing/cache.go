package pricing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "estimate:"

// Cache stores estimates in Redis keyed by normalized query. All errors are
// logged and treated as cache misses so pricing keeps working when Redis is
// down.
type Cache struct {
	client *redis.Client
	log    *zap.Logger
}

// NewCache wraps an existing Redis client.
func NewCache(client *redis.Client, log *zap.Logger) *Cache {
	return &Cache{client: client, log: log}
}

func (c *Cache) Get(ctx context.Context, key string) (*Estimate, bool) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("estimate cache get failed", zap.Error(err))
		return nil, false
	}
	var estimate Estimate
	if err := json.Unmarshal(raw, &estimate); err != nil {
		c.log.Warn("estimate cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return &estimate, true
}

func (c *Cache) Set(ctx context.Context, key string, estimate *Estimate, ttl time.Duration) {
	raw, err := json.Marshal(estimate)
	if err != nil {
		c.log.Warn("estimate cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, raw, ttl).Err(); err != nil {
		c.log.Warn("estimate cache set failed", zap.Error(err))
	}
}
