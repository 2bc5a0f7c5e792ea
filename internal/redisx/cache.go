package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatch = 200

// JSONCache is a side-channel cache. Every failure is logged and reported as a miss, so
// an unavailable Redis never fails the caller.
type JSONCache struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewJSONCache(rdb redis.UniversalClient, logger *zap.Logger) *JSONCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONCache{rdb: rdb, logger: logger}
}

// Get decodes the cached value into dst and reports whether it was a hit.
func (c *JSONCache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Debug("cache decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *JSONCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Debug("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidatePrefix deletes every key starting with prefix using SCAN, never KEYS.
func (c *JSONCache) InvalidatePrefix(ctx context.Context, prefix string) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			c.logger.Warn("cache invalidation scan failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn("cache invalidation delete failed", zap.String("prefix", prefix), zap.Error(err))
				return
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Debug("cache invalidated", zap.String("prefix", prefix), zap.Int("keys", deleted))
}
