package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evcharge/internal/logger"
	"evcharge/internal/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

type cachedClient struct {
	next  Client
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedClient puts a redis read-through cache in front of next. Redis
// failures fall through to next.
func NewCachedClient(next Client, rdb *redis.Client, ttl time.Duration) Client {
	return &cachedClient{next: next, redis: rdb, ttl: ttl}
}

func cacheKey(id int64) string {
	return fmt.Sprintf("catalog:point:%d", id)
}

func (c *cachedClient) GetChargingPoint(ctx context.Context, id int64) (*ChargingPoint, error) {
	key := cacheKey(id)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var point ChargingPoint
		if err := json.Unmarshal(data, &point); err == nil {
			metrics.RecordCatalogLookup("cache", "hit")
			return &point, nil
		}
		logger.Warn("dropping corrupt catalog cache entry", "key", key)
	case errors.Is(err, redis.Nil):
		metrics.RecordCatalogLookup("cache", "miss")
	default:
		logger.WithError(err).Warn("catalog cache read failed", "key", key)
	}

	point, err := c.next.GetChargingPoint(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(point); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			logger.WithError(err).Warn("catalog cache write failed", "key", key)
		}
	}

	return point, nil
}
