package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fuelstation/backend/internal/domain"
)

type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) Get(ctx context.Context, key string) (*domain.ReportAggregate, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var agg domain.ReportAggregate
	if err := json.Unmarshal([]byte(val), &agg); err != nil {
		return nil, false, err
	}
	return &agg, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, key string, value *domain.ReportAggregate, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
