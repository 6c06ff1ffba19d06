package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relaybot:seen:"

// RedisGuard shares the redelivery window across relay replicas.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to redisURL and verifies the connection.
func NewRedisGuard(ctx context.Context, redisURL string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}, nil
}

func seenKey(key string) string {
	return keyPrefix + key
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	set, err := g.client.SetNX(ctx, seenKey(key), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !set, nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
