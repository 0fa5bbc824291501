package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"remindd/internal/scheduling"
)

// redisCheck returns the native capability check: a PING against the Redis
// instance asynq will use.
func redisCheck(cfg scheduling.NativeConfig) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		rdb := redis.NewClient(&redis.Options{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: -1,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return nil
	}
}
