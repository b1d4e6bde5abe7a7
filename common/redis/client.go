package redis

import (
	"context"
	"fmt"

	"sta-timeseries/common/config"

	"github.com/go-redis/redis/v8"
)

// Client is an alias so callers do not need to import go-redis directly.
type Client = redis.Client

// NewRedisClient creates a client from cfg. It does not dial. Zero
// pool size and timeouts keep the go-redis defaults.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// a failed read falls back to the catalog
		MaxRetries: 1,
	})
}

// Ping checks connectivity.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis at %s: %w", client.Options().Addr, err)
	}
	return nil
}

// Close closes the client.
func Close(client *redis.Client) error {
	return client.Close()
}
