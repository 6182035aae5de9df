package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/merchantkit/server/internal/shared/config"
)

// NewRedisClient creates a new Redis client and verifies the
// connection.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Close closes the Redis client.
func Close(client *redis.Client) error {
	return client.Close()
}
