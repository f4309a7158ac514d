package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/thirdpath/thirdpath/internal/pkg/config"
)

// NewClient builds a Redis client for the configured server without
// touching the network.
func NewClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// Setup connects to Redis and verifies the connection. Admission holds and
// queued mail live here, so an unreachable server is a startup error.
func Setup(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	log.Infof("[Cache] connected to redis %s:%s (%s)", cfg.Host, cfg.Port, pong)
	return client, nil
}
