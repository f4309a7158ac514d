package router

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/thirdpath/thirdpath/internal/pkg/config"
)

// limiterDBOffset keeps rate-limit keys out of the application database.
const limiterDBOffset = 1

// LimiterStorage returns Redis storage for the rate limiter, or nil when
// Redis is not configured so the limiter keeps its counters in memory.
func LimiterStorage(cfg config.Redis) fiber.Storage {
	if cfg.Host == "" {
		return nil
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: (cfg.DB + limiterDBOffset) % 16,
		Reset:    false,
	})
}
