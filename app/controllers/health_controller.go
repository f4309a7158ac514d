package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HandleHealthz reports liveness, and Redis reachability when Redis is used.
func (h *Handlers) HandleHealthz(c *fiber.Ctx) error {
	if h.Redis != nil {
		ctx, cancel := requestContext(c)
		defer cancel()
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			log.Warnf("[Health] redis ping failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "redis": "down"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
