package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
)

const requestTimeout = 15 * time.Second

// requestContext bounds downstream calls made on behalf of one request.
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// writeError renders a classified error as {"error": code, ...fields}.
// Unclassified errors become a bare 500 and are only logged server side.
func writeError(c *fiber.Ctx, err error) error {
	e := apperr.From(err)
	status := e.Kind.Status()
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}

	body := fiber.Map{"error": e.Code}
	for k, v := range e.Fields {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

// requestOrigin is the scheme and host the browser used, for redirect URLs
// when no public site URL is configured.
func requestOrigin(c *fiber.Ctx) string {
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		return origin
	}
	return c.BaseURL()
}

// GetClientIP determines the actual client IP address considering proxies.
// Cloudflare's header wins over X-Forwarded-For, which wins over the peer.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	// X-Forwarded-For can contain a list of IPs - the first one is the original client IP
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	// For ::ffff: IPv4-mapped-IPv6 addresses
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
