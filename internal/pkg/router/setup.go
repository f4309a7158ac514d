package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/thirdpath/thirdpath/app/controllers"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Options wires the routers to the running services.
type Options struct {
	Handlers *controllers.Handlers
	Metrics  *metrics.Metrics
	// MetricsAuth guards /metrics when both fields are set.
	MetricsAuth config.Metrics
	// LimiterStorage backs the /api rate limiter; nil keeps it in memory.
	LimiterStorage fiber.Storage
	// RateLimit is the number of /api requests allowed per client and window.
	RateLimit  int
	RateWindow time.Duration
	// OpenAPIFile is served under /swagger when it exists.
	OpenAPIFile string
}

func InstallRouter(app *fiber.App, opts Options) {
	app.Use(
		recover.New(),
		requestid.New(),
		logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
		}),
		cors.New(),
	)
	setup(app, NewHttpRouter(opts), NewApiRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
