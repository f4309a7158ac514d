package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HttpRouter struct {
	opts Options
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.opts.Handlers.HandleHealthz)

	if h.opts.Metrics != nil {
		handlers := []fiber.Handler{}
		if auth := h.opts.MetricsAuth; auth.User != "" && auth.Password != "" {
			handlers = append(handlers, basicauth.New(basicauth.Config{
				Users: map[string]string{auth.User: auth.Password},
				Realm: "metrics",
			}))
		}
		handlers = append(handlers, adaptor.HTTPHandler(promhttp.HandlerFor(h.opts.Metrics.Registry, promhttp.HandlerOpts{})))
		app.Get("/metrics", handlers...)
	}

	// SWAGGER / OPENAPI
	if file := h.opts.OpenAPIFile; file != "" {
		if _, err := os.Stat(file); err != nil {
			log.Warnf("[Router] OpenAPI document %s not found, /swagger disabled", file)
		} else {
			app.Use(swagger.New(swagger.Config{
				BasePath: "/",
				FilePath: file,
				Path:     "swagger",
				Title:    "thirdpath API",
			}))
		}
	}
}

func NewHttpRouter(opts Options) *HttpRouter {
	return &HttpRouter{opts: opts}
}
