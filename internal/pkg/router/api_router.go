package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/thirdpath/thirdpath/app/controllers"
)

const (
	defaultRateLimit  = 30
	defaultRateWindow = time.Minute
	webhookPath       = "/api/checkout/stripe/webhook"
)

type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	hs := h.opts.Handlers
	api := app.Group("/api", h.limiter())

	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Checkout
	api.Get("/checkout/create", hs.HandleCheckoutPing)
	api.Post("/checkout/create", hs.HandleCreateSubscriptionCheckout)
	api.Post("/subscribe", hs.HandleCreateSubscriptionCheckout)
	api.Post("/checkout/ebook", hs.HandleCreateEbookCheckout)
	api.Post("/checkout/ebook-member", hs.HandleCreateMemberEbookCheckout)
	api.Get("/checkout/success", hs.HandleCheckoutSuccess)

	// Gateway webhook (signature-verified in the controller, not rate limited)
	api.Get("/checkout/stripe/webhook", hs.HandleWebhookPing)
	api.Post("/checkout/stripe/webhook", hs.HandleStripeWebhook)

	api.Get("/download", hs.HandleDownload)

	// Groups
	api.Get("/tracks", hs.HandleListTracks)
	api.Post("/tracks/send-welcome", hs.HandleSendWelcome)
	api.Get("/ics", hs.HandleTrackCalendar)

	// Forms
	api.Post("/contact", hs.HandleContact)
	api.Post("/waitlist", hs.HandleWaitlist)
}

func (h ApiRouter) limiter() fiber.Handler {
	limit, window := h.opts.RateLimit, h.opts.RateWindow
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    h.opts.LimiterStorage,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == webhookPath
		},
		KeyGenerator: controllers.GetClientIP,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}
