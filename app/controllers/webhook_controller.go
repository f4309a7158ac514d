package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/thirdpath/thirdpath/internal/pkg/billing"
)

const signatureHeader = "Stripe-Signature"

// HandleWebhookPing lets the provider dashboard probe the endpoint.
func (h *Handlers) HandleWebhookPing(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// HandleStripeWebhook verifies and processes one gateway event. Only a bad
// signature is reported as a failure. Processing failures are acknowledged
// with 200 and handler_error; the event stays eligible for a manual resend.
func (h *Handlers) HandleStripeWebhook(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	outcome, err := h.Webhooks.Handle(ctx, c.Body(), c.Get(signatureHeader))
	if err != nil {
		return writeError(c, err)
	}

	resp := fiber.Map{"received": true}
	switch outcome {
	case billing.OutcomeDuplicate:
		resp["duplicate"] = true
	case billing.OutcomeIgnored:
		resp["ignored"] = true
	case billing.OutcomeFailed:
		resp["error"] = "handler_error"
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
