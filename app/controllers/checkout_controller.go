package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/billing"
	"github.com/thirdpath/thirdpath/internal/pkg/membership"
)

type subscribeRequest struct {
	Track string `json:"track"`
}

type ebookRequest struct {
	Slug  string `json:"slug"`
	Email string `json:"email"`
}

// HandleCheckoutPing answers GET on the checkout endpoint.
func (h *Handlers) HandleCheckoutPing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true, "endpoint": "checkout/create"})
}

// HandleCreateSubscriptionCheckout starts a group subscription checkout.
func (h *Handlers) HandleCreateSubscriptionCheckout(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.ErrInvalidTrack)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	checkout, err := h.Issuer.CreateSubscriptionCheckout(ctx, billing.SubscriptionRequest{
		Track:  req.Track,
		Origin: requestOrigin(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"url": checkout.URL})
}

// HandleCreateEbookCheckout starts a one-time purchase at the public price.
func (h *Handlers) HandleCreateEbookCheckout(c *fiber.Ctx) error {
	return h.createPaymentCheckout(c, false)
}

// HandleCreateMemberEbookCheckout starts a one-time purchase at the member
// price. The member cookie only says which customer to check; membership
// is always verified with the gateway.
func (h *Handlers) HandleCreateMemberEbookCheckout(c *fiber.Ctx) error {
	return h.createPaymentCheckout(c, true)
}

func (h *Handlers) createPaymentCheckout(c *fiber.Ctx, member bool) error {
	var req ebookRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.ErrMissingSlug)
	}

	preq := billing.PaymentRequest{
		Slug:   req.Slug,
		Email:  strings.TrimSpace(req.Email),
		Member: member,
		Origin: requestOrigin(c),
	}
	if member && h.Signer != nil {
		preq.CustomerHint = h.Signer.Hint(c.Cookies(membership.CookieName))
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	checkout, err := h.Issuer.CreatePaymentCheckout(ctx, preq)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"url": checkout.URL})
}

// HandleCheckoutSuccess resolves a finished session for the success page
// and remembers group members in a signed cookie.
func (h *Handlers) HandleCheckoutSuccess(c *fiber.Ctx) error {
	id := c.Query("id")
	if id == "" {
		id = c.Query("session_id")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Resolver.Resolve(ctx, id)
	if err != nil {
		return writeError(c, err)
	}

	if res.IsMember && res.CustomerID != "" && h.Signer != nil {
		token, err := h.Signer.Issue(res.CustomerID)
		if err != nil {
			log.Errorf("[Checkout] sign member cookie: %v", err)
		} else {
			c.Cookie(membership.Cookie(token, h.Signer.TTL(), h.SecureCookies))
		}
	}

	return c.JSON(fiber.Map{
		"track": res.Track,
		"email": res.Email,
		"slug":  res.Slug,
	})
}
