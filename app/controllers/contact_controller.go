package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/mail"
)

type contactRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required"`
	Track   string `json:"track"`
	// Website is a honeypot; people never see the field.
	Website string `json:"website"`
	Captcha string `json:"h-captcha-response"`
}

// HandleContact forwards the contact form to the practice.
func (h *Handlers) HandleContact(c *fiber.Ctx) error {
	var req contactRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.ErrBadRequest)
	}
	if req.Website != "" {
		return c.JSON(fiber.Map{"ok": true})
	}
	trimAll(&req.Name, &req.Email, &req.Message, &req.Track)
	if err := validate.Struct(req); err != nil {
		return writeError(c, apperr.ErrBadRequest)
	}
	if err := h.verifyCaptcha(c, req.Captcha); err != nil {
		return writeError(c, err)
	}

	msg, err := h.Composer.Contact(mail.ContactRequest{
		Name:    req.Name,
		Email:   req.Email,
		Group:   req.Track,
		Message: req.Message,
	})
	if err != nil {
		return writeError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.Mail.Dispatch(ctx, msg); err != nil {
		return writeError(c, apperr.ErrSendFailed.Wrap(err))
	}
	return c.JSON(fiber.Map{"ok": true})
}

// waitlistTracks also names the French groups, which only collect interest.
var waitlistTracks = map[string]bool{"t1-en": true, "t2-en": true, "t1-fr": true, "t2-fr": true}

type waitlistRequest struct {
	Type    string `json:"type" validate:"omitempty,oneof=info waitlist"`
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Track   string `json:"track" validate:"required"`
	Message string `json:"message"`
	Captcha string `json:"h-captcha-response"`
}

// HandleWaitlist records a waitlist or info request. The admin mail and
// the auto-reply go out concurrently; delivery errors never reach the
// visitor.
func (h *Handlers) HandleWaitlist(c *fiber.Ctx) error {
	var req waitlistRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apperr.ErrMissingFields)
	}
	trimAll(&req.Type, &req.Name, &req.Email, &req.Track)
	if err := validate.Struct(req); err != nil || !waitlistTracks[req.Track] {
		return writeError(c, apperr.ErrMissingFields)
	}
	if err := h.verifyCaptcha(c, req.Captcha); err != nil {
		return writeError(c, err)
	}

	in := mail.Inquiry{
		Kind:    mail.InquiryWaitlist,
		Name:    req.Name,
		Email:   req.Email,
		Track:   req.Track,
		Message: req.Message,
	}
	if req.Type == string(mail.InquiryInfo) {
		in.Kind = mail.InquiryInfo
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, compose := range []func(mail.Inquiry) (mail.Message, error){h.Composer.WaitlistAdmin, h.Composer.WaitlistReply} {
		compose := compose
		g.Go(func() error {
			msg, err := compose(in)
			if err != nil {
				return err
			}
			return h.Mail.Dispatch(gctx, msg)
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("[Waitlist] send for %s: %v", req.Track, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// verifyCaptcha is a no-op unless a captcha secret is configured.
func (h *Handlers) verifyCaptcha(c *fiber.Ctx, token string) error {
	if h.Captcha == nil {
		return nil
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.Captcha.Verify(ctx, token, GetClientIP(c)); err != nil {
		log.Warnf("[Forms] captcha rejected on %s: %v", c.Path(), err)
		return apperr.ErrCaptchaFailed
	}
	return nil
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
