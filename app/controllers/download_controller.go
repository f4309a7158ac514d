package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/entitlements"
	"github.com/thirdpath/thirdpath/internal/pkg/storage"
)

// HandleDownload streams a purchased artifact after the gateway confirms
// the session paid for it.
func (h *Handlers) HandleDownload(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	grant, err := h.Gate.AuthorizeDownload(ctx, c.Query("session_id"), c.Query("slug"))
	cancel()
	if err != nil {
		h.Metrics.Download("denied")
		return writeError(c, err)
	}

	// The body is read after the handler returns, so the open must not be
	// bound to the request timeout.
	body, size, err := h.Store.Open(c.UserContext(), grant.Artifact.FileName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Errorf("[Download] artifact %s for %s is missing from the store", grant.Artifact.FileName, grant.Artifact.Slug)
			h.Metrics.Download("missing")
			return writeError(c, apperr.ErrFileNotMapped)
		}
		h.Metrics.Download("error")
		return writeError(c, err)
	}

	if err := h.Counter.AddDownload(c.UserContext(), grant.Artifact.Slug); err != nil {
		log.Warnf("[Download] count %s: %v", grant.Artifact.Slug, err)
	}
	h.Metrics.Download("served")

	c.Set(fiber.HeaderContentType, grant.Artifact.ContentType)
	c.Set(fiber.HeaderContentDisposition, entitlements.ContentDisposition(grant.Artifact.FileName))
	c.Set(fiber.HeaderCacheControl, "no-store, private")
	return c.Status(fiber.StatusOK).SendStream(body, int(size))
}
