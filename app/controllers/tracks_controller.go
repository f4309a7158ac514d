package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/calendar"
)

const upcomingSessions = 3

type trackStatus struct {
	ID           models.TrackID `json:"id"`
	Anchor       string         `json:"anchor"`
	Label        string         `json:"label"`
	StartsAt     time.Time      `json:"starts_at"`
	FirstSession string         `json:"first_session"`
	Used         int            `json:"used"`
	Cap          int            `json:"cap"`
	SeatsLeft    int            `json:"seats_left"`
	NextSessions []time.Time    `json:"next_sessions"`
}

// HandleListTracks reports seat usage and upcoming dates for every group.
// Usage counts active subscriptions plus seats held by open checkouts.
func (h *Handlers) HandleListTracks(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tracks := models.Tracks()
	out := make([]trackStatus, len(tracks))
	now := h.now()

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tracks {
		i, t := i, t
		g.Go(func() error {
			st, err := h.trackStatus(gctx, t, now)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return writeError(c, apperr.Upstream(err))
	}
	return c.JSON(fiber.Map{"tracks": out})
}

func (h *Handlers) trackStatus(ctx context.Context, t models.Track, now time.Time) (trackStatus, error) {
	limit := h.Oracle.Cap()
	active, err := h.Oracle.CountActive(ctx, t.ID)
	if err != nil {
		return trackStatus{}, err
	}
	pending := 0
	if h.Ledger != nil {
		if pending, err = h.Ledger.Pending(ctx, string(t.ID)); err != nil {
			return trackStatus{}, err
		}
	}
	used := min(active+pending, limit)

	next, err := calendar.Upcoming(t, now, upcomingSessions)
	if err != nil {
		return trackStatus{}, err
	}
	return trackStatus{
		ID:           t.ID,
		Anchor:       t.Anchor,
		Label:        t.Label,
		StartsAt:     t.StartsAt,
		FirstSession: t.FirstSession,
		Used:         used,
		Cap:          limit,
		SeatsLeft:    limit - used,
		NextSessions: next,
	}, nil
}

// HandleTrackCalendar serves the iCalendar feed of one group.
func (h *Handlers) HandleTrackCalendar(c *fiber.Ctx) error {
	track, ok := models.LookupTrack(c.Query("track"))
	if !ok {
		return writeError(c, apperr.ErrBadTrack)
	}

	body, err := h.Calendar.ICS(track)
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+calendar.FileName(track)+`"`)
	return c.Send(body)
}

type sendWelcomeRequest struct {
	SessionID string `json:"session_id"`
}

// HandleSendWelcome re-sends the welcome mail of a group purchase. The
// recipient and the track come from the session, never from the request.
func (h *Handlers) HandleSendWelcome(c *fiber.Ctx) error {
	var req sendWelcomeRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" {
		return writeError(c, apperr.ErrMissingFields)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Resolver.Resolve(ctx, req.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	if res.Track == nil || res.Email == nil {
		return writeError(c, apperr.ErrNotAGroupSession)
	}
	track, _ := models.LookupTrack(*res.Track)

	if err := h.Notifications.GroupWelcome(ctx, track, *res.Email); err != nil {
		return writeError(c, apperr.ErrSendFailed.Wrap(err))
	}
	return c.JSON(fiber.Map{"ok": true})
}
