package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
)

const (
	resolverCacheSize = 1024
	resolverCacheTTL  = 5 * time.Minute
)

// Resolution is the normalized view of a finished checkout.
type Resolution struct {
	SessionID     string  `json:"-"`
	Track         *string `json:"track"`
	Email         *string `json:"email"`
	Slug          *string `json:"slug"`
	IsMember      bool    `json:"is_member"`
	CustomerID    string  `json:"-"`
	PaymentStatus string  `json:"-"`
}

// Resolver turns a session id into a Resolution. Completed sessions no
// longer change, so their resolutions are cached for a few minutes.
type Resolver struct {
	gw    gateway.Gateway
	cache *expirable.LRU[string, Resolution]
}

func NewResolver(gw gateway.Gateway) *Resolver {
	return &Resolver{
		gw:    gw,
		cache: expirable.NewLRU[string, Resolution](resolverCacheSize, nil, resolverCacheTTL),
	}
}

// Resolve fetches the session with its subscription, customer and line
// items and extracts track, email, product slug and membership.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (*Resolution, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, apperr.ErrMissingSessionID
	}
	if res, ok := r.cache.Get(id); ok {
		return &res, nil
	}

	sess, err := r.Session(ctx, id)
	if err != nil {
		return nil, err
	}

	res := Snapshot(sess)
	if sess.Status == gateway.SessionComplete {
		r.cache.Add(id, res)
	}
	return &res, nil
}

// Session retrieves the expanded session, classifying failures.
func (r *Resolver) Session(ctx context.Context, id string) (*gateway.Session, error) {
	sess, err := r.gw.GetSession(ctx, id)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, apperr.ErrInvalidSessionID
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return sess, nil
}

// Snapshot extracts a Resolution from a session already in hand.
func Snapshot(sess *gateway.Session) Resolution {
	res := Resolution{
		SessionID:     sess.ID,
		CustomerID:    sess.CustomerID,
		PaymentStatus: sess.PaymentStatus,
	}

	tr := ResolveTrack(sess)
	switch tr.Kind {
	case TrackResolved:
		id := string(tr.Track.ID)
		res.Track = &id
		res.IsMember = true
	case TrackMalformed:
		log.Warnf("[Resolver] session %s carries unknown track %q in %s", sess.ID, tr.Raw, tr.Source)
	}

	if email := strings.TrimSpace(sess.Email); email != "" {
		res.Email = &email
	}
	if slug := ResolveSlug(sess); slug != "" {
		res.Slug = &slug
	}
	return res
}
