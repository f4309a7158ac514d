package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/admission"
	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics"
)

// confirmGrace keeps a completed checkout's seat held until the new
// subscription shows up in search results.
const confirmGrace = 5 * time.Minute

type Outcome string

const (
	OutcomeHandled   Outcome = "handled"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Notifier sends the mails that follow a group subscription.
type Notifier interface {
	GroupWelcome(ctx context.Context, track models.Track, email string) error
	NewSubscriber(ctx context.Context, track models.Track, email, subscriptionID string) error
}

// WebhookProcessor verifies gateway events and reacts to finished and
// abandoned checkouts. Once an event is verified, processing failures are
// logged and never returned, so the gateway does not retry.
type WebhookProcessor struct {
	gw       gateway.Gateway
	ledger   admission.Ledger
	notifier Notifier
	dedupe   Deduper
	metrics  *metrics.Metrics
}

func NewWebhookProcessor(gw gateway.Gateway, ledger admission.Ledger, notifier Notifier, dedupe Deduper, m *metrics.Metrics) *WebhookProcessor {
	if ledger == nil {
		ledger = admission.Disabled{}
	}
	return &WebhookProcessor{gw: gw, ledger: ledger, notifier: notifier, dedupe: dedupe, metrics: m}
}

// Handle verifies and processes one delivery. Only signature problems are
// returned as errors.
func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if strings.TrimSpace(signature) == "" {
		return "", apperr.ErrNoSignature
	}
	ev, err := p.gw.VerifyEvent(payload, signature)
	if err != nil {
		log.Warnf("[Webhook] rejected delivery: %v", err)
		return "", apperr.ErrInvalidSignature
	}

	if p.dedupe != nil {
		first, err := p.dedupe.First(ctx, ev.ID)
		if err != nil {
			log.Warnf("[Webhook] dedupe unavailable for %s: %v", ev.ID, err)
		} else if !first {
			p.metrics.WebhookEvent(ev.Type, string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	var outcome Outcome
	switch ev.Type {
	case gateway.EventCheckoutCompleted:
		outcome = p.completed(ctx, ev)
	case gateway.EventCheckoutExpired:
		outcome = p.expired(ctx, ev)
	default:
		outcome = OutcomeIgnored
	}

	if outcome == OutcomeFailed && p.dedupe != nil {
		if err := p.dedupe.Forget(context.WithoutCancel(ctx), ev.ID); err != nil {
			log.Warnf("[Webhook] forget %s: %v", ev.ID, err)
		}
	}
	p.metrics.WebhookEvent(ev.Type, string(outcome))
	return outcome, nil
}

func (p *WebhookProcessor) completed(ctx context.Context, ev *gateway.Event) Outcome {
	if ev.ObjectID == "" {
		log.Warnf("[Webhook] %s without session id", ev.ID)
		return OutcomeFailed
	}

	// The event body may be stale or partial; the gateway has the truth.
	sess, err := p.gw.GetSession(ctx, ev.ObjectID)
	if err != nil {
		log.Errorf("[Webhook] retrieve session %s: %v", ev.ObjectID, err)
		return OutcomeFailed
	}

	if token := sess.Metadata[MetadataReservation]; token != "" {
		if err := p.ledger.Confirm(ctx, sess.Metadata[MetadataTrack], token, confirmGrace); err != nil {
			log.Warnf("[Webhook] confirm hold for %s: %v", sess.ID, err)
		}
	}

	tr := ResolveTrack(sess)
	switch tr.Kind {
	case TrackAbsent:
		return OutcomeHandled
	case TrackMalformed:
		log.Warnf("[Webhook] session %s carries unknown track %q in %s", sess.ID, tr.Raw, tr.Source)
		return OutcomeHandled
	}

	email := strings.TrimSpace(sess.Email)
	if email == "" {
		log.Warnf("[Webhook] session %s for %s has no email, skipping welcome", sess.ID, tr.Track.ID)
		return OutcomeHandled
	}

	subID := ""
	if sess.Subscription != nil {
		subID = sess.Subscription.ID
	}

	if p.notifier == nil {
		return OutcomeHandled
	}
	if err := p.notifier.GroupWelcome(ctx, tr.Track, email); err != nil {
		p.metrics.Notification("failed")
		log.Errorf("[Webhook] welcome for session %s: %v", sess.ID, err)
	} else {
		p.metrics.Notification("dispatched")
	}
	if err := p.notifier.NewSubscriber(ctx, tr.Track, email, subID); err != nil {
		p.metrics.Notification("failed")
		log.Errorf("[Webhook] admin notice for session %s: %v", sess.ID, err)
	} else {
		p.metrics.Notification("dispatched")
	}
	return OutcomeHandled
}

func (p *WebhookProcessor) expired(ctx context.Context, ev *gateway.Event) Outcome {
	if ev.ObjectID == "" {
		return OutcomeIgnored
	}
	sess, err := p.gw.GetSession(ctx, ev.ObjectID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return OutcomeIgnored
		}
		log.Warnf("[Webhook] retrieve expired session %s: %v", ev.ObjectID, err)
		return OutcomeFailed
	}

	token := sess.Metadata[MetadataReservation]
	if token == "" {
		return OutcomeIgnored
	}
	if err := p.ledger.Release(ctx, sess.Metadata[MetadataTrack], token); err != nil {
		log.Warnf("[Webhook] release hold for %s: %v", sess.ID, err)
		return OutcomeFailed
	}
	return OutcomeHandled
}
