package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sony/gobreaker/v2"
)

// Observer receives the outcome of every upstream call.
type Observer func(op string, took time.Duration, err error)

// Breaker short-circuits calls to a failing provider. Missing resources and
// cancelled requests do not count as failures.
type Breaker struct {
	next    Gateway
	cb      *gobreaker.CircuitBreaker[any]
	observe Observer
}

type BreakerOption func(*gobreaker.Settings, *Breaker)

// WithObserver reports call durations and errors, typically to metrics.
func WithObserver(o Observer) BreakerOption {
	return func(_ *gobreaker.Settings, b *Breaker) { b.observe = o }
}

// WithTrip overrides the consecutive failure threshold and open duration.
func WithTrip(failures uint32, open time.Duration) BreakerOption {
	return func(s *gobreaker.Settings, _ *Breaker) {
		s.Timeout = open
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		}
	}
}

func NewBreaker(next Gateway, opts ...BreakerOption) *Breaker {
	b := &Breaker{next: next}
	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Gateway] circuit %s: %s -> %s", name, from, to)
		},
	}
	for _, opt := range opts {
		opt(&settings, b)
	}
	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

func (b *Breaker) call(op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s", ErrUnavailable, op)
	}
	if b.observe != nil {
		b.observe(op, time.Since(start), err)
	}
	return res, err
}

func (b *Breaker) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CreatedSession, error) {
	res, err := b.call("create_session", func() (any, error) {
		return b.next.CreateCheckoutSession(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return res.(*CreatedSession), nil
}

func (b *Breaker) GetSession(ctx context.Context, id string) (*Session, error) {
	res, err := b.call("get_session", func() (any, error) {
		return b.next.GetSession(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Session), nil
}

func (b *Breaker) SearchSubscriptions(ctx context.Context, q SubscriptionSearch) (*SubscriptionPage, error) {
	res, err := b.call("search_subscriptions", func() (any, error) {
		return b.next.SearchSubscriptions(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return res.(*SubscriptionPage), nil
}

func (b *Breaker) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	res, err := b.call("find_customer", func() (any, error) {
		return b.next.FindCustomerByEmail(ctx, email)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// VerifyEvent is local signature math and bypasses the circuit.
func (b *Breaker) VerifyEvent(payload []byte, signature string) (*Event, error) {
	return b.next.VerifyEvent(payload, signature)
}

// State exposes the circuit state for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
