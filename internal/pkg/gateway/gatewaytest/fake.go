// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
)

// Fake is a scriptable gateway.Gateway. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	Secret        string
	Sessions      map[string]*gateway.Session
	Subscriptions map[string][]gateway.Subscription // keyed by search query
	Customers     map[string]string                 // email -> customer id

	CreateErr error
	GetErr    error
	SearchErr error
	// SearchDelay slows searches down so tests can overlap callers.
	SearchDelay time.Duration

	Created  []gateway.CheckoutParams
	Searches []gateway.SubscriptionSearch
	Gets     []string
	Lookups  []string
}

func New(secret string) *Fake {
	return &Fake{
		Secret:        secret,
		Sessions:      map[string]*gateway.Session{},
		Subscriptions: map[string][]gateway.Subscription{},
		Customers:     map[string]string{},
	}
}

// SetActive registers n active subscriptions for a track.
func (f *Fake) SetActive(track string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]gateway.Subscription, n)
	for i := range subs {
		subs[i] = gateway.Subscription{
			ID:       fmt.Sprintf("sub_%s_%d", track, i),
			Status:   "active",
			Metadata: map[string]string{"track": track},
		}
	}
	f.Subscriptions[gateway.ActiveTrackQuery(track)] = subs
}

// AddSession stores a session snapshot returned by GetSession.
func (f *Fake) AddSession(s *gateway.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sessions[s.ID] = s
}

// Calls returns how many times each operation ran.
func (f *Fake) Calls() (created, searches, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created), len(f.Searches), len(f.Gets)
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, p gateway.CheckoutParams) (*gateway.CreatedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created = append(f.Created, p)
	id := fmt.Sprintf("cs_test_%d", len(f.Created))
	return &gateway.CreatedSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *Fake) GetSession(ctx context.Context, id string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets = append(f.Gets, id)
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	s, ok := f.Sessions[id]
	if !ok {
		return nil, fmt.Errorf("fake get session %s: %w", id, gateway.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) SearchSubscriptions(ctx context.Context, q gateway.SubscriptionSearch) (*gateway.SubscriptionPage, error) {
	if f.SearchDelay > 0 {
		select {
		case <-time.After(f.SearchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Searches = append(f.Searches, q)
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	all := f.Subscriptions[q.Query]
	offset := 0
	if q.Page != "" {
		n, err := strconv.Atoi(q.Page)
		if err != nil {
			return nil, fmt.Errorf("fake search: bad page %q", q.Page)
		}
		offset = n
	}
	limit := int(q.Limit)
	if limit <= 0 {
		limit = 10
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	page := &gateway.SubscriptionPage{}
	if offset < len(all) {
		page.Subscriptions = append(page.Subscriptions, all[offset:end]...)
	}
	if end < len(all) {
		page.NextPage = strconv.Itoa(end)
	}
	return page, nil
}

func (f *Fake) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lookups = append(f.Lookups, email)
	if id, ok := f.Customers[email]; ok {
		return id, nil
	}
	return "", gateway.ErrNotFound
}

func (f *Fake) VerifyEvent(payload []byte, signature string) (*gateway.Event, error) {
	return gateway.VerifyStripeEvent(payload, signature, f.Secret)
}

// SignedEvent builds a Stripe event body and a matching signature header.
func SignedEvent(secret, eventID, eventType, objectID string) ([]byte, string) {
	body, _ := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-01-27.acacia",
		"data": map[string]any{
			"object": map[string]any{"id": objectID, "object": "checkout.session"},
		},
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: body,
		Secret:  secret,
	})
	return body, signed.Header
}
