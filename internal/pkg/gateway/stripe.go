package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe implements Gateway on top of the Stripe API.
type Stripe struct {
	sc            *client.API
	webhookSecret string
	timeout       time.Duration
}

// NewStripe builds a Stripe gateway. timeout bounds every API call.
func NewStripe(secretKey, webhookSecret string, timeout time.Duration) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &Stripe{sc: sc, webhookSecret: webhookSecret, timeout: timeout}
}

func (s *Stripe) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CreatedSession, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(p.Currency),
		UnitAmount: stripe.Int64(p.UnitAmount),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(p.ProductName),
			Metadata: p.ProductMetadata,
		},
	}
	if p.Recurring != nil {
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripe.String(p.Recurring.Interval),
			IntervalCount: stripe.Int64(p.Recurring.IntervalCount),
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(p.Mode)),
		Locale:              stripe.String("auto"),
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
		AllowPromotionCodes: stripe.Bool(p.AllowPromotionCodes),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Quantity: stripe.Int64(1), PriceData: priceData},
		},
	}
	params.Context = ctx

	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ClientReferenceID)
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if !p.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(p.ExpiresAt.Unix())
	}
	if p.Mode == ModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.SubscriptionMetadata,
		}
		if !p.TrialEnd.IsZero() {
			params.SubscriptionData.TrialEnd = stripe.Int64(p.TrialEnd.Unix())
		}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError("create checkout session", err)
	}
	return &CreatedSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) GetSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("customer")
	params.AddExpand("line_items.data.price.product")

	sess, err := s.sc.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, mapStripeError("get checkout session", err)
	}
	return convertSession(sess), nil
}

func (s *Stripe) SearchSubscriptions(ctx context.Context, q SubscriptionSearch) (*SubscriptionPage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionSearchParams{}
	params.Context = ctx
	params.Query = q.Query
	params.Single = true
	if q.Limit > 0 {
		params.Limit = stripe.Int64(q.Limit)
	}
	if q.Page != "" {
		params.Page = stripe.String(q.Page)
	}

	it := s.sc.Subscriptions.Search(params)
	page := &SubscriptionPage{}
	for it.Next() {
		page.Subscriptions = append(page.Subscriptions, convertSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, mapStripeError("search subscriptions", err)
	}
	if res := it.SubscriptionSearchResult(); res != nil && res.HasMore && res.NextPage != nil {
		page.NextPage = *res.NextPage
	}
	return page, nil
}

func (s *Stripe) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := s.sc.Customers.List(params)
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", mapStripeError("list customers", err)
	}
	return "", ErrNotFound
}

func (s *Stripe) VerifyEvent(payload []byte, signature string) (*Event, error) {
	return VerifyStripeEvent(payload, signature, s.webhookSecret)
}

// VerifyStripeEvent checks a Stripe-Signature header against secret and
// decodes the event envelope.
func VerifyStripeEvent(payload []byte, signature, secret string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil && len(ev.Data.Raw) > 0 {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &obj); err == nil {
			out.ObjectID = obj.ID
		}
	}
	return out, nil
}

func mapStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("stripe %s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("stripe %s: %s (%d)", op, serr.Msg, serr.HTTPStatusCode)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

func convertSession(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:                s.ID,
		Status:            string(s.Status),
		PaymentStatus:     string(s.PaymentStatus),
		Mode:              Mode(s.Mode),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CustomerDetails != nil {
		out.Email = s.CustomerDetails.Email
	}
	if s.Subscription != nil {
		sub := convertSubscription(s.Subscription)
		out.Subscription = &sub
	}
	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			if li == nil {
				continue
			}
			item := LineItem{Description: li.Description}
			if li.Price != nil && li.Price.Product != nil {
				item.ProductID = li.Price.Product.ID
				item.ProductMetadata = li.Price.Product.Metadata
			}
			out.LineItems = append(out.LineItems, item)
		}
	}
	return out
}

func convertSubscription(s *stripe.Subscription) Subscription {
	if s == nil {
		return Subscription{}
	}
	return Subscription{ID: s.ID, Status: string(s.Status), Metadata: s.Metadata}
}
