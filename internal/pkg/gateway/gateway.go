// Package gateway describes the payment provider capabilities the service
// relies on and converts provider responses into typed values.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a session or customer the provider does not know.
	ErrNotFound = errors.New("gateway: resource not found")
	// ErrInvalidSignature reports a webhook payload whose signature does
	// not verify against the shared secret.
	ErrInvalidSignature = errors.New("gateway: invalid signature")
	// ErrUnavailable reports a short-circuited call while the provider is
	// considered down.
	ErrUnavailable = errors.New("gateway: unavailable")
)

type Mode string

const (
	ModeSubscription Mode = "subscription"
	ModePayment      Mode = "payment"
)

// Payment and session states the service inspects.
const (
	PaymentStatusPaid = "paid"
	SessionComplete   = "complete"

	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// Recurring describes a subscription price interval.
type Recurring struct {
	Interval      string
	IntervalCount int64
}

// CheckoutParams is everything needed to mint one checkout session with a
// single line item.
type CheckoutParams struct {
	Mode            Mode
	Currency        string
	UnitAmount      int64
	Recurring       *Recurring
	ProductName     string
	ProductMetadata map[string]string

	Metadata             map[string]string
	SubscriptionMetadata map[string]string
	TrialEnd             time.Time

	ClientReferenceID   string
	CustomerID          string
	SuccessURL          string
	CancelURL           string
	AllowPromotionCodes bool
	ExpiresAt           time.Time
	IdempotencyKey      string
}

// CreatedSession is the part of a new session callers need.
type CreatedSession struct {
	ID  string
	URL string
}

// Session is a checkout session snapshot with its subscription, customer
// and purchased products expanded.
type Session struct {
	ID                string
	Status            string
	PaymentStatus     string
	Mode              Mode
	CustomerID        string
	Email             string
	ClientReferenceID string
	Metadata          map[string]string
	Subscription      *Subscription
	LineItems         []LineItem
}

// Paid reports whether the provider settled payment for the session.
func (s *Session) Paid() bool {
	return s != nil && s.PaymentStatus == PaymentStatusPaid
}

type Subscription struct {
	ID       string
	Status   string
	Metadata map[string]string
}

type LineItem struct {
	Description     string
	ProductID       string
	ProductMetadata map[string]string
}

// SubscriptionSearch requests one page of a subscription search.
type SubscriptionSearch struct {
	Query string
	Limit int64
	Page  string
}

// SubscriptionPage is one page of search results. NextPage is empty on the
// last page.
type SubscriptionPage struct {
	Subscriptions []Subscription
	NextPage      string
}

// Event is a verified webhook event. ObjectID is the id of the object the
// event refers to, when present.
type Event struct {
	ID       string
	Type     string
	ObjectID string
}

// Gateway is the payment provider as seen by this service.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CreatedSession, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	SearchSubscriptions(ctx context.Context, q SubscriptionSearch) (*SubscriptionPage, error)
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// ActiveTrackQuery matches subscriptions counting against a track's seats.
func ActiveTrackQuery(track string) string {
	return "(status:'active' OR status:'trialing') AND metadata['track']:'" + quote(track) + "'"
}

// CustomerStatusQuery matches subscriptions of one customer in any of the
// given statuses.
func CustomerStatusQuery(customerID string, statuses []string) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, "status:'"+quote(s)+"'")
	}
	return "customer:'" + quote(customerID) + "' AND (" + strings.Join(parts, " OR ") + ")"
}

func quote(v string) string {
	return strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `'`, `\'`)
}
