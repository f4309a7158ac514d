package billing

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/admission"
	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics"
)

const (
	currencyUSD = "usd"

	// holdSlack keeps a seat held a little past the session's own expiry.
	holdSlack = 5 * time.Minute
	// expirySkew keeps expires_at above the provider's 30 minute minimum
	// once the request reaches it.
	expirySkew = time.Minute
)

// MemberStatuses are the subscription states that unlock member prices.
var MemberStatuses = []string{"active", "trialing", "past_due", "unpaid"}

// Checkout is a minted checkout session.
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type SubscriptionRequest struct {
	Track string
	// Origin is the request origin, used when no site URL is configured.
	Origin string
}

type PaymentRequest struct {
	Slug   string
	Email  string
	Member bool
	// CustomerHint is the customer id from the member cookie, if any.
	CustomerHint string
	Origin       string
}

type IssuerOptions struct {
	Pricing config.Pricing
	SiteURL string
	Hold    time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Issuer mints checkout sessions for group subscriptions and one-time
// guide purchases.
type Issuer struct {
	gw      gateway.Gateway
	oracle  *CapacityOracle
	ledger  admission.Ledger
	pricing config.Pricing
	siteURL string
	hold    time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewIssuer(gw gateway.Gateway, oracle *CapacityOracle, ledger admission.Ledger, opts IssuerOptions) *Issuer {
	if ledger == nil {
		ledger = admission.Disabled{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hold <= 0 {
		opts.Hold = 30 * time.Minute
	}
	return &Issuer{
		gw:      gw,
		oracle:  oracle,
		ledger:  ledger,
		pricing: opts.Pricing,
		siteURL: strings.TrimRight(opts.SiteURL, "/"),
		hold:    opts.Hold,
		now:     opts.Now,
		metrics: opts.Metrics,
	}
}

func (i *Issuer) base(origin string) string {
	if i.siteURL != "" {
		return i.siteURL
	}
	return strings.TrimRight(origin, "/")
}

func (i *Issuer) successURL(base string) string {
	return base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
}

// CreateSubscriptionCheckout validates the track, its start date and the
// group price, takes a seat, then mints a subscription session whose trial
// ends at the track start.
func (i *Issuer) CreateSubscriptionCheckout(ctx context.Context, req SubscriptionRequest) (*Checkout, error) {
	track, ok := models.LookupTrack(strings.TrimSpace(req.Track))
	if !ok {
		i.metrics.CheckoutSession(string(gateway.ModeSubscription), "invalid")
		return nil, apperr.ErrInvalidTrack
	}

	now := i.now()
	if !track.StartsAt.After(now) {
		i.metrics.CheckoutSession(string(gateway.ModeSubscription), "invalid")
		return nil, apperr.ErrTrialEndInPast
	}

	price := i.pricing.GroupCents
	if !config.Valid(price) {
		log.Errorf("[Checkout] group price missing or below %d cents", config.MinUnitAmount)
		return nil, apperr.ErrPriceMissing
	}

	limit := i.oracle.Cap()
	active, err := i.oracle.CountActive(ctx, track.ID)
	if err != nil {
		i.metrics.CheckoutSession(string(gateway.ModeSubscription), "error")
		return nil, apperr.Upstream(err)
	}
	if active >= limit {
		i.metrics.CapacityRejected(string(track.ID))
		return nil, apperr.TrackFull(active, limit)
	}

	hold, err := i.ledger.Reserve(ctx, string(track.ID), active, limit, i.hold+holdSlack)
	if err != nil {
		var full *admission.FullError
		if errors.As(err, &full) {
			i.metrics.CapacityRejected(string(track.ID))
			return nil, apperr.TrackFull(full.Used, full.Cap)
		}
		i.metrics.CheckoutSession(string(gateway.ModeSubscription), "error")
		return nil, apperr.Upstream(err)
	}

	tag := map[string]string{MetadataTrack: string(track.ID)}
	metadata := map[string]string{MetadataTrack: string(track.ID)}
	if hold.Token != "" {
		metadata[MetadataReservation] = hold.Token
	}

	base := i.base(req.Origin)
	created, err := i.gw.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		Mode:                 gateway.ModeSubscription,
		Currency:             currencyUSD,
		UnitAmount:           price,
		Recurring:            &gateway.Recurring{Interval: "week", IntervalCount: 2},
		ProductName:          track.Label,
		ProductMetadata:      tag,
		Metadata:             metadata,
		SubscriptionMetadata: tag,
		TrialEnd:             track.StartsAt,
		ClientReferenceID:    string(track.ID),
		SuccessURL:           i.successURL(base),
		CancelURL:            base + "/therapies-group#inscription-" + track.Anchor,
		AllowPromotionCodes:  true,
		ExpiresAt:            now.Add(i.hold + expirySkew),
		IdempotencyKey:       hold.Token,
	})
	if err != nil {
		if hold.Token != "" {
			if rerr := i.ledger.Release(context.WithoutCancel(ctx), string(track.ID), hold.Token); rerr != nil {
				log.Warnf("[Checkout] release hold on %s: %v", track.ID, rerr)
			}
		}
		i.metrics.CheckoutSession(string(gateway.ModeSubscription), "error")
		return nil, apperr.Upstream(err)
	}

	i.metrics.CheckoutSession(string(gateway.ModeSubscription), "created")
	log.Infof("[Checkout] subscription session %s created for %s (%d/%d seats taken)", created.ID, track.ID, active, limit)
	return &Checkout{SessionID: created.ID, URL: created.URL}, nil
}

// CreatePaymentCheckout mints a one-time payment session for a guide or
// the bundle. Member prices require a membership verified with the
// gateway; the cookie hint only names which customer to check.
func (i *Issuer) CreatePaymentCheckout(ctx context.Context, req PaymentRequest) (*Checkout, error) {
	slug := models.NormalizeSlug(req.Slug)
	if slug == "" {
		return nil, apperr.ErrMissingSlug
	}
	product, ok := models.LookupProduct(slug)
	if !ok {
		return nil, apperr.ErrUnknownProduct
	}

	customerID := ""
	if req.Member {
		cid, err := i.memberCustomer(ctx, req.CustomerHint, req.Email)
		if err != nil {
			return nil, err
		}
		customerID = cid
	}

	price := i.pricing.For(product, req.Member)
	if !config.Valid(price) {
		log.Errorf("[Checkout] price for %s (member=%t) missing or below %d cents", product.Slug, req.Member, config.MinUnitAmount)
		return nil, apperr.ErrPriceMissing
	}

	base := i.base(req.Origin)
	tag := map[string]string{MetadataSlug: product.Slug}
	created, err := i.gw.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		Mode:            gateway.ModePayment,
		Currency:        currencyUSD,
		UnitAmount:      price,
		ProductName:     product.Title,
		ProductMetadata: tag,
		Metadata:        tag,
		CustomerID:      customerID,
		SuccessURL:      i.successURL(base),
		CancelURL:       base + "/boutique/" + url.PathEscape(product.Slug),
	})
	if err != nil {
		i.metrics.CheckoutSession(string(gateway.ModePayment), "error")
		return nil, apperr.Upstream(err)
	}

	i.metrics.CheckoutSession(string(gateway.ModePayment), "created")
	return &Checkout{SessionID: created.ID, URL: created.URL}, nil
}

// memberCustomer finds a customer with a membership subscription. The
// cookie hint is tried first, then a lookup by email.
func (i *Issuer) memberCustomer(ctx context.Context, hint, email string) (string, error) {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		ok, err := i.HasMembership(ctx, hint)
		if err != nil {
			return "", err
		}
		if ok {
			return hint, nil
		}
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return "", apperr.ErrNotMember
	}

	cid, err := i.gw.FindCustomerByEmail(ctx, email)
	if errors.Is(err, gateway.ErrNotFound) {
		return "", apperr.ErrNotMember
	}
	if err != nil {
		return "", apperr.Upstream(err)
	}
	if cid == hint {
		return "", apperr.ErrNotMember
	}

	ok, err := i.HasMembership(ctx, cid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.ErrNotMember
	}
	return cid, nil
}

// HasMembership reports whether a customer holds a subscription in one of
// MemberStatuses.
func (i *Issuer) HasMembership(ctx context.Context, customerID string) (bool, error) {
	res, err := i.gw.SearchSubscriptions(ctx, gateway.SubscriptionSearch{
		Query: gateway.CustomerStatusQuery(customerID, MemberStatuses),
		Limit: 1,
	})
	if err != nil {
		return false, apperr.Upstream(err)
	}
	return len(res.Subscriptions) > 0, nil
}
