package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/admission"
	"github.com/thirdpath/thirdpath/internal/pkg/apperr"
	"github.com/thirdpath/thirdpath/internal/pkg/cache/cachetest"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway/gatewaytest"
)

const (
	testWebhookSecret          = "whsec_test_secret"
	isolatedBillingTestRedisDB = 12
)

type sentNotice struct {
	kind  string
	track models.TrackID
	email string
	sub   string
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentNotice
	failing bool
}

func (n *recordingNotifier) GroupWelcome(ctx context.Context, track models.Track, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: "welcome", track: track.ID, email: email})
	if n.failing {
		return errors.New("smtp refused")
	}
	return nil
}

func (n *recordingNotifier) NewSubscriber(ctx context.Context, track models.Track, email, subscriptionID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{kind: "admin", track: track.ID, email: email, sub: subscriptionID})
	return nil
}

func newTestProcessor(fake *gatewaytest.Fake, ledger admission.Ledger, n Notifier) *WebhookProcessor {
	return NewWebhookProcessor(fake, ledger, n, NewMemoryDeduper(100, time.Hour), nil)
}

func groupSession(id, track, email string) *gateway.Session {
	return &gateway.Session{
		ID:           id,
		Status:       gateway.SessionComplete,
		Mode:         gateway.ModeSubscription,
		Email:        email,
		Metadata:     map[string]string{"track": track},
		Subscription: &gateway.Subscription{ID: "sub_" + id, Metadata: map[string]string{"track": track}},
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	p := newTestProcessor(gatewaytest.New(testWebhookSecret), nil, nil)

	_, err := p.Handle(context.Background(), []byte(`{}`), "")
	assert.ErrorIs(t, err, apperr.ErrNoSignature)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fake := gatewaytest.New(testWebhookSecret)
	n := &recordingNotifier{}
	p := newTestProcessor(fake, nil, n)

	body, _ := gatewaytest.SignedEvent("whsec_other", "evt_1", gateway.EventCheckoutCompleted, "cs_1")
	_, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", gateway.EventCheckoutCompleted, "cs_other")

	_, err := p.Handle(context.Background(), body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	// A valid signature over a different body is rejected too.
	_, err = p.Handle(context.Background(), body, sig)
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	assert.Empty(t, n.sent)
	_, _, gets := fake.Calls()
	assert.Zero(t, gets)
}

func TestWebhookCompletedGroupSessionNotifies(t *testing.T) {
	fake := gatewaytest.New(testWebhookSecret)
	fake.AddSession(groupSession("cs_1", "t2-en", "ana@example.test"))
	n := &recordingNotifier{}
	p := newTestProcessor(fake, nil, n)

	body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", gateway.EventCheckoutCompleted, "cs_1")
	outcome, err := p.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)

	require.Len(t, n.sent, 2)
	assert.Equal(t, sentNotice{kind: "welcome", track: models.TrackT2EN, email: "ana@example.test"}, n.sent[0])
	assert.Equal(t, sentNotice{kind: "admin", track: models.TrackT2EN, email: "ana@example.test", sub: "sub_cs_1"}, n.sent[1])
	assert.Equal(t, []string{"cs_1"}, fake.Gets)
}

func TestWebhookDuplicateDeliveryIsIgnored(t *testing.T) {
	fake := gatewaytest.New(testWebhookSecret)
	fake.AddSession(groupSession("cs_1", "t1-en", "ana@example.test"))
	n := &recordingNotifier{}
	p := newTestProcessor(fake, nil, n)

	body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_dup", gateway.EventCheckoutCompleted, "cs_1")
	first, err := p.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	second, err := p.Handle(context.Background(), body, sig)
	require.NoError(t, err)

	assert.Equal(t, OutcomeHandled, first)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.Len(t, n.sent, 2)
}

func TestWebhookNotificationFailureIsSwallowed(t *testing.T) {
	fake := gatewaytest.New(testWebhookSecret)
	fake.AddSession(groupSession("cs_1", "t1-en", "ana@example.test"))
	n := &recordingNotifier{failing: true}
	p := newTestProcessor(fake, nil, n)

	body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", gateway.EventCheckoutCompleted, "cs_1")
	outcome, err := p.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
	assert.Len(t, n.sent, 2)
}

func TestWebhookCompletedWithoutNotifiableTrack(t *testing.T) {
	tests := map[string]*gateway.Session{
		"payment session": {ID: "cs_1", Status: gateway.SessionComplete, Mode: gateway.ModePayment, Email: "ana@example.test"},
		"malformed track": {ID: "cs_1", Status: gateway.SessionComplete, Email: "ana@example.test", Metadata: map[string]string{"track": "t7"}},
		"missing email":   groupSession("cs_1", "t1-en", " "),
	}
	for name, sess := range tests {
		t.Run(name, func(t *testing.T) {
			fake := gatewaytest.New(testWebhookSecret)
			fake.AddSession(sess)
			n := &recordingNotifier{}
			p := newTestProcessor(fake, nil, n)

			body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", gateway.EventCheckoutCompleted, "cs_1")
			outcome, err := p.Handle(context.Background(), body, sig)
			require.NoError(t, err)
			assert.Equal(t, OutcomeHandled, outcome)
			assert.Empty(t, n.sent)
		})
	}
}

func TestWebhookRetrieveFailureAllowsRedelivery(t *testing.T) {
	fake := gatewaytest.New(testWebhookSecret)
	fake.GetErr = errors.New("stripe unavailable")
	n := &recordingNotifier{}
	p := newTestProcessor(fake, nil, n)

	body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", gateway.EventCheckoutCompleted, "cs_1")
	outcome, err := p.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	fake.GetErr = nil
	fake.AddSession(groupSession("cs_1", "t1-en", "ana@example.test"))
	outcome, err = p.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
	assert.Len(t, n.sent, 2)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	fake := gatewaytest.New(testWebhookSecret)
	p := newTestProcessor(fake, nil, nil)

	body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", "invoice.paid", "in_1")
	outcome, err := p.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	_, _, gets := fake.Calls()
	assert.Zero(t, gets)
}

func TestWebhookHoldLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ledger := admission.NewMemoryLedger().WithClock(func() time.Time { return now })

	hold, err := ledger.Reserve(ctx, "t1-en", 0, 10, time.Hour)
	require.NoError(t, err)
	abandoned, err := ledger.Reserve(ctx, "t1-en", 0, 10, time.Hour)
	require.NoError(t, err)

	fake := gatewaytest.New(testWebhookSecret)
	done := groupSession("cs_done", "t1-en", "ana@example.test")
	done.Metadata["reservation"] = hold.Token
	fake.AddSession(done)
	fake.AddSession(&gateway.Session{
		ID:       "cs_gone",
		Status:   "expired",
		Metadata: map[string]string{"track": "t1-en", "reservation": abandoned.Token},
	})

	p := newTestProcessor(fake, ledger, &recordingNotifier{})

	body, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_exp", gateway.EventCheckoutExpired, "cs_gone")
	outcome, err := p.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)

	pending, err := ledger.Pending(ctx, "t1-en")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	body, sig = gatewaytest.SignedEvent(testWebhookSecret, "evt_done", gateway.EventCheckoutCompleted, "cs_done")
	_, err = p.Handle(ctx, body, sig)
	require.NoError(t, err)

	// Confirmed holds lapse after the grace period.
	now = now.Add(confirmGrace + time.Second)
	pending, err = ledger.Pending(ctx, "t1-en")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRedisDeduper(t *testing.T) {
	client := cachetest.Client(t, isolatedBillingTestRedisDB)
	d := NewRedisDeduper(client)
	ctx := context.Background()

	first, err := d.First(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.First(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, first)

	ttl, err := client.TTL(ctx, "webhook:event:evt_1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 71*time.Hour)

	require.NoError(t, d.Forget(ctx, "evt_1"))
	first, err = d.First(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(10, time.Hour)
	ctx := context.Background()

	first, _ := d.First(ctx, "evt_1")
	assert.True(t, first)
	first, _ = d.First(ctx, "evt_1")
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, "evt_1"))
	first, _ = d.First(ctx, "evt_1")
	assert.True(t, first)
}
