package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdpath/thirdpath/internal/pkg/admission"
	"github.com/thirdpath/thirdpath/internal/pkg/billing"
	"github.com/thirdpath/thirdpath/internal/pkg/calendar"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/entitlements"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway/gatewaytest"
	"github.com/thirdpath/thirdpath/internal/pkg/hcaptcha"
	"github.com/thirdpath/thirdpath/internal/pkg/mail"
	"github.com/thirdpath/thirdpath/internal/pkg/membership"
	"github.com/thirdpath/thirdpath/internal/pkg/storage"
)

const (
	testWebhookSecret = "whsec_controller_test"
	testCookieSecret  = "0123456789abcdef0123456789abcdef"
	sleepGuideFile    = "Sleep disorders - psychological & practical guide.pdf"
)

var beforeStart = time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg mail.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *recordingDispatcher) messages() []mail.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]mail.Message(nil), d.sent...)
}

type testEnv struct {
	h      *Handlers
	app    *fiber.App
	fake   *gatewaytest.Fake
	mail   *recordingDispatcher
	ledger *admission.MemoryLedger
	signer *membership.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := gatewaytest.New(testWebhookSecret)
	ledger := admission.NewMemoryLedger()
	dispatcher := &recordingDispatcher{}
	now := func() time.Time { return beforeStart }

	composer, err := mail.NewComposer("Thirdpath <hello@thirdpath.test>", "admin@thirdpath.test")
	require.NoError(t, err)
	notifications := mail.NewNotifications(composer, dispatcher, config.Zoom{Default: "https://zoom.test/default"})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sleepGuideFile), []byte("%PDF-sleep"), 0o644))

	oracle := billing.NewCapacityOracle(fake, 10)
	signer := membership.NewSigner(testCookieSecret, membership.DefaultTTL)
	h := &Handlers{
		Issuer: billing.NewIssuer(fake, oracle, ledger, billing.IssuerOptions{
			Pricing: config.Pricing{GroupCents: 4000, GuideCents: 1500, PackCents: 9900, GuideMemberCents: 1000, PackMemberCents: 6000},
			SiteURL: "https://example.test",
			Hold:    30 * time.Minute,
			Now:     now,
		}),
		Resolver:      billing.NewResolver(fake),
		Webhooks:      billing.NewWebhookProcessor(fake, ledger, notifications, billing.NewMemoryDeduper(100, time.Hour), nil),
		Oracle:        oracle,
		Ledger:        ledger,
		Gate:          entitlements.NewGate(fake),
		Store:         storage.NewLocalStore(dir),
		Calendar:      &calendar.Calendar{Now: now},
		Composer:      composer,
		Mail:          dispatcher,
		Notifications: notifications,
		Signer:        signer,
		Now:           now,
	}

	app := fiber.New()
	mount(app, h)
	return &testEnv{h: h, app: app, fake: fake, mail: dispatcher, ledger: ledger, signer: signer}
}

func mount(app *fiber.App, h *Handlers) {
	app.Get("/healthz", h.HandleHealthz)
	api := app.Group("/api")
	api.Get("/checkout/create", h.HandleCheckoutPing)
	api.Post("/checkout/create", h.HandleCreateSubscriptionCheckout)
	api.Post("/subscribe", h.HandleCreateSubscriptionCheckout)
	api.Post("/checkout/ebook", h.HandleCreateEbookCheckout)
	api.Post("/checkout/ebook-member", h.HandleCreateMemberEbookCheckout)
	api.Get("/checkout/success", h.HandleCheckoutSuccess)
	api.Get("/checkout/stripe/webhook", h.HandleWebhookPing)
	api.Post("/checkout/stripe/webhook", h.HandleStripeWebhook)
	api.Get("/download", h.HandleDownload)
	api.Get("/tracks", h.HandleListTracks)
	api.Post("/tracks/send-welcome", h.HandleSendWelcome)
	api.Get("/ics", h.HandleTrackCalendar)
	api.Post("/contact", h.HandleContact)
	api.Post("/waitlist", h.HandleWaitlist)
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any, cookies ...*http.Cookie) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, body := e.do(t, req)
	return resp, decode(t, body)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	out := map[string]any{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), string(body))
	}
	return out
}

func groupSession(id, track, email string) *gateway.Session {
	return &gateway.Session{
		ID:            id,
		Status:        gateway.SessionComplete,
		PaymentStatus: "no_payment_required",
		Mode:          gateway.ModeSubscription,
		CustomerID:    "cus_" + id,
		Email:         email,
		Metadata:      map[string]string{"track": track},
		Subscription:  &gateway.Subscription{ID: "sub_" + id, Status: "trialing", Metadata: map[string]string{"track": track}},
	}
}

func guideSession(id, paymentStatus, slug string) *gateway.Session {
	return &gateway.Session{
		ID:            id,
		Status:        gateway.SessionComplete,
		PaymentStatus: paymentStatus,
		Mode:          gateway.ModePayment,
		Email:         "reader@example.test",
		Metadata:      map[string]string{"slug": slug},
		LineItems: []gateway.LineItem{{
			Description:     slug,
			ProductMetadata: map[string]string{"slug": slug},
		}},
	}
}

func TestSubscriptionCheckout(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/api/checkout/create", fiber.Map{"track": "t1-en"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", body["url"])
	require.Len(t, env.fake.Created, 1)
	assert.Equal(t, gateway.ModeSubscription, env.fake.Created[0].Mode)

	resp, _ = env.postJSON(t, "/api/subscribe", fiber.Map{"track": "t2-en"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	pending, err := env.ledger.Pending(context.Background(), "t1-en")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSubscriptionCheckoutErrors(t *testing.T) {
	env := newTestEnv(t)
	env.fake.SetActive("t2-en", 10)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"unknown track", fiber.Map{"track": "t9-xx"}, http.StatusBadRequest, "invalid_track"},
		{"missing track", fiber.Map{}, http.StatusBadRequest, "invalid_track"},
		{"full track", fiber.Map{"track": "t2-en"}, http.StatusConflict, "track_full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.postJSON(t, "/api/checkout/create", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
		})
	}

	_, body := env.postJSON(t, "/api/checkout/create", fiber.Map{"track": "t2-en"})
	assert.EqualValues(t, 10, body["used"])
	assert.EqualValues(t, 10, body["cap"])
	assert.Empty(t, env.fake.Created)
}

func TestSubscriptionCheckoutUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fake.SearchErr = errors.New("connection reset")

	resp, body := env.postJSON(t, "/api/checkout/create", fiber.Map{"track": "t1-en"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, fiber.Map{"error": "upstream_error"}, fiber.Map(body))
}

func TestCheckoutPing(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/api/checkout/create")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"endpoint":"checkout/create"}`, string(body))
}

func TestEbookCheckout(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/api/checkout/ebook", fiber.Map{"slug": "sleep"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["url"])
	assert.EqualValues(t, 1500, env.fake.Created[0].UnitAmount)

	resp, body = env.postJSON(t, "/api/checkout/ebook", fiber.Map{"slug": "tarot"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_product", body["error"])

	resp, body = env.postJSON(t, "/api/checkout/ebook", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_slug", body["error"])
}

func TestMemberEbookCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Subscriptions[gateway.CustomerStatusQuery("cus_member", billing.MemberStatuses)] = []gateway.Subscription{{ID: "sub_m", Status: "active"}}

	token, err := env.signer.Issue("cus_member")
	require.NoError(t, err)

	resp, _ := env.postJSON(t, "/api/checkout/ebook-member", fiber.Map{"slug": "sleep"},
		&http.Cookie{Name: membership.CookieName, Value: token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cus_member", env.fake.Created[0].CustomerID)
	assert.EqualValues(t, 1000, env.fake.Created[0].UnitAmount)

	t.Run("forged cookie is ignored", func(t *testing.T) {
		resp, body := env.postJSON(t, "/api/checkout/ebook-member", fiber.Map{"slug": "sleep"},
			&http.Cookie{Name: membership.CookieName, Value: "cus_member"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "not_member", body["error"])
	})

	t.Run("email lookup", func(t *testing.T) {
		env.fake.Customers["ana@example.test"] = "cus_member"
		resp, _ := env.postJSON(t, "/api/checkout/ebook-member", fiber.Map{"slug": "pack-integral", "email": "ana@example.test"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestCheckoutSuccessSetsMemberCookie(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddSession(groupSession("cs_group", "t1-en", "ana@example.test"))

	resp, raw := env.get(t, "/api/checkout/success?session_id=cs_group")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"track":"t1-en","email":"ana@example.test","slug":null}`, string(raw))

	var member *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == membership.CookieName {
			member = c
		}
	}
	require.NotNil(t, member)
	assert.True(t, member.HttpOnly)
	cid, err := env.signer.Verify(member.Value)
	require.NoError(t, err)
	assert.Equal(t, "cus_cs_group", cid)
}

func TestCheckoutSuccessGuidePurchase(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddSession(guideSession("cs_guide", gateway.PaymentStatusPaid, "sleep"))

	resp, raw := env.get(t, "/api/checkout/success?id=cs_guide")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"track":null,"email":"reader@example.test","slug":"sleep"}`, string(raw))
	assert.Empty(t, resp.Cookies())

	resp, raw = env.get(t, "/api/checkout/success")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_session_id", decode(t, raw)["error"])
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddSession(guideSession("cs_paid", gateway.PaymentStatusPaid, "sleep"))
	env.fake.AddSession(guideSession("cs_unpaid", "unpaid", "sleep"))
	env.fake.AddSession(guideSession("cs_anxiety", gateway.PaymentStatusPaid, "anxiety"))

	resp, body := env.get(t, "/api/download?session_id=cs_paid&slug=sleep")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "%PDF-sleep", string(body))
	assert.Equal(t, entitlements.ContentTypePDF, resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "no-store, private", resp.Header.Get(fiber.HeaderCacheControl))
	assert.True(t, strings.HasPrefix(resp.Header.Get(fiber.HeaderContentDisposition), `attachment; filename="Sleep disorders`))

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"missing params", "/api/download?slug=sleep", http.StatusBadRequest, "bad_request"},
		{"unpaid", "/api/download?session_id=cs_unpaid&slug=sleep", http.StatusForbidden, "unpaid"},
		{"not purchased", "/api/download?session_id=cs_paid&slug=adhd", http.StatusForbidden, "item_not_in_session"},
		{"file missing from store", "/api/download?session_id=cs_anxiety&slug=anxiety", http.StatusNotFound, "file_not_mapped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode(t, body)["error"])
		})
	}
}

func TestStripeWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddSession(groupSession("cs_group", "t2-en", "ana@example.test"))

	resp, body := env.get(t, "/api/checkout/stripe/webhook")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	payload, sig := gatewaytest.SignedEvent(testWebhookSecret, "evt_1", gateway.EventCheckoutCompleted, "cs_group")
	send := func(sig string) (*http.Response, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		if sig != "" {
			req.Header.Set(signatureHeader, sig)
		}
		resp, raw := env.do(t, req)
		return resp, decode(t, raw)
	}

	resp, out := send("")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_signature", out["error"])

	resp, out = send("t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_signature", out["error"])
	assert.Empty(t, env.mail.messages())

	resp, out = send(sig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"received": true}, out)

	sent := env.mail.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, []string{"ana@example.test"}, sent[0].To)
	assert.Contains(t, sent[0].HTML, "https://zoom.test/default")
	assert.Equal(t, "[NEW SUB] t2-en", sent[1].Subject)

	resp, out = send(sig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["duplicate"])
	assert.Len(t, env.mail.messages(), 2)
}

func TestListTracks(t *testing.T) {
	env := newTestEnv(t)
	env.fake.SetActive("t1-en", 4)
	_, err := env.ledger.Reserve(context.Background(), "t1-en", 4, 10, time.Hour)
	require.NoError(t, err)

	resp, raw := env.get(t, "/api/tracks")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tracks []trackStatus `json:"tracks"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Tracks, 2)

	t1 := out.Tracks[0]
	assert.Equal(t, "t1-en", string(t1.ID))
	assert.Equal(t, 5, t1.Used)
	assert.Equal(t, 10, t1.Cap)
	assert.Equal(t, 5, t1.SeatsLeft)
	require.Len(t, t1.NextSessions, upcomingSessions)
	assert.True(t, t1.NextSessions[0].Equal(time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)))

	assert.Equal(t, 0, out.Tracks[1].Used)
	assert.Equal(t, 10, out.Tracks[1].SeatsLeft)
}

func TestListTracksUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fake.SearchErr = errors.New("timeout")

	resp, raw := env.get(t, "/api/tracks")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "upstream_error", decode(t, raw)["error"])
}

func TestTrackCalendar(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/ics?track=t2-en")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/calendar; charset=utf-8", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, `attachment; filename="group-t2-en.ics"`, resp.Header.Get(fiber.HeaderContentDisposition))
	assert.Contains(t, string(body), "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=SA")

	resp, body = env.get(t, "/api/ics?track=nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_track", decode(t, body)["error"])
}

func TestSendWelcome(t *testing.T) {
	env := newTestEnv(t)
	env.fake.AddSession(groupSession("cs_group", "t1-en", "ana@example.test"))
	env.fake.AddSession(guideSession("cs_guide", gateway.PaymentStatusPaid, "sleep"))

	resp, body := env.postJSON(t, "/api/tracks/send-welcome", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_fields", body["error"])

	resp, body = env.postJSON(t, "/api/tracks/send-welcome", fiber.Map{"session_id": "cs_guide"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_a_group_session", body["error"])

	resp, body = env.postJSON(t, "/api/tracks/send-welcome", fiber.Map{"session_id": "cs_group", "email": "attacker@example.test"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	sent := env.mail.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ana@example.test"}, sent[0].To)
	assert.Equal(t, "Welcome — Theme 1: Anxiety & Regulation", sent[0].Subject)

	env.mail.err = errors.New("quota")
	resp, body = env.postJSON(t, "/api/tracks/send-welcome", fiber.Map{"session_id": "cs_group"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "send_failed", body["error"])
}

func TestContact(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postJSON(t, "/api/contact", fiber.Map{"name": "Bot", "email": "bot@example.test", "message": "buy", "website": "spam.test"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Empty(t, env.mail.messages())

	resp, body = env.postJSON(t, "/api/contact", fiber.Map{"name": "Dan", "email": "dan@example.test"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["error"])

	resp, _ = env.postJSON(t, "/api/contact", fiber.Map{"name": "Dan", "email": "dan@example.test", "message": "Hello", "track": "t1-en"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sent := env.mail.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Info request — t1-en", sent[0].Subject)
	assert.Equal(t, "dan@example.test", sent[0].ReplyTo)

	env.mail.err = errors.New("down")
	resp, body = env.postJSON(t, "/api/contact", fiber.Map{"name": "Dan", "email": "dan@example.test", "message": "Hello"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "send_failed", body["error"])
}

func TestWaitlist(t *testing.T) {
	env := newTestEnv(t)

	for _, payload := range []fiber.Map{
		{"name": "Camille", "email": "camille@example.test"},
		{"name": "Camille", "email": "camille@example.test", "track": "t7-de"},
		{"name": "Camille", "email": "not-an-email", "track": "t1-en"},
		{"type": "gossip", "name": "Camille", "email": "camille@example.test", "track": "t1-en"},
	} {
		resp, body := env.postJSON(t, "/api/waitlist", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "missing_fields", body["error"])
	}

	resp, body := env.postJSON(t, "/api/waitlist", fiber.Map{"name": "Camille Durand", "email": "camille@example.test", "track": "t1-fr"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	subjects := []string{}
	for _, m := range env.mail.messages() {
		subjects = append(subjects, m.Subject)
	}
	assert.ElementsMatch(t, []string{"[WAITLIST] t1-fr", "Confirmation received"}, subjects)

	env.mail.err = errors.New("down")
	resp, body = env.postJSON(t, "/api/waitlist", fiber.Map{"type": "info", "name": "Camille", "email": "camille@example.test", "track": "t1-en"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}

func TestFormsRequireCaptchaWhenConfigured(t *testing.T) {
	siteverify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ok := r.PostForm.Get("response") == "passed"
		_ = json.NewEncoder(w).Encode(hcaptcha.Response{Success: ok})
	}))
	t.Cleanup(siteverify.Close)

	env := newTestEnv(t)
	env.h.Captcha = hcaptcha.New("sekret").WithEndpoint(siteverify.URL)

	contact := fiber.Map{"name": "Dan", "email": "dan@example.test", "message": "Hello"}
	resp, body := env.postJSON(t, "/api/contact", contact)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "captcha_failed", body["error"])

	waitlist := fiber.Map{"name": "Camille", "email": "camille@example.test", "track": "t2-en", "h-captcha-response": "forged"}
	resp, body = env.postJSON(t, "/api/waitlist", waitlist)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "captcha_failed", body["error"])
	assert.Empty(t, env.mail.messages())

	contact["h-captcha-response"] = "passed"
	resp, _ = env.postJSON(t, "/api/contact", contact)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, env.mail.messages(), 1)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestWriteErrorHidesUnclassifiedErrors(t *testing.T) {
	app := fiber.New()
	app.Get("/boom", func(c *fiber.Ctx) error {
		return writeError(c, errors.New("dial tcp 10.0.0.3:443: secret detail"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"internal_error"}`, string(raw))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "198.51.100.1"}, "203.0.113.7"},
		{"first forwarded address", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "2001:db8::1"}, "2001:db8::1"},
		{"peer address", nil, "0.0.0.0"},
	}

	app := fiber.New()
	app.Get("/ip", func(c *fiber.Ctx) error { return c.SendString(GetClientIP(c)) })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			raw, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.want, string(raw))
		})
	}
}
