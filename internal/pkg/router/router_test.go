package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thirdpath/thirdpath/app/controllers"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics"
)

func newTestApp(t *testing.T, opts Options) *fiber.App {
	t.Helper()
	if opts.Handlers == nil {
		opts.Handlers = &controllers.Handlers{}
	}
	app := fiber.New()
	InstallRouter(app, opts)
	return app
}

func request(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApiRateLimit(t *testing.T) {
	app := newTestApp(t, Options{RateLimit: 2, RateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		status, _ := request(t, app, httptest.NewRequest(http.MethodGet, "/api/checkout/create", nil))
		assert.Equal(t, http.StatusOK, status)
	}
	status, body := request(t, app, httptest.NewRequest(http.MethodGet, "/api/checkout/create", nil))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.JSONEq(t, `{"error":"rate_limited"}`, body)

	// Another client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/checkout/create", nil)
	req.Header.Set("CF-Connecting-IP", "203.0.113.9")
	status, _ = request(t, app, req)
	assert.Equal(t, http.StatusOK, status)

	// Gateway deliveries are never throttled.
	status, body = request(t, app, httptest.NewRequest(http.MethodGet, webhookPath, nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestHealthzOutsideLimiter(t *testing.T) {
	app := newTestApp(t, Options{RateLimit: 1})
	for i := 0; i < 3; i++ {
		status, body := request(t, app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"status":"ok"}`, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	m.Download("served")

	t.Run("open", func(t *testing.T) {
		app := newTestApp(t, Options{Metrics: m})
		status, body := request(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, `thirdpath_downloads_total{outcome="served"} 1`)
	})

	t.Run("basic auth", func(t *testing.T) {
		app := newTestApp(t, Options{Metrics: m, MetricsAuth: config.Metrics{User: "prom", Password: "scrape"}})

		status, _ := request(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusUnauthorized, status)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.SetBasicAuth("prom", "scrape")
		status, _ = request(t, app, req)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("disabled", func(t *testing.T) {
		app := newTestApp(t, Options{})
		status, _ := request(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestSwaggerRequiresDocument(t *testing.T) {
	app := newTestApp(t, Options{OpenAPIFile: "does-not-exist.yaml"})
	status, _ := request(t, app, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Equal(t, http.StatusNotFound, status)

	app = newTestApp(t, Options{OpenAPIFile: "../../../docs/openapi.yaml"})
	status, body := request(t, app, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "thirdpath API")
}

func TestLimiterStorageWithoutRedis(t *testing.T) {
	assert.Nil(t, LimiterStorage(config.Redis{}))
}

func TestRequestIDHeader(t *testing.T) {
	app := newTestApp(t, Options{})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}
