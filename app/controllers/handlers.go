// Package controllers holds the HTTP handlers of the public API.
package controllers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/thirdpath/thirdpath/internal/pkg/admission"
	"github.com/thirdpath/thirdpath/internal/pkg/billing"
	"github.com/thirdpath/thirdpath/internal/pkg/calendar"
	"github.com/thirdpath/thirdpath/internal/pkg/entitlements"
	"github.com/thirdpath/thirdpath/internal/pkg/hcaptcha"
	"github.com/thirdpath/thirdpath/internal/pkg/mail"
	"github.com/thirdpath/thirdpath/internal/pkg/membership"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics/counter"
	"github.com/thirdpath/thirdpath/internal/pkg/storage"
)

var validate = validator.New()

// Handlers carries the services behind the API routes. Optional fields
// (Redis, Counter, Metrics, Captcha) may be nil.
type Handlers struct {
	Issuer   *billing.Issuer
	Resolver *billing.Resolver
	Webhooks *billing.WebhookProcessor
	Oracle   *billing.CapacityOracle
	Ledger   admission.Ledger

	Gate    *entitlements.Gate
	Store   storage.ArtifactStore
	Counter *counter.Counter

	Calendar      *calendar.Calendar
	Composer      *mail.Composer
	Mail          mail.Dispatcher
	Notifications *mail.Notifications
	Captcha       *hcaptcha.Verifier

	Signer        *membership.Signer
	SecureCookies bool

	Redis   *redis.Client
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
