// Package bootstrap builds the running services from the configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/thirdpath/thirdpath/app/controllers"
	"github.com/thirdpath/thirdpath/internal/pkg/admission"
	"github.com/thirdpath/thirdpath/internal/pkg/billing"
	"github.com/thirdpath/thirdpath/internal/pkg/cache"
	"github.com/thirdpath/thirdpath/internal/pkg/calendar"
	"github.com/thirdpath/thirdpath/internal/pkg/config"
	"github.com/thirdpath/thirdpath/internal/pkg/entitlements"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
	"github.com/thirdpath/thirdpath/internal/pkg/hcaptcha"
	"github.com/thirdpath/thirdpath/internal/pkg/jobqueue"
	"github.com/thirdpath/thirdpath/internal/pkg/mail"
	"github.com/thirdpath/thirdpath/internal/pkg/membership"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics"
	"github.com/thirdpath/thirdpath/internal/pkg/metrics/counter"
	"github.com/thirdpath/thirdpath/internal/pkg/storage"
)

const (
	mailWorkers       = 2
	dedupeMemorySize  = 4096
	dedupeMemoryTTL   = 72 * time.Hour
	artifactStoreWait = 10 * time.Second
)

// ErrRedisRequired is returned by commands that only work against Redis.
var ErrRedisRequired = errors.New("this command needs Redis (set CACHE_HOST)")

// Services is everything the HTTP server and the CLI commands share.
type Services struct {
	Config   *config.Config
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Gateway  gateway.Gateway
	Oracle   *billing.CapacityOracle
	Ledger   admission.Ledger
	Queue    *jobqueue.Queue
	Manager  *jobqueue.Manager
	Counter  *counter.Counter
	Handlers *controllers.Handlers
}

// New connects to Redis when configured and wires the services. Nothing
// is started; call Start to run the mail workers.
func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{Config: cfg}

	if cfg.RedisEnabled() {
		client, err := cache.Setup(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.Redis = client
	} else {
		log.Warn("[Bootstrap] CACHE_HOST is empty: admission, dedupe and mail run in process")
	}

	m, err := metrics.New()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.Metrics = m

	s.Gateway = gateway.NewBreaker(
		gateway.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Timeout),
		gateway.WithObserver(m.ObserveGateway),
	)
	s.Oracle = billing.NewCapacityOracle(s.Gateway, cfg.Admission.Cap)
	s.Ledger = s.ledger()

	var dedupe billing.Deduper = billing.NewMemoryDeduper(dedupeMemorySize, dedupeMemoryTTL)
	if s.Redis != nil {
		dedupe = billing.NewRedisDeduper(s.Redis)
	}

	mailer, err := mail.NewMailer(cfg.Mail)
	if err != nil {
		s.Close()
		return nil, err
	}
	composer, err := mail.NewComposer(cfg.Mail.From, cfg.Mail.ContactTo)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load mail templates: %w", err)
	}
	var dispatcher mail.Dispatcher = mail.DirectDispatcher{Mailer: mailer}
	if s.Redis != nil {
		s.Queue = jobqueue.NewQueue(s.Redis, mailWorkers)
		mail.RegisterHandler(s.Queue, mailer)
		s.Manager = jobqueue.NewManager(s.Queue)
		dispatcher = mail.NewQueueDispatcher(s.Queue)
	}
	notifications := mail.NewNotifications(composer, dispatcher, cfg.Zoom)

	storeCtx, cancel := context.WithTimeout(ctx, artifactStoreWait)
	defer cancel()
	store, err := storage.New(storeCtx, cfg.Artifacts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	s.Counter = counter.New(s.Redis)
	s.Handlers = &controllers.Handlers{
		Issuer: billing.NewIssuer(s.Gateway, s.Oracle, s.Ledger, billing.IssuerOptions{
			Pricing: cfg.Pricing,
			SiteURL: cfg.App.SiteURL,
			Hold:    cfg.Admission.Hold,
			Metrics: m,
		}),
		Resolver:      billing.NewResolver(s.Gateway),
		Webhooks:      billing.NewWebhookProcessor(s.Gateway, s.Ledger, notifications, dedupe, m),
		Oracle:        s.Oracle,
		Ledger:        s.Ledger,
		Gate:          entitlements.NewGate(s.Gateway),
		Store:         store,
		Counter:       s.Counter,
		Calendar:      calendar.New(),
		Composer:      composer,
		Mail:          dispatcher,
		Notifications: notifications,
		Captcha:       hcaptcha.New(cfg.Captcha.Secret),
		Signer:        membership.NewSigner(cfg.Membership.Secret, cfg.Membership.TTL),
		SecureCookies: !cfg.IsDev(),
		Redis:         s.Redis,
		Metrics:       m,
	}
	return s, nil
}

func (s *Services) ledger() admission.Ledger {
	switch {
	case s.Config.Admission.Mode == "off":
		log.Warn("[Bootstrap] ADMISSION_MODE=off: concurrent checkouts may exceed the track cap")
		return admission.Disabled{}
	case s.Redis != nil:
		return admission.NewRedisLedger(s.Redis)
	default:
		return admission.NewMemoryLedger()
	}
}

// Start runs the mail workers when the queue is in use.
func (s *Services) Start() {
	if s.Manager != nil {
		s.Manager.Start()
	}
}

// Close stops the workers and releases the Redis connection.
func (s *Services) Close() {
	if s.Manager != nil {
		s.Manager.Stop()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warnf("[Bootstrap] close redis: %v", err)
		}
	}
}

// RequireQueue returns the mail queue or ErrRedisRequired.
func (s *Services) RequireQueue() (*jobqueue.Queue, error) {
	if s.Queue == nil {
		return nil, ErrRedisRequired
	}
	return s.Queue, nil
}
