package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/env"
)

// MinUnitAmount is the smallest unit price in cents the gateway accepts.
const MinUnitAmount int64 = 50

// Config is the immutable runtime configuration. It is built once by Load
// and handed to components at construction.
type Config struct {
	App        App
	Stripe     Stripe
	Pricing    Pricing
	Mail       Mail
	Zoom       Zoom
	Redis      Redis
	Admission  Admission
	Artifacts  Artifacts
	Metrics    Metrics
	Membership Membership
	Captcha    Captcha
}

type App struct {
	Env     string `env:"APP_ENV" validate:"oneof=dev prod test"`
	Host    string `env:"APP_HOST"`
	Port    string `env:"APP_PORT" validate:"required,numeric"`
	SiteURL string `env:"SITE_URL" validate:"omitempty,url"`
}

type Stripe struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" validate:"gte=1s,lte=2m"`
}

// Pricing holds unit prices in USD cents. Zero means not configured.
type Pricing struct {
	GroupCents       int64 `env:"GROUP_PRICE_USD_CENTS" validate:"gte=0"`
	GuideCents       int64 `env:"GUIDE_PRICE_USD_CENTS" validate:"gte=0"`
	PackCents        int64 `env:"PACK_PRICE_USD_CENTS" validate:"gte=0"`
	GuideMemberCents int64 `env:"GUIDE_MEMBER_PRICE_USD_CENTS" validate:"gte=0"`
	PackMemberCents  int64 `env:"PACK_MEMBER_PRICE_USD_CENTS" validate:"gte=0"`
}

type Mail struct {
	Provider     string `env:"MAIL_PROVIDER" validate:"oneof=resend smtp log"`
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Provider resend"`
	SMTPHost     string `env:"SMTP_HOST" validate:"required_if=Provider smtp"`
	SMTPPort     string `env:"SMTP_PORT" validate:"omitempty,numeric"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	From         string `env:"RESEND_FROM" validate:"required"`
	ContactTo    string `env:"CONTACT_TO" validate:"required,email"`
}

// Zoom holds meeting links keyed by the env key named on each track.
type Zoom struct {
	Links   map[string]string
	Default string `env:"ZOOM_DEFAULT_LINK" validate:"omitempty,url"`
}

type Redis struct {
	Host     string `env:"CACHE_HOST"`
	Port     string `env:"CACHE_PORT" validate:"omitempty,numeric"`
	Password string `env:"CACHE_PASSWORD"`
	DB       int    `env:"CACHE_DB" validate:"gte=0,lte=15"`
}

type Admission struct {
	Mode string        `env:"ADMISSION_MODE" validate:"oneof=reserve off"`
	Cap  int           `env:"CAPACITY_CAP" validate:"gte=1,lte=100"`
	Hold time.Duration `env:"CHECKOUT_HOLD" validate:"gte=30m,lte=23h"`
}

type Artifacts struct {
	Store     string `env:"ARTIFACT_STORE" validate:"oneof=local s3"`
	Dir       string `env:"ARTIFACT_DIR" validate:"required_if=Store local"`
	Endpoint  string `env:"S3_ENDPOINT" validate:"omitempty,url"`
	Region    string `env:"S3_REGION"`
	Bucket    string `env:"S3_BUCKET" validate:"required_if=Store s3"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

type Metrics struct {
	User     string `env:"METRICS_USER"`
	Password string `env:"METRICS_PASSWORD"`
}

type Membership struct {
	Secret string        `env:"MEMBER_COOKIE_SECRET" validate:"required,min=32"`
	TTL    time.Duration `env:"-"`
}

// Captcha enables hCaptcha on the public forms when Secret is set.
type Captcha struct {
	Secret string `env:"HCAPTCHA_SECRET"`
}

// KeyProblem names one env key that failed validation.
type KeyProblem struct {
	Key  string
	Rule string
}

// MissingKeysError lists every env key that is missing or malformed.
type MissingKeysError struct {
	Problems []KeyProblem
}

func (e *MissingKeysError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.Key, p.Rule))
	}
	return "config: missing or invalid keys: " + strings.Join(parts, ", ")
}

// Keys returns the offending env keys in sorted order.
func (e *MissingKeysError) Keys() []string {
	keys := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys
}

// Load reads configuration through env.GetEnv and validates it.
func Load() (*Config, error) {
	return LoadFrom(env.GetEnv)
}

// LoadFrom builds a Config from an arbitrary lookup, which keeps tests
// independent of the process environment.
func LoadFrom(get func(key, def string) string) (*Config, error) {
	l := loader{get: get}

	cfg := &Config{
		App: App{
			Env:     l.str("APP_ENV", "prod"),
			Host:    l.str("APP_HOST", "0.0.0.0"),
			Port:    l.str("APP_PORT", "4000"),
			SiteURL: strings.TrimRight(l.str("SITE_URL", l.str("NEXT_PUBLIC_SITE_URL", "")), "/"),
		},
		Stripe: Stripe{
			SecretKey:     l.str("STRIPE_SECRET_KEY", ""),
			WebhookSecret: l.str("STRIPE_WEBHOOK_SECRET", ""),
			Timeout:       l.duration("STRIPE_TIMEOUT", 15*time.Second),
		},
		Pricing: Pricing{
			GroupCents:       l.int64("GROUP_PRICE_USD_CENTS"),
			GuideCents:       l.int64("GUIDE_PRICE_USD_CENTS"),
			PackCents:        l.int64("PACK_PRICE_USD_CENTS"),
			GuideMemberCents: l.int64("GUIDE_MEMBER_PRICE_USD_CENTS"),
			PackMemberCents:  l.int64("PACK_MEMBER_PRICE_USD_CENTS"),
		},
		Mail: Mail{
			Provider:     l.str("MAIL_PROVIDER", "resend"),
			ResendAPIKey: l.str("RESEND_API_KEY", ""),
			SMTPHost:     l.str("SMTP_HOST", ""),
			SMTPPort:     l.str("SMTP_PORT", "587"),
			SMTPUsername: l.str("SMTP_USERNAME", ""),
			SMTPPassword: l.str("SMTP_PASSWORD", ""),
			From:         l.str("RESEND_FROM", ""),
			ContactTo:    l.str("CONTACT_TO", ""),
		},
		Zoom: Zoom{
			Links:   map[string]string{},
			Default: l.str("ZOOM_DEFAULT_LINK", ""),
		},
		Redis: Redis{
			Host:     l.str("CACHE_HOST", ""),
			Port:     l.str("CACHE_PORT", "6379"),
			Password: l.str("CACHE_PASSWORD", ""),
			DB:       int(l.int64("CACHE_DB")),
		},
		Admission: Admission{
			Mode: l.str("ADMISSION_MODE", "reserve"),
			Cap:  int(l.int64Default("CAPACITY_CAP", 10)),
			Hold: l.duration("CHECKOUT_HOLD", 30*time.Minute),
		},
		Artifacts: Artifacts{
			Store:     l.str("ARTIFACT_STORE", "local"),
			Dir:       l.str("ARTIFACT_DIR", "./public"),
			Endpoint:  l.str("S3_ENDPOINT", ""),
			Region:    l.str("S3_REGION", "us-east-1"),
			Bucket:    l.str("S3_BUCKET", ""),
			AccessKey: l.str("S3_ACCESS_KEY", ""),
			SecretKey: l.str("S3_SECRET_KEY", ""),
			Prefix:    l.str("S3_PREFIX", ""),
		},
		Metrics: Metrics{
			User:     l.str("METRICS_USER", ""),
			Password: l.str("METRICS_PASSWORD", ""),
		},
		Membership: Membership{
			Secret: l.str("MEMBER_COOKIE_SECRET", ""),
			TTL:    30 * 24 * time.Hour,
		},
		Captcha: Captcha{
			Secret: l.str("HCAPTCHA_SECRET", ""),
		},
	}

	for _, t := range models.Tracks() {
		if link := l.str(t.LinkKey, ""); link != "" {
			cfg.Zoom.Links[t.LinkKey] = link
		}
	}

	problems := append(l.problems, validate(cfg)...)
	if len(problems) > 0 {
		return nil, &MissingKeysError{Problems: problems}
	}
	return cfg, nil
}

func validate(cfg *Config) []KeyProblem {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("env")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []KeyProblem{{Key: "config", Rule: err.Error()}}
	}

	problems := make([]KeyProblem, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		problems = append(problems, KeyProblem{Key: fe.Field(), Rule: rule})
	}
	return problems
}

type loader struct {
	get      func(key, def string) string
	problems []KeyProblem
}

func (l *loader) str(key, def string) string {
	return strings.TrimSpace(l.get(key, def))
}

func (l *loader) int64(key string) int64 {
	return l.int64Default(key, 0)
}

func (l *loader) int64Default(key string, def int64) int64 {
	raw := l.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.problems = append(l.problems, KeyProblem{Key: key, Rule: "integer"})
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	raw := l.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.problems = append(l.problems, KeyProblem{Key: key, Rule: "duration"})
		return def
	}
	return d
}

// IsDev reports whether the service runs in local development.
func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.App.Host, c.App.Port)
}

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// RedisAddr is the host:port of the Redis server.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, c.Redis.Port)
}

// MetricsAuthEnabled reports whether /metrics requires basic auth.
func (c *Config) MetricsAuthEnabled() bool {
	return c.Metrics.User != "" && c.Metrics.Password != ""
}

// LinkFor returns the meeting link for a track, falling back to the default
// link and finally to "#".
func (z Zoom) LinkFor(t models.Track) string {
	if link := z.Links[t.LinkKey]; link != "" {
		return link
	}
	if z.Default != "" {
		return z.Default
	}
	return "#"
}

// For returns the configured unit price for a product.
func (p Pricing) For(product models.Product, member bool) int64 {
	switch {
	case product.Bundle && member:
		return p.PackMemberCents
	case product.Bundle:
		return p.PackCents
	case member:
		return p.GuideMemberCents
	default:
		return p.GuideCents
	}
}

// Valid reports whether a configured price is usable.
func Valid(cents int64) bool {
	return cents >= MinUnitAmount
}
