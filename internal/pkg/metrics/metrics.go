// Package metrics holds the Prometheus collectors for checkout, webhook,
// notification and download activity. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "thirdpath"

type Metrics struct {
	Registry *prometheus.Registry

	checkoutSessions   *prometheus.CounterVec
	capacityRejections *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	downloads          *prometheus.CounterVec
	gatewayDuration    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		capacityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_rejections_total",
			Help:      "Subscription checkouts refused because the track was full.",
		}, []string{"track"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Verified webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification mails by outcome.",
		}, []string{"outcome"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Artifact download attempts by outcome.",
		}, []string{"outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkoutSessions,
		m.capacityRejections,
		m.webhookEvents,
		m.notifications,
		m.downloads,
		m.gatewayDuration,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) CheckoutSession(mode, outcome string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) CapacityRejected(track string) {
	if m == nil {
		return
	}
	m.capacityRejections.WithLabelValues(track).Inc()
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Download(outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(outcome).Inc()
}

// ObserveGateway matches gateway.Observer.
func (m *Metrics) ObserveGateway(op string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayDuration.WithLabelValues(op, result).Observe(took.Seconds())
}
