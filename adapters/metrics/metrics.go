// Package metrics provides Prometheus metrics collection for the billing service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tutorbilling"

// Collector holds all Prometheus metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEvents   *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec

	// Store metrics
	BillingUpserts     *prometheus.CounterVec
	StaleSubscriptions *prometheus.GaugeVec

	// Side effects
	Notifications  *prometheus.CounterVec
	CatalogLookups *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		HandlerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_handler_errors_total",
				Help:      "Errors and panics contained at the webhook handler boundary",
			},
			[]string{"type"},
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_handler_duration_seconds",
				Help:      "Webhook handler duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"type"},
		),
		BillingUpserts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billing_upserts_total",
				Help:      "Billing record upserts by account class and result",
			},
			[]string{"class", "result"},
		),
		StaleSubscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stale_subscriptions",
				Help:      "Records still marked active whose period has ended",
			},
			[]string{"class"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification sends by kind and result",
			},
			[]string{"kind", "result"},
		),
		CatalogLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_lookups_total",
				Help:      "Price catalog resolutions by source",
			},
			[]string{"source"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, StatusClass(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WebhookEvent counts a dispatched event. outcome is a webhook ledger status.
func (c *Collector) WebhookEvent(eventType, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	c.HandlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// HandlerError counts an error or panic from a webhook handler.
func (c *Collector) HandlerError(eventType string) {
	if c == nil {
		return
	}
	c.HandlerErrors.WithLabelValues(eventType).Inc()
}

// Upsert counts a billing record write.
func (c *Collector) Upsert(class string, inserted bool) {
	if c == nil {
		return
	}
	result := "updated"
	if inserted {
		result = "inserted"
	}
	c.BillingUpserts.WithLabelValues(class, result).Inc()
}

// Notification counts a notification send attempt.
func (c *Collector) Notification(kind string, err error) {
	if c == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	c.Notifications.WithLabelValues(kind, result).Inc()
}

// CatalogLookup counts where a price id came from: cache, provider or created.
func (c *Collector) CatalogLookup(source string) {
	if c == nil {
		return
	}
	c.CatalogLookups.WithLabelValues(source).Inc()
}

// SetStale records the stale subscription count for an account class.
func (c *Collector) SetStale(class string, n int) {
	if c == nil {
		return
	}
	c.StaleSubscriptions.WithLabelValues(class).Set(float64(n))
}

// ConfigReloaded records a reload attempt.
func (c *Collector) ConfigReloaded(err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

// StatusClass buckets an HTTP status code into 2xx, 4xx and so on.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
