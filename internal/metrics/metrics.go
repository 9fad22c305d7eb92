// Package metrics exposes Prometheus collectors for the alert service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stock-price-alerts/internal/alerting"
	"stock-price-alerts/internal/quote"
)

const namespace = "stockalerts"

// Metrics groups the service collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	QuotesResolved    *prometheus.CounterVec
	ProviderFailures  *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	BroadcastThrottle prometheus.Counter
	Cycles            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	ActiveAlerts      prometheus.Gauge
	PendingStates     prometheus.Gauge
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QuotesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_resolved_total",
			Help:      "Quotes served, by source and staleness.",
		}, []string{"source", "stale"}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Provider fetches that fell back, by reason.",
		}, []string{"reason"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		BroadcastThrottle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_broadcasts_throttled_total",
			Help:      "Failure broadcasts suppressed by the per-symbol throttle.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_cycles_total",
			Help:      "Evaluation cycles, by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_cycle_seconds",
			Help:      "Evaluation cycle wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Active alerts seen by the last cycle.",
		}),
		PendingStates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_alert_states",
			Help:      "Alert state updates awaiting a flush.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QuotesResolved,
		m.ProviderFailures,
		m.Notifications,
		m.BroadcastThrottle,
		m.Cycles,
		m.CycleDuration,
		m.ActiveAlerts,
		m.PendingStates,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) QuoteResolved(source quote.Source, stale bool) {
	m.QuotesResolved.WithLabelValues(string(source), strconv.FormatBool(stale)).Inc()
}

func (m *Metrics) ProviderFailed(reason quote.StaleReason) {
	m.ProviderFailures.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) NotificationSent(channel string, ok bool) {
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) BroadcastThrottled() {
	m.BroadcastThrottle.Inc()
}

// CycleFinished records one evaluation cycle. outcome is ok, skipped or error.
func (m *Metrics) CycleFinished(outcome string, activeAlerts int, elapsed time.Duration) {
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
	if outcome == "ok" {
		m.ActiveAlerts.Set(float64(activeAlerts))
	}
}

var (
	_ quote.Observer    = (*Metrics)(nil)
	_ alerting.Observer = (*Metrics)(nil)
)
