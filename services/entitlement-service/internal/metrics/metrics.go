package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AccessDecisions        *prometheus.CounterVec
	QuotaConsumed          *prometheus.CounterVec
	WorkflowTransitions    *prometheus.CounterVec
	NotificationsPublished *prometheus.CounterVec
	NotificationsDropped   *prometheus.CounterVec
	SweepRemoved           *prometheus.CounterVec
	OperationDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AccessDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_access_decisions_total",
				Help: "Access checks by capability, outcome, and deciding rule",
			},
			[]string{"capability", "result", "reason"},
		),

		QuotaConsumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_quota_consume_total",
				Help: "Quota consume attempts by capability and outcome",
			},
			[]string{"capability", "result"},
		),

		WorkflowTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_upgrade_transitions_total",
				Help: "Upgrade request state transitions",
			},
			[]string{"from", "to"},
		),

		NotificationsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_notifications_published_total",
				Help: "Notifications handed to the transport",
			},
			[]string{"type"},
		),

		NotificationsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_notifications_dropped_total",
				Help: "Notifications dropped because the queue was full or the transport failed",
			},
			[]string{"type"},
		),

		SweepRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_sweep_removed_total",
				Help: "Records cleared by scheduled sweeps",
			},
			[]string{"job"},
		),

		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlement_operation_duration_seconds",
				Help:    "Latency of engine and workflow operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAccess(capability, result, reason string) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(capability, result, reason).Inc()
}

func (m *Metrics) ObserveQuota(capability, result string) {
	if m == nil {
		return
	}
	m.QuotaConsumed.WithLabelValues(capability, result).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.WorkflowTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObservePublished(eventType string) {
	if m == nil {
		return
	}
	m.NotificationsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveDropped(eventType string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveSweep(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweepRemoved.WithLabelValues(job).Add(float64(n))
}

// Time starts a latency observation for operation; call the result when done.
func (m *Metrics) Time(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
