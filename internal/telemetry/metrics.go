package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	DispatchTotal        *prometheus.CounterVec
	DispatchDuration     *prometheus.HistogramVec
	ProviderAttempts     *prometheus.CounterVec
	CredentialQuarantine *prometheus.CounterVec
	CredentialRecovery   *prometheus.CounterVec
	UsageRecordsDropped  prometheus.Counter
}

// NewMetrics registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_dispatch_total",
				Help: "Dispatches by provider and terminal status.",
			},
			[]string{"provider", "status"},
		),
		DispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_dispatch_duration_seconds",
				Help:    "End-to-end dispatch latency including failover.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		ProviderAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_attempts_total",
				Help: "Outbound provider calls by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		CredentialQuarantine: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_credential_quarantined_total",
				Help: "Credentials moved into quarantine.",
			},
			[]string{"provider"},
		),
		CredentialRecovery: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_credential_recovered_total",
				Help: "Credentials returned to the pool after cooldown.",
			},
			[]string{"provider"},
		),
		UsageRecordsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_usage_records_dropped_total",
				Help: "Usage records lost to a full queue or a failing sink.",
			},
		),
	}
}

func (m *Metrics) ObserveDispatch(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(provider, status).Inc()
	m.DispatchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ProviderAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Quarantined(provider string) {
	if m == nil {
		return
	}
	m.CredentialQuarantine.WithLabelValues(provider).Inc()
}

func (m *Metrics) Recovered(provider string) {
	if m == nil {
		return
	}
	m.CredentialRecovery.WithLabelValues(provider).Inc()
}

// DroppedCounter returns the counter handed to the usage recorder.
func (m *Metrics) DroppedCounter() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.UsageRecordsDropped
}
