// Package metrics provides Prometheus metrics for the verification services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/mediverify/pkg/circuitbreaker"
	"github.com/drfirst/mediverify/pkg/idempotency"
)

// Metrics holds all application metrics. Its methods satisfy the recorder
// interfaces declared by the domain packages.
type Metrics struct {
	Verifications         *prometheus.CounterVec
	VerificationDuration  prometheus.Histogram
	ScanSessionsActive    prometheus.Gauge
	ConnectivityOnline    prometheus.Gauge
	RoleFallbacks         *prometheus.CounterVec
	FraudAggregations     prometheus.Counter
	CounterfeitReports    *prometheus.CounterVec
	KafkaMessagesProduced *prometheus.CounterVec
	OutboxPending         prometheus.Gauge
	InboxKeys             *prometheus.GaugeVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verifications_total",
			Help: "Total classifications by verdict status",
		}, []string{"status"}),
		VerificationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verification_duration_seconds",
			Help:    "Classification duration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		ScanSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scan_sessions_active",
			Help: "Currently open scan sessions",
		}),
		ConnectivityOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connectivity_online",
			Help: "1 when the service considers itself online",
		}),
		RoleFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "role_fallbacks_total",
			Help: "Role reads that fell back to the default role",
		}, []string{"reason"}),
		FraudAggregations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fraud_aggregations_total",
			Help: "Fraud hotspot aggregations computed",
		}),
		CounterfeitReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counterfeit_reports_total",
			Help: "Accepted counterfeit reports by reported status",
		}, []string{"status"}),
		KafkaMessagesProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}, []string{"topic", "result"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		InboxKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inbox_keys",
			Help: "Remembered idempotency keys by status",
		}, []string{"status"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.Verifications,
		m.VerificationDuration,
		m.ScanSessionsActive,
		m.ConnectivityOnline,
		m.RoleFallbacks,
		m.FraudAggregations,
		m.CounterfeitReports,
		m.KafkaMessagesProduced,
		m.OutboxPending,
		m.InboxKeys,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveVerdict records one classification
func (m *Metrics) ObserveVerdict(status string, d time.Duration) {
	m.Verifications.WithLabelValues(status).Inc()
	m.VerificationDuration.Observe(d.Seconds())
}

// RoleFallback records a role read that resolved to the default
func (m *Metrics) RoleFallback(reason string) {
	m.RoleFallbacks.WithLabelValues(reason).Inc()
}

// ReportAccepted records an accepted counterfeit report
func (m *Metrics) ReportAccepted(status string) {
	m.CounterfeitReports.WithLabelValues(status).Inc()
}

// MessageProduced records a produce attempt
func (m *Metrics) MessageProduced(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.KafkaMessagesProduced.WithLabelValues(topic, result).Inc()
}

// SetActiveSessions exports the number of open scan sessions
func (m *Metrics) SetActiveSessions(n int) {
	m.ScanSessionsActive.Set(float64(n))
}

// FraudAggregated counts one hotspot aggregation
func (m *Metrics) FraudAggregated() {
	m.FraudAggregations.Inc()
}

// SetOnline exports the connectivity state
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.ConnectivityOnline.Set(1)
		return
	}
	m.ConnectivityOnline.Set(0)
}

// BreakerStateChanged exports a circuit breaker transition
func (m *Metrics) BreakerStateChanged(name string, to circuitbreaker.State) {
	var v float64
	switch to {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// SetInboxStats exports idempotency key counts after an inbox sweep
func (m *Metrics) SetInboxStats(s idempotency.InboxStats) {
	m.InboxKeys.WithLabelValues(string(idempotency.StatusStarted)).Set(float64(s.Started))
	m.InboxKeys.WithLabelValues(string(idempotency.StatusFinished)).Set(float64(s.Finished))
	m.InboxKeys.WithLabelValues(string(idempotency.StatusRecoverable)).Set(float64(s.Recoverable))
	m.InboxKeys.WithLabelValues(string(idempotency.StatusFailed)).Set(float64(s.Failed))
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
