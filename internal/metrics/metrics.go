// Package metrics exposes Prometheus instrumentation for the scan loop.
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bot.
type Metrics struct {
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	CandidatesTotal   prometheus.Counter
	DecisionsTotal    *prometheus.CounterVec
	AttemptsTotal     *prometheus.CounterVec
	SubmissionRetries prometheus.Counter
	GatewayRetries    *prometheus.CounterVec
	CommittedExposure prometheus.Gauge
	ReservedExposure  prometheus.Gauge
	ResolvedTotal     *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clearwin_cycles_total",
			Help: "Scan cycles by result (ok, skipped, locked)",
		}, []string{"result"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearwin_cycle_duration_seconds",
			Help:    "Wall time of a complete scan cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		CandidatesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "clearwin_candidates_total",
			Help: "Markets that passed every clear-win filter",
		}),

		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clearwin_decisions_total",
			Help: "Sizing decisions by outcome (approved, exposure_exceeded, duplicate_position)",
		}, []string{"decision"}),

		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clearwin_order_attempts_total",
			Help: "Terminal order attempts by mode and status",
		}, []string{"mode", "status"}),

		SubmissionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "clearwin_submission_retries_total",
			Help: "Order submission retries after a retryable failure",
		}),

		GatewayRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clearwin_gateway_retries_total",
			Help: "Market data gateway call retries by operation",
		}, []string{"op"}),

		CommittedExposure: f.NewGauge(prometheus.GaugeOpts{
			Name: "clearwin_committed_exposure_usdc",
			Help: "USDC notional committed to open positions",
		}),

		ReservedExposure: f.NewGauge(prometheus.GaugeOpts{
			Name: "clearwin_reserved_exposure_usdc",
			Help: "USDC notional reserved by in-flight order attempts",
		}),

		ResolvedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clearwin_positions_resolved_total",
			Help: "Resolved positions by result (won, lost)",
		}, []string{"result"}),
	}
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// RecordCandidates adds n candidates found in a cycle.
func (m *Metrics) RecordCandidates(n int) {
	if m == nil {
		return
	}
	m.CandidatesTotal.Add(float64(n))
}

// RecordDecision increments the decision counter.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordAttempt increments the terminal attempt counter.
func (m *Metrics) RecordAttempt(mode, status string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(mode, status).Inc()
}

// RecordSubmissionRetry increments the submission retry counter.
func (m *Metrics) RecordSubmissionRetry() {
	if m == nil {
		return
	}
	m.SubmissionRetries.Inc()
}

// RecordGatewayRetry increments the gateway retry counter for op.
func (m *Metrics) RecordGatewayRetry(op string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(op).Inc()
}

// SetExposure records the current committed and reserved totals.
func (m *Metrics) SetExposure(committed, reserved float64) {
	if m == nil {
		return
	}
	m.CommittedExposure.Set(committed)
	m.ReservedExposure.Set(reserved)
}

// RecordResolved increments the resolution counter.
func (m *Metrics) RecordResolved(won bool) {
	if m == nil {
		return
	}
	result := "lost"
	if won {
		result = "won"
	}
	m.ResolvedTotal.WithLabelValues(result).Inc()
}
