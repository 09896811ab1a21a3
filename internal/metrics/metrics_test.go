package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordCycle("ok", time.Second)
	m.RecordCandidates(3)
	m.RecordDecision("approved")
	m.RecordAttempt("paper", "confirmed")
	m.RecordSubmissionRetry()
	m.RecordGatewayRetry("list_markets")
	m.SetExposure(1, 2)
	m.RecordResolved(true)
}

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDecision("approved")
	m.RecordDecision("approved")
	m.RecordDecision("duplicate_position")
	if got := value(t, m.DecisionsTotal.WithLabelValues("approved")); got != 2 {
		t.Errorf("approved decisions: got %v, want 2", got)
	}

	m.RecordGatewayRetry("order_book")
	if got := value(t, m.GatewayRetries.WithLabelValues("order_book")); got != 1 {
		t.Errorf("gateway retries: got %v, want 1", got)
	}

	m.SetExposure(12.5, 2.5)
	if got := value(t, m.CommittedExposure); got != 12.5 {
		t.Errorf("committed exposure: got %v, want 12.5", got)
	}

	m.RecordResolved(false)
	if got := value(t, m.ResolvedTotal.WithLabelValues("lost")); got != 1 {
		t.Errorf("lost resolutions: got %v, want 1", got)
	}
}
