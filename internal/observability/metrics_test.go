package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test")

	m.RecordDecision("buy")
	m.RecordDecision("buy")
	m.RecordTrade("enter", "final")
	m.RecordAbsence("missing_chain")
	m.RecordFetch("mock", "market", 5*time.Millisecond, errors.New("boom"))
	m.UpdatePositions(2, 1, -3.5)

	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("buy")); got != 2 {
		t.Errorf("Expected 2 buy decisions, got %f", got)
	}
	if got := testutil.ToFloat64(m.Trades.WithLabelValues("enter", "final")); got != 1 {
		t.Errorf("Expected 1 trade, got %f", got)
	}
	if got := testutil.ToFloat64(m.FetchErrors.WithLabelValues("mock", "market")); got != 1 {
		t.Errorf("Expected 1 fetch error, got %f", got)
	}
	if got := testutil.ToFloat64(m.RealizedPnL); got != -3.5 {
		t.Errorf("Expected realized pnl -3.5, got %f", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("test")
	b := NewMetrics("test")
	a.RecordDecision("hold")

	if got := testutil.ToFloat64(b.Decisions.WithLabelValues("hold")); got != 0 {
		t.Errorf("Expected separate registries, got %f", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordDecision("buy")
	m.RecordTrade("exit", "final")
	m.UpdatePositions(1, 1, 1)
	m.RecordTick(1)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordDecision("skip")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `test_engine_decisions_total{action="skip"} 1`) {
		t.Errorf("Expected decision counter in output, got:\n%s", rec.Body.String())
	}
}
