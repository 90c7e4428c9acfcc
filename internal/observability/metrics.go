// Package observability provides Prometheus metrics, structured logging and tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a run. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Provider metrics
	FetchLatency *prometheus.HistogramVec
	FetchErrors  *prometheus.CounterVec
	Absences     *prometheus.CounterVec

	// Decision metrics
	Decisions *prometheus.CounterVec
	Trades    *prometheus.CounterVec

	// Position metrics
	ActivePositions prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	PendingTrades   prometheus.Gauge

	// Recorder metrics
	MirrorErrors *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastTick prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "memetrader"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Provider fetch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "feed"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_errors_total",
			Help:      "Provider fetches that returned an error or timed out",
		}, []string{"provider", "feed"}),
		Absences: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "absences_total",
			Help:      "Snapshots that could not be assembled, by reason",
		}, []string{"reason"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Decisions recorded, by action",
		}, []string{"action"}),
		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Trades recorded, by action and status",
		}, []string{"action", "status"}),

		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "active",
			Help:      "Positions not yet closed",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "realized_pnl_usd",
			Help:      "Realized P&L of the run",
		}),
		PendingTrades: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "pending_trades",
			Help:      "Trades awaiting acknowledgment",
		}),

		MirrorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "mirror_errors_total",
			Help:      "Failed writes to mirror sinks",
		}, []string{"sink"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors",
		}, []string{"database", "operation"}),

		LastTick: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_tick_timestamp_ms",
			Help:      "Timestamp of the last evaluated tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetch records one provider fetch.
func (m *Metrics) RecordFetch(provider, feed string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchLatency.WithLabelValues(provider, feed).Observe(d.Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(provider, feed).Inc()
	}
}

// RecordAbsence records a snapshot that could not be assembled.
func (m *Metrics) RecordAbsence(reason string) {
	if m == nil {
		return
	}
	m.Absences.WithLabelValues(reason).Inc()
}

// RecordDecision records a decision by action.
func (m *Metrics) RecordDecision(action string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action).Inc()
}

// RecordTrade records a trade by action and status.
func (m *Metrics) RecordTrade(action, status string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(action, status).Inc()
}

// UpdatePositions sets position gauges.
func (m *Metrics) UpdatePositions(active, pending int, realized float64) {
	if m == nil {
		return
	}
	m.ActivePositions.Set(float64(active))
	m.PendingTrades.Set(float64(pending))
	m.RealizedPnL.Set(realized)
}

// RecordMirrorError records a failed mirror write.
func (m *Metrics) RecordMirrorError(sink string) {
	if m == nil {
		return
	}
	m.MirrorErrors.WithLabelValues(sink).Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordTick records the timestamp of the last evaluated tick.
func (m *Metrics) RecordTick(ts int64) {
	if m == nil {
		return
	}
	m.LastTick.Set(float64(ts))
}
