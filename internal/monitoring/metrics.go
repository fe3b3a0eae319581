package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's Prometheus instruments. A nil *Metrics is a
// valid no-op receiver, so components take it without caring whether
// monitoring is enabled.
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal  *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	ordersPlaced    *prometheus.CounterVec
	ordersFailed    *prometheus.CounterVec
	fillQuantity    *prometheus.CounterVec
	reconcileRuns   prometheus.Counter
	reconcileDiffs  prometheus.Counter
	breakerOpen     *prometheus.GaugeVec
	combinedConf    *prometheus.GaugeVec
	equity          prometheus.Gauge
	openPositions   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traxis_risk_decisions_total",
			Help: "Risk decisions by outcome",
		}, []string{"symbol", "outcome"}),
		rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traxis_risk_rejections_total",
			Help: "Risk rejections by reason",
		}, []string{"symbol", "reason"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traxis_risk_adjustments_total",
			Help: "Sizing adjustments applied to admitted decisions",
		}, []string{"symbol", "adjustment"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traxis_orders_placed_total",
			Help: "Orders accepted by the exchange",
		}, []string{"symbol", "role"}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traxis_orders_failed_total",
			Help: "Order placements that failed or timed out",
		}, []string{"symbol", "class"}),
		fillQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traxis_fill_quantity_total",
			Help: "Cumulative filled quantity",
		}, []string{"symbol"}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traxis_reconcile_runs_total",
			Help: "Reconciliation passes executed",
		}),
		reconcileDiffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traxis_reconcile_diffs_total",
			Help: "Divergences resolved by reconciliation",
		}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traxis_breaker_open",
			Help: "1 when the named circuit breaker is open",
		}, []string{"name"}),
		combinedConf: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "traxis_combined_confidence",
			Help: "Latest combined signal confidence",
		}, []string{"symbol"}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traxis_equity",
			Help: "Account equity from the last balance sync",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traxis_open_positions",
			Help: "Number of open positions",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.decisionsTotal, m.rejectionsTotal, m.adjustments,
		m.ordersPlaced, m.ordersFailed, m.fillQuantity,
		m.reconcileRuns, m.reconcileDiffs,
		m.breakerOpen, m.combinedConf, m.equity, m.openPositions,
	)
	return m
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DecisionEvaluated(symbol, outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(symbol, outcome).Inc()
}

func (m *Metrics) DecisionRejected(symbol, reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) DecisionAdjusted(symbol, adjustment string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(symbol, adjustment).Inc()
}

func (m *Metrics) OrderPlaced(symbol, role string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(symbol, role).Inc()
}

func (m *Metrics) OrderFailed(symbol, class string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(symbol, class).Inc()
}

func (m *Metrics) OrderFill(symbol string, qty float64) {
	if m == nil {
		return
	}
	m.fillQuantity.WithLabelValues(symbol).Add(qty)
}

func (m *Metrics) ReconcileRun(diffs int) {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
	m.reconcileDiffs.Add(float64(diffs))
}

func (m *Metrics) BreakerState(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	m.breakerOpen.WithLabelValues(name).Set(v)
}

func (m *Metrics) CombinedConfidence(symbol string, confidence float64) {
	if m == nil {
		return
	}
	m.combinedConf.WithLabelValues(symbol).Set(confidence)
}

func (m *Metrics) PortfolioSnapshot(equity float64, openPositions int) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.openPositions.Set(float64(openPositions))
}
