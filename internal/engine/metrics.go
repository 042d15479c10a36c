package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	orders        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	slippageBps   prometheus.Histogram
	fillNotional  *prometheus.CounterVec
	submitLatency prometheus.Histogram
	accounts      prometheus.Counter
}

// NewMetrics registers the ledger collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Orders submitted, by side and outcome",
			},
			[]string{"side", "status"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_rejections_total",
				Help:      "Rejected orders by rejection code",
			},
			[]string{"code"},
		),
		slippageBps: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fill_slippage_bps",
				Help:      "Modelled slippage applied to fills, in basis points",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		fillNotional: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fill_notional_dollars_total",
				Help:      "Notional value of fills, by side",
			},
			[]string{"side"},
		),
		submitLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submit_order_duration_seconds",
				Help:      "Duration of SubmitOrder calls",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		accounts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accounts_created_total",
				Help:      "Accounts provisioned",
			},
		),
	}
}

func (m *Metrics) observeFill(side string, bps int, notional float64) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, "filled").Inc()
	m.slippageBps.Observe(float64(bps))
	m.fillNotional.WithLabelValues(side).Add(notional)
}

func (m *Metrics) observeReject(side, code string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(side, "rejected").Inc()
	m.rejections.WithLabelValues(code).Inc()
}

func (m *Metrics) observeLatency(start time.Time) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(time.Since(start).Seconds())
}

func (m *Metrics) accountCreated() {
	if m == nil {
		return
	}
	m.accounts.Inc()
}
