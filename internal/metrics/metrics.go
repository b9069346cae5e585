package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the per-tick summary counters exposed over /metrics. One
// instance per simulation run, registered on its own registry so tests
// can spin up several orchestrators without collisions.
type Metrics struct {
	Registry *prometheus.Registry

	OrdersAdmitted   prometheus.Counter
	OrdersRejected   prometheus.Counter
	OrdersCancelled  prometheus.Counter
	StopsActivated   prometheus.Counter
	TradesSettled    prometheus.Counter
	ProviderTimeouts prometheus.Counter
	ProviderErrors   prometheus.Counter
	SettlementFaults prometheus.Counter
	CurrentTick      prometheus.Gauge
	DecisionLatency  prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		OrdersAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_orders_admitted_total",
			Help: "Orders that passed validation and entered a book.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_orders_rejected_total",
			Help: "Actions refused at admission.",
		}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_orders_cancelled_total",
			Help: "Orders cancelled by their owner.",
		}),
		StopsActivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_stops_activated_total",
			Help: "Dormant stop orders triggered into the live book.",
		}),
		TradesSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_trades_settled_total",
			Help: "Trades applied to both counterparties.",
		}),
		ProviderTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_provider_timeouts_total",
			Help: "Decision providers that missed the per-tick budget.",
		}),
		ProviderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_provider_errors_total",
			Help: "Decision providers that returned an error or panicked.",
		}),
		SettlementFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegir_settlement_faults_total",
			Help: "Trades that failed the settlement invariant check.",
		}),
		CurrentTick: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aegir_current_tick",
			Help: "The simulated clock.",
		}),
		DecisionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegir_decision_latency_seconds",
			Help:    "Wall time each decision provider took to respond.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
