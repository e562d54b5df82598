package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "trahn"
	subsystem = "sim"
)

// --- generator ---

var EventsGenerated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_generated_total",
		Help:      "Synthetic market events emitted, by kind",
	},
	[]string{"kind"},
)

var Subscribers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "subscribers",
		Help:      "Users currently engaged with the event stream",
	},
)

var HandlerPanics = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handler_panics_total",
		Help:      "Subscriber handlers that panicked during dispatch",
	},
)

// --- evaluator ---

var Decisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "decisions_total",
		Help:      "Evaluator outcomes per event, by reason",
	},
	[]string{"reason"},
)

// --- ledger ---

var TradesApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "trades_applied_total",
		Help:      "Trades applied to user ledgers",
	},
	[]string{"side", "status"},
)

var FeesCharged = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "fees_charged_total",
		Help:      "Cumulative fees debited, in ledger currency",
	},
)

var ApplyLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "apply_trade_seconds",
		Help:      "Time spent in ApplyTrade including persistence",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	},
)

var PersistErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persist_errors_total",
		Help:      "Failed writes to the ledger store",
	},
	[]string{"op"},
)

// --- notifications ---

var NotificationsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notifications_dropped_total",
		Help:      "Notifications not delivered, by channel",
	},
	[]string{"channel"},
)

var StreamClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stream_clients",
		Help:      "Open websocket stream connections",
	},
)
