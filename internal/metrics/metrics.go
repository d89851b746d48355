// Package metrics exposes Prometheus metrics for the trading agent.
//
//   - agent_cycles_total{bot,result}            cycles by result (ok|skipped|error|panic)
//   - agent_decisions_total{bot,action}         decisions proposed by the source
//   - agent_gate_coercions_total{bot,reason}    decisions the gate turned into hold
//   - agent_orders_total{kind,result}           orders by kind (entry|stop|target|close|cancel)
//   - agent_reconciler_repairs_total{bot,state} protective repairs by starting state
//   - agent_sized_notional_usd{bot}             sized notional per open
//   - agent_balance_usd{bot}                    latest balance
//   - agent_realized_pnl_usd{bot}               cumulative realized PnL
//   - agent_cycle_duration_seconds{bot}         cycle latency
//   - agent_win_rate{bot}                       closed-trade win rate, refreshed hourly
//   - agent_closed_trades{bot}                  closed trades, refreshed hourly
//
// Metrics register in init() and are served at /metrics by the API server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_cycles_total",
			Help: "Trading cycles by result",
		},
		[]string{"bot", "result"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_decisions_total",
			Help: "Decisions proposed by the decision source",
		},
		[]string{"bot", "action"},
	)

	gateCoercions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_gate_coercions_total",
			Help: "Decisions coerced to hold by the decision gate",
		},
		[]string{"bot", "reason"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_total",
			Help: "Exchange orders by kind and result",
		},
		[]string{"kind", "result"},
	)

	repairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_reconciler_repairs_total",
			Help: "Protective order repairs by the state found",
		},
		[]string{"bot", "state"},
	)

	sizedNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_sized_notional_usd",
			Help:    "Notional chosen by the position sizer",
			Buckets: []float64{50, 100, 250, 500, 750, 1000, 1500, 2500, 5000},
		},
		[]string{"bot"},
	)

	balance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_balance_usd",
			Help: "Latest account balance seen by the bot",
		},
		[]string{"bot"},
	)

	// gauge because PnL can go negative
	realizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_realized_pnl_usd",
			Help: "Cumulative realized PnL since start",
		},
		[]string{"bot"},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_cycle_duration_seconds",
			Help:    "Trading cycle latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"bot"},
	)

	winRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_win_rate",
			Help: "Closed-trade win rate (0-1)",
		},
		[]string{"bot"},
	)

	closedTrades = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_closed_trades",
			Help: "Closed trades in the trade log",
		},
		[]string{"bot"},
	)
)

func init() {
	prometheus.MustRegister(cycles, decisions, gateCoercions, orders, repairs)
	prometheus.MustRegister(sizedNotional, balance, realizedPnL, cycleDuration)
	prometheus.MustRegister(winRate, closedTrades)
}

// Cycle results
const (
	CycleOK      = "ok"
	CycleSkipped = "skipped"
	CycleError   = "error"
	CyclePanic   = "panic"
)

// Order kinds
const (
	OrderEntry  = "entry"
	OrderStop   = "stop"
	OrderTarget = "target"
	OrderClose  = "close"
	OrderCancel = "cancel"
)

func IncCycle(bot, result string)        { cycles.WithLabelValues(bot, result).Inc() }
func IncDecision(bot, action string)     { decisions.WithLabelValues(bot, action).Inc() }
func IncGateCoercion(bot, reason string) { gateCoercions.WithLabelValues(bot, reason).Inc() }
func IncRepair(bot, state string)        { repairs.WithLabelValues(bot, state).Inc() }
func ObserveSize(bot string, usd float64) {
	sizedNotional.WithLabelValues(bot).Observe(usd)
}
func SetBalance(bot string, usd float64)     { balance.WithLabelValues(bot).Set(usd) }
func AddRealizedPnL(bot string, usd float64) { realizedPnL.WithLabelValues(bot).Add(usd) }
func ObserveCycle(bot string, seconds float64) {
	cycleDuration.WithLabelValues(bot).Observe(seconds)
}

// IncOrder counts one order attempt
func IncOrder(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	orders.WithLabelValues(kind, result).Inc()
}

// SetTradeStats publishes the trade log summary
func SetTradeStats(bot string, rate float64, trades int) {
	winRate.WithLabelValues(bot).Set(rate)
	closedTrades.WithLabelValues(bot).Set(float64(trades))
}
