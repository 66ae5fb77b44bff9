// Package metrics provides Prometheus metrics collection for the trading
// system. It defines all trading, market data and system metrics exposed on
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trading system.
type Metrics struct {
	// Trading metrics
	OrdersTotal            prometheus.Counter   // Orders created from signals
	OrdersFilled           prometheus.Counter   // Orders confirmed filled
	OrdersRejected         prometheus.Counter   // Orders rejected by validation or venue
	OrderRetries           prometheus.Counter   // Order placement retries
	OrderExecutionDuration prometheus.Histogram // Order round-trip duration
	SignalsTotal           *prometheus.CounterVec // Signals produced, by strategy

	// Engine metrics
	CyclesTotal   prometheus.Counter   // Completed trading cycles
	CycleDuration prometheus.Histogram // Trading cycle duration
	StrategyRuns  prometheus.Counter   // Strategy evaluations executed
	StrategyErrs  prometheus.Counter   // Strategy evaluations that failed

	// Portfolio and risk metrics
	PortfolioValue  prometheus.Gauge // Current portfolio value in quote currency
	DailyPnL        prometheus.Gauge // Realized + unrealized PnL since day start
	ActivePositions prometheus.Gauge // Number of non-zero holdings
	Drawdown        prometheus.Gauge // Current drawdown fraction from peak
	TradingHalted   prometheus.Gauge // 1 when risk limits halted trading

	// Market data metrics
	TradesReceived prometheus.Counter   // Live trades received from the stream
	PollsTotal     prometheus.Counter   // Market data poll rounds completed
	WSReconnects   prometheus.Counter   // Websocket reconnections
	APIErrors      prometheus.Counter   // Exchange API call failures
	APILatency     prometheus.Histogram // Exchange API call latency

	// System metrics
	ErrorsTotal prometheus.Counter // Errors from any subsystem
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics against a custom registry, which keeps
// tests isolated from the global state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Total number of orders created from strategy signals",
		}),
		OrdersFilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_filled_total",
			Help: "Total number of orders confirmed filled",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of orders rejected by validation or the venue",
		}),
		OrderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_retries_total",
			Help: "Total number of order placement retries",
		}),
		OrderExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_execution_duration_seconds",
			Help:    "Duration of order execution attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_total",
			Help: "Total number of trading signals produced",
		}, []string{"strategy"}),
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "trading_cycles_total",
			Help: "Total number of completed trading cycles",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trading_cycle_duration_seconds",
			Help:    "Duration of a full trading cycle in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		StrategyRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "strategy_runs_total",
			Help: "Total number of strategy evaluations executed",
		}),
		StrategyErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "strategy_errors_total",
			Help: "Total number of strategy evaluations that failed",
		}),
		PortfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_value",
			Help: "Current portfolio value in quote currency",
		}),
		DailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "daily_pnl",
			Help: "Profit and loss since the start of the trading day",
		}),
		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_positions",
			Help: "Number of non-zero portfolio holdings",
		}),
		Drawdown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "drawdown_fraction",
			Help: "Current drawdown from the equity peak as a fraction",
		}),
		TradingHalted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_halted",
			Help: "1 when risk limits have halted trading, 0 otherwise",
		}),
		TradesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "trades_received_total",
			Help: "Total number of live trade messages received",
		}),
		PollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_polls_total",
			Help: "Total number of market data poll rounds completed",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of websocket reconnections",
		}),
		APIErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of exchange API call failures",
		}),
		APILatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Exchange API call latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// UpdatePositions sets the active positions gauge from current holdings.
func (m *Metrics) UpdatePositions(holdings map[string]float64) {
	count := 0
	for _, amount := range holdings {
		if amount != 0 {
			count++
		}
	}
	m.ActivePositions.Set(float64(count))
}
