package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracker is the narrow interface subsystems use to record metrics without
// importing prometheus directly. A nil *Wrapper is safe to use everywhere.
type Tracker interface {
	OrderCreated(strategy string)
	OrderFilled(duration time.Duration)
	OrderRejected()
	OrderRetried()
	SignalEmitted(strategy string)
	CycleCompleted(duration time.Duration)
	StrategyRan(err error)
	APICall(duration time.Duration, err error)
	TradeReceived()
	PollCompleted()
	WSReconnected()
	Error()
	SetPortfolioValue(v float64)
	SetDailyPnL(v float64)
	SetDrawdown(v float64)
	SetHalted(halted bool)
	UpdatePositions(holdings map[string]float64)
}

// Wrapper adapts Metrics to the Tracker interface.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wraps a Metrics set. A nil argument yields a usable no-op
// wrapper.
func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) ok() bool { return w != nil && w.m != nil }

func (w *Wrapper) OrderCreated(strategy string) {
	if !w.ok() {
		return
	}
	w.m.OrdersTotal.Inc()
}

func (w *Wrapper) OrderFilled(duration time.Duration) {
	if !w.ok() {
		return
	}
	w.m.OrdersFilled.Inc()
	w.m.OrderExecutionDuration.Observe(duration.Seconds())
}

func (w *Wrapper) OrderRejected() {
	if w.ok() {
		w.m.OrdersRejected.Inc()
	}
}

func (w *Wrapper) OrderRetried() {
	if w.ok() {
		w.m.OrderRetries.Inc()
	}
}

func (w *Wrapper) SignalEmitted(strategy string) {
	if w.ok() {
		w.m.SignalsTotal.With(prometheus.Labels{"strategy": strategy}).Inc()
	}
}

func (w *Wrapper) CycleCompleted(duration time.Duration) {
	if !w.ok() {
		return
	}
	w.m.CyclesTotal.Inc()
	w.m.CycleDuration.Observe(duration.Seconds())
}

func (w *Wrapper) StrategyRan(err error) {
	if !w.ok() {
		return
	}
	w.m.StrategyRuns.Inc()
	if err != nil {
		w.m.StrategyErrs.Inc()
	}
}

func (w *Wrapper) APICall(duration time.Duration, err error) {
	if !w.ok() {
		return
	}
	w.m.APILatency.Observe(duration.Seconds())
	if err != nil {
		w.m.APIErrors.Inc()
	}
}

func (w *Wrapper) TradeReceived() {
	if w.ok() {
		w.m.TradesReceived.Inc()
	}
}

func (w *Wrapper) PollCompleted() {
	if w.ok() {
		w.m.PollsTotal.Inc()
	}
}

func (w *Wrapper) WSReconnected() {
	if w.ok() {
		w.m.WSReconnects.Inc()
	}
}

func (w *Wrapper) Error() {
	if w.ok() {
		w.m.ErrorsTotal.Inc()
	}
}

func (w *Wrapper) SetPortfolioValue(v float64) {
	if w.ok() {
		w.m.PortfolioValue.Set(v)
	}
}

func (w *Wrapper) SetDailyPnL(v float64) {
	if w.ok() {
		w.m.DailyPnL.Set(v)
	}
}

func (w *Wrapper) SetDrawdown(v float64) {
	if w.ok() {
		w.m.Drawdown.Set(v)
	}
}

func (w *Wrapper) SetHalted(halted bool) {
	if !w.ok() {
		return
	}
	if halted {
		w.m.TradingHalted.Set(1)
	} else {
		w.m.TradingHalted.Set(0)
	}
}

func (w *Wrapper) UpdatePositions(holdings map[string]float64) {
	if w.ok() {
		w.m.UpdatePositions(holdings)
	}
}
