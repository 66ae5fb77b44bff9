package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func TestWrapperCounters(t *testing.T) {
	t.Parallel()

	m := newTestMetrics()
	w := NewWrapper(m)

	w.OrderCreated("mr-btc")
	w.OrderCreated("mr-btc")
	w.OrderFilled(10 * time.Millisecond)
	w.OrderRejected()
	w.OrderRetried()

	if got := testutil.ToFloat64(m.OrdersTotal); got != 2 {
		t.Errorf("orders total = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.OrdersFilled); got != 1 {
		t.Errorf("orders filled = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.OrdersRejected); got != 1 {
		t.Errorf("orders rejected = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.OrderRetries); got != 1 {
		t.Errorf("order retries = %f, want 1", got)
	}
}

func TestWrapperSignalsByStrategy(t *testing.T) {
	t.Parallel()

	m := newTestMetrics()
	w := NewWrapper(m)

	w.SignalEmitted("grid-eth")
	w.SignalEmitted("grid-eth")
	w.SignalEmitted("dca-btc")

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("grid-eth")); got != 2 {
		t.Errorf("grid-eth signals = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("dca-btc")); got != 1 {
		t.Errorf("dca-btc signals = %f, want 1", got)
	}
}

func TestWrapperStrategyAndAPIErrors(t *testing.T) {
	t.Parallel()

	m := newTestMetrics()
	w := NewWrapper(m)

	w.StrategyRan(nil)
	w.StrategyRan(errors.New("boom"))
	w.APICall(5*time.Millisecond, nil)
	w.APICall(5*time.Millisecond, errors.New("timeout"))

	if got := testutil.ToFloat64(m.StrategyRuns); got != 2 {
		t.Errorf("strategy runs = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.StrategyErrs); got != 1 {
		t.Errorf("strategy errors = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIErrors); got != 1 {
		t.Errorf("api errors = %f, want 1", got)
	}
}

func TestWrapperGauges(t *testing.T) {
	t.Parallel()

	m := newTestMetrics()
	w := NewWrapper(m)

	w.SetPortfolioValue(12345.5)
	w.SetDailyPnL(-42)
	w.SetDrawdown(0.07)
	w.SetHalted(true)

	if got := testutil.ToFloat64(m.PortfolioValue); got != 12345.5 {
		t.Errorf("portfolio value = %f", got)
	}
	if got := testutil.ToFloat64(m.DailyPnL); got != -42 {
		t.Errorf("daily pnl = %f", got)
	}
	if got := testutil.ToFloat64(m.Drawdown); got != 0.07 {
		t.Errorf("drawdown = %f", got)
	}
	if got := testutil.ToFloat64(m.TradingHalted); got != 1 {
		t.Errorf("halted gauge = %f, want 1", got)
	}

	w.SetHalted(false)
	if got := testutil.ToFloat64(m.TradingHalted); got != 0 {
		t.Errorf("halted gauge = %f, want 0", got)
	}
}

func TestUpdatePositions(t *testing.T) {
	t.Parallel()

	m := newTestMetrics()
	w := NewWrapper(m)

	w.UpdatePositions(map[string]float64{"BTC/USDT": 0.5, "ETH/USDT": 0, "SOL/USDT": 2})
	if got := testutil.ToFloat64(m.ActivePositions); got != 2 {
		t.Errorf("active positions = %f, want 2", got)
	}
}

func TestNilWrapperIsSafe(t *testing.T) {
	t.Parallel()

	var w *Wrapper
	w.OrderCreated("x")
	w.OrderFilled(time.Second)
	w.SetHalted(true)
	w.UpdatePositions(nil)

	empty := NewWrapper(nil)
	empty.CycleCompleted(time.Second)
	empty.Error()
	empty.SetPortfolioValue(1)
}
