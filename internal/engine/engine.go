// Package engine runs the trading loop: refresh portfolio state, evaluate
// risk limits, run strategies, turn surviving signals into orders and hand
// them to the executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/execution"
	"cryptrader/internal/marketdata"
	"cryptrader/internal/metrics"
	"cryptrader/internal/notify"
	"cryptrader/internal/order"
	"cryptrader/internal/portfolio"
	"cryptrader/internal/risk"
	"cryptrader/internal/storage"
	"cryptrader/internal/strategy"

	"github.com/rs/zerolog/log"
)

// maintenanceInterval is how often the retention sweep runs.
const maintenanceInterval = 6 * time.Hour

// staleAfter is the market data age beyond which the cache is flagged stale.
const staleAfter = 5 * time.Minute

// ErrOrderNotFound is returned when a cancel targets an unknown or already
// closed order.
var ErrOrderNotFound = errors.New("order not found")

// Engine owns the trading cycle and the supporting risk state.
type Engine struct {
	settings   *cfg.Settings
	market     *marketdata.Manager
	strategies []strategy.Strategy
	orders     *order.Manager
	portfolio  *portfolio.Portfolio
	executor   *execution.Executor
	sizer      *risk.Sizer
	drawdown   *risk.DrawdownManager
	volatility *risk.VolatilityManager
	corr       *risk.CorrelationAnalyzer
	store      *storage.Store
	tracker    metrics.Tracker
	notifier   *notify.Notifier

	mu         sync.RWMutex
	lastCycle  time.Time
	cycleCount int64
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Settings   *cfg.Settings
	Market     *marketdata.Manager
	Strategies []strategy.Strategy
	Orders     *order.Manager
	Portfolio  *portfolio.Portfolio
	Executor   *execution.Executor
	Store      *storage.Store
	Tracker    metrics.Tracker
	Notifier   *notify.Notifier
}

// New wires an engine from its dependencies.
func New(d Deps) *Engine {
	return &Engine{
		settings:   d.Settings,
		market:     d.Market,
		strategies: d.Strategies,
		orders:     d.Orders,
		portfolio:  d.Portfolio,
		executor:   d.Executor,
		sizer:      risk.NewSizer(d.Settings.Risk),
		drawdown:   risk.NewDrawdownManager(d.Settings.Risk, d.Settings.InitialBalance),
		volatility: risk.NewVolatilityManager(30),
		corr:       risk.NewCorrelationAnalyzer(50, 0.8),
		store:      d.Store,
		tracker:    d.Tracker,
		notifier:   d.Notifier,
	}
}

// Run executes trading cycles until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	log.Info().
		Int("strategies", len(e.strategies)).
		Bool("dryRun", e.settings.DryRun).
		Dur("interval", e.settings.TradingInterval).
		Msg("trading engine started")

	e.notifier.Notify(notify.EventTradingStart, "trading engine started", map[string]any{
		"dryRun":     e.settings.DryRun,
		"strategies": len(e.strategies),
	})

	ticker := time.NewTicker(e.settings.TradingInterval)
	defer ticker.Stop()
	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("trading engine stopped")
			return
		case <-ticker.C:
			e.cycle(ctx)
		case <-maintenance.C:
			e.maintain()
		}
	}
}

// cycle runs one full trading iteration. A panic anywhere in the cycle is
// contained here so the daemon keeps running.
func (e *Engine) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("trading cycle panicked")
			e.tracker.Error()
		}
	}()
	start := time.Now()

	e.refreshMarks()
	if e.market.Stale(staleAfter) {
		log.Warn().Time("lastPoll", e.market.LastPoll()).Msg("trading on stale market data")
	}
	halted := e.updateRisk(start)

	if !halted {
		signals := e.evaluateStrategies(ctx)
		signals = e.applyRisk(signals)
		e.executeSignals(ctx, signals)
	}

	e.executor.Reconcile(ctx)

	e.mu.Lock()
	e.lastCycle = start
	e.cycleCount++
	e.mu.Unlock()

	e.tracker.CycleCompleted(time.Since(start))
}

// refreshMarks feeds the latest prices into the portfolio and risk state.
func (e *Engine) refreshMarks() {
	for _, symbol := range e.settings.Symbols {
		price, ok := e.market.Price(symbol)
		if !ok {
			continue
		}
		e.portfolio.MarkPrice(symbol, price)
		e.volatility.Observe(symbol, price)
		e.corr.Observe(symbol, price)
	}
}

// updateRisk snapshots equity, updates drawdown state and reports whether
// trading is halted.
func (e *Engine) updateRisk(now time.Time) bool {
	point := e.portfolio.Snapshot(now)
	if e.store != nil {
		if err := e.store.SaveEquity(point); err != nil {
			log.Warn().Err(err).Msg("failed to persist equity snapshot")
		}
	}

	wasHalted, _ := e.drawdown.Halted()
	drawdown, halted := e.drawdown.Update(point.Value, now)

	e.tracker.SetPortfolioValue(point.Value)
	e.tracker.SetDailyPnL(e.drawdown.DailyPnL(point.Value))
	e.tracker.SetDrawdown(drawdown)
	e.tracker.SetHalted(halted)
	e.tracker.UpdatePositions(e.portfolio.Holdings())

	if halted && !wasHalted {
		_, reason := e.drawdown.Halted()
		e.notifier.Notify(notify.EventTradingHalt,
			fmt.Sprintf("trading halted: %s limit breached", reason),
			map[string]any{"equity": point.Value, "drawdown": drawdown})
	}
	return halted
}

func (e *Engine) evaluateStrategies(ctx context.Context) []strategy.Signal {
	var signals []strategy.Signal
	for _, s := range e.strategies {
		sigs, err := e.evaluateOne(ctx, s)
		e.tracker.StrategyRan(err)
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.Name()).Msg("strategy evaluation failed")
			e.tracker.Error()
			continue
		}
		for _, sig := range sigs {
			e.tracker.SignalEmitted(sig.Strategy)
		}
		signals = append(signals, sigs...)
	}
	return signals
}

// evaluateOne runs a single strategy, converting a panic into an error so
// one broken strategy cannot stop the others from trading.
func (e *Engine) evaluateOne(ctx context.Context, s strategy.Strategy) (sigs []strategy.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sigs = nil
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return s.Evaluate(ctx, e.market, e.portfolio)
}

// applyRisk caps buy sizes with the position sizer, scales them by the
// volatility regime and drops buys that would concentrate the portfolio in
// correlated assets.
func (e *Engine) applyRisk(signals []strategy.Signal) []strategy.Signal {
	if len(signals) == 0 {
		return nil
	}
	held := e.portfolio.HeldSymbols()
	value := e.portfolio.TotalValue()
	winRate, winLossRatio := e.portfolio.TradeStats()
	out := signals[:0]
	for _, sig := range signals {
		if sig.Action == common.SideBuy {
			if e.corr.TooCorrelated(sig.Symbol, held) {
				log.Info().Str("symbol", sig.Symbol).Str("strategy", sig.Strategy).
					Msg("buy skipped, symbol too correlated with open positions")
				continue
			}

			sized, err := e.sizer.Size(risk.SizeInput{
				PortfolioValue: value,
				Price:          sig.Price,
				Volatility:     e.volatility.Volatility(sig.Symbol),
				WinRate:        winRate,
				WinLossRatio:   winLossRatio,
				OpenPositions:  len(held),
			})
			if err != nil {
				log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("position sizing failed")
			} else if sized == 0 {
				log.Info().Str("symbol", sig.Symbol).Str("strategy", sig.Strategy).
					Msg("buy skipped, sizer allocated nothing")
				continue
			} else if sized < sig.Amount {
				sig.Amount = sized
			}

			sig.Amount *= e.volatility.SizeScale(sig.Symbol)
		}
		out = append(out, sig)
	}
	return out
}

func (e *Engine) executeSignals(ctx context.Context, signals []strategy.Signal) {
	created := e.orders.ProcessSignals(signals, e.portfolio)
	for _, o := range created {
		if err := e.executor.Execute(ctx, o); err != nil {
			log.Error().Err(err).Str("id", o.ID).Msg("order execution failed")
			e.tracker.Error()
			e.notifier.Notify(notify.EventOrderFailed, err.Error(), map[string]any{
				"orderId": o.ID, "symbol": o.Symbol,
			})
			continue
		}
		if o.Status == common.OrderStatusFilled {
			e.notifier.Notify(notify.EventOrderFilled,
				fmt.Sprintf("%s %s %.8f %s at %.2f", o.Strategy, o.Side, o.Filled, o.Symbol, o.AvgPrice),
				map[string]any{"orderId": o.ID, "symbol": o.Symbol, "side": o.Side})
		}
	}
}

// CancelOrder withdraws an active order by its internal ID.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	for _, o := range e.orders.Active() {
		if o.ID == orderID {
			return e.executor.Cancel(ctx, &o)
		}
	}
	return fmt.Errorf("cancel %q: %w", orderID, ErrOrderNotFound)
}

// maintain runs the periodic storage retention sweep.
func (e *Engine) maintain() {
	if e.store == nil {
		return
	}
	if _, err := e.store.Sweep(e.settings.RetentionDays, time.Now()); err != nil {
		log.Warn().Err(err).Msg("retention sweep failed")
		e.tracker.Error()
	}
}

// Status summarizes the engine for the dashboard.
type Status struct {
	Running      bool      `json:"running"`
	DryRun       bool      `json:"dryRun"`
	Halted       bool      `json:"halted"`
	HaltReason   string    `json:"haltReason,omitempty"`
	Cycles       int64     `json:"cycles"`
	LastCycle    time.Time `json:"lastCycle"`
	LastPoll     time.Time `json:"lastPoll"`
	DataStale    bool      `json:"dataStale"`
	Strategies   int       `json:"strategies"`
	ActiveOrders int       `json:"activeOrders"`
	// Storage holds per-bucket entry counts when persistence is enabled.
	Storage map[string]int `json:"storage,omitempty"`
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	lastCycle, cycles := e.lastCycle, e.cycleCount
	e.mu.RUnlock()

	halted, reason := e.drawdown.Halted()
	active, _ := e.orders.Counts()
	st := Status{
		Running:      true,
		DryRun:       e.settings.DryRun,
		Halted:       halted,
		HaltReason:   reason,
		Cycles:       cycles,
		LastCycle:    lastCycle,
		LastPoll:     e.market.LastPoll(),
		DataStale:    e.market.Stale(staleAfter),
		Strategies:   len(e.strategies),
		ActiveOrders: active,
	}
	if e.store != nil {
		if counts, err := e.store.Counts(); err == nil {
			st.Storage = counts
		}
	}
	return st
}

// RiskReport computes the current portfolio risk measures from the recorded
// equity curve.
type RiskReport struct {
	VaR95          float64                       `json:"var95"`
	VaR99          float64                       `json:"var99"`
	ExpectedShort  float64                       `json:"expectedShortfall"`
	Sharpe         float64                       `json:"sharpe"`
	Sortino        float64                       `json:"sortino"`
	MaxDrawdown    float64                       `json:"maxDrawdown"`
	Calmar         float64                       `json:"calmar"`
	Correlations   map[string]map[string]float64 `json:"correlations"`
	VolatilityBy   map[string]float64            `json:"volatility"`
	EquitySamples  int                           `json:"equitySamples"`
	PortfolioValue float64                       `json:"portfolioValue"`
}

// RiskReport builds the dashboard risk view.
func (e *Engine) RiskReport() RiskReport {
	equity := e.portfolio.EquityValues()
	returns := risk.Returns(equity)

	vols := make(map[string]float64, len(e.settings.Symbols))
	for _, symbol := range e.settings.Symbols {
		vols[symbol] = e.volatility.Volatility(symbol)
	}

	return RiskReport{
		VaR95:          risk.HistoricalVaR(returns, 0.95),
		VaR99:          risk.HistoricalVaR(returns, 0.99),
		ExpectedShort:  risk.ExpectedShortfall(returns, 0.95),
		Sharpe:         risk.SharpeRatio(returns, 0),
		Sortino:        risk.SortinoRatio(returns, 0),
		MaxDrawdown:    risk.MaxDrawdown(equity),
		Calmar:         risk.CalmarRatio(returns, equity),
		Correlations:   e.corr.Matrix(e.settings.Symbols),
		VolatilityBy:   vols,
		EquitySamples:  len(equity),
		PortfolioValue: e.portfolio.TotalValue(),
	}
}

// Strategies lists the configured strategies for the dashboard.
func (e *Engine) Strategies() []map[string]string {
	out := make([]map[string]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, map[string]string{"name": s.Name(), "symbol": s.Symbol()})
	}
	return out
}
