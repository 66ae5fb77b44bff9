package backtest

import (
	"context"
	"fmt"

	"cryptrader/internal/common"
	"cryptrader/internal/exchange"
	"cryptrader/internal/portfolio"
	"cryptrader/internal/risk"
	"cryptrader/internal/strategy"

	"github.com/rs/zerolog/log"
)

// Config controls a backtest run.
type Config struct {
	Symbol         string
	InitialBalance float64
	Commission     float64 // fraction per fill, e.g. 0.001
	StopLoss       float64 // fractional stop below entry, 0 disables
	TakeProfit     float64 // fractional target above entry, 0 disables
	WarmupBars     int     // bars fed to indicators before trading starts
}

// Trade is one completed round trip.
type Trade struct {
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	Amount     float64 `json:"amount"`
	PnL        float64 `json:"pnl"`
	Reason     string  `json:"reason"`
}

// Results summarizes a completed run.
type Results struct {
	Symbol       string                  `json:"symbol"`
	Bars         int                     `json:"bars"`
	InitialValue float64                 `json:"initialValue"`
	FinalValue   float64                 `json:"finalValue"`
	TotalReturn  float64                 `json:"totalReturn"`
	Trades       []Trade                 `json:"trades"`
	NumTrades    int                     `json:"numTrades"`
	WinRate      float64                 `json:"winRate"`
	ProfitFactor float64                 `json:"profitFactor"`
	MaxDrawdown  float64                 `json:"maxDrawdown"`
	Sharpe       float64                 `json:"sharpe"`
	Sortino      float64                 `json:"sortino"`
	Calmar       float64                 `json:"calmar"`
	Equity       []portfolio.EquityPoint `json:"equity"`
}

// marketView serves the candle window visible up to the current bar.
type marketView struct {
	symbol  string
	candles []exchange.Candle
}

func (m *marketView) Candles(symbol string) []exchange.Candle {
	if symbol != m.symbol {
		return nil
	}
	return m.candles
}

func (m *marketView) Price(symbol string) (float64, bool) {
	if symbol != m.symbol || len(m.candles) == 0 {
		return 0, false
	}
	return m.candles[len(m.candles)-1].Close, true
}

func (m *marketView) VenuePrice(_, symbol string) (float64, bool) { return m.Price(symbol) }
func (m *marketView) Venues() []string                            { return []string{"backtest"} }

// TakerFee is zero in replay; Config.Commission models the fill cost.
func (m *marketView) TakerFee(string) float64 { return 0 }

// Run replays the candles through the strategy bar by bar. Signals fill at
// the bar close with commission folded into the fill price; stops are
// checked against the next bar's range before the strategy sees it.
func Run(ctx context.Context, strat strategy.Strategy, candles []exchange.Candle, c Config) (*Results, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}
	if c.InitialBalance <= 0 {
		c.InitialBalance = common.DefaultInitialBalance
	}
	if c.WarmupBars <= 0 {
		c.WarmupBars = 50
	}
	if c.WarmupBars >= len(candles) {
		return nil, fmt.Errorf("warmup %d exceeds candle count %d", c.WarmupBars, len(candles))
	}

	pf := portfolio.New(c.InitialBalance)
	view := &marketView{symbol: c.Symbol}
	var trades []Trade

	for i := c.WarmupBars; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := candles[i]
		view.candles = candles[:i+1]
		pf.MarkPrice(c.Symbol, bar.Close)

		// Protective exits trigger intrabar, before the strategy acts on
		// this bar's close.
		if exit := checkStops(pf, c, bar); exit != nil {
			trades = append(trades, *exit)
		}

		signals, err := strat.Evaluate(ctx, view, pf)
		if err != nil {
			log.Warn().Err(err).Int("bar", i).Msg("strategy error during replay")
			continue
		}
		for _, sig := range signals {
			if t := applySignal(pf, c, sig, bar.Close); t != nil {
				trades = append(trades, *t)
			}
		}

		pf.Snapshot(bar.OpenTime)
	}

	// Close any remaining position at the final bar for a clean accounting.
	if held, entry := pf.Position(c.Symbol); held > 0 {
		final := candles[len(candles)-1].Close
		exitPrice := final * (1 - c.Commission)
		pf.ApplyFill(c.Symbol, common.SideSell, held, exitPrice)
		trades = append(trades, Trade{
			EntryPrice: entry, ExitPrice: exitPrice, Amount: held,
			PnL: (exitPrice - entry) * held, Reason: "end of data",
		})
		pf.Snapshot(candles[len(candles)-1].OpenTime)
	}

	return buildResults(c, pf, trades, len(candles)), nil
}

// applySignal executes a signal at the bar close and returns a Trade when a
// position is closed.
func applySignal(pf *portfolio.Portfolio, c Config, sig strategy.Signal, closePrice float64) *Trade {
	switch sig.Action {
	case common.SideBuy:
		price := closePrice * (1 + c.Commission)
		cost := sig.Amount * price
		if cost <= 0 || cost > pf.QuoteBalance() {
			return nil
		}
		pf.ApplyFill(c.Symbol, common.SideBuy, sig.Amount, price)
	case common.SideSell:
		held, entry := pf.Position(c.Symbol)
		amount := sig.Amount
		if amount > held {
			amount = held
		}
		if amount <= 0 {
			return nil
		}
		price := closePrice * (1 - c.Commission)
		pf.ApplyFill(c.Symbol, common.SideSell, amount, price)
		return &Trade{
			EntryPrice: entry, ExitPrice: price, Amount: amount,
			PnL: (price - entry) * amount, Reason: sig.Reason,
		}
	}
	return nil
}

// checkStops closes the position when the bar range crosses the stop-loss
// or take-profit level. The stop fills at its level, the pessimistic
// assumption when both are hit in one bar being that the stop fires first.
func checkStops(pf *portfolio.Portfolio, c Config, bar exchange.Candle) *Trade {
	held, entry := pf.Position(c.Symbol)
	if held <= 0 {
		return nil
	}

	if c.StopLoss > 0 {
		stopPrice := entry * (1 - c.StopLoss)
		if bar.Low <= stopPrice {
			price := stopPrice * (1 - c.Commission)
			pf.ApplyFill(c.Symbol, common.SideSell, held, price)
			return &Trade{
				EntryPrice: entry, ExitPrice: price, Amount: held,
				PnL: (price - entry) * held, Reason: "stop loss",
			}
		}
	}
	if c.TakeProfit > 0 {
		targetPrice := entry * (1 + c.TakeProfit)
		if bar.High >= targetPrice {
			price := targetPrice * (1 - c.Commission)
			pf.ApplyFill(c.Symbol, common.SideSell, held, price)
			return &Trade{
				EntryPrice: entry, ExitPrice: price, Amount: held,
				PnL: (price - entry) * held, Reason: "take profit",
			}
		}
	}
	return nil
}

func buildResults(c Config, pf *portfolio.Portfolio, trades []Trade, bars int) *Results {
	equity := pf.EquityValues()
	returns := risk.Returns(equity)

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}

	final := pf.TotalValue()
	return &Results{
		Symbol:       c.Symbol,
		Bars:         bars,
		InitialValue: c.InitialBalance,
		FinalValue:   final,
		TotalReturn:  final/c.InitialBalance - 1,
		Trades:       trades,
		NumTrades:    len(trades),
		WinRate:      risk.WinRate(pnls),
		ProfitFactor: risk.ProfitFactor(pnls),
		MaxDrawdown:  risk.MaxDrawdown(equity),
		Sharpe:       risk.SharpeRatio(returns, 0),
		Sortino:      risk.SortinoRatio(returns, 0),
		Calmar:       risk.CalmarRatio(returns, equity),
		Equity:       pf.EquityCurve(),
	}
}
