// Package portfolio tracks balances, open positions and the equity curve of
// the trading account. In dry-run mode it is seeded with a paper balance;
// in live mode it is synced from venue balances.
package portfolio

import (
	"sync"
	"time"

	"cryptrader/internal/common"
	"cryptrader/internal/strategy"

	"github.com/rs/zerolog/log"
)

// Position is an open holding with its average entry price.
type Position struct {
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	AvgEntry float64 `json:"avgEntry"`
}

// EquityPoint is one sample of the portfolio's total value.
type EquityPoint struct {
	Ts    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// Portfolio is the account state. All methods are safe for concurrent use.
type Portfolio struct {
	mu           sync.RWMutex
	quoteAsset   string
	balances     map[string]float64 // asset -> free amount
	positions    map[string]*Position
	prices       map[string]float64 // symbol -> last price for valuation
	equity       []EquityPoint
	maxEquity    int
	initialValue float64
	realizedPnL  float64

	// realized trade statistics, fed to the kelly sizer
	wins      int
	losses    int
	grossWin  float64
	grossLoss float64
}

// New creates a portfolio seeded with the given quote balance.
func New(initialBalance float64) *Portfolio {
	p := &Portfolio{
		quoteAsset:   common.QuoteAsset,
		balances:     map[string]float64{common.QuoteAsset: initialBalance},
		positions:    make(map[string]*Position),
		prices:       make(map[string]float64),
		maxEquity:    10000,
		initialValue: initialBalance,
	}
	return p
}

// SyncBalances replaces balances from a venue snapshot, used in live mode.
func (p *Portfolio) SyncBalances(balances map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = make(map[string]float64, len(balances))
	for asset, amount := range balances {
		p.balances[asset] = amount
	}
}

// MarkPrice records the latest price for a symbol, used for valuation.
func (p *Portfolio) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// QuoteBalance returns the free quote asset balance.
func (p *Portfolio) QuoteBalance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[p.quoteAsset]
}

// AssetBalance returns the free balance of an asset.
func (p *Portfolio) AssetBalance(asset string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[asset]
}

// Position returns the open amount and average entry for a symbol.
func (p *Portfolio) Position(symbol string) (amount, avgEntry float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		return pos.Amount, pos.AvgEntry
	}
	return 0, 0
}

// Positions returns a copy of all open positions.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// HeldSymbols returns the symbols with a non-zero position.
func (p *Portfolio) HeldSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		out = append(out, sym)
	}
	return out
}

// Holdings returns base asset amounts keyed by symbol.
func (p *Portfolio) Holdings() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = pos.Amount
	}
	return out
}

// TotalValue returns the quote balance plus all positions marked at their
// last known price. Positions without a mark are valued at entry.
func (p *Portfolio) TotalValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalValueLocked()
}

func (p *Portfolio) totalValueLocked() float64 {
	total := p.balances[p.quoteAsset]
	for sym, pos := range p.positions {
		price := p.prices[sym]
		if price <= 0 {
			price = pos.AvgEntry
		}
		total += pos.Amount * price
	}
	return total
}

// ApplyFill updates balances and positions with an executed fill. Sells
// realize PnL against the average entry price.
func (p *Portfolio) ApplyFill(symbol, side string, amount, price float64) {
	if amount <= 0 || price <= 0 {
		return
	}
	base := strategy.BaseAsset(symbol)
	notional := amount * price

	p.mu.Lock()
	defer p.mu.Unlock()

	switch side {
	case common.SideBuy:
		p.balances[p.quoteAsset] -= notional
		p.balances[base] += amount
		pos := p.positions[symbol]
		if pos == nil {
			p.positions[symbol] = &Position{Symbol: symbol, Amount: amount, AvgEntry: price}
		} else {
			total := pos.Amount + amount
			pos.AvgEntry = (pos.AvgEntry*pos.Amount + notional) / total
			pos.Amount = total
		}
	case common.SideSell:
		p.balances[p.quoteAsset] += notional
		p.balances[base] -= amount
		if pos := p.positions[symbol]; pos != nil {
			pnl := (price - pos.AvgEntry) * amount
			p.realizedPnL += pnl
			switch {
			case pnl > 0:
				p.wins++
				p.grossWin += pnl
			case pnl < 0:
				p.losses++
				p.grossLoss -= pnl
			}
			pos.Amount -= amount
			if pos.Amount <= 1e-12 {
				delete(p.positions, symbol)
			}
		}
	default:
		log.Warn().Str("side", side).Msg("fill with unknown side ignored")
		return
	}

	p.prices[symbol] = price
	log.Debug().Str("symbol", symbol).Str("side", side).
		Float64("amount", amount).Float64("price", price).Msg("fill applied")
}

// Snapshot appends an equity point and returns the sampled value.
func (p *Portfolio) Snapshot(now time.Time) EquityPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	point := EquityPoint{Ts: now, Value: p.totalValueLocked()}
	p.equity = append(p.equity, point)
	if len(p.equity) > p.maxEquity {
		p.equity = p.equity[len(p.equity)-p.maxEquity:]
	}
	return point
}

// EquityCurve returns a copy of the recorded equity points.
func (p *Portfolio) EquityCurve() []EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]EquityPoint(nil), p.equity...)
}

// EquityValues returns just the values of the equity curve, for the risk
// calculators.
func (p *Portfolio) EquityValues() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]float64, len(p.equity))
	for i, e := range p.equity {
		out[i] = e.Value
	}
	return out
}

// PerformanceWindow is the portfolio return over a trailing period.
type PerformanceWindow struct {
	Label  string  `json:"label"`
	Return float64 `json:"return"`
}

// Performance returns trailing 24h, 7d and 30d returns computed against the
// equity curve. A window with no sample old enough is measured from the
// earliest sample available.
func (p *Portfolio) Performance(now time.Time) []PerformanceWindow {
	p.mu.RLock()
	defer p.mu.RUnlock()

	current := p.totalValueLocked()
	windows := []struct {
		label string
		age   time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
	}

	out := make([]PerformanceWindow, 0, len(windows))
	for _, w := range windows {
		base := p.baselineLocked(now.Add(-w.age))
		ret := 0.0
		if base > 0 {
			ret = current/base - 1
		}
		out = append(out, PerformanceWindow{Label: w.label, Return: ret})
	}
	return out
}

// baselineLocked returns the last equity sample at or before the cutoff,
// falling back to the earliest sample, then the initial balance.
func (p *Portfolio) baselineLocked(cutoff time.Time) float64 {
	if len(p.equity) == 0 {
		return p.initialValue
	}
	base := p.equity[0].Value
	for _, pt := range p.equity {
		if pt.Ts.After(cutoff) {
			break
		}
		base = pt.Value
	}
	return base
}

// TradeStats returns the realized win rate and the average-win to
// average-loss ratio. Both stay zero until a trade has closed; the ratio
// additionally needs at least one winner and one loser.
func (p *Portfolio) TradeStats() (winRate, winLossRatio float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := p.wins + p.losses
	if total == 0 {
		return 0, 0
	}
	winRate = float64(p.wins) / float64(total)
	if p.wins > 0 && p.losses > 0 {
		avgWin := p.grossWin / float64(p.wins)
		avgLoss := p.grossLoss / float64(p.losses)
		if avgLoss > 0 {
			winLossRatio = avgWin / avgLoss
		}
	}
	return winRate, winLossRatio
}

// RealizedPnL returns the cumulative realized profit and loss.
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// InitialValue returns the starting portfolio value.
func (p *Portfolio) InitialValue() float64 { return p.initialValue }

// TotalReturn returns the fractional return since inception.
func (p *Portfolio) TotalReturn() float64 {
	if p.initialValue == 0 {
		return 0
	}
	return p.TotalValue()/p.initialValue - 1
}
