package strategy

import (
	"context"
	"sync"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
)

// DCA buys a fixed quote notional at a fixed time interval, regardless of
// price. The interval is measured from the last emitted buy.
type DCA struct {
	name   string
	symbol string

	notional float64
	interval time.Duration

	mu      sync.Mutex
	lastBuy time.Time
}

func NewDCA(sc cfg.StrategyConfig) *DCA {
	var hours float64
	switch sc.Mode {
	case "weekly":
		hours = 24 * 7
	case "monthly":
		hours = 24 * 30
	default: // daily
		hours = 24
	}
	hours = sc.Param("interval_hours", hours)
	if hours <= 0 {
		hours = 24
	}
	return &DCA{
		name:     sc.Name,
		symbol:   sc.Symbol,
		notional: sc.Param("notional", 50),
		interval: time.Duration(hours * float64(time.Hour)),
	}
}

func (s *DCA) Name() string   { return s.name }
func (s *DCA) Symbol() string { return s.symbol }

func (s *DCA) Evaluate(_ context.Context, market MarketView, portfolio PortfolioView) ([]Signal, error) {
	price, ok := market.Price(s.symbol)
	if !ok || price <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.lastBuy.IsZero() && now.Sub(s.lastBuy) < s.interval {
		return nil, nil
	}
	if portfolio.QuoteBalance() < s.notional {
		return nil, nil
	}

	s.lastBuy = now
	return []Signal{{
		Strategy:   s.name,
		Symbol:     s.symbol,
		Action:     common.SideBuy,
		OrderType:  common.OrderTypeMarket,
		Amount:     s.notional / price,
		Price:      price,
		Confidence: 1,
		Reason:     "scheduled periodic buy",
		Ts:         now,
	}}, nil
}
