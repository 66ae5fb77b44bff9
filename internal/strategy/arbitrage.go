package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
)

// Arbitrage watches the same symbol across venues and emits a paired
// buy-cheap / sell-rich signal when the spread, net of both venues' taker
// fees, exceeds the configured threshold.
type Arbitrage struct {
	name   string
	symbol string

	minSpread float64 // fractional spread required to act
	amount    float64 // base asset per leg
}

func NewArbitrage(sc cfg.StrategyConfig) *Arbitrage {
	return &Arbitrage{
		name:      sc.Name,
		symbol:    sc.Symbol,
		minSpread: sc.Param("min_spread", 0.005),
		amount:    sc.Param("amount", 0.001),
	}
}

func (s *Arbitrage) Name() string   { return s.name }
func (s *Arbitrage) Symbol() string { return s.symbol }

func (s *Arbitrage) Evaluate(_ context.Context, market MarketView, _ PortfolioView) ([]Signal, error) {
	venues := market.Venues()
	if len(venues) < 2 {
		return nil, nil
	}

	var (
		lowVenue, highVenue string
		low                 = math.Inf(1)
		high                = math.Inf(-1)
	)
	for _, venue := range venues {
		price, ok := market.VenuePrice(venue, s.symbol)
		if !ok || price <= 0 {
			continue
		}
		if price < low {
			low, lowVenue = price, venue
		}
		if price > high {
			high, highVenue = price, venue
		}
	}
	if lowVenue == "" || highVenue == "" || lowVenue == highVenue {
		return nil, nil
	}

	// Both legs fill as takers, so their fees come off the gross spread.
	spread := (high - low) / low
	net := spread - market.TakerFee(lowVenue) - market.TakerFee(highVenue)
	if net < s.minSpread {
		return nil, nil
	}

	now := time.Now()
	reason := fmt.Sprintf("net spread %.4f between %s and %s", net, lowVenue, highVenue)
	confidence := math.Min(1, net/(2*s.minSpread))

	return []Signal{
		{
			Strategy:   s.name,
			Exchange:   lowVenue,
			Symbol:     s.symbol,
			Action:     common.SideBuy,
			OrderType:  common.OrderTypeMarket,
			Amount:     s.amount,
			Price:      low,
			Confidence: confidence,
			Reason:     reason,
			Ts:         now,
		},
		{
			Strategy:   s.name,
			Exchange:   highVenue,
			Symbol:     s.symbol,
			Action:     common.SideSell,
			OrderType:  common.OrderTypeMarket,
			Amount:     s.amount,
			Price:      high,
			Confidence: confidence,
			Reason:     reason,
			Ts:         now,
		},
	}, nil
}
