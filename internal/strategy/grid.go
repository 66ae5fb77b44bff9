package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
)

// Grid places a ladder of price levels around an anchor and trades the
// oscillation: buy when price crosses down through an unfilled level below
// the anchor, sell the matching amount when it crosses back up through a
// level above. The anchor is set from the first observed price and re-centers
// when price leaves the grid entirely.
type Grid struct {
	name   string
	symbol string

	levels      int
	spacing     float64 // fractional distance between adjacent levels
	orderAmount float64 // base asset per grid level

	mu     sync.Mutex
	anchor float64
	bought map[int]float64 // level index -> amount bought at that level
}

func NewGrid(sc cfg.StrategyConfig) *Grid {
	return &Grid{
		name:        sc.Name,
		symbol:      sc.Symbol,
		levels:      int(sc.Param("levels", 5)),
		spacing:     sc.Param("spacing", 0.01),
		orderAmount: sc.Param("order_amount", 0.001),
		bought:      make(map[int]float64),
	}
}

func (s *Grid) Name() string   { return s.name }
func (s *Grid) Symbol() string { return s.symbol }

// levelIndex returns how many grid steps price sits from the anchor,
// negative below it.
func (s *Grid) levelIndex(price float64) int {
	return int(math.Floor((price/s.anchor - 1) / s.spacing))
}

func (s *Grid) Evaluate(_ context.Context, market MarketView, _ PortfolioView) ([]Signal, error) {
	price, ok := market.Price(s.symbol)
	if !ok || price <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchor == 0 {
		s.anchor = price
		return nil, nil
	}

	idx := s.levelIndex(price)

	// Price escaped the ladder: re-center and clear level state.
	if idx < -s.levels-1 || idx > s.levels {
		s.anchor = price
		s.bought = make(map[int]float64)
		return nil, nil
	}

	now := time.Now()

	// Below the anchor and this level has not been bought yet.
	if idx < 0 && s.bought[idx] == 0 {
		s.bought[idx] = s.orderAmount
		return []Signal{{
			Strategy:   s.name,
			Symbol:     s.symbol,
			Action:     common.SideBuy,
			OrderType:  common.OrderTypeMarket,
			Amount:     s.orderAmount,
			Price:      price,
			Confidence: 0.5,
			Reason:     fmt.Sprintf("grid buy at level %d", idx),
			Ts:         now,
		}}, nil
	}

	// Above or at the anchor: sell the deepest filled level, one per cycle.
	if idx >= 0 {
		for lvl := -s.levels; lvl < 0; lvl++ {
			amount := s.bought[lvl]
			if amount == 0 {
				continue
			}
			delete(s.bought, lvl)
			return []Signal{{
				Strategy:   s.name,
				Symbol:     s.symbol,
				Action:     common.SideSell,
				OrderType:  common.OrderTypeMarket,
				Amount:     amount,
				Price:      price,
				Confidence: 0.5,
				Reason:     fmt.Sprintf("grid sell closing level %d", lvl),
				Ts:         now,
			}}, nil
		}
	}

	return nil, nil
}
