package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/indicators"
)

// MeanReversion trades deviations from the Bollinger mid band, confirmed by
// RSI. It buys when price stretches below the lower band while RSI shows
// oversold, and exits when price reverts to the mid band or stretches above
// the upper band with RSI overbought.
type MeanReversion struct {
	name   string
	symbol string

	period        int
	stdDev        float64
	rsiPeriod     int
	rsiOversold   float64
	rsiOverbought float64
	tradeNotional float64
}

// NewMeanReversion creates the strategy with config params, falling back to
// the usual Bollinger and RSI defaults.
func NewMeanReversion(sc cfg.StrategyConfig) *MeanReversion {
	return &MeanReversion{
		name:          sc.Name,
		symbol:        sc.Symbol,
		period:        int(sc.Param("period", 20)),
		stdDev:        sc.Param("std_dev", 2.0),
		rsiPeriod:     int(sc.Param("rsi_period", 14)),
		rsiOversold:   sc.Param("rsi_oversold", 30),
		rsiOverbought: sc.Param("rsi_overbought", 70),
		tradeNotional: sc.Param("trade_notional", 100),
	}
}

func (s *MeanReversion) Name() string   { return s.name }
func (s *MeanReversion) Symbol() string { return s.symbol }

func (s *MeanReversion) Evaluate(_ context.Context, market MarketView, portfolio PortfolioView) ([]Signal, error) {
	candles := market.Candles(s.symbol)
	need := s.period
	if s.rsiPeriod+1 > need {
		need = s.rsiPeriod + 1
	}
	if len(candles) < need {
		return nil, nil
	}

	prices := closes(candles)
	upper, mid, lower := indicators.BollingerBands(prices, s.period, s.stdDev)
	rsi := indicators.RSI(prices, s.rsiPeriod)

	i := len(prices) - 1
	price := prices[i]
	if math.IsNaN(upper[i]) || math.IsNaN(rsi[i]) {
		return nil, nil
	}

	// z-score of price against the band width
	band := (upper[i] - lower[i]) / 2
	if band <= 0 {
		return nil, nil
	}
	z := (price - mid[i]) / band

	held, _ := portfolio.Position(s.symbol)
	now := time.Now()

	if z < -1 && rsi[i] < s.rsiOversold && held == 0 {
		amount := s.tradeNotional / price
		return []Signal{{
			Strategy:   s.name,
			Symbol:     s.symbol,
			Action:     common.SideBuy,
			OrderType:  common.OrderTypeMarket,
			Amount:     amount,
			Price:      price,
			Confidence: math.Min(1, math.Abs(z)/2),
			Reason:     fmt.Sprintf("z=%.2f rsi=%.1f below lower band", z, rsi[i]),
			Ts:         now,
		}}, nil
	}

	if held > 0 && (z >= 0 || (z > 1 && rsi[i] > s.rsiOverbought)) {
		return []Signal{{
			Strategy:   s.name,
			Symbol:     s.symbol,
			Action:     common.SideSell,
			OrderType:  common.OrderTypeMarket,
			Amount:     held,
			Price:      price,
			Confidence: math.Min(1, math.Abs(z)/2),
			Reason:     fmt.Sprintf("z=%.2f rsi=%.1f reverted to mean", z, rsi[i]),
			Ts:         now,
		}}, nil
	}

	return nil, nil
}
