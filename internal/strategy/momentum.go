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

// Momentum follows trends using an EMA crossover confirmed by the MACD
// histogram, with an ADX filter that keeps it out of ranging markets.
type Momentum struct {
	name   string
	symbol string

	fastPeriod    int
	slowPeriod    int
	signalPeriod  int
	adxPeriod     int
	adxThreshold  float64
	tradeNotional float64
}

func NewMomentum(sc cfg.StrategyConfig) *Momentum {
	return &Momentum{
		name:          sc.Name,
		symbol:        sc.Symbol,
		fastPeriod:    int(sc.Param("fast_period", 12)),
		slowPeriod:    int(sc.Param("slow_period", 26)),
		signalPeriod:  int(sc.Param("signal_period", 9)),
		adxPeriod:     int(sc.Param("adx_period", 14)),
		adxThreshold:  sc.Param("adx_threshold", 25),
		tradeNotional: sc.Param("trade_notional", 100),
	}
}

func (s *Momentum) Name() string   { return s.name }
func (s *Momentum) Symbol() string { return s.symbol }

func (s *Momentum) Evaluate(_ context.Context, market MarketView, portfolio PortfolioView) ([]Signal, error) {
	candles := market.Candles(s.symbol)
	need := s.slowPeriod + s.signalPeriod
	if 2*s.adxPeriod > need {
		need = 2 * s.adxPeriod
	}
	if len(candles) < need+1 {
		return nil, nil
	}

	prices := closes(candles)
	fast := indicators.EMA(prices, s.fastPeriod)
	slow := indicators.EMA(prices, s.slowPeriod)
	_, _, hist := indicators.MACD(prices, s.fastPeriod, s.slowPeriod, s.signalPeriod)

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	adx, _, _ := indicators.ADX(highs, lows, prices, s.adxPeriod)

	i := len(prices) - 1
	if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) || math.IsNaN(fast[i-1]) ||
		math.IsNaN(slow[i-1]) || math.IsNaN(hist[i]) || math.IsNaN(adx[i]) {
		return nil, nil
	}

	crossedUp := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
	crossedDown := fast[i-1] >= slow[i-1] && fast[i] < slow[i]
	trending := adx[i] >= s.adxThreshold

	price := prices[i]
	held, _ := portfolio.Position(s.symbol)
	now := time.Now()

	if crossedUp && hist[i] > 0 && trending && held == 0 {
		return []Signal{{
			Strategy:   s.name,
			Symbol:     s.symbol,
			Action:     common.SideBuy,
			OrderType:  common.OrderTypeMarket,
			Amount:     s.tradeNotional / price,
			Price:      price,
			Confidence: math.Min(1, adx[i]/50),
			Reason:     fmt.Sprintf("ema cross up, macd hist=%.4f adx=%.1f", hist[i], adx[i]),
			Ts:         now,
		}}, nil
	}

	if held > 0 && (crossedDown || hist[i] < 0) {
		return []Signal{{
			Strategy:   s.name,
			Symbol:     s.symbol,
			Action:     common.SideSell,
			OrderType:  common.OrderTypeMarket,
			Amount:     held,
			Price:      price,
			Confidence: math.Min(1, adx[i]/50),
			Reason:     fmt.Sprintf("trend exit, macd hist=%.4f", hist[i]),
			Ts:         now,
		}}, nil
	}

	return nil, nil
}
