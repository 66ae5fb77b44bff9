// Package risk provides position sizing, portfolio risk measurement and the
// drawdown-based trading halts that gate order flow.
package risk

import (
	"fmt"
	"math"

	"cryptrader/internal/cfg"
)

// Sizing methods accepted by the position sizer.
const (
	SizingFixedRisk   = "fixed_risk"
	SizingVolatility  = "volatility"
	SizingKelly       = "kelly"
	SizingEqualWeight = "equal_weight"
)

// SizeInput carries everything the sizer may consult for one decision.
type SizeInput struct {
	PortfolioValue float64
	Price          float64
	StopDistance   float64 // fractional distance to the stop, e.g. 0.02
	Volatility     float64 // recent return std dev, annualized or per-bar
	WinRate        float64 // historical win rate for kelly
	WinLossRatio   float64 // avg win / avg loss for kelly
	OpenPositions  int
}

// Sizer converts a trading intent into a base asset amount.
type Sizer struct {
	method        string
	riskPerTrade  float64
	maxPositions  int
	kellyFraction float64
}

// NewSizer builds a sizer from risk config.
func NewSizer(rc cfg.RiskConfig) *Sizer {
	return &Sizer{
		method:        rc.SizingMethod,
		riskPerTrade:  rc.RiskPerTrade,
		maxPositions:  rc.MaxPositions,
		kellyFraction: rc.KellyFraction,
	}
}

// Size returns the base asset amount for a new position. A zero return means
// the trade should be skipped.
func (s *Sizer) Size(in SizeInput) (float64, error) {
	if in.Price <= 0 || in.PortfolioValue <= 0 {
		return 0, fmt.Errorf("sizer needs positive price and portfolio value")
	}
	if s.maxPositions > 0 && in.OpenPositions >= s.maxPositions {
		return 0, nil
	}

	var notional float64
	switch s.method {
	case SizingFixedRisk:
		notional = s.fixedRisk(in)
	case SizingVolatility:
		notional = s.volatilityScaled(in)
	case SizingKelly:
		notional = s.kelly(in)
	case SizingEqualWeight:
		notional = s.equalWeight(in)
	default:
		return 0, fmt.Errorf("unknown sizing method %q", s.method)
	}

	if notional <= 0 {
		return 0, nil
	}
	// Never allocate more than the whole portfolio to one trade.
	if notional > in.PortfolioValue {
		notional = in.PortfolioValue
	}
	return notional / in.Price, nil
}

// fixedRisk risks riskPerTrade of the portfolio against the stop distance.
func (s *Sizer) fixedRisk(in SizeInput) float64 {
	stop := in.StopDistance
	if stop <= 0 {
		stop = 0.02
	}
	return in.PortfolioValue * s.riskPerTrade / stop
}

// volatilityScaled targets a constant risk budget by scaling inversely with
// recent volatility.
func (s *Sizer) volatilityScaled(in SizeInput) float64 {
	vol := in.Volatility
	if vol <= 0 {
		return s.fixedRisk(in)
	}
	return in.PortfolioValue * s.riskPerTrade / vol
}

// kelly applies the fractional Kelly criterion. Until the trade history
// yields a usable win rate and payoff ratio it falls back to fixed-risk
// sizing; once an edge can be measured, a non-positive edge skips the trade.
func (s *Sizer) kelly(in SizeInput) float64 {
	if in.WinRate <= 0 || in.WinRate >= 1 || in.WinLossRatio <= 0 {
		return s.fixedRisk(in)
	}
	f := in.WinRate - (1-in.WinRate)/in.WinLossRatio
	if f <= 0 {
		return 0
	}
	fraction := s.kellyFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.5
	}
	return in.PortfolioValue * math.Min(f*fraction, 0.25)
}

// equalWeight splits the portfolio evenly across the allowed position slots.
func (s *Sizer) equalWeight(in SizeInput) float64 {
	slots := s.maxPositions
	if slots <= 0 {
		slots = 5
	}
	return in.PortfolioValue / float64(slots)
}
