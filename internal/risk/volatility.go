package risk

import (
	"math"
	"sync"
)

// Volatility regimes classified by the volatility manager.
const (
	RegimeLow    = "low"
	RegimeNormal = "normal"
	RegimeHigh   = "high"
)

// VolatilityManager keeps a rolling window of prices per symbol and exposes
// realized volatility plus a coarse regime classification used to scale
// position sizes down in turbulent markets.
type VolatilityManager struct {
	window        int
	highThreshold float64 // annualized vol above this is "high"
	lowThreshold  float64

	mu     sync.RWMutex
	prices map[string][]float64
}

// NewVolatilityManager creates a manager with the given rolling window
// length in observations.
func NewVolatilityManager(window int) *VolatilityManager {
	if window <= 1 {
		window = 30
	}
	return &VolatilityManager{
		window:        window,
		highThreshold: 1.0,
		lowThreshold:  0.3,
		prices:        make(map[string][]float64),
	}
}

// Observe appends a price observation for a symbol, trimming the window.
func (v *VolatilityManager) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ps := append(v.prices[symbol], price)
	if len(ps) > v.window+1 {
		ps = ps[len(ps)-v.window-1:]
	}
	v.prices[symbol] = ps
}

// Volatility returns the annualized realized volatility of log returns for
// a symbol, or zero while the window is still filling.
func (v *VolatilityManager) Volatility(symbol string) float64 {
	v.mu.RLock()
	ps := v.prices[symbol]
	v.mu.RUnlock()

	if len(ps) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(ps)-1)
	for i := 1; i < len(ps); i++ {
		returns = append(returns, math.Log(ps[i]/ps[i-1]))
	}
	return stdDev(returns) * math.Sqrt(TradingDaysPerYear)
}

// Regime classifies the symbol's current volatility.
func (v *VolatilityManager) Regime(symbol string) string {
	vol := v.Volatility(symbol)
	switch {
	case vol == 0:
		return RegimeNormal
	case vol >= v.highThreshold:
		return RegimeHigh
	case vol <= v.lowThreshold:
		return RegimeLow
	default:
		return RegimeNormal
	}
}

// SizeScale returns a multiplier applied to position sizes: full size in
// low and normal regimes, half size in high volatility.
func (v *VolatilityManager) SizeScale(symbol string) float64 {
	if v.Regime(symbol) == RegimeHigh {
		return 0.5
	}
	return 1.0
}
