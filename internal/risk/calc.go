package risk

import (
	"math"
	"math/rand"
	"sort"
)

// TradingDaysPerYear is used to annualize return ratios. Crypto venues trade
// every day.
const TradingDaysPerYear = 365

// monteCarloSeed keeps VaR simulations reproducible across runs.
const monteCarloSeed = 42

// Returns converts an equity curve into simple period returns.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// HistoricalVaR returns the loss (as a positive fraction) not exceeded with
// the given confidence, from the empirical return distribution.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * (1 - confidence))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	v := -sorted[idx]
	if v < 0 {
		return 0
	}
	return v
}

// ParametricVaR assumes normally distributed returns.
func ParametricVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	v := -(mean(returns) - zScore(confidence)*stdDev(returns))
	if v < 0 {
		return 0
	}
	return v
}

// MonteCarloVaR simulates returns from the sample mean and std dev. The
// generator is seeded so repeated calls on the same input agree.
func MonteCarloVaR(returns []float64, confidence float64, simulations int) float64 {
	if len(returns) == 0 {
		return 0
	}
	if simulations <= 0 {
		simulations = 10000
	}
	m, sd := mean(returns), stdDev(returns)
	rng := rand.New(rand.NewSource(monteCarloSeed))
	simulated := make([]float64, simulations)
	for i := range simulated {
		simulated[i] = m + sd*rng.NormFloat64()
	}
	return HistoricalVaR(simulated, confidence)
}

// ExpectedShortfall is the mean loss beyond the historical VaR cutoff.
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	cutoff := int(float64(len(sorted)) * (1 - confidence))
	if cutoff == 0 {
		cutoff = 1
	}
	tail := sorted[:cutoff]
	v := -mean(tail)
	if v < 0 {
		return 0
	}
	return v
}

// SharpeRatio annualizes excess return over volatility. riskFree is the
// annual risk-free rate.
func SharpeRatio(returns []float64, riskFree float64) float64 {
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	excess := mean(returns) - riskFree/TradingDaysPerYear
	return excess / sd * math.Sqrt(TradingDaysPerYear)
}

// SortinoRatio is Sharpe with only downside deviation in the denominator.
func SortinoRatio(returns []float64, riskFree float64) float64 {
	target := riskFree / TradingDaysPerYear
	var downside []float64
	for _, r := range returns {
		if r < target {
			downside = append(downside, r-target)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range downside {
		sum += d * d
	}
	dd := math.Sqrt(sum / float64(len(downside)))
	if dd == 0 {
		return 0
	}
	return (mean(returns) - target) / dd * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the deepest peak-to-trough decline of an equity curve
// as a positive fraction.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CalmarRatio is annualized return over max drawdown.
func CalmarRatio(returns []float64, equity []float64) float64 {
	dd := MaxDrawdown(equity)
	if dd == 0 {
		return 0
	}
	annual := mean(returns) * TradingDaysPerYear
	return annual / dd
}

// WinRate is the fraction of strictly positive trade results.
func WinRate(tradePnLs []float64) float64 {
	if len(tradePnLs) == 0 {
		return 0
	}
	wins := 0
	for _, p := range tradePnLs {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(tradePnLs))
}

// ProfitFactor is gross profit divided by gross loss. A run with no losing
// trades reports 0 rather than an unbounded ratio.
func ProfitFactor(tradePnLs []float64) float64 {
	var profit, loss float64
	for _, p := range tradePnLs {
		if p > 0 {
			profit += p
		} else {
			loss -= p
		}
	}
	if loss == 0 {
		return 0
	}
	return profit / loss
}

// zScore maps common confidence levels to the standard normal quantile,
// with a rational approximation fallback for other values.
func zScore(confidence float64) float64 {
	switch confidence {
	case 0.90:
		return 1.2816
	case 0.95:
		return 1.6449
	case 0.99:
		return 2.3263
	}
	// Beasley-Springer-Moro style approximation for the upper tail.
	p := 1 - confidence
	if p <= 0 || p >= 1 {
		return 0
	}
	t := math.Sqrt(-2 * math.Log(p))
	return t - (2.30753+0.27061*t)/(1+0.99229*t+0.04481*t*t)
}
