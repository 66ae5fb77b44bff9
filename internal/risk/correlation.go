package risk

import (
	"math"
	"sync"
)

// CorrelationAnalyzer keeps rolling return series per symbol and measures
// pairwise correlation, flagging candidate positions that would concentrate
// the portfolio in highly correlated assets.
type CorrelationAnalyzer struct {
	window    int
	threshold float64

	mu      sync.RWMutex
	returns map[string][]float64
	last    map[string]float64
}

// NewCorrelationAnalyzer creates an analyzer with the given return window
// and the correlation threshold above which a pair counts as concentrated.
func NewCorrelationAnalyzer(window int, threshold float64) *CorrelationAnalyzer {
	if window <= 2 {
		window = 50
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &CorrelationAnalyzer{
		window:    window,
		threshold: threshold,
		returns:   make(map[string][]float64),
		last:      make(map[string]float64),
	}
}

// Observe feeds a price observation for a symbol.
func (c *CorrelationAnalyzer) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[symbol]; ok && prev > 0 {
		rs := append(c.returns[symbol], price/prev-1)
		if len(rs) > c.window {
			rs = rs[len(rs)-c.window:]
		}
		c.returns[symbol] = rs
	}
	c.last[symbol] = price
}

// Correlation returns the Pearson correlation of the two symbols' return
// series over the overlapping window, and false if there is not enough data.
func (c *CorrelationAnalyzer) Correlation(a, b string) (float64, bool) {
	c.mu.RLock()
	ra, rb := c.returns[a], c.returns[b]
	c.mu.RUnlock()

	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 3 {
		return 0, false
	}
	ra, rb = ra[len(ra)-n:], rb[len(rb)-n:]

	ma, mb := mean(ra), mean(rb)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := ra[i]-ma, rb[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, false
	}
	return cov / math.Sqrt(va*vb), true
}

// TooCorrelated reports whether the candidate symbol correlates above the
// threshold with any currently held symbol.
func (c *CorrelationAnalyzer) TooCorrelated(candidate string, held []string) bool {
	for _, h := range held {
		if h == candidate {
			continue
		}
		if corr, ok := c.Correlation(candidate, h); ok && corr >= c.threshold {
			return true
		}
	}
	return false
}

// Matrix returns the pairwise correlation matrix for the given symbols.
// Pairs without enough data are reported as zero.
func (c *CorrelationAnalyzer) Matrix(symbols []string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		row := make(map[string]float64, len(symbols))
		for _, b := range symbols {
			if a == b {
				row[b] = 1
				continue
			}
			if corr, ok := c.Correlation(a, b); ok {
				row[b] = corr
			}
		}
		out[a] = row
	}
	return out
}
