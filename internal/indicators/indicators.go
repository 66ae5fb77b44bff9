// Package indicators implements the technical indicators used by the
// trading strategies. All functions are pure: they take price slices and
// return slices aligned with the input, with NaN for warm-up positions
// where the indicator is not yet defined.
package indicators

import "math"

// SMA computes a simple moving average.
func SMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 || len(data) < period {
		return out
	}
	var sum float64
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes an exponential moving average with smoothing 2/(period+1),
// seeded from the first value.
func EMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 || len(data) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	ema := data[0]
	out[0] = ema
	for i := 1; i < len(data); i++ {
		ema = alpha*data[i] + (1-alpha)*ema
		out[i] = ema
	}
	return out
}

// RSI computes the relative strength index using rolling-mean gains and
// losses over the period. Values are in [0, 100].
func RSI(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 0 || len(data) <= period {
		return out
	}

	gains := make([]float64, len(data))
	losses := make([]float64, len(data))
	for i := 1; i < len(data); i++ {
		delta := data[i] - data[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(data); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i >= period {
			avgGain := gainSum / float64(period)
			avgLoss := lossSum / float64(period)
			if avgLoss == 0 {
				out[i] = 100
			} else {
				rs := avgGain / avgLoss
				out[i] = 100 - 100/(1+rs)
			}
		}
	}
	return out
}

// MACD returns the MACD line, signal line and histogram.
func MACD(data []float64, fastPeriod, slowPeriod, signalPeriod int) (macd, signal, histogram []float64) {
	fast := EMA(data, fastPeriod)
	slow := EMA(data, slowPeriod)

	macd = nanSlice(len(data))
	for i := range data {
		macd[i] = fast[i] - slow[i]
	}
	signal = EMA(macd, signalPeriod)
	histogram = nanSlice(len(data))
	for i := range data {
		histogram[i] = macd[i] - signal[i]
	}
	return macd, signal, histogram
}

// BollingerBands returns the upper, middle and lower bands using a rolling
// mean and sample standard deviation.
func BollingerBands(data []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	upper = nanSlice(len(data))
	middle = SMA(data, period)
	lower = nanSlice(len(data))
	std := RollingStd(data, period)
	for i := range data {
		if !math.IsNaN(middle[i]) && !math.IsNaN(std[i]) {
			upper[i] = middle[i] + stdDev*std[i]
			lower[i] = middle[i] - stdDev*std[i]
		}
	}
	return upper, middle, lower
}

// RollingStd computes the rolling sample standard deviation.
func RollingStd(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if period <= 1 || len(data) < period {
		return out
	}
	for i := period - 1; i < len(data); i++ {
		window := data[i-period+1 : i+1]
		var sum float64
		for _, v := range window {
			sum += v
		}
		mean := sum / float64(period)
		var sq float64
		for _, v := range window {
			sq += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(sq / float64(period-1))
	}
	return out
}

// ATR computes the average true range over high/low/close series.
func ATR(high, low, closes []float64, period int) []float64 {
	n := minLen(high, low, closes)
	out := nanSlice(n)
	if period <= 0 || n == 0 {
		return out
	}
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return SMA(tr, period)
}

// Stochastic returns the %K and %D oscillator lines.
func Stochastic(high, low, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := minLen(high, low, closes)
	k = nanSlice(n)
	if kPeriod <= 0 || n < kPeriod {
		return k, nanSlice(n)
	}
	for i := kPeriod - 1; i < n; i++ {
		hh := high[i-kPeriod+1]
		ll := low[i-kPeriod+1]
		for j := i - kPeriod + 2; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			k[i] = 50
		} else {
			k[i] = 100 * (closes[i] - ll) / (hh - ll)
		}
	}
	d = SMA(k, dPeriod)
	return k, d
}

// ADX returns the average directional index with the +DI and -DI lines.
func ADX(high, low, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := minLen(high, low, closes)
	adx = nanSlice(n)
	plusDI = nanSlice(n)
	minusDI = nanSlice(n)
	if period <= 0 || n <= period {
		return adx, plusDI, minusDI
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - closes[i-1])
		lc := math.Abs(low[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	dx := nanSlice(n)
	var trSum, plusSum, minusSum float64
	for i := 1; i < n; i++ {
		trSum += tr[i]
		plusSum += plusDM[i]
		minusSum += minusDM[i]
		if i > period {
			trSum -= tr[i-period]
			plusSum -= plusDM[i-period]
			minusSum -= minusDM[i-period]
		}
		if i >= period && trSum > 0 {
			pdi := 100 * plusSum / trSum
			mdi := 100 * minusSum / trSum
			plusDI[i] = pdi
			minusDI[i] = mdi
			if pdi+mdi > 0 {
				dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
			}
		}
	}

	// ADX is the rolling mean of DX over defined values.
	for i := 2*period - 1; i < n; i++ {
		var sum float64
		count := 0
		for j := i - period + 1; j <= i; j++ {
			if !math.IsNaN(dx[j]) {
				sum += dx[j]
				count++
			}
		}
		if count > 0 {
			adx[i] = sum / float64(count)
		}
	}
	return adx, plusDI, minusDI
}

// Ichimoku holds the five Ichimoku cloud lines.
type Ichimoku struct {
	TenkanSen   []float64
	KijunSen    []float64
	SenkouSpanA []float64
	SenkouSpanB []float64
	ChikouSpan  []float64
}

// IchimokuCloud computes the Ichimoku lines with standard displacements.
func IchimokuCloud(high, low, closes []float64, tenkanPeriod, kijunPeriod, senkouBPeriod, displacement int) Ichimoku {
	n := minLen(high, low, closes)
	ich := Ichimoku{
		TenkanSen:   midline(high, low, tenkanPeriod, n),
		KijunSen:    midline(high, low, kijunPeriod, n),
		SenkouSpanA: nanSlice(n),
		SenkouSpanB: nanSlice(n),
		ChikouSpan:  nanSlice(n),
	}

	spanB := midline(high, low, senkouBPeriod, n)
	for i := 0; i < n; i++ {
		if i >= displacement {
			if !math.IsNaN(ich.TenkanSen[i-displacement]) && !math.IsNaN(ich.KijunSen[i-displacement]) {
				ich.SenkouSpanA[i] = (ich.TenkanSen[i-displacement] + ich.KijunSen[i-displacement]) / 2
			}
			ich.SenkouSpanB[i] = spanB[i-displacement]
		}
		if i+displacement < n {
			ich.ChikouSpan[i] = closes[i+displacement]
		}
	}
	return ich
}

func midline(high, low []float64, period, n int) []float64 {
	out := nanSlice(n)
	if period <= 0 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		hh := high[i-period+1]
		ll := low[i-period+1]
		for j := i - period + 2; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		out[i] = (hh + ll) / 2
	}
	return out
}

// FibonacciRetracement returns the retracement levels between a swing high
// and swing low, keyed by ratio.
func FibonacciRetracement(high, low float64) map[string]float64 {
	diff := high - low
	return map[string]float64{
		"0.0":   low,
		"0.236": low + 0.236*diff,
		"0.382": low + 0.382*diff,
		"0.5":   low + 0.5*diff,
		"0.618": low + 0.618*diff,
		"0.786": low + 0.786*diff,
		"1.0":   high,
	}
}

// PivotMethod selects the pivot point formula.
type PivotMethod string

const (
	PivotStandard  PivotMethod = "standard"
	PivotFibonacci PivotMethod = "fibonacci"
	PivotCamarilla PivotMethod = "camarilla"
	PivotWoodie    PivotMethod = "woodie"
)

// PivotPoints computes support/resistance pivots from the previous period's
// high, low and close. Unknown methods fall back to standard.
func PivotPoints(high, low, closePrice float64, method PivotMethod) map[string]float64 {
	rng := high - low
	switch method {
	case PivotFibonacci:
		pivot := (high + low + closePrice) / 3
		return map[string]float64{
			"pivot": pivot,
			"s1":    pivot - 0.382*rng,
			"s2":    pivot - 0.618*rng,
			"s3":    pivot - rng,
			"r1":    pivot + 0.382*rng,
			"r2":    pivot + 0.618*rng,
			"r3":    pivot + rng,
		}
	case PivotCamarilla:
		pivot := (high + low + closePrice) / 3
		return map[string]float64{
			"pivot": pivot,
			"s1":    closePrice - 1.1*rng/12,
			"s2":    closePrice - 1.1*rng/6,
			"s3":    closePrice - 1.1*rng/4,
			"s4":    closePrice - 1.1*rng/2,
			"r1":    closePrice + 1.1*rng/12,
			"r2":    closePrice + 1.1*rng/6,
			"r3":    closePrice + 1.1*rng/4,
			"r4":    closePrice + 1.1*rng/2,
		}
	case PivotWoodie:
		pivot := (high + low + 2*closePrice) / 4
		s1 := 2*pivot - high
		r1 := 2*pivot - low
		return map[string]float64{
			"pivot": pivot,
			"s1":    s1,
			"s2":    pivot - rng,
			"s3":    s1 - rng,
			"s4":    s1 - 2*rng,
			"r1":    r1,
			"r2":    pivot + rng,
			"r3":    r1 + rng,
			"r4":    r1 + 2*rng,
		}
	default:
		pivot := (high + low + closePrice) / 3
		return map[string]float64{
			"pivot": pivot,
			"s1":    2*pivot - high,
			"s2":    pivot - rng,
			"s3":    low - 2*(high-pivot),
			"r1":    2*pivot - low,
			"r2":    pivot + rng,
			"r3":    high + 2*(pivot-low),
		}
	}
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func minLen(series ...[]float64) int {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
