package risk

import (
	"math"
	"testing"
)

func feedPrices(c *CorrelationAnalyzer, symbol string, prices []float64) {
	for _, p := range prices {
		c.Observe(symbol, p)
	}
}

func TestCorrelation_PerfectlyCorrelated(t *testing.T) {
	t.Parallel()

	c := NewCorrelationAnalyzer(50, 0.8)
	// B is always exactly twice A, so returns are identical.
	a := []float64{100, 101, 99, 102, 104, 103, 105, 107}
	b := make([]float64, len(a))
	for i, p := range a {
		b[i] = 2 * p
	}
	feedPrices(c, "A/USDT", a)
	feedPrices(c, "B/USDT", b)

	corr, ok := c.Correlation("A/USDT", "B/USDT")
	if !ok {
		t.Fatal("expected enough data for correlation")
	}
	if math.Abs(corr-1) > 1e-9 {
		t.Errorf("expected correlation 1, got %f", corr)
	}
}

func TestCorrelation_Inverse(t *testing.T) {
	t.Parallel()

	c := NewCorrelationAnalyzer(50, 0.8)
	a := []float64{100, 102, 101, 104, 103, 106}
	feedPrices(c, "A/USDT", a)
	// B moves by the exact opposite return each step.
	b := []float64{100}
	for i := 1; i < len(a); i++ {
		r := a[i]/a[i-1] - 1
		b = append(b, b[i-1]*(1-r))
	}
	feedPrices(c, "B/USDT", b)

	corr, ok := c.Correlation("A/USDT", "B/USDT")
	if !ok {
		t.Fatal("expected enough data for correlation")
	}
	if corr > -0.99 {
		t.Errorf("expected strong negative correlation, got %f", corr)
	}
}

func TestCorrelation_InsufficientData(t *testing.T) {
	t.Parallel()

	c := NewCorrelationAnalyzer(50, 0.8)
	feedPrices(c, "A/USDT", []float64{100, 101})
	feedPrices(c, "B/USDT", []float64{100, 99})

	if _, ok := c.Correlation("A/USDT", "B/USDT"); ok {
		t.Error("two observations give one return, not enough to correlate")
	}
}

func TestTooCorrelated(t *testing.T) {
	t.Parallel()

	c := NewCorrelationAnalyzer(50, 0.8)
	a := []float64{100, 101, 99, 102, 104, 103, 105, 107}
	b := make([]float64, len(a))
	for i, p := range a {
		b[i] = 3 * p
	}
	feedPrices(c, "A/USDT", a)
	feedPrices(c, "B/USDT", b)

	if !c.TooCorrelated("B/USDT", []string{"A/USDT"}) {
		t.Error("identical return series must be flagged")
	}
	// A candidate never counts against itself.
	if c.TooCorrelated("A/USDT", []string{"A/USDT"}) {
		t.Error("a symbol must not be compared to itself")
	}
}

func TestCorrelationMatrix(t *testing.T) {
	t.Parallel()

	c := NewCorrelationAnalyzer(50, 0.8)
	feedPrices(c, "A/USDT", []float64{100, 101, 99, 102, 104})

	m := c.Matrix([]string{"A/USDT", "B/USDT"})
	if m["A/USDT"]["A/USDT"] != 1 {
		t.Error("diagonal must be 1")
	}
	if m["A/USDT"]["B/USDT"] != 0 {
		t.Error("missing data pairs must report zero")
	}
}

func TestVolatilityManager(t *testing.T) {
	t.Parallel()

	v := NewVolatilityManager(30)

	// Constant prices: zero volatility, normal regime, full size.
	for i := 0; i < 20; i++ {
		v.Observe("FLAT/USDT", 100)
	}
	if vol := v.Volatility("FLAT/USDT"); vol != 0 {
		t.Errorf("constant prices must have zero volatility, got %f", vol)
	}
	if scale := v.SizeScale("FLAT/USDT"); scale != 1 {
		t.Errorf("expected full size in a calm market, got %f", scale)
	}

	// Wild 20% swings: high regime, halved size.
	price := 100.0
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			price *= 1.2
		} else {
			price *= 0.8
		}
		v.Observe("WILD/USDT", price)
	}
	if regime := v.Regime("WILD/USDT"); regime != RegimeHigh {
		t.Errorf("expected high volatility regime, got %s", regime)
	}
	if scale := v.SizeScale("WILD/USDT"); scale != 0.5 {
		t.Errorf("expected halved size, got %f", scale)
	}
}
