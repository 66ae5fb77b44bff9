package strategy

import (
	"context"
	"testing"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/exchange"
)

// fakeMarket is a canned MarketView for tests.
type fakeMarket struct {
	candles map[string][]exchange.Candle
	prices  map[string]float64
	venues  map[string]map[string]float64
	fees    map[string]float64
}

func (f *fakeMarket) Candles(symbol string) []exchange.Candle { return f.candles[symbol] }

func (f *fakeMarket) Price(symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *fakeMarket) VenuePrice(venue, symbol string) (float64, bool) {
	vp, ok := f.venues[venue]
	if !ok {
		return 0, false
	}
	p, ok := vp[symbol]
	return p, ok
}

func (f *fakeMarket) Venues() []string {
	out := make([]string, 0, len(f.venues))
	for v := range f.venues {
		out = append(out, v)
	}
	return out
}

func (f *fakeMarket) TakerFee(venue string) float64 { return f.fees[venue] }

// fakePortfolio is a canned PortfolioView for tests.
type fakePortfolio struct {
	quote    float64
	assets   map[string]float64
	posAmt   float64
	posEntry float64
}

func (f *fakePortfolio) QuoteBalance() float64 { return f.quote }
func (f *fakePortfolio) AssetBalance(asset string) float64 {
	return f.assets[asset]
}
func (f *fakePortfolio) Position(string) (float64, float64) { return f.posAmt, f.posEntry }
func (f *fakePortfolio) TotalValue() float64                { return f.quote }

func candlesFromCloses(closes []float64) []exchange.Candle {
	out := make([]exchange.Candle, len(closes))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = exchange.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c * 1.005,
			Low:      c * 0.995,
			Close:    c,
			Volume:   10,
		}
	}
	return out
}

func TestSymbolHelpers(t *testing.T) {
	t.Parallel()

	if BaseAsset("BTC/USDT") != "BTC" {
		t.Errorf("unexpected base asset: %s", BaseAsset("BTC/USDT"))
	}
	if QuoteAsset("BTC/USDT") != "USDT" {
		t.Errorf("unexpected quote asset: %s", QuoteAsset("BTC/USDT"))
	}
	if BaseAsset("BTCUSDT") != "BTCUSDT" {
		t.Error("symbols without a slash return as-is")
	}
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	if _, err := New(cfg.StrategyConfig{Name: "x", Type: "astrology"}); err == nil {
		t.Fatal("unknown strategy type must error")
	}
}

func TestNew_AllKnownTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{"mean_reversion", "momentum", "grid", "dca", "arbitrage"} {
		s, err := New(cfg.StrategyConfig{Name: typ, Type: typ, Symbol: "BTC/USDT"})
		if err != nil {
			t.Errorf("type %s: %v", typ, err)
			continue
		}
		if s.Name() != typ {
			t.Errorf("type %s: wrong name %s", typ, s.Name())
		}
	}
}

func TestMeanReversion_BuysBelowLowerBand(t *testing.T) {
	t.Parallel()

	// Stable prices around 100 with a sharp drop at the end.
	closes := []float64{100, 101, 99, 100, 101, 100, 99, 100, 101, 100,
		99, 100, 101, 100, 99, 100, 101, 100, 99, 100, 88, 85, 82, 80, 78}
	s := NewMeanReversion(cfg.StrategyConfig{
		Name: "mr", Type: "mean_reversion", Symbol: "BTC/USDT",
		Params: map[string]float64{"trade_notional": 100},
	})
	market := &fakeMarket{candles: map[string][]exchange.Candle{"BTC/USDT": candlesFromCloses(closes)}}
	pf := &fakePortfolio{quote: 10000}

	signals, err := s.Evaluate(context.Background(), market, pf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected one buy signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Action != common.SideBuy {
		t.Errorf("expected buy, got %s", sig.Action)
	}
	if sig.Price != 78 {
		t.Errorf("expected signal at the last close, got %f", sig.Price)
	}
	if sig.Amount <= 0 {
		t.Error("signal amount must be positive")
	}
}

func TestMeanReversion_SellsOnReversion(t *testing.T) {
	t.Parallel()

	// Flat series ending at its top: z is non-negative, an open position
	// should be closed.
	closes := make([]float64, 27)
	for i := range closes {
		closes[i] = 100 + float64(i%3)
	}
	s := NewMeanReversion(cfg.StrategyConfig{Name: "mr", Type: "mean_reversion", Symbol: "BTC/USDT"})
	market := &fakeMarket{candles: map[string][]exchange.Candle{"BTC/USDT": candlesFromCloses(closes)}}
	pf := &fakePortfolio{quote: 10000, posAmt: 0.5, posEntry: 90}

	signals, err := s.Evaluate(context.Background(), market, pf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != common.SideSell {
		t.Fatalf("expected one sell signal, got %+v", signals)
	}
	if signals[0].Amount != 0.5 {
		t.Errorf("sell must close the whole position, got %f", signals[0].Amount)
	}
}

func TestMeanReversion_WarmupSilent(t *testing.T) {
	t.Parallel()

	s := NewMeanReversion(cfg.StrategyConfig{Name: "mr", Type: "mean_reversion", Symbol: "BTC/USDT"})
	market := &fakeMarket{candles: map[string][]exchange.Candle{
		"BTC/USDT": candlesFromCloses([]float64{100, 99, 98}),
	}}
	signals, err := s.Evaluate(context.Background(), market, &fakePortfolio{quote: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals != nil {
		t.Errorf("too little history must stay silent, got %+v", signals)
	}
}

func TestMomentum_ExitsOnNegativeHistogram(t *testing.T) {
	t.Parallel()

	// A long rally rolling over into decline turns the histogram negative.
	closes := make([]float64, 0, 90)
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 0; i < 30; i++ {
		closes = append(closes, 160-3*float64(i))
	}
	s := NewMomentum(cfg.StrategyConfig{Name: "mom", Type: "momentum", Symbol: "ETH/USDT"})
	market := &fakeMarket{candles: map[string][]exchange.Candle{"ETH/USDT": candlesFromCloses(closes)}}
	pf := &fakePortfolio{quote: 10000, posAmt: 2, posEntry: 120}

	signals, err := s.Evaluate(context.Background(), market, pf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != common.SideSell {
		t.Fatalf("expected a sell after the trend broke, got %+v", signals)
	}
	if signals[0].Amount != 2 {
		t.Errorf("exit must close the full position, got %f", signals[0].Amount)
	}
}

func TestMomentum_NoPositionNoExit(t *testing.T) {
	t.Parallel()

	closes := make([]float64, 90)
	for i := range closes {
		closes[i] = 100 - float64(i)*0.5
	}
	s := NewMomentum(cfg.StrategyConfig{Name: "mom", Type: "momentum", Symbol: "ETH/USDT"})
	market := &fakeMarket{candles: map[string][]exchange.Candle{"ETH/USDT": candlesFromCloses(closes)}}
	pf := &fakePortfolio{quote: 10000}

	signals, err := s.Evaluate(context.Background(), market, pf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("downtrend with no position must stay flat, got %+v", signals)
	}
}

func TestGrid_BuysBelowAnchorSellsAbove(t *testing.T) {
	t.Parallel()

	s := NewGrid(cfg.StrategyConfig{
		Name: "grid", Type: "grid", Symbol: "BTC/USDT",
		Params: map[string]float64{"levels": 5, "spacing": 0.01, "order_amount": 0.002},
	})
	market := &fakeMarket{prices: map[string]float64{"BTC/USDT": 100}}
	pf := &fakePortfolio{quote: 10000}
	ctx := context.Background()

	// First evaluation only sets the anchor.
	signals, _ := s.Evaluate(ctx, market, pf)
	if signals != nil {
		t.Fatalf("anchor-setting pass must not trade, got %+v", signals)
	}

	// Price drops 1.5%: one grid level below the anchor.
	market.prices["BTC/USDT"] = 98.5
	signals, _ = s.Evaluate(ctx, market, pf)
	if len(signals) != 1 || signals[0].Action != common.SideBuy {
		t.Fatalf("expected a grid buy, got %+v", signals)
	}
	if signals[0].Amount != 0.002 {
		t.Errorf("expected the configured level amount, got %f", signals[0].Amount)
	}

	// Same level again: already filled, no duplicate buy.
	signals, _ = s.Evaluate(ctx, market, pf)
	if signals != nil {
		t.Fatalf("a filled level must not buy twice, got %+v", signals)
	}

	// Back above the anchor: the level is sold.
	market.prices["BTC/USDT"] = 100.5
	signals, _ = s.Evaluate(ctx, market, pf)
	if len(signals) != 1 || signals[0].Action != common.SideSell {
		t.Fatalf("expected a grid sell, got %+v", signals)
	}
	if signals[0].Amount != 0.002 {
		t.Errorf("sell must match the bought amount, got %f", signals[0].Amount)
	}
}

func TestGrid_RecentersWhenPriceEscapes(t *testing.T) {
	t.Parallel()

	s := NewGrid(cfg.StrategyConfig{
		Name: "grid", Type: "grid", Symbol: "BTC/USDT",
		Params: map[string]float64{"levels": 3, "spacing": 0.01, "order_amount": 0.001},
	})
	market := &fakeMarket{prices: map[string]float64{"BTC/USDT": 100}}
	pf := &fakePortfolio{quote: 10000}
	ctx := context.Background()

	s.Evaluate(ctx, market, pf) // anchor at 100

	// A 50% crash leaves the ladder entirely; the grid re-centers silently.
	market.prices["BTC/USDT"] = 50
	signals, _ := s.Evaluate(ctx, market, pf)
	if signals != nil {
		t.Fatalf("escape must re-center, not trade, got %+v", signals)
	}

	// The next small dip trades against the new anchor.
	market.prices["BTC/USDT"] = 49.2
	signals, _ = s.Evaluate(ctx, market, pf)
	if len(signals) != 1 || signals[0].Action != common.SideBuy {
		t.Fatalf("expected a buy against the new anchor, got %+v", signals)
	}
}

func TestDCA_BuysOnSchedule(t *testing.T) {
	t.Parallel()

	s := NewDCA(cfg.StrategyConfig{
		Name: "dca", Type: "dca", Symbol: "BTC/USDT",
		Params: map[string]float64{"notional": 50},
	})
	market := &fakeMarket{prices: map[string]float64{"BTC/USDT": 50000}}
	pf := &fakePortfolio{quote: 1000}
	ctx := context.Background()

	signals, err := s.Evaluate(ctx, market, pf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 || signals[0].Action != common.SideBuy {
		t.Fatalf("first evaluation should buy, got %+v", signals)
	}
	if got, want := signals[0].Amount, 50.0/50000.0; got != want {
		t.Errorf("expected %f units, got %f", want, got)
	}

	// Immediately after, the interval has not elapsed.
	signals, _ = s.Evaluate(ctx, market, pf)
	if signals != nil {
		t.Errorf("second buy must wait for the interval, got %+v", signals)
	}
}

func TestDCA_SkipsWhenBroke(t *testing.T) {
	t.Parallel()

	s := NewDCA(cfg.StrategyConfig{
		Name: "dca", Type: "dca", Symbol: "BTC/USDT",
		Params: map[string]float64{"notional": 50},
	})
	market := &fakeMarket{prices: map[string]float64{"BTC/USDT": 50000}}
	pf := &fakePortfolio{quote: 10}

	signals, _ := s.Evaluate(context.Background(), market, pf)
	if signals != nil {
		t.Errorf("insufficient balance must skip the buy, got %+v", signals)
	}
}

func TestDCA_ModeIntervals(t *testing.T) {
	t.Parallel()

	weekly := NewDCA(cfg.StrategyConfig{Name: "dca", Type: "dca", Symbol: "BTC/USDT", Mode: "weekly"})
	if weekly.interval != 7*24*time.Hour {
		t.Errorf("expected weekly interval, got %v", weekly.interval)
	}
	monthly := NewDCA(cfg.StrategyConfig{Name: "dca", Type: "dca", Symbol: "BTC/USDT", Mode: "monthly"})
	if monthly.interval != 30*24*time.Hour {
		t.Errorf("expected monthly interval, got %v", monthly.interval)
	}
}

func TestArbitrage_EmitsPairedLegs(t *testing.T) {
	t.Parallel()

	s := NewArbitrage(cfg.StrategyConfig{
		Name: "arb", Type: "arbitrage", Symbol: "BTC/USDT",
		Params: map[string]float64{"min_spread": 0.005, "amount": 0.01},
	})
	market := &fakeMarket{venues: map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000},
		"kraken":  {"BTC/USDT": 50500},
	}}

	signals, err := s.Evaluate(context.Background(), market, &fakePortfolio{quote: 10000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected paired legs, got %d signals", len(signals))
	}

	var buy, sell *Signal
	for i := range signals {
		switch signals[i].Action {
		case common.SideBuy:
			buy = &signals[i]
		case common.SideSell:
			sell = &signals[i]
		}
	}
	if buy == nil || sell == nil {
		t.Fatal("expected one buy and one sell leg")
	}
	if buy.Exchange != "binance" || sell.Exchange != "kraken" {
		t.Errorf("legs routed wrong: buy on %s, sell on %s", buy.Exchange, sell.Exchange)
	}
	if buy.Amount != sell.Amount {
		t.Error("legs must match in size")
	}
}

func TestArbitrage_IgnoresThinSpread(t *testing.T) {
	t.Parallel()

	s := NewArbitrage(cfg.StrategyConfig{
		Name: "arb", Type: "arbitrage", Symbol: "BTC/USDT",
		Params: map[string]float64{"min_spread": 0.005},
	})
	market := &fakeMarket{venues: map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000},
		"kraken":  {"BTC/USDT": 50100}, // 0.2% spread
	}}

	signals, _ := s.Evaluate(context.Background(), market, &fakePortfolio{})
	if signals != nil {
		t.Errorf("spread below threshold must not trade, got %+v", signals)
	}
}

func TestArbitrage_FeesConsumeSpread(t *testing.T) {
	t.Parallel()

	s := NewArbitrage(cfg.StrategyConfig{
		Name: "arb", Type: "arbitrage", Symbol: "BTC/USDT",
		Params: map[string]float64{"min_spread": 0.005, "amount": 0.01},
	})
	// The gross spread is 1%, but 0.3% taker fees on each leg leave only
	// 0.4% net, under the 0.5% threshold.
	market := &fakeMarket{
		venues: map[string]map[string]float64{
			"binance": {"BTC/USDT": 50000},
			"kraken":  {"BTC/USDT": 50500},
		},
		fees: map[string]float64{"binance": 0.003, "kraken": 0.003},
	}

	signals, err := s.Evaluate(context.Background(), market, &fakePortfolio{quote: 10000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals != nil {
		t.Errorf("fees must come off the spread before the threshold check, got %+v", signals)
	}

	// Cheaper venues keep the trade profitable.
	market.fees = map[string]float64{"binance": 0.001, "kraken": 0.001}
	signals, err = s.Evaluate(context.Background(), market, &fakePortfolio{quote: 10000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("0.8%% net spread must still trade, got %d signals", len(signals))
	}
}

func TestArbitrage_SingleVenueSilent(t *testing.T) {
	t.Parallel()

	s := NewArbitrage(cfg.StrategyConfig{Name: "arb", Type: "arbitrage", Symbol: "BTC/USDT"})
	market := &fakeMarket{venues: map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000},
	}}
	signals, _ := s.Evaluate(context.Background(), market, &fakePortfolio{})
	if signals != nil {
		t.Errorf("one venue cannot arbitrage, got %+v", signals)
	}
}
