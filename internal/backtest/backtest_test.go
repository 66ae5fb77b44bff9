package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cryptrader/internal/common"
	"cryptrader/internal/exchange"
	"cryptrader/internal/strategy"
)

// scriptedStrategy emits a fixed action at chosen bar counts.
type scriptedStrategy struct {
	symbol  string
	buyAt   map[int]float64 // bar count -> amount
	sellAt  map[int]float64
	evalled int
}

func (s *scriptedStrategy) Name() string   { return "scripted" }
func (s *scriptedStrategy) Symbol() string { return s.symbol }

func (s *scriptedStrategy) Evaluate(_ context.Context, market strategy.MarketView, _ strategy.PortfolioView) ([]strategy.Signal, error) {
	s.evalled++
	price, _ := market.Price(s.symbol)
	if amount, ok := s.buyAt[s.evalled]; ok {
		return []strategy.Signal{{Strategy: "scripted", Symbol: s.symbol, Action: common.SideBuy, Amount: amount, Price: price}}, nil
	}
	if amount, ok := s.sellAt[s.evalled]; ok {
		return []strategy.Signal{{Strategy: "scripted", Symbol: s.symbol, Action: common.SideSell, Amount: amount, Price: price}}, nil
	}
	return nil, nil
}

func flatCandles(n int, price float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = exchange.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1,
		}
	}
	return out
}

func TestRun_BuyThenSellWithCommission(t *testing.T) {
	t.Parallel()

	candles := flatCandles(20, 100)
	strat := &scriptedStrategy{
		symbol: "BTC/USDT",
		buyAt:  map[int]float64{1: 10},
		sellAt: map[int]float64{5: 10},
	}
	results, err := Run(context.Background(), strat, candles, Config{
		Symbol:         "BTC/USDT",
		InitialBalance: 10000,
		Commission:     0.001,
		WarmupBars:     5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if results.NumTrades != 1 {
		t.Fatalf("expected one round trip, got %d", results.NumTrades)
	}
	trade := results.Trades[0]
	// Flat prices: the only loss is two commissions on a 1000 notional.
	wantPnL := -(100*0.001 + 100*0.001) * 10
	if math.Abs(trade.PnL-wantPnL) > 1e-6 {
		t.Errorf("expected pnl %f from commissions, got %f", wantPnL, trade.PnL)
	}
	if math.Abs(results.FinalValue-(10000+wantPnL)) > 1e-6 {
		t.Errorf("final value off: %f", results.FinalValue)
	}
	if results.WinRate != 0 {
		t.Errorf("a losing trade gives zero win rate, got %f", results.WinRate)
	}
}

func TestRun_StopLossTriggers(t *testing.T) {
	t.Parallel()

	candles := flatCandles(20, 100)
	// Bar 8 after warmup crashes through the stop.
	candles[12].Low = 80
	candles[12].Close = 82

	strat := &scriptedStrategy{
		symbol: "BTC/USDT",
		buyAt:  map[int]float64{1: 5},
	}
	results, err := Run(context.Background(), strat, candles, Config{
		Symbol:         "BTC/USDT",
		InitialBalance: 10000,
		StopLoss:       0.05,
		WarmupBars:     5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if results.NumTrades != 1 {
		t.Fatalf("expected the stop to close the trade, got %d trades", results.NumTrades)
	}
	trade := results.Trades[0]
	if trade.Reason != "stop loss" {
		t.Errorf("expected stop loss exit, got %q", trade.Reason)
	}
	// Entry near 100, stop at 95: roughly a 5% loss on the position.
	if trade.PnL >= 0 {
		t.Errorf("stop loss exit must lose money, got %f", trade.PnL)
	}
	if math.Abs(trade.ExitPrice-95) > 1 {
		t.Errorf("expected exit near the 95 stop, got %f", trade.ExitPrice)
	}
}

func TestRun_TakeProfitTriggers(t *testing.T) {
	t.Parallel()

	candles := flatCandles(20, 100)
	candles[12].High = 120
	candles[12].Close = 118

	strat := &scriptedStrategy{
		symbol: "BTC/USDT",
		buyAt:  map[int]float64{1: 5},
	}
	results, err := Run(context.Background(), strat, candles, Config{
		Symbol:         "BTC/USDT",
		InitialBalance: 10000,
		TakeProfit:     0.10,
		WarmupBars:     5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if results.NumTrades != 1 || results.Trades[0].Reason != "take profit" {
		t.Fatalf("expected a take profit exit, got %+v", results.Trades)
	}
	if results.Trades[0].PnL <= 0 {
		t.Errorf("take profit exit must gain, got %f", results.Trades[0].PnL)
	}
	if results.WinRate != 1 {
		t.Errorf("single winning trade means 100%% win rate, got %f", results.WinRate)
	}
}

func TestRun_ClosesOpenPositionAtEnd(t *testing.T) {
	t.Parallel()

	candles := flatCandles(15, 100)
	strat := &scriptedStrategy{
		symbol: "BTC/USDT",
		buyAt:  map[int]float64{1: 5},
	}
	results, err := Run(context.Background(), strat, candles, Config{
		Symbol:         "BTC/USDT",
		InitialBalance: 10000,
		WarmupBars:     5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if results.NumTrades != 1 || results.Trades[0].Reason != "end of data" {
		t.Fatalf("expected forced close at end of data, got %+v", results.Trades)
	}
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()

	strat := &scriptedStrategy{symbol: "BTC/USDT"}
	if _, err := Run(context.Background(), strat, nil, Config{Symbol: "BTC/USDT"}); err == nil {
		t.Error("empty candles must error")
	}
	if _, err := Run(context.Background(), strat, flatCandles(10, 100), Config{Symbol: "BTC/USDT", WarmupBars: 20}); err == nil {
		t.Error("warmup beyond the data must error")
	}
}

func TestLoadCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candles.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"1735689600,100,110,95,105,12.5\n" +
		"2025-01-01T01:00:00Z,105,112,104,111,8\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	candles, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 105 || candles[1].Volume != 8 {
		t.Errorf("unexpected candle values: %+v", candles)
	}
	if !candles[1].OpenTime.After(candles[0].OpenTime) {
		t.Error("candles must be chronological")
	}
}

func TestLoadCSV_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	outOfOrder := filepath.Join(dir, "ooo.csv")
	os.WriteFile(outOfOrder, []byte("1735693200,100,110,95,105,1\n1735689600,100,110,95,105,1\n"), 0644)
	if _, err := LoadCSV(outOfOrder); err == nil {
		t.Error("out-of-order candles must error")
	}

	badRow := filepath.Join(dir, "bad.csv")
	os.WriteFile(badRow, []byte("timestamp,open,high,low,close,volume\n1735689600,abc,110,95,105,1\n"), 0644)
	if _, err := LoadCSV(badRow); err == nil {
		t.Error("unparseable numbers must error")
	}

	inconsistent := filepath.Join(dir, "inc.csv")
	os.WriteFile(inconsistent, []byte("1735689600,100,90,95,105,1\n"), 0644)
	if _, err := LoadCSV(inconsistent); err == nil {
		t.Error("high below low must error")
	}

	if _, err := LoadCSV(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("missing file must error")
	}
}

func TestReports(t *testing.T) {
	t.Parallel()

	r := &Results{
		Symbol: "BTC/USDT", Bars: 100, InitialValue: 10000, FinalValue: 11000,
		TotalReturn: 0.1, NumTrades: 4, WinRate: 0.75, MaxDrawdown: 0.05,
	}

	var text bytes.Buffer
	if err := r.WriteText(&text); err != nil {
		t.Fatalf("text report: %v", err)
	}
	out := text.String()
	if !strings.Contains(out, "BTC/USDT") || !strings.Contains(out, "10.00%") {
		t.Errorf("text report missing fields:\n%s", out)
	}

	var jsonBuf bytes.Buffer
	if err := r.WriteJSON(&jsonBuf); err != nil {
		t.Fatalf("json report: %v", err)
	}
	var decoded Results
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("json report not parseable: %v", err)
	}
	if decoded.FinalValue != 11000 {
		t.Errorf("json round trip lost data: %+v", decoded)
	}
}
