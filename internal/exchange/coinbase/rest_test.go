package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/exchange"
)

func orderReq() exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeMarket,
		Amount: 0.25,
	}
}

// base64("test-secret")
const testSecret = "dGVzdC1zZWNyZXQ="

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(cfg.ExchangeConfig{
		Key:        "k",
		Secret:     testSecret,
		Passphrase: "p",
		BaseURL:    srv.URL,
		RateLimit:  "0",
	}, 0)
}

func TestToVenueSymbol(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"BTC/USDT": "BTC-USD",
		"ETH/USD":  "ETH-USD",
		"SOL/EUR":  "SOL-EUR",
		"BTCUSD":   "BTCUSD",
	}
	for in, want := range cases {
		if got := toVenueSymbol(in); got != want {
			t.Errorf("toVenueSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSign(t *testing.T) {
	t.Parallel()

	c := New(cfg.ExchangeConfig{Secret: testSecret}, 0)
	a, err := c.sign("1700000000", "GET", "/accounts", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, _ := c.sign("1700000000", "GET", "/accounts", "")
	if a != b {
		t.Error("signature must be deterministic")
	}
	other, _ := c.sign("1700000000", "POST", "/accounts", "")
	if a == other {
		t.Error("method must be part of the signed payload")
	}

	bad := New(cfg.ExchangeConfig{Secret: "not base64 !!!"}, 0)
	if _, err := bad.sign("1", "GET", "/", ""); err == nil {
		t.Error("undecodable secret must error")
	}
}

func TestTicker(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/ticker" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"30000.5","volume":"88.2"}`))
	})

	ticker, err := c.Ticker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if ticker.Symbol != "BTC/USDT" || ticker.Price != 30000.5 || ticker.Volume != 88.2 {
		t.Errorf("unexpected ticker: %+v", ticker)
	}
}

func TestCandles_ReversedToChronological(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("granularity"); got != "3600" {
			t.Errorf("expected granularity 3600, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// Newest first, [time, low, high, open, close, volume].
		w.Write([]byte(`[
			[1735693200, 104, 112, 105, 111, 8],
			[1735689600, 95, 110, 100, 105, 12.5]
		]`))
	})

	candles, err := c.Candles(context.Background(), "BTC/USDT", "1h", 100)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].OpenTime.Equal(time.Unix(1735689600, 0)) {
		t.Error("candles must come back oldest first")
	}
	if candles[0].Low != 95 || candles[0].Open != 100 || candles[0].Close != 105 {
		t.Errorf("field mapping wrong: %+v", candles[0])
	}
}

func TestCandles_UnsupportedInterval(t *testing.T) {
	t.Parallel()

	c := New(cfg.ExchangeConfig{}, 0)
	if _, err := c.Candles(context.Background(), "BTC/USDT", "2h", 10); err == nil {
		t.Error("unsupported interval must error")
	}
}

func TestBalances_SignedHeaders(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("CB-ACCESS-KEY") != "k" || r.Header.Get("CB-ACCESS-PASSPHRASE") != "p" {
			t.Error("auth headers missing")
		}
		if r.Header.Get("CB-ACCESS-SIGN") == "" || r.Header.Get("CB-ACCESS-TIMESTAMP") == "" {
			t.Error("signature headers missing")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"currency":"BTC","available":"0.5","hold":"0.1"},
			{"currency":"USD","available":"0","hold":"0"}
		]`))
	})

	balances, err := c.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("zero balances must be skipped, got %v", balances)
	}
	if b := balances["BTC"]; b.Free != 0.5 || b.Locked != 0.1 || b.Total() != 0.6 {
		t.Errorf("unexpected balance: %+v", b)
	}
}

func TestPlaceOrder_VenueError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Insufficient funds"}`))
	})

	_, err := c.PlaceOrder(context.Background(), orderReq())
	if err == nil || !strings.Contains(err.Error(), "Insufficient funds") {
		t.Fatalf("expected the venue error surfaced, got %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"done":     common.OrderStatusFilled,
		"settled":  common.OrderStatusFilled,
		"rejected": common.OrderStatusRejected,
		"open":     common.OrderStatusSubmitted,
		"pending":  common.OrderStatusSubmitted,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
