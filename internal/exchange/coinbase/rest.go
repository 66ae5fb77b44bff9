// Package coinbase implements the exchange.Connector interface against the
// Coinbase Exchange REST API.
package coinbase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/exchange"

	"github.com/go-resty/resty/v2"
)

func init() {
	exchange.Register(common.ExchangeCoinbase, func(ec cfg.ExchangeConfig, timeout time.Duration) (exchange.Connector, error) {
		return New(ec, timeout), nil
	})
}

// Client talks to the Coinbase Exchange API.
type Client struct {
	key, secret, passphrase string
	base                    string
	rest                    *resty.Client
	limiter                 *exchange.Limiter
}

// New creates a Coinbase client from exchange config.
func New(ec cfg.ExchangeConfig, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	base := ec.BaseURL
	if base == "" {
		base = common.DefaultCoinbaseBaseURL
	}
	interval := exchange.ParseRateLimit(ec.RateLimit, exchange.DefaultRateLimits[common.ExchangeCoinbase])
	return &Client{
		key:        ec.Key,
		secret:     ec.Secret,
		passphrase: ec.Passphrase,
		base:       base,
		rest:       r,
		limiter:    exchange.NewLimiter(interval),
	}
}

func (c *Client) Name() string { return common.ExchangeCoinbase }

func (c *Client) Fees() exchange.Fees { return exchange.Fees{Maker: 0.004, Taker: 0.006} }

// toVenueSymbol converts BTC/USDT to BTC-USD. Coinbase products quote
// against USD.
func toVenueSymbol(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol
	}
	quote := parts[1]
	if quote == "USDT" {
		quote = "USD"
	}
	return parts[0] + "-" + quote
}

// sign computes CB-ACCESS-SIGN: base64(HMAC-SHA256(ts+method+path+body,
// base64-decoded secret)).
func (c *Client) sign(ts, method, path, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *Client) signedRequest(ctx context.Context, method, path, body string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.sign(ts, method, path, body)
	if err != nil {
		return err
	}

	req := c.rest.R().
		SetContext(ctx).
		SetHeader("CB-ACCESS-KEY", c.key).
		SetHeader("CB-ACCESS-SIGN", sig).
		SetHeader("CB-ACCESS-TIMESTAMP", ts).
		SetHeader("CB-ACCESS-PASSPHRASE", c.passphrase).
		SetHeader("Content-Type", "application/json")
	if body != "" {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	var resp *resty.Response
	switch method {
	case "GET":
		resp, err = req.Get(c.base + path)
	case "POST":
		resp, err = req.Post(c.base + path)
	case "DELETE":
		resp, err = req.Delete(c.base + path)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return checkStatus(resp)
}

func checkStatus(resp *resty.Response) error {
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		return nil
	}
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("coinbase: %s", apiErr.Message)
	}
	return fmt.Errorf("coinbase: status %d, body: %s", resp.StatusCode(), resp.String())
}

// Ticker fetches the product ticker.
func (c *Client) Ticker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Price  float64 `json:"price,string"`
		Volume float64 `json:"volume,string"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&result).
		Get(c.base + "/products/" + toVenueSymbol(symbol) + "/ticker")
	if err != nil {
		return nil, fmt.Errorf("ticker request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &exchange.Ticker{Symbol: symbol, Price: result.Price, Volume: result.Volume, Ts: time.Now()}, nil
}

// OrderBook fetches the level-2 aggregated book. Coinbase does not take a
// per-side limit on level 2, so the slices are trimmed client-side.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*exchange.OrderBook, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Bids [][]json.RawMessage `json:"bids"`
		Asks [][]json.RawMessage `json:"asks"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("level", "2").
		SetResult(&result).
		Get(c.base + "/products/" + toVenueSymbol(symbol) + "/book")
	if err != nil {
		return nil, fmt.Errorf("book request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	book := &exchange.OrderBook{
		Symbol: symbol,
		Bids:   parseLevels(result.Bids, limit),
		Asks:   parseLevels(result.Asks, limit),
		Ts:     time.Now(),
	}
	return book, nil
}

func parseLevels(raw [][]json.RawMessage, limit int) []exchange.BookLevel {
	levels := make([]exchange.BookLevel, 0, limit)
	for _, entry := range raw {
		if limit > 0 && len(levels) >= limit {
			break
		}
		if len(entry) < 2 {
			continue
		}
		var priceStr, qtyStr string
		if json.Unmarshal(entry[0], &priceStr) != nil || json.Unmarshal(entry[1], &qtyStr) != nil {
			continue
		}
		price, err1 := strconv.ParseFloat(priceStr, 64)
		qty, err2 := strconv.ParseFloat(qtyStr, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, exchange.BookLevel{Price: price, Qty: qty})
	}
	return levels
}

var granularities = map[string]int{
	"1m": 60, "5m": 300, "15m": 900, "1h": 3600, "6h": 21600, "1d": 86400,
}

// Candles fetches historic rates. Coinbase returns newest first; the result
// is reversed to chronological order.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	granularity, ok := granularities[interval]
	if !ok {
		return nil, fmt.Errorf("coinbase: unsupported interval %q", interval)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// [[ time, low, high, open, close, volume ], ...]
	var raw [][]float64
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("granularity", strconv.Itoa(granularity)).
		SetResult(&raw).
		Get(c.base + "/products/" + toVenueSymbol(symbol) + "/candles")
	if err != nil {
		return nil, fmt.Errorf("candles request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	candles := make([]exchange.Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		candles = append(candles, exchange.Candle{
			OpenTime: time.Unix(int64(row[0]), 0),
			Low:      row[1],
			High:     row[2],
			Open:     row[3],
			Close:    row[4],
			Volume:   row[5],
		})
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// Balances fetches the signed account list.
func (c *Client) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	var accounts []struct {
		Currency  string  `json:"currency"`
		Available float64 `json:"available,string"`
		Hold      float64 `json:"hold,string"`
	}
	if err := c.signedRequest(ctx, "GET", "/accounts", "", &accounts); err != nil {
		return nil, err
	}

	balances := make(map[string]exchange.Balance)
	for _, a := range accounts {
		if a.Available == 0 && a.Hold == 0 {
			continue
		}
		balances[a.Currency] = exchange.Balance{Asset: a.Currency, Free: a.Available, Locked: a.Hold}
	}
	return balances, nil
}

// PlaceOrder submits a market or limit order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	payload := map[string]string{
		"product_id": toVenueSymbol(req.Symbol),
		"side":       req.Side,
		"type":       req.Type,
		"size":       strconv.FormatFloat(req.Amount, 'f', -1, 64),
	}
	if req.Type == common.OrderTypeLimit {
		payload["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	var result struct {
		ID         string  `json:"id"`
		Status     string  `json:"status"`
		FilledSize float64 `json:"filled_size,string"`
	}
	if err := c.signedRequest(ctx, "POST", "/orders", string(body), &result); err != nil {
		return nil, err
	}

	return &exchange.OrderResult{
		OrderID: result.ID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Status:  mapStatus(result.Status),
		Filled:  result.FilledSize,
		Ts:      time.Now(),
	}, nil
}

// CancelOrder cancels an open order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, _, orderID string) error {
	return c.signedRequest(ctx, "DELETE", "/orders/"+orderID, "", nil)
}

// OrderStatus fetches the current state of an order.
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderResult, error) {
	var result struct {
		ID            string  `json:"id"`
		Side          string  `json:"side"`
		Status        string  `json:"status"`
		FilledSize    float64 `json:"filled_size,string"`
		ExecutedValue float64 `json:"executed_value,string"`
	}
	if err := c.signedRequest(ctx, "GET", "/orders/"+orderID, "", &result); err != nil {
		return nil, err
	}

	avgPrice := 0.0
	if result.FilledSize > 0 {
		avgPrice = result.ExecutedValue / result.FilledSize
	}

	return &exchange.OrderResult{
		OrderID:  result.ID,
		Symbol:   symbol,
		Side:     result.Side,
		Status:   mapStatus(result.Status),
		Filled:   result.FilledSize,
		AvgPrice: avgPrice,
		Ts:       time.Now(),
	}, nil
}

func mapStatus(s string) string {
	switch s {
	case "done", "settled":
		return common.OrderStatusFilled
	case "rejected":
		return common.OrderStatusRejected
	default:
		return common.OrderStatusSubmitted
	}
}
