// Package kraken implements the exchange.Connector interface against the
// Kraken spot REST API.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/exchange"

	"github.com/go-resty/resty/v2"
)

func init() {
	exchange.Register(common.ExchangeKraken, func(ec cfg.ExchangeConfig, timeout time.Duration) (exchange.Connector, error) {
		return New(ec, timeout), nil
	})
}

// Client talks to the Kraken REST API.
type Client struct {
	key, secret string
	base        string
	rest        *resty.Client
	limiter     *exchange.Limiter
}

// New creates a Kraken client from exchange config.
func New(ec cfg.ExchangeConfig, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	base := ec.BaseURL
	if base == "" {
		base = common.DefaultKrakenBaseURL
	}
	interval := exchange.ParseRateLimit(ec.RateLimit, exchange.DefaultRateLimits[common.ExchangeKraken])
	return &Client{
		key:     ec.Key,
		secret:  ec.Secret,
		base:    base,
		rest:    r,
		limiter: exchange.NewLimiter(interval),
	}
}

func (c *Client) Name() string { return common.ExchangeKraken }

func (c *Client) Fees() exchange.Fees { return exchange.Fees{Maker: 0.0016, Taker: 0.0026} }

// toVenueSymbol converts BTC/USDT to Kraken's pair naming (XBTUSD).
// Kraken settles against USD rather than USDT and names bitcoin XBT.
func toVenueSymbol(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol
	}
	base, quote := parts[0], parts[1]
	if base == "BTC" {
		base = "XBT"
	}
	if quote == "USDT" {
		quote = "USD"
	}
	return base + quote
}

// sign computes API-Sign: base64(HMAC-SHA512(path + SHA256(nonce+postdata),
// base64-decoded secret)).
func (c *Client) sign(path, nonce, postData string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	inner := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) public(ctx context.Context, path string, params map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var kr krakenResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&kr).
		Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("kraken: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	if len(kr.Error) > 0 {
		return fmt.Errorf("kraken: %s", strings.Join(kr.Error, "; "))
	}
	return json.Unmarshal(kr.Result, out)
}

func (c *Client) private(ctx context.Context, path string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	nonce := strconv.FormatInt(time.Now().UnixMilli(), 10)
	form.Set("nonce", nonce)
	postData := form.Encode()

	sig, err := c.sign(path, nonce, postData)
	if err != nil {
		return err
	}

	var kr krakenResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("API-Key", c.key).
		SetHeader("API-Sign", sig).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(postData).
		SetResult(&kr).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("kraken: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	if len(kr.Error) > 0 {
		return fmt.Errorf("kraken: %s", strings.Join(kr.Error, "; "))
	}
	return json.Unmarshal(kr.Result, out)
}

// Ticker fetches the last trade price and 24h volume for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	var result map[string]struct {
		C []string `json:"c"` // last trade [price, lot volume]
		V []string `json:"v"` // volume [today, 24h]
	}
	if err := c.public(ctx, "/0/public/Ticker", map[string]string{"pair": toVenueSymbol(symbol)}, &result); err != nil {
		return nil, err
	}

	for _, t := range result {
		if len(t.C) == 0 {
			break
		}
		price, err := strconv.ParseFloat(t.C[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse ticker price: %w", err)
		}
		var volume float64
		if len(t.V) > 1 {
			volume, _ = strconv.ParseFloat(t.V[1], 64)
		}
		return &exchange.Ticker{Symbol: symbol, Price: price, Volume: volume, Ts: time.Now()}, nil
	}
	return nil, fmt.Errorf("kraken: empty ticker result for %s", symbol)
}

// OrderBook fetches order book depth up to limit levels per side.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*exchange.OrderBook, error) {
	var result map[string]struct {
		Bids [][]json.Number `json:"bids"`
		Asks [][]json.Number `json:"asks"`
	}
	params := map[string]string{
		"pair":  toVenueSymbol(symbol),
		"count": strconv.Itoa(limit),
	}
	if err := c.public(ctx, "/0/public/Depth", params, &result); err != nil {
		return nil, err
	}

	for _, book := range result {
		return &exchange.OrderBook{
			Symbol: symbol,
			Bids:   parseLevels(book.Bids),
			Asks:   parseLevels(book.Asks),
			Ts:     time.Now(),
		}, nil
	}
	return nil, fmt.Errorf("kraken: empty depth result for %s", symbol)
}

func parseLevels(raw [][]json.Number) []exchange.BookLevel {
	levels := make([]exchange.BookLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err1 := entry[0].Float64()
		qty, err2 := entry[1].Float64()
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, exchange.BookLevel{Price: price, Qty: qty})
	}
	return levels
}

var ohlcIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "4h": "240", "1d": "1440",
}

// Candles fetches OHLC bars. Kraken returns at most ~720 bars, the limit
// trims from the most recent end.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	minutes, ok := ohlcIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("kraken: unsupported interval %q", interval)
	}

	var result map[string]json.RawMessage
	params := map[string]string{
		"pair":     toVenueSymbol(symbol),
		"interval": minutes,
	}
	if err := c.public(ctx, "/0/public/OHLC", params, &result); err != nil {
		return nil, err
	}

	var candles []exchange.Candle
	for key, raw := range result {
		if key == "last" {
			continue
		}
		// [time, "open", "high", "low", "close", "vwap", "volume", count]
		var rows [][]json.Number
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("parse ohlc: %w", err)
		}
		for _, row := range rows {
			if len(row) < 7 {
				continue
			}
			ts, _ := row[0].Float64()
			open, _ := row[1].Float64()
			high, _ := row[2].Float64()
			low, _ := row[3].Float64()
			closePrice, _ := row[4].Float64()
			volume, _ := row[6].Float64()
			candles = append(candles, exchange.Candle{
				OpenTime: time.Unix(int64(ts), 0),
				Open:     open,
				High:     high,
				Low:      low,
				Close:    closePrice,
				Volume:   volume,
			})
		}
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// Balances fetches the signed account balance.
func (c *Client) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	var result map[string]string
	if err := c.private(ctx, "/0/private/Balance", url.Values{}, &result); err != nil {
		return nil, err
	}

	balances := make(map[string]exchange.Balance)
	for asset, amountStr := range result {
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil || amount == 0 {
			continue
		}
		name := normalizeAsset(asset)
		balances[name] = exchange.Balance{Asset: name, Free: amount}
	}
	return balances, nil
}

// normalizeAsset strips Kraken's X/Z asset prefixes and maps XBT to BTC.
func normalizeAsset(asset string) string {
	if len(asset) == 4 && (asset[0] == 'X' || asset[0] == 'Z') {
		asset = asset[1:]
	}
	if asset == "XBT" {
		return "BTC"
	}
	return asset
}

// PlaceOrder submits a market or limit order via AddOrder.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	form := url.Values{}
	form.Set("pair", toVenueSymbol(req.Symbol))
	form.Set("type", req.Side)
	form.Set("ordertype", req.Type)
	form.Set("volume", strconv.FormatFloat(req.Amount, 'f', -1, 64))
	if req.Type == common.OrderTypeLimit {
		form.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}

	var result struct {
		TxID []string `json:"txid"`
	}
	if err := c.private(ctx, "/0/private/AddOrder", form, &result); err != nil {
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, fmt.Errorf("kraken: AddOrder returned no transaction id")
	}

	return &exchange.OrderResult{
		OrderID: result.TxID[0],
		Symbol:  req.Symbol,
		Side:    req.Side,
		Status:  common.OrderStatusSubmitted,
		Ts:      time.Now(),
	}, nil
}

// CancelOrder cancels an open order by transaction id.
func (c *Client) CancelOrder(ctx context.Context, _, orderID string) error {
	form := url.Values{}
	form.Set("txid", orderID)

	var result struct {
		Count int `json:"count"`
	}
	if err := c.private(ctx, "/0/private/CancelOrder", form, &result); err != nil {
		return err
	}
	if result.Count == 0 {
		return fmt.Errorf("kraken: order %s not canceled", orderID)
	}
	return nil
}

// OrderStatus queries an order's state via QueryOrders.
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderResult, error) {
	form := url.Values{}
	form.Set("txid", orderID)

	var result map[string]struct {
		Status  string `json:"status"`
		VolExec string `json:"vol_exec"`
		Price   string `json:"price"`
		Descr   struct {
			Type string `json:"type"`
		} `json:"descr"`
	}
	if err := c.private(ctx, "/0/private/QueryOrders", form, &result); err != nil {
		return nil, err
	}

	info, ok := result[orderID]
	if !ok {
		return nil, fmt.Errorf("kraken: order %s not found", orderID)
	}

	filled, _ := strconv.ParseFloat(info.VolExec, 64)
	price, _ := strconv.ParseFloat(info.Price, 64)

	return &exchange.OrderResult{
		OrderID:  orderID,
		Symbol:   symbol,
		Side:     info.Descr.Type,
		Status:   mapStatus(info.Status),
		Filled:   filled,
		AvgPrice: price,
		Ts:       time.Now(),
	}, nil
}

func mapStatus(s string) string {
	switch s {
	case "closed":
		return common.OrderStatusFilled
	case "canceled":
		return common.OrderStatusCanceled
	case "expired":
		return common.OrderStatusExpired
	default:
		return common.OrderStatusSubmitted
	}
}
