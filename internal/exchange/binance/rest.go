// Package binance implements the exchange.Connector interface against the
// Binance spot REST and websocket APIs.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	exchange.Register(common.ExchangeBinance, func(ec cfg.ExchangeConfig, timeout time.Duration) (exchange.Connector, error) {
		return New(ec, timeout), nil
	})
}

// Client talks to the Binance spot API.
type Client struct {
	key, secret string
	base        string
	wsURL       string
	rest        *resty.Client
	limiter     *exchange.Limiter
}

// New creates a Binance client from exchange config.
func New(ec cfg.ExchangeConfig, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	base := ec.BaseURL
	if base == "" {
		base = common.DefaultBinanceBaseURL
	}
	wsURL := ec.WsURL
	if wsURL == "" {
		wsURL = common.DefaultBinanceWsURL
	}
	interval := exchange.ParseRateLimit(ec.RateLimit, exchange.DefaultRateLimits[common.ExchangeBinance])
	return &Client{
		key:     ec.Key,
		secret:  ec.Secret,
		base:    base,
		wsURL:   wsURL,
		rest:    r,
		limiter: exchange.NewLimiter(interval),
	}
}

func (c *Client) Name() string { return common.ExchangeBinance }

// Fees returns the standard spot fee tier.
func (c *Client) Fees() exchange.Fees { return exchange.Fees{Maker: 0.001, Taker: 0.001} }

// toVenueSymbol converts BTC/USDT to BTCUSDT.
func toVenueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedQuery encodes the payload and appends its signature as the final
// parameter, where Binance expects it.
func (c *Client) signedQuery(query url.Values) string {
	payload := query.Encode()
	return payload + "&signature=" + c.sign(payload)
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func checkStatus(resp *resty.Response) error {
	if resp.StatusCode() == 200 {
		return nil
	}
	var apiErr apiError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance: %d %s", apiErr.Code, apiErr.Msg)
	}
	return fmt.Errorf("binance: status %d, body: %s", resp.StatusCode(), resp.String())
}

// Ticker fetches the 24h ticker for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice,string"`
		Volume    float64 `json:"volume,string"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("symbol", toVenueSymbol(symbol)).
		SetResult(&result).
		Get(c.base + "/api/v3/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("ticker request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &exchange.Ticker{
		Symbol: symbol,
		Price:  result.LastPrice,
		Volume: result.Volume,
		Ts:     time.Now(),
	}, nil
}

// OrderBook fetches order book depth up to limit levels per side.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*exchange.OrderBook, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": toVenueSymbol(symbol),
			"limit":  strconv.Itoa(limit),
		}).
		SetResult(&result).
		Get(c.base + "/api/v3/depth")
	if err != nil {
		return nil, fmt.Errorf("depth request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &exchange.OrderBook{
		Symbol: symbol,
		Bids:   parseLevels(result.Bids),
		Asks:   parseLevels(result.Asks),
		Ts:     time.Now(),
	}, nil
}

func parseLevels(raw [][]string) []exchange.BookLevel {
	levels := make([]exchange.BookLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(entry[0], 64)
		qty, err2 := strconv.ParseFloat(entry[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, exchange.BookLevel{Price: price, Qty: qty})
	}
	return levels
}

// Candles fetches OHLCV klines for an interval such as "1m" or "1h".
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   toVenueSymbol(symbol),
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		Get(c.base + "/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("klines request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	// Klines come back as heterogeneous arrays:
	// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
	var raw [][]any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	candles := make([]exchange.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, ok := k[0].(float64)
		if !ok {
			continue
		}
		open, err1 := strToFloat(k[1])
		high, err2 := strToFloat(k[2])
		low, err3 := strToFloat(k[3])
		closePrice, err4 := strToFloat(k[4])
		volume, err5 := strToFloat(k[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		candles = append(candles, exchange.Candle{
			OpenTime: time.UnixMilli(int64(openTime)),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}
	return candles, nil
}

func strToFloat(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected string, got %T", v)
	}
	return strconv.ParseFloat(s, 64)
}

// Balances fetches the signed account snapshot.
func (c *Client) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	var result struct {
		Balances []struct {
			Asset  string  `json:"asset"`
			Free   float64 `json:"free,string"`
			Locked float64 `json:"locked,string"`
		} `json:"balances"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.key).
		SetResult(&result).
		Get(c.base + "/api/v3/account?" + c.signedQuery(query))
	if err != nil {
		return nil, fmt.Errorf("account request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	balances := make(map[string]exchange.Balance)
	for _, b := range result.Balances {
		if b.Free == 0 && b.Locked == 0 {
			continue
		}
		balances[b.Asset] = exchange.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked}
	}
	return balances, nil
}

type orderResponse struct {
	OrderID     int64   `json:"orderId"`
	Status      string  `json:"status"`
	ExecutedQty float64 `json:"executedQty,string"`
	Price       float64 `json:"price,string"`
	Fills       []struct {
		Price float64 `json:"price,string"`
		Qty   float64 `json:"qty,string"`
	} `json:"fills"`
}

// PlaceOrder submits a market or limit order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", toVenueSymbol(req.Symbol))
	query.Set("side", strings.ToUpper(req.Side))
	query.Set("type", strings.ToUpper(req.Type))
	query.Set("quantity", strconv.FormatFloat(req.Amount, 'f', -1, 64))
	if req.Type == common.OrderTypeLimit {
		query.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
		query.Set("timeInForce", "GTC")
	}
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	var result orderResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.key).
		SetResult(&result).
		Post(c.base + "/api/v3/order?" + c.signedQuery(query))
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &exchange.OrderResult{
		OrderID:  strconv.FormatInt(result.OrderID, 10),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Status:   mapStatus(result.Status),
		Filled:   result.ExecutedQty,
		AvgPrice: avgFillPrice(result),
		Ts:       time.Now(),
	}, nil
}

func avgFillPrice(r orderResponse) float64 {
	var notional, qty float64
	for _, f := range r.Fills {
		notional += f.Price * f.Qty
		qty += f.Qty
	}
	if qty > 0 {
		return notional / qty
	}
	return r.Price
}

func mapStatus(s string) string {
	switch s {
	case "FILLED":
		return common.OrderStatusFilled
	case "CANCELED":
		return common.OrderStatusCanceled
	case "REJECTED":
		return common.OrderStatusRejected
	case "EXPIRED":
		return common.OrderStatusExpired
	default:
		return common.OrderStatusSubmitted
	}
}

// CancelOrder cancels an open order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("symbol", toVenueSymbol(symbol))
	query.Set("orderId", orderID)
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.key).
		Delete(c.base + "/api/v3/order?" + c.signedQuery(query))
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	return checkStatus(resp)
}

// OrderStatus fetches the current state of an order.
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("symbol", toVenueSymbol(symbol))
	query.Set("orderId", orderID)
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	var result struct {
		OrderID     int64   `json:"orderId"`
		Side        string  `json:"side"`
		Status      string  `json:"status"`
		ExecutedQty float64 `json:"executedQty,string"`
		Price       float64 `json:"price,string"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.key).
		SetResult(&result).
		Get(c.base + "/api/v3/order?" + c.signedQuery(query))
	if err != nil {
		return nil, fmt.Errorf("order status request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &exchange.OrderResult{
		OrderID:  strconv.FormatInt(result.OrderID, 10),
		Symbol:   symbol,
		Side:     strings.ToLower(result.Side),
		Status:   mapStatus(result.Status),
		Filled:   result.ExecutedQty,
		AvgPrice: result.Price,
		Ts:       time.Now(),
	}, nil
}
