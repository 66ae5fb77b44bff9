// Package exchange defines the connector interface and market data types
// shared by all venue implementations.
package exchange

import (
	"context"
	"time"
)

// Ticker is a last-price snapshot for a symbol.
type Ticker struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Ts     time.Time `json:"ts"`
}

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// OrderBook holds both sides of the book, best levels first.
type OrderBook struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
	Ts     time.Time   `json:"ts"`
}

// BestBid returns the top bid level, or false when the side is empty.
func (ob *OrderBook) BestBid() (BookLevel, bool) {
	if len(ob.Bids) == 0 {
		return BookLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the top ask level, or false when the side is empty.
func (ob *OrderBook) BestAsk() (BookLevel, bool) {
	if len(ob.Asks) == 0 {
		return BookLevel{}, false
	}
	return ob.Asks[0], true
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Balance is the per-asset account balance.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked funds.
func (b Balance) Total() float64 { return b.Free + b.Locked }

// Trade is a single executed market trade from a live feed.
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Ts     time.Time `json:"ts"`
}

// OrderRequest describes an order to be placed on a venue.
type OrderRequest struct {
	Symbol string  `json:"symbol"` // BASE/QUOTE form, converted per venue
	Side   string  `json:"side"`   // buy or sell
	Type   string  `json:"type"`   // market or limit
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"` // required for limit orders
}

// OrderResult is the venue's view of a placed order.
type OrderResult struct {
	OrderID  string    `json:"orderId"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Status   string    `json:"status"`
	Filled   float64   `json:"filled"`
	AvgPrice float64   `json:"avgPrice"`
	Ts       time.Time `json:"ts"`
}

// Fees holds the venue's maker/taker fee rates as fractions (0.001 = 0.1%).
type Fees struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// Connector is the interface every venue implementation satisfies.
type Connector interface {
	Name() string
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	Balances(ctx context.Context) (map[string]Balance, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OrderStatus(ctx context.Context, symbol, orderID string) (*OrderResult, error)
	Fees() Fees
}
