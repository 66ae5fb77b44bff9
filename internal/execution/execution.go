// Package execution routes orders to their venue, retries transient
// failures and records the resulting fills. In dry-run mode it fills orders
// against the reference price instead of touching a venue.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptrader/internal/common"
	"cryptrader/internal/exchange"
	"cryptrader/internal/metrics"
	"cryptrader/internal/order"
	"cryptrader/internal/storage"

	"github.com/rs/zerolog/log"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// FillHandler receives every confirmed fill, live or simulated.
type FillHandler func(symbol, side string, amount, price float64)

// Executor submits orders and tracks them to a terminal state.
type Executor struct {
	connectors map[string]exchange.Connector
	primary    string
	orders     *order.Manager
	store      *storage.Store
	tracker    metrics.Tracker
	dryRun     bool
	onFill     FillHandler
}

// New creates an executor. store may be nil when persistence is disabled.
func New(connectors map[string]exchange.Connector, primary string, orders *order.Manager, store *storage.Store, tracker metrics.Tracker, dryRun bool, onFill FillHandler) *Executor {
	return &Executor{
		connectors: connectors,
		primary:    primary,
		orders:     orders,
		store:      store,
		tracker:    tracker,
		dryRun:     dryRun,
		onFill:     onFill,
	}
}

// Execute submits a single order. In dry-run mode the order fills
// immediately at its reference price.
func (e *Executor) Execute(ctx context.Context, o *order.Order) error {
	start := time.Now()
	e.tracker.OrderCreated(o.Strategy)

	if e.dryRun {
		return e.simulateFill(o, start)
	}
	return e.submitLive(ctx, o, start)
}

// simulateFill marks the order filled at its reference price.
func (e *Executor) simulateFill(o *order.Order, start time.Time) error {
	if o.Price <= 0 {
		e.orders.UpdateStatus(o.ID, common.OrderStatusRejected, 0, 0, time.Now())
		e.tracker.OrderRejected()
		return fmt.Errorf("dry-run order %s has no reference price", o.ID)
	}

	now := time.Now()
	e.orders.UpdateStatus(o.ID, common.OrderStatusFilled, o.Amount, o.Price, now)
	e.tracker.OrderFilled(time.Since(start))
	e.recordFill(o, o.Amount, o.Price, now)

	log.Info().Str("id", o.ID).Str("symbol", o.Symbol).Str("side", o.Side).
		Float64("price", o.Price).Msg("dry-run order filled")
	return nil
}

func (e *Executor) submitLive(ctx context.Context, o *order.Order, start time.Time) error {
	conn, err := e.connector(o.Exchange)
	if err != nil {
		e.orders.UpdateStatus(o.ID, common.OrderStatusRejected, 0, 0, time.Now())
		e.tracker.OrderRejected()
		return err
	}

	req := exchange.OrderRequest{
		Symbol: o.Symbol,
		Side:   o.Side,
		Type:   o.Type,
		Amount: o.Amount,
		Price:  o.Price,
	}

	var result *exchange.OrderResult
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = conn.PlaceOrder(ctx, req)
		if err == nil {
			break
		}
		if !retryable(err) || attempt == maxAttempts {
			e.orders.UpdateStatus(o.ID, common.OrderStatusRejected, 0, 0, time.Now())
			e.tracker.OrderRejected()
			return fmt.Errorf("place order %s: %w", o.ID, err)
		}

		e.tracker.OrderRetried()
		log.Warn().Err(err).Str("id", o.ID).Int("attempt", attempt).Msg("order placement failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	e.orders.SetExchangeID(o.ID, result.OrderID)
	e.orders.UpdateStatus(o.ID, result.Status, result.Filled, result.AvgPrice, result.Ts)

	if result.Status == common.OrderStatusFilled {
		price := result.AvgPrice
		if price <= 0 {
			price = o.Price
		}
		e.tracker.OrderFilled(time.Since(start))
		e.recordFill(o, result.Filled, price, result.Ts)
	}
	return nil
}

// Cancel withdraws an order that has not reached a terminal state. Orders
// already submitted to a venue are canceled there first.
func (e *Executor) Cancel(ctx context.Context, o *order.Order) error {
	if o.Terminal() {
		return fmt.Errorf("order %s already %s", o.ID, o.Status)
	}

	if !e.dryRun && o.ExchangeID != "" {
		conn, err := e.connector(o.Exchange)
		if err != nil {
			return err
		}
		if err := conn.CancelOrder(ctx, o.Symbol, o.ExchangeID); err != nil {
			return fmt.Errorf("cancel order %s: %w", o.ID, err)
		}
	}

	e.orders.UpdateStatus(o.ID, common.OrderStatusCanceled, 0, 0, time.Now())
	log.Info().Str("id", o.ID).Str("symbol", o.Symbol).Msg("order canceled")
	return nil
}

// Reconcile polls the venue for submitted orders that have not reached a
// terminal state and applies any status change it finds.
func (e *Executor) Reconcile(ctx context.Context) {
	if e.dryRun {
		return
	}
	for _, o := range e.orders.Active() {
		if o.Status != common.OrderStatusSubmitted || o.ExchangeID == "" {
			continue
		}
		conn, err := e.connector(o.Exchange)
		if err != nil {
			continue
		}
		result, err := conn.OrderStatus(ctx, o.Symbol, o.ExchangeID)
		if err != nil {
			log.Warn().Err(err).Str("id", o.ID).Msg("order status check failed")
			continue
		}
		if result.Status == o.Status && result.Filled == o.Filled {
			continue
		}

		e.orders.UpdateStatus(o.ID, result.Status, result.Filled, result.AvgPrice, result.Ts)
		if result.Status == common.OrderStatusFilled {
			price := result.AvgPrice
			if price <= 0 {
				price = o.Price
			}
			filledNow := result.Filled - o.Filled
			if filledNow > 0 {
				e.recordFill(&o, filledNow, price, result.Ts)
			}
		}
	}
}

func (e *Executor) connector(venue string) (exchange.Connector, error) {
	if venue == "" {
		venue = e.primary
	}
	conn, ok := e.connectors[venue]
	if !ok {
		return nil, fmt.Errorf("no connector for venue %q", venue)
	}
	return conn, nil
}

func (e *Executor) recordFill(o *order.Order, amount, price float64, ts time.Time) {
	if e.onFill != nil {
		e.onFill(o.Symbol, o.Side, amount, price)
	}
	if e.store == nil {
		return
	}
	fill := storage.Fill{
		OrderID:  o.ID,
		Exchange: o.Exchange,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Amount:   amount,
		Price:    price,
		Ts:       ts,
	}
	if err := e.store.SaveFill(fill); err != nil {
		log.Warn().Err(err).Str("id", o.ID).Msg("failed to persist fill")
	}
	if err := e.store.SaveOrder(*o); err != nil {
		log.Warn().Err(err).Str("id", o.ID).Msg("failed to persist order")
	}
}

// retryable classifies errors worth another attempt. Venue rejections for
// bad requests or insufficient funds are final.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fatal := range []string{"insufficient", "invalid", "unauthorized", "forbidden", "min notional", "lot size"} {
		if strings.Contains(msg, fatal) {
			return false
		}
	}
	return true
}
