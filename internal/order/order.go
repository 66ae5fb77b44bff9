// Package order manages trading orders and their lifecycle from strategy
// signal to terminal state.
package order

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cryptrader/internal/common"
	"cryptrader/internal/strategy"

	"github.com/rs/zerolog/log"
)

// Order is a single trading order tracked through its lifecycle.
type Order struct {
	ID         string     `json:"id"`
	ExchangeID string     `json:"exchangeId"` // venue-assigned ID after submission
	Exchange   string     `json:"exchange"`   // venue the order is routed to
	Symbol     string     `json:"symbol"`
	Type       string     `json:"type"`
	Side       string     `json:"side"`
	Amount     float64    `json:"amount"`
	Price      float64    `json:"price"` // zero for market orders
	Strategy   string     `json:"strategy"`
	Status     string     `json:"status"`
	Filled     float64    `json:"filled"`
	AvgPrice   float64    `json:"avgPrice"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
}

// Terminal reports whether the order reached a final state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case common.OrderStatusFilled, common.OrderStatusCanceled,
		common.OrderStatusRejected, common.OrderStatusExpired:
		return true
	}
	return false
}

// PortfolioView is the portfolio state needed for signal validation.
type PortfolioView interface {
	QuoteBalance() float64
	AssetBalance(asset string) float64
}

// Manager creates orders from signals and tracks their lifecycle.
type Manager struct {
	mu         sync.RWMutex
	active     []*Order
	history    []*Order
	maxActive  int
	maxHistory int
	seq        atomic.Int64
}

// NewManager creates an order manager with bounded active and history sets.
func NewManager(maxActive, maxHistory int) *Manager {
	if maxActive <= 0 {
		maxActive = 100
	}
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Manager{maxActive: maxActive, maxHistory: maxHistory}
}

// ProcessSignals validates signals against the portfolio and creates orders
// for the ones that pass. Invalid signals are logged and skipped.
func (m *Manager) ProcessSignals(signals []strategy.Signal, portfolio PortfolioView) []*Order {
	var created []*Order
	for _, sig := range signals {
		if err := m.validateSignal(sig, portfolio); err != nil {
			log.Warn().Err(err).Str("strategy", sig.Strategy).Str("symbol", sig.Symbol).Msg("signal rejected")
			continue
		}

		o := m.createOrder(sig)

		m.mu.Lock()
		if len(m.active) >= m.maxActive {
			m.mu.Unlock()
			log.Warn().Str("symbol", sig.Symbol).Msg("active order limit reached, dropping signal")
			continue
		}
		m.active = append(m.active, o)
		m.mu.Unlock()

		created = append(created, o)
		log.Info().
			Str("id", o.ID).
			Str("symbol", o.Symbol).
			Str("side", o.Side).
			Float64("amount", o.Amount).
			Float64("price", o.Price).
			Str("strategy", o.Strategy).
			Msg("order created")
	}
	return created
}

func (m *Manager) validateSignal(sig strategy.Signal, portfolio PortfolioView) error {
	if sig.Symbol == "" {
		return fmt.Errorf("signal missing symbol")
	}
	if sig.Action != common.SideBuy && sig.Action != common.SideSell {
		return fmt.Errorf("invalid signal action %q", sig.Action)
	}
	if sig.Amount <= 0 {
		return fmt.Errorf("signal amount must be positive, got %f", sig.Amount)
	}
	if sig.OrderType == common.OrderTypeLimit && sig.Price <= 0 {
		return fmt.Errorf("limit order signal missing price")
	}

	if portfolio == nil {
		return nil
	}

	if sig.Action == common.SideBuy {
		// A market buy is costed at the signal's reference price.
		cost := sig.Amount * sig.Price
		if cost > 0 && portfolio.QuoteBalance() < cost {
			return fmt.Errorf("insufficient quote balance: need %.2f, have %.2f", cost, portfolio.QuoteBalance())
		}
	} else {
		base := strategy.BaseAsset(sig.Symbol)
		if held := portfolio.AssetBalance(base); held < sig.Amount {
			return fmt.Errorf("insufficient %s balance: need %f, have %f", base, sig.Amount, held)
		}
	}
	return nil
}

func (m *Manager) createOrder(sig strategy.Signal) *Order {
	orderType := sig.OrderType
	if orderType == "" {
		orderType = common.OrderTypeMarket
	}
	return &Order{
		ID:        fmt.Sprintf("ord-%d-%d", time.Now().UnixMilli(), m.seq.Add(1)),
		Exchange:  sig.Exchange,
		Symbol:    sig.Symbol,
		Type:      orderType,
		Side:      sig.Action,
		Amount:    sig.Amount,
		Price:     sig.Price,
		Strategy:  sig.Strategy,
		Status:    common.OrderStatusCreated,
		CreatedAt: time.Now(),
	}
}

// UpdateStatus transitions an order to a new state, recording fill details.
// Terminal orders move from the active set into history.
func (m *Manager) UpdateStatus(orderID, status string, filled, avgPrice float64, executedAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, o := range m.active {
		if o.ID != orderID {
			continue
		}
		o.Status = status
		if filled > 0 {
			o.Filled = filled
		}
		if avgPrice > 0 {
			o.AvgPrice = avgPrice
		}
		if !executedAt.IsZero() {
			t := executedAt
			o.ExecutedAt = &t
		}

		if o.Terminal() {
			m.active = append(m.active[:i], m.active[i+1:]...)
			m.history = append(m.history, o)
			if len(m.history) > m.maxHistory {
				m.history = m.history[len(m.history)-m.maxHistory:]
			}
		}

		log.Info().Str("id", orderID).Str("status", status).Msg("order status updated")
		return true
	}

	log.Warn().Str("id", orderID).Msg("order not found")
	return false
}

// SetExchangeID records the venue-assigned ID after submission.
func (m *Manager) SetExchangeID(orderID, exchangeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.active {
		if o.ID == orderID {
			o.ExchangeID = exchangeID
			return
		}
	}
}

// Active returns a copy of the currently open orders.
func (m *Manager) Active() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, len(m.active))
	for i, o := range m.active {
		out[i] = *o
	}
	return out
}

// History returns up to limit most recent closed orders.
func (m *Manager) History(limit int) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]Order, 0, len(m.history)-start)
	for _, o := range m.history[start:] {
		out = append(out, *o)
	}
	return out
}

// Counts returns the number of active and historical orders.
func (m *Manager) Counts() (active, history int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active), len(m.history)
}
