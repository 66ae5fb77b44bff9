// Package marketdata maintains a cached view of tickers and candles across
// the enabled venues. It polls REST endpoints on an interval and, when a
// live trade feed is attached, folds streamed trades into the price cache
// between polls.
package marketdata

import (
	"context"
	"sync"
	"time"

	"cryptrader/internal/exchange"
	"cryptrader/internal/metrics"

	"github.com/rs/zerolog/log"
)

const (
	candleInterval = "1h"
	candleLimit    = 200
)

// TradeFeed is a live trade stream, the Binance websocket in practice.
type TradeFeed interface {
	Stream(ctx context.Context, trades chan<- exchange.Trade, errs chan<- error) error
}

// CandleStore persists polled candles, the bbolt store in practice.
type CandleStore interface {
	SaveCandles(symbol string, candles []exchange.Candle) error
}

// Manager polls market data and serves the cached snapshot to strategies.
type Manager struct {
	connectors map[string]exchange.Connector
	primary    string // venue used for the symbol-level price and candles
	symbols    []string
	interval   time.Duration
	tracker    metrics.Tracker
	feed       TradeFeed
	store      CandleStore

	mu          sync.RWMutex
	prices      map[string]float64            // symbol -> primary venue price
	venuePrices map[string]map[string]float64 // venue -> symbol -> price
	candles     map[string][]exchange.Candle  // symbol -> chronological candles
	lastPoll    time.Time
}

// New creates a manager over the given connectors. The primary venue is the
// first name that exists in the map, tried in the order given.
func New(connectors map[string]exchange.Connector, preferred []string, symbols []string, interval time.Duration, tracker metrics.Tracker) *Manager {
	primary := ""
	for _, name := range preferred {
		if _, ok := connectors[name]; ok {
			primary = name
			break
		}
	}
	if primary == "" {
		for name := range connectors {
			primary = name
			break
		}
	}
	return &Manager{
		connectors:  connectors,
		primary:     primary,
		symbols:     symbols,
		interval:    interval,
		tracker:     tracker,
		prices:      make(map[string]float64),
		venuePrices: make(map[string]map[string]float64),
		candles:     make(map[string][]exchange.Candle),
	}
}

// AttachFeed wires a live trade feed, started by Run.
func (m *Manager) AttachFeed(feed TradeFeed) { m.feed = feed }

// AttachStore wires candle persistence; each poll's candles are saved so
// history survives restarts. A save failure never blocks the cache refresh.
func (m *Manager) AttachStore(store CandleStore) { m.store = store }

// Primary returns the primary venue name.
func (m *Manager) Primary() string { return m.primary }

// Run polls until the context is canceled. An immediate first poll warms the
// cache before the first trading cycle.
func (m *Manager) Run(ctx context.Context) {
	if m.feed != nil {
		go m.runFeed(ctx)
	}

	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("market data manager stopped")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) runFeed(ctx context.Context) {
	trades := make(chan exchange.Trade, 1000)
	errs := make(chan error, 10)

	go func() {
		if err := m.feed.Stream(ctx, trades, errs); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("trade feed terminated")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-trades:
			m.applyTrade(trade)
			m.tracker.TradeReceived()
		case <-errs:
			m.tracker.WSReconnected()
		}
	}
}

func (m *Manager) applyTrade(t exchange.Trade) {
	m.mu.Lock()
	m.prices[t.Symbol] = t.Price
	vp := m.venuePrices[m.primary]
	if vp == nil {
		vp = make(map[string]float64)
		m.venuePrices[m.primary] = vp
	}
	vp[t.Symbol] = t.Price
	m.mu.Unlock()
}

func (m *Manager) poll(ctx context.Context) {
	for venue, conn := range m.connectors {
		for _, symbol := range m.symbols {
			start := time.Now()
			ticker, err := conn.Ticker(ctx, symbol)
			m.tracker.APICall(time.Since(start), err)
			if err != nil {
				log.Warn().Err(err).Str("venue", venue).Str("symbol", symbol).Msg("ticker poll failed")
				continue
			}
			m.setVenuePrice(venue, symbol, ticker.Price)
		}
	}

	// Candles only from the primary venue.
	if conn, ok := m.connectors[m.primary]; ok {
		for _, symbol := range m.symbols {
			start := time.Now()
			candles, err := conn.Candles(ctx, symbol, candleInterval, candleLimit)
			m.tracker.APICall(time.Since(start), err)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("candle poll failed")
				continue
			}
			m.mu.Lock()
			m.candles[symbol] = candles
			m.mu.Unlock()

			if m.store != nil {
				if err := m.store.SaveCandles(symbol, candles); err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("candle persistence failed")
				}
			}
		}
	}

	m.mu.Lock()
	m.lastPoll = time.Now()
	m.mu.Unlock()
	m.tracker.PollCompleted()
}

func (m *Manager) setVenuePrice(venue, symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vp := m.venuePrices[venue]
	if vp == nil {
		vp = make(map[string]float64)
		m.venuePrices[venue] = vp
	}
	vp[symbol] = price
	if venue == m.primary {
		m.prices[symbol] = price
	}
}

// Price returns the latest primary-venue price for a symbol.
func (m *Manager) Price(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[symbol]
	return p, ok
}

// VenuePrice returns the latest price for a symbol on a specific venue.
func (m *Manager) VenuePrice(venue, symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vp, ok := m.venuePrices[venue]
	if !ok {
		return 0, false
	}
	p, ok := vp[symbol]
	return p, ok
}

// TakerFee returns the taker fee fraction charged by a venue, zero when the
// venue is not configured.
func (m *Manager) TakerFee(venue string) float64 {
	conn, ok := m.connectors[venue]
	if !ok {
		return 0
	}
	return conn.Fees().Taker
}

// Venues lists venues that have reported at least one price.
func (m *Manager) Venues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.venuePrices))
	for v := range m.venuePrices {
		out = append(out, v)
	}
	return out
}

// Candles returns the cached chronological candles for a symbol.
func (m *Manager) Candles(symbol string) []exchange.Candle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.candles[symbol]
}

// LastPoll returns when the cache was last refreshed.
func (m *Manager) LastPoll() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPoll
}

// Stale reports whether the cached snapshot is older than maxAge. It stays
// false until the first poll completes.
func (m *Manager) Stale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	m.mu.RLock()
	last := m.lastPoll
	m.mu.RUnlock()
	return !last.IsZero() && time.Since(last) > maxAge
}
