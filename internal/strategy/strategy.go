// Package strategy implements the trading strategies and the signal type
// they emit. Strategies are pure consumers of market and portfolio views;
// order creation and risk sizing happen downstream.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/exchange"
)

// Signal is a trading intent emitted by a strategy. Amount is in base asset
// units; Price is the reference price the signal was computed at.
type Signal struct {
	Strategy   string    `json:"strategy"`
	Exchange   string    `json:"exchange,omitempty"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	OrderType  string    `json:"orderType,omitempty"`
	Amount     float64   `json:"amount"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	Ts         time.Time `json:"ts"`
}

// MarketView is the read-only market state a strategy evaluates against.
type MarketView interface {
	// Candles returns the cached chronological candles for a symbol.
	Candles(symbol string) []exchange.Candle
	// Price returns the latest known price for a symbol.
	Price(symbol string) (float64, bool)
	// VenuePrice returns the latest price for a symbol on a specific venue.
	VenuePrice(venue, symbol string) (float64, bool)
	// Venues lists the venues currently providing data.
	Venues() []string
	// TakerFee returns the taker fee fraction charged on a venue, zero when
	// the venue is unknown.
	TakerFee(venue string) float64
}

// PortfolioView is the read-only portfolio state a strategy evaluates
// against.
type PortfolioView interface {
	QuoteBalance() float64
	AssetBalance(asset string) float64
	Position(symbol string) (amount, avgEntry float64)
	TotalValue() float64
}

// Strategy evaluates market state and emits zero or more signals.
type Strategy interface {
	Name() string
	Symbol() string
	Evaluate(ctx context.Context, market MarketView, portfolio PortfolioView) ([]Signal, error)
}

// BaseAsset returns the base asset of a BASE/QUOTE symbol.
func BaseAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// QuoteAsset returns the quote asset of a BASE/QUOTE symbol.
func QuoteAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 && i < len(symbol)-1 {
		return symbol[i+1:]
	}
	return ""
}

// New constructs a strategy from its configuration.
func New(sc cfg.StrategyConfig) (Strategy, error) {
	switch sc.Type {
	case "mean_reversion":
		return NewMeanReversion(sc), nil
	case "momentum":
		return NewMomentum(sc), nil
	case "grid":
		return NewGrid(sc), nil
	case "dca":
		return NewDCA(sc), nil
	case "arbitrage":
		return NewArbitrage(sc), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
	}
}

// BuildAll constructs all enabled strategies from settings. Construction
// failures are returned so the caller can decide whether to proceed.
func BuildAll(settings *cfg.Settings) ([]Strategy, error) {
	var strategies []Strategy
	for _, sc := range settings.EnabledStrategies() {
		s, err := New(sc)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", sc.Name, err)
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}

// closes extracts close prices from candles.
func closes(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
