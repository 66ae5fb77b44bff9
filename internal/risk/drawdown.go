package risk

import (
	"sync"
	"time"

	"cryptrader/internal/cfg"

	"github.com/rs/zerolog/log"
)

// DrawdownManager tracks equity against its peak and the day's starting
// value, and halts trading when either the max drawdown or max daily loss
// limit is breached. The daily loss halt clears at the next UTC day
// rollover; the drawdown halt clears when equity recovers above the limit.
type DrawdownManager struct {
	maxDrawdown  float64
	maxDailyLoss float64

	mu         sync.Mutex
	peak       float64
	dayStart   float64
	day        time.Time
	halted     bool
	haltReason string
}

// NewDrawdownManager seeds the tracker with the initial equity value.
func NewDrawdownManager(rc cfg.RiskConfig, initialEquity float64) *DrawdownManager {
	// day stays zero until the first Update so the baseline follows the
	// clock the caller passes in.
	return &DrawdownManager{
		maxDrawdown:  rc.MaxDrawdown,
		maxDailyLoss: rc.MaxDailyLoss,
		peak:         initialEquity,
		dayStart:     initialEquity,
	}
}

// Update records the latest equity and re-evaluates the halt state. It
// returns the current drawdown fraction and whether trading is halted.
func (d *DrawdownManager) Update(equity float64, now time.Time) (drawdown float64, halted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := now.UTC().Truncate(24 * time.Hour)
	if day.After(d.day) {
		d.day = day
		d.dayStart = equity
		if d.halted && d.haltReason == "daily loss" {
			d.halted = false
			d.haltReason = ""
			log.Info().Msg("daily loss halt cleared at day rollover")
		}
	}

	if equity > d.peak {
		d.peak = equity
	}
	if d.peak > 0 {
		drawdown = (d.peak - equity) / d.peak
	}

	var dailyLoss float64
	if d.dayStart > 0 {
		dailyLoss = (d.dayStart - equity) / d.dayStart
	}

	switch {
	case !d.halted && d.maxDrawdown > 0 && drawdown >= d.maxDrawdown:
		d.halted = true
		d.haltReason = "drawdown"
		log.Error().Float64("drawdown", drawdown).Float64("limit", d.maxDrawdown).Msg("trading halted: max drawdown breached")
	case !d.halted && d.maxDailyLoss > 0 && dailyLoss >= d.maxDailyLoss:
		d.halted = true
		d.haltReason = "daily loss"
		log.Error().Float64("dailyLoss", dailyLoss).Float64("limit", d.maxDailyLoss).Msg("trading halted: max daily loss breached")
	case d.halted && d.haltReason == "drawdown" && drawdown < d.maxDrawdown:
		d.halted = false
		d.haltReason = ""
		log.Info().Float64("drawdown", drawdown).Msg("drawdown halt cleared")
	}

	return drawdown, d.halted
}

// Halted reports the current halt state and its reason.
func (d *DrawdownManager) Halted() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted, d.haltReason
}

// DailyPnL returns equity change since the day start.
func (d *DrawdownManager) DailyPnL(equity float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return equity - d.dayStart
}

// Peak returns the tracked equity peak.
func (d *DrawdownManager) Peak() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}
