package risk

import (
	"testing"
	"time"

	"cryptrader/internal/cfg"
)

func TestDrawdownManager_HaltAndRecover(t *testing.T) {
	t.Parallel()

	d := NewDrawdownManager(cfg.RiskConfig{MaxDrawdown: 0.15, MaxDailyLoss: 0.50}, 10000)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	dd, halted := d.Update(10000, now)
	if dd != 0 || halted {
		t.Fatalf("flat equity must not halt, got dd=%f halted=%v", dd, halted)
	}

	// New peak, then a 20% drop from it.
	d.Update(12000, now.Add(time.Minute))
	dd, halted = d.Update(9600, now.Add(2*time.Minute))
	if !halted {
		t.Fatalf("20%% drawdown must halt at a 15%% limit, dd=%f", dd)
	}
	if got, reason := d.Halted(); !got || reason != "drawdown" {
		t.Errorf("expected drawdown halt, got %v %q", got, reason)
	}

	// Recovery above the limit clears the halt.
	_, halted = d.Update(11500, now.Add(3*time.Minute))
	if halted {
		t.Error("recovery above the drawdown limit must clear the halt")
	}
}

func TestDrawdownManager_DailyLoss(t *testing.T) {
	t.Parallel()

	d := NewDrawdownManager(cfg.RiskConfig{MaxDrawdown: 0.90, MaxDailyLoss: 0.05}, 10000)
	day1 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	d.Update(10000, day1)
	_, halted := d.Update(9400, day1.Add(time.Hour))
	if !halted {
		t.Fatal("6% daily loss must halt at a 5% limit")
	}

	// Same day: halt persists even if equity recovers a little.
	_, halted = d.Update(9550, day1.Add(2*time.Hour))
	if !halted {
		t.Error("daily loss halt must persist for the rest of the day")
	}

	// Next day the halt clears and the day baseline resets.
	_, halted = d.Update(9550, day1.Add(24*time.Hour))
	if halted {
		t.Error("daily loss halt must clear at the day rollover")
	}
	if pnl := d.DailyPnL(9600); pnl != 50 {
		t.Errorf("expected daily pnl 50 from the new baseline, got %f", pnl)
	}
}

func TestDrawdownManager_PeakTracksHighs(t *testing.T) {
	t.Parallel()

	d := NewDrawdownManager(cfg.RiskConfig{MaxDrawdown: 0.5, MaxDailyLoss: 0.5}, 10000)
	now := time.Now()
	d.Update(11000, now)
	d.Update(10500, now.Add(time.Minute))
	d.Update(13000, now.Add(2*time.Minute))

	if peak := d.Peak(); peak != 13000 {
		t.Errorf("expected peak 13000, got %f", peak)
	}
}
