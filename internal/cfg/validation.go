package cfg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"cryptrader/internal/common"
)

var knownStrategyTypes = map[string]bool{
	"mean_reversion": true,
	"momentum":       true,
	"grid":           true,
	"dca":            true,
	"arbitrage":      true,
}

// validateSettings performs range and consistency checks on resolved settings.
func validateSettings(settings *Settings) error {
	if len(settings.Symbols) == 0 {
		return fmt.Errorf("%s", common.ErrMsgSymbolRequired)
	}
	for _, sym := range settings.Symbols {
		if !strings.Contains(sym, "/") {
			return fmt.Errorf("symbol %q must use BASE/QUOTE form, e.g. BTC/USDT", sym)
		}
	}

	enabled := settings.EnabledExchanges()
	if !settings.DryRun && len(enabled) == 0 {
		return fmt.Errorf("%s", common.ErrMsgNoExchange)
	}
	for _, name := range enabled {
		ec := settings.Exchanges[name]
		if ec.BaseURL == "" {
			return fmt.Errorf("exchange %s: base URL cannot be empty", name)
		}
		if !settings.DryRun && (ec.Key == "" || ec.Secret == "") {
			return fmt.Errorf("exchange %s: %s", name, common.ErrMsgAPIKeyRequired)
		}
		if ec.RateLimit != "" {
			if _, err := time.ParseDuration(ec.RateLimit); err != nil {
				return fmt.Errorf("exchange %s: invalid rateLimit %q: %w", name, ec.RateLimit, err)
			}
		}
	}

	// Live trading is opt-in twice: dryRun=false AND an explicit env flag.
	if !settings.DryRun && os.Getenv(common.EnvForceLiveTrading) != "true" {
		return fmt.Errorf("%s", common.ErrMsgForceLiveNeeded)
	}

	if settings.TradingInterval < time.Second || settings.TradingInterval > time.Hour {
		return fmt.Errorf("trading interval must be between 1s and 1h, got %v", settings.TradingInterval)
	}
	if settings.PollInterval < time.Second || settings.PollInterval > time.Hour {
		return fmt.Errorf("poll interval must be between 1s and 1h, got %v", settings.PollInterval)
	}
	if settings.RESTTimeout < time.Second || settings.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", settings.RESTTimeout)
	}

	if settings.MetricsPort < common.MinPort || settings.MetricsPort > common.MaxPort {
		return fmt.Errorf("metrics port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.MetricsPort)
	}
	if settings.DashboardPort < common.MinPort || settings.DashboardPort > common.MaxPort {
		return fmt.Errorf("dashboard port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.DashboardPort)
	}
	if settings.MetricsPort == settings.DashboardPort {
		return fmt.Errorf("metrics and dashboard ports must differ, both are %d", settings.MetricsPort)
	}

	if settings.InitialBalance <= 0 {
		return fmt.Errorf("initial balance must be positive, got %f", settings.InitialBalance)
	}
	if settings.RetentionDays <= 0 || settings.RetentionDays > 3650 {
		return fmt.Errorf("retention days must be between 1 and 3650, got %d", settings.RetentionDays)
	}

	if err := validateRisk(&settings.Risk); err != nil {
		return err
	}

	names := make(map[string]bool)
	for _, sc := range settings.Strategies {
		if sc.Name == "" {
			return fmt.Errorf("strategy name cannot be empty")
		}
		if names[sc.Name] {
			return fmt.Errorf("duplicate strategy name %q", sc.Name)
		}
		names[sc.Name] = true
		if !knownStrategyTypes[sc.Type] {
			return fmt.Errorf("strategy %s: unknown type %q", sc.Name, sc.Type)
		}
		if sc.Symbol == "" {
			return fmt.Errorf("strategy %s: symbol is required", sc.Name)
		}
	}

	return nil
}

func validateRisk(r *RiskConfig) error {
	if r.MaxDailyLoss <= 0 || r.MaxDailyLoss > common.MaxDailyLossLimit {
		return fmt.Errorf("max daily loss must be between 0 and %.1f, got %f", common.MaxDailyLossLimit, r.MaxDailyLoss)
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown > common.MaxDrawdownLimit {
		return fmt.Errorf("max drawdown must be between 0 and %.1f, got %f", common.MaxDrawdownLimit, r.MaxDrawdown)
	}
	if r.RiskPerTrade <= 0 || r.RiskPerTrade > common.MaxRiskPerTrade {
		return fmt.Errorf("risk per trade must be between 0 and %.2f, got %f", common.MaxRiskPerTrade, r.RiskPerTrade)
	}
	switch r.SizingMethod {
	case "fixed_risk", "volatility", "kelly", "equal_weight":
	default:
		return fmt.Errorf("unknown position sizing method %q", r.SizingMethod)
	}
	if r.MaxPositions <= 0 || r.MaxPositions > 100 {
		return fmt.Errorf("max positions must be between 1 and 100, got %d", r.MaxPositions)
	}
	if r.KellyFraction <= 0 || r.KellyFraction > 1 {
		return fmt.Errorf("kelly fraction must be between 0 and 1, got %f", r.KellyFraction)
	}
	return nil
}
