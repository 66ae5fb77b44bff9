package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptrader/internal/common"

	"gopkg.in/yaml.v3"
)

// Settings is the fully resolved runtime configuration.
type Settings struct {
	Exchanges map[string]ExchangeConfig

	Symbols         []string
	TradingInterval time.Duration
	PollInterval    time.Duration
	DryRun          bool
	InitialBalance  float64

	Strategies []StrategyConfig

	Risk RiskConfig

	Notifications NotificationConfig

	DataPath      string
	MetricsPort   int
	DashboardPort int
	DashboardKey  string
	RetentionDays int
	RESTTimeout   time.Duration
}

// ExchangeConfig holds per-venue API settings.
type ExchangeConfig struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
	// Passphrase is required by Coinbase, unused elsewhere.
	Passphrase string `yaml:"passphrase"`
	BaseURL    string `yaml:"baseURL"`
	WsURL      string `yaml:"wsURL"`
	Enabled    bool   `yaml:"enabled"`
	Testnet    bool   `yaml:"testnet"`
	// Minimum spacing between REST requests, e.g. "100ms".
	RateLimit string `yaml:"rateLimit"`
}

// StrategyConfig configures one strategy instance.
type StrategyConfig struct {
	Name    string             `yaml:"name"`
	Type    string             `yaml:"type"`
	Symbol  string             `yaml:"symbol"`
	Enabled bool               `yaml:"enabled"`
	Params  map[string]float64 `yaml:"params"`
	// Mode carries non-numeric options such as the DCA interval
	// ("daily", "weekly", "monthly") or grid spacing ("arithmetic").
	Mode string `yaml:"mode"`
}

// Param returns a numeric strategy parameter with a fallback default.
func (s StrategyConfig) Param(key string, def float64) float64 {
	if v, ok := s.Params[key]; ok {
		return v
	}
	return def
}

// RiskConfig holds the global risk limits shared by all strategies.
type RiskConfig struct {
	MaxDailyLoss  float64 `yaml:"maxDailyLoss"`
	MaxDrawdown   float64 `yaml:"maxDrawdown"`
	RiskPerTrade  float64 `yaml:"riskPerTrade"`
	SizingMethod  string  `yaml:"sizingMethod"`
	MaxPositions  int     `yaml:"maxPositions"`
	KellyFraction float64 `yaml:"kellyFraction"`
}

// NotificationConfig configures the webhook notifier.
type NotificationConfig struct {
	WebhookURL    string   `yaml:"webhookURL"`
	TelegramToken string   `yaml:"telegramToken"`
	TelegramChat  string   `yaml:"telegramChat"`
	Events        []string `yaml:"events"`
}

type configFile struct {
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading struct {
		Symbols        []string `yaml:"symbols"`
		Interval       string   `yaml:"interval"`
		PollInterval   string   `yaml:"pollInterval"`
		DryRun         bool     `yaml:"dryRun"`
		InitialBalance float64  `yaml:"initialBalance"`
	} `yaml:"trading"`

	Strategies []StrategyConfig `yaml:"strategies"`

	Risk RiskConfig `yaml:"risk"`

	Notifications NotificationConfig `yaml:"notifications"`

	System struct {
		DataPath      string `yaml:"dataPath"`
		MetricsPort   int    `yaml:"metricsPort"`
		DashboardPort int    `yaml:"dashboardPort"`
		DashboardKey  string `yaml:"dashboardKey"`
		RetentionDays int    `yaml:"retentionDays"`
		RESTTimeout   string `yaml:"restTimeout"`
	} `yaml:"system"`
}

// Load resolves settings from the YAML file named by CONFIG_FILE,
// falling back to environment variables alone when it is unset.
func Load() (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

// LoadFile resolves settings from an explicit YAML path, bypassing the
// CONFIG_FILE lookup. The backtest CLI uses it to borrow the daemon's
// strategy parameters.
func LoadFile(path string) (Settings, error) {
	return loadFromYAML(path)
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config configFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		Exchanges:       resolveExchanges(config.Exchanges),
		Symbols:         getSymbolsFromEnvOrConfig(config.Trading.Symbols),
		TradingInterval: parseDurationOrDefault(config.Trading.Interval, 5*time.Second),
		PollInterval:    parseDurationOrDefault(config.Trading.PollInterval, 10*time.Second),
		DryRun:          getBoolFromEnvOrConfig(common.EnvDryRun, config.Trading.DryRun),
		InitialBalance:  getFloatFromEnvOrConfig(common.EnvInitialBalance, config.Trading.InitialBalance, common.DefaultInitialBalance),
		Strategies:      config.Strategies,
		Risk: RiskConfig{
			MaxDailyLoss:  getFloatFromEnvOrConfig(common.EnvMaxDailyLoss, config.Risk.MaxDailyLoss, common.DefaultMaxDailyLoss),
			MaxDrawdown:   getFloatFromEnvOrConfig(common.EnvMaxDrawdown, config.Risk.MaxDrawdown, common.DefaultMaxDrawdown),
			RiskPerTrade:  getFloatFromEnvOrConfig(common.EnvRiskPerTrade, config.Risk.RiskPerTrade, common.DefaultRiskPerTrade),
			SizingMethod:  defaultString(config.Risk.SizingMethod, "fixed_risk"),
			MaxPositions:  defaultInt(config.Risk.MaxPositions, 5),
			KellyFraction: defaultFloat(config.Risk.KellyFraction, 0.5),
		},
		Notifications: NotificationConfig{
			WebhookURL:    getEnvOrDefault(common.EnvWebhookURL, config.Notifications.WebhookURL),
			TelegramToken: getEnvOrDefault(common.EnvTelegramToken, config.Notifications.TelegramToken),
			TelegramChat:  getEnvOrDefault(common.EnvTelegramChatID, config.Notifications.TelegramChat),
			Events:        config.Notifications.Events,
		},
		DataPath:      getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		MetricsPort:   getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		DashboardPort: getIntFromEnvOrConfig(common.EnvDashboardPort, config.System.DashboardPort, common.DefaultDashboardPort),
		DashboardKey:  getEnvOrDefault(common.EnvDashboardAPIKey, config.System.DashboardKey),
		RetentionDays: getIntFromEnvOrConfig(common.EnvRetentionDays, config.System.RetentionDays, common.DefaultRetentionDays),
		RESTTimeout:   parseDurationOrDefault(config.System.RESTTimeout, 5*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Exchanges:       resolveExchanges(nil),
		Symbols:         splitOrDefault(os.Getenv(common.EnvSymbols), []string{"BTC/USDT"}),
		TradingInterval: getDurationOrDefault(common.EnvTradingInterval, 5*time.Second),
		PollInterval:    getDurationOrDefault(common.EnvPollInterval, 10*time.Second),
		DryRun:          getBoolOrDefault(common.EnvDryRun, true),
		InitialBalance:  getFloatOrDefault(common.EnvInitialBalance, common.DefaultInitialBalance),
		Risk: RiskConfig{
			MaxDailyLoss:  getFloatOrDefault(common.EnvMaxDailyLoss, common.DefaultMaxDailyLoss),
			MaxDrawdown:   getFloatOrDefault(common.EnvMaxDrawdown, common.DefaultMaxDrawdown),
			RiskPerTrade:  getFloatOrDefault(common.EnvRiskPerTrade, common.DefaultRiskPerTrade),
			SizingMethod:  "fixed_risk",
			MaxPositions:  5,
			KellyFraction: 0.5,
		},
		Notifications: NotificationConfig{
			WebhookURL:    os.Getenv(common.EnvWebhookURL),
			TelegramToken: os.Getenv(common.EnvTelegramToken),
			TelegramChat:  os.Getenv(common.EnvTelegramChatID),
		},
		DataPath:      os.Getenv(common.EnvDataPath), // optional
		MetricsPort:   getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		DashboardPort: getIntOrDefault(common.EnvDashboardPort, common.DefaultDashboardPort),
		DashboardKey:  os.Getenv(common.EnvDashboardAPIKey),
		RetentionDays: getIntOrDefault(common.EnvRetentionDays, common.DefaultRetentionDays),
		RESTTimeout:   getDurationOrDefault(common.EnvRESTTimeout, 5*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// resolveExchanges merges YAML exchange blocks with environment credentials
// and fills default endpoints for known venues.
func resolveExchanges(fromFile map[string]ExchangeConfig) map[string]ExchangeConfig {
	out := make(map[string]ExchangeConfig)
	for name, ec := range fromFile {
		out[name] = ec
	}

	apply := func(name, keyEnv, secretEnv, baseURL, wsURL string) {
		ec := out[name]
		ec.Key = getEnvOrDefault(keyEnv, ec.Key)
		ec.Secret = getEnvOrDefault(secretEnv, ec.Secret)
		if ec.BaseURL == "" {
			ec.BaseURL = baseURL
		}
		if ec.WsURL == "" {
			ec.WsURL = wsURL
		}
		// Credentials supplied via environment enable the venue even
		// without a YAML block.
		if _, inFile := fromFile[name]; !inFile && ec.Key != "" && ec.Secret != "" {
			ec.Enabled = true
		}
		out[name] = ec
	}

	apply(common.ExchangeBinance, common.EnvBinanceAPIKey, common.EnvBinanceSecretKey, common.DefaultBinanceBaseURL, common.DefaultBinanceWsURL)
	apply(common.ExchangeKraken, common.EnvKrakenAPIKey, common.EnvKrakenSecretKey, common.DefaultKrakenBaseURL, "")
	apply(common.ExchangeCoinbase, common.EnvCoinbaseAPIKey, common.EnvCoinbaseSecret, common.DefaultCoinbaseBaseURL, "")

	return out
}

// EnabledExchanges returns the names of venues with Enabled set, in a
// stable order (binance, kraken, coinbase, then anything else).
func (s *Settings) EnabledExchanges() []string {
	order := []string{common.ExchangeBinance, common.ExchangeKraken, common.ExchangeCoinbase}
	var names []string
	seen := make(map[string]bool)
	for _, name := range order {
		if ec, ok := s.Exchanges[name]; ok && ec.Enabled {
			names = append(names, name)
			seen[name] = true
		}
	}
	for name, ec := range s.Exchanges {
		if ec.Enabled && !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// StrategyByName finds a configured strategy by name, enabled or not.
func (s *Settings) StrategyByName(name string) (StrategyConfig, bool) {
	for _, sc := range s.Strategies {
		if sc.Name == name {
			return sc, true
		}
	}
	return StrategyConfig{}, false
}

// EnabledStrategies filters the configured strategies down to active ones.
func (s *Settings) EnabledStrategies() []StrategyConfig {
	var out []StrategyConfig
	for _, sc := range s.Strategies {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseDurationOrDefault(v string, defaultValue time.Duration) time.Duration {
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getSymbolsFromEnvOrConfig(configSymbols []string) []string {
	if env := os.Getenv(common.EnvSymbols); env != "" {
		return splitOrDefault(env, nil)
	}
	if len(configSymbols) > 0 {
		return configSymbols
	}
	return []string{"BTC/USDT"}
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getFloatFromEnvOrConfig(key string, configValue, def float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
