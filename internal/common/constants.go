package common

// Quote asset used for portfolio valuation
const QuoteAsset = "USDT"

// Supported exchanges
const (
	ExchangeBinance  = "binance"
	ExchangeKraken   = "kraken"
	ExchangeCoinbase = "coinbase"
)

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvBinanceAPIKey    = "BINANCE_API_KEY"
	EnvBinanceSecretKey = "BINANCE_SECRET_KEY"
	EnvKrakenAPIKey     = "KRAKEN_API_KEY"
	EnvKrakenSecretKey  = "KRAKEN_SECRET_KEY"
	EnvCoinbaseAPIKey   = "COINBASE_API_KEY"
	EnvCoinbaseSecret   = "COINBASE_SECRET_KEY"
	EnvSymbols          = "SYMBOLS"
	EnvDataPath         = "DATA_PATH"
	EnvDryRun           = "DRY_RUN"
	EnvMaxDailyLoss     = "MAX_DAILY_LOSS"
	EnvMaxDrawdown      = "MAX_DRAWDOWN"
	EnvRiskPerTrade     = "RISK_PER_TRADE"
	EnvMetricsPort      = "METRICS_PORT"
	EnvDashboardPort    = "DASHBOARD_PORT"
	EnvDashboardAPIKey  = "DASHBOARD_API_KEY"
	EnvTradingInterval  = "TRADING_INTERVAL"
	EnvPollInterval     = "POLL_INTERVAL"
	EnvRESTTimeout      = "REST_TIMEOUT"
	EnvInitialBalance   = "INITIAL_BALANCE"
	EnvRetentionDays    = "RETENTION_DAYS"
	EnvWebhookURL       = "WEBHOOK_URL"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvForceLiveTrading = "FORCE_LIVE_TRADING"
	EnvLogLevel         = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultBinanceBaseURL  = "https://api.binance.com"
	DefaultBinanceWsURL    = "wss://stream.binance.com:9443/stream"
	DefaultKrakenBaseURL   = "https://api.kraken.com"
	DefaultCoinbaseBaseURL = "https://api.exchange.coinbase.com"
	DefaultMetricsPort     = 9090
	DefaultDashboardPort   = 8080
	DefaultInitialBalance  = 10000.0
	DefaultMaxDailyLoss    = 0.05 // 5%
	DefaultMaxDrawdown     = 0.15 // 15% from peak
	DefaultRiskPerTrade    = 0.01 // 1%
	DefaultRetentionDays   = 30
)

// Order sides and types shared across packages
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order lifecycle states
const (
	OrderStatusCreated   = "created"
	OrderStatusSubmitted = "submitted"
	OrderStatusFilled    = "filled"
	OrderStatusCanceled  = "canceled"
	OrderStatusRejected  = "rejected"
	OrderStatusExpired   = "expired"
)

// Common error messages
const (
	ErrMsgAPIKeyRequired  = "API key and secret are required for enabled exchange"
	ErrMsgSymbolRequired  = "at least one trading symbol is required"
	ErrMsgNoExchange      = "at least one exchange must be enabled"
	ErrMsgForceLiveNeeded = "live trading requires FORCE_LIVE_TRADING=true environment variable"
)

// Validation bounds
const (
	MaxDailyLossLimit = 0.5
	MaxDrawdownLimit  = 0.5
	MaxRiskPerTrade   = 0.1
	MinPort           = 1024
	MaxPort           = 65535
)
