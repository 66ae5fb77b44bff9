package exchange

import (
	"fmt"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"

	"github.com/rs/zerolog/log"
)

// constructors is populated by venue packages via Register at init time,
// which keeps this package free of venue imports.
var constructors = map[string]func(cfg.ExchangeConfig, time.Duration) (Connector, error){}

// Register installs a venue constructor under its name.
func Register(name string, fn func(cfg.ExchangeConfig, time.Duration) (Connector, error)) {
	constructors[name] = fn
}

// New builds a single connector by venue name.
func New(name string, ec cfg.ExchangeConfig, timeout time.Duration) (Connector, error) {
	fn, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange type: %s", name)
	}
	return fn(ec, timeout)
}

// BuildAll constructs connectors for every enabled exchange in settings.
// Venues that fail to construct are logged and skipped.
func BuildAll(s *cfg.Settings) map[string]Connector {
	out := make(map[string]Connector)
	for _, name := range s.EnabledExchanges() {
		conn, err := New(name, s.Exchanges[name], s.RESTTimeout)
		if err != nil {
			log.Warn().Err(err).Str("exchange", name).Msg("skipping exchange")
			continue
		}
		out[name] = conn
		log.Info().Str("exchange", name).Msg("exchange connector ready")
	}
	return out
}

// ParseRateLimit converts a config rate limit string to a duration,
// falling back to the venue default when unset or malformed.
func ParseRateLimit(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// DefaultRateLimits per venue, matching each venue's public API budget.
var DefaultRateLimits = map[string]time.Duration{
	common.ExchangeBinance:  100 * time.Millisecond,
	common.ExchangeKraken:   350 * time.Millisecond,
	common.ExchangeCoinbase: 150 * time.Millisecond,
}
