package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cryptrader/internal/cfg"
	"cryptrader/internal/common"
	"cryptrader/internal/dashboard"
	"cryptrader/internal/engine"
	"cryptrader/internal/exchange"
	"cryptrader/internal/execution"
	"cryptrader/internal/marketdata"
	"cryptrader/internal/metrics"
	"cryptrader/internal/notify"
	"cryptrader/internal/order"
	"cryptrader/internal/portfolio"
	"cryptrader/internal/storage"
	"cryptrader/internal/strategy"

	// Venue connectors register themselves on import.
	"cryptrader/internal/exchange/binance"
	_ "cryptrader/internal/exchange/coinbase"
	_ "cryptrader/internal/exchange/kraken"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// A missing .env is fine; explicit environment wins either way.
	_ = godotenv.Load()
	setupLogging()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(&c)
	if store != nil {
		defer store.Close()
	}

	connectors := exchange.BuildAll(&c)
	if len(connectors) == 0 {
		log.Fatal().Msg("no exchange connectors available, check exchange configuration")
	}

	market := marketdata.New(connectors, []string{common.ExchangeBinance, common.ExchangeKraken, common.ExchangeCoinbase},
		c.Symbols, c.PollInterval, mw)
	attachTradeFeed(&c, market)
	if store != nil {
		market.AttachStore(store)
	}

	strategies, err := strategy.BuildAll(&c)
	if err != nil {
		log.Fatal().Err(err).Msg("strategy construction failed")
	}
	if len(strategies) == 0 {
		log.Warn().Msg("no strategies enabled, engine will only track the portfolio")
	}

	pf := portfolio.New(c.InitialBalance)
	orders := order.NewManager(100, 1000)
	executor := execution.New(connectors, market.Primary(), orders, store, mw, c.DryRun, pf.ApplyFill)
	notifier := notify.New(c.Notifications)

	eng := engine.New(engine.Deps{
		Settings:   &c,
		Market:     market,
		Strategies: strategies,
		Orders:     orders,
		Portfolio:  pf,
		Executor:   executor,
		Store:      store,
		Tracker:    mw,
		Notifier:   notifier,
	})

	startMetricsServer(ctx, &c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		market.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		notifier.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		dash := dashboard.New(c.DashboardPort, c.DashboardKey, eng, pf, orders)
		if err := dash.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dashboard server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, &wg)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if level, err := zerolog.ParseLevel(os.Getenv(common.EnvLogLevel)); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// initializeStorage opens persistence when DATA_PATH is configured.
func initializeStorage(c *cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.Open(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// attachTradeFeed wires the Binance trade stream when that venue is
// enabled. Other venues are poll-only.
func attachTradeFeed(c *cfg.Settings, market *marketdata.Manager) {
	ec, ok := c.Exchanges[common.ExchangeBinance]
	if !ok || !ec.Enabled {
		return
	}
	wsURL := ec.WsURL
	if wsURL == "" {
		wsURL = common.DefaultBinanceWsURL
	}
	market.AttachFeed(binance.NewWS(wsURL, c.Symbols))
	log.Info().Str("url", wsURL).Msg("live trade feed attached")
}

// startMetricsServer serves Prometheus metrics and the health endpoint.
func startMetricsServer(ctx context.Context, c *cfg.Settings) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		log.Info().Int("port", c.MetricsPort).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// waitForShutdown blocks until a signal arrives, then gives the workers a
// bounded window to stop.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("shutdown complete")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out, exiting")
	}
}
