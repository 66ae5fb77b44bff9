// Command backtest replays a CSV candle file through one strategy and
// prints the performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"cryptrader/internal/backtest"
	"cryptrader/internal/cfg"
	"cryptrader/internal/strategy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		candleFile = flag.String("candles", "", "CSV file with timestamp,open,high,low,close,volume rows")
		configFile = flag.String("config", "", "YAML config whose strategies section supplies parameters")
		stratType  = flag.String("strategy", "mean_reversion", "strategy type to replay, or its configured name with -config")
		symbol     = flag.String("symbol", "BTC/USDT", "symbol the candles belong to")
		balance    = flag.Float64("balance", 10000, "initial quote balance")
		commission = flag.Float64("commission", 0.001, "commission fraction per fill")
		stopLoss   = flag.Float64("stop-loss", 0, "fractional stop loss, 0 disables")
		takeProfit = flag.Float64("take-profit", 0, "fractional take profit, 0 disables")
		warmup     = flag.Int("warmup", 50, "bars consumed before trading starts")
		jsonOut    = flag.Bool("json", false, "emit the full report as JSON")
	)
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if *candleFile == "" {
		fmt.Fprintln(os.Stderr, "missing -candles file")
		flag.Usage()
		os.Exit(2)
	}

	candles, err := backtest.LoadCSV(*candleFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load candles")
	}

	sc := cfg.StrategyConfig{
		Name:    *stratType,
		Type:    *stratType,
		Symbol:  *symbol,
		Enabled: true,
	}
	if *configFile != "" {
		settings, err := cfg.LoadFile(*configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		named, ok := settings.StrategyByName(*stratType)
		if !ok {
			log.Fatal().Str("strategy", *stratType).Msg("strategy not found in config")
		}
		sc = named
		if sc.Symbol != "" {
			*symbol = sc.Symbol
		}
	}

	strat, err := strategy.New(sc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build strategy")
	}

	results, err := backtest.Run(context.Background(), strat, candles, backtest.Config{
		Symbol:         *symbol,
		InitialBalance: *balance,
		Commission:     *commission,
		StopLoss:       *stopLoss,
		TakeProfit:     *takeProfit,
		WarmupBars:     *warmup,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	if *jsonOut {
		err = results.WriteJSON(os.Stdout)
	} else {
		err = results.WriteText(os.Stdout)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write report")
	}
}
