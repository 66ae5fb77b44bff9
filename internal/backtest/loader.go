// Package backtest replays historical candles through a strategy with
// simulated fills, commission and protective stops, and reports the
// resulting performance.
package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptrader/internal/exchange"
)

// LoadCSV reads candles from a CSV file with columns
// timestamp,open,high,low,close,volume. The timestamp may be a unix second
// value or RFC 3339. A header row is detected and skipped.
func LoadCSV(path string) ([]exchange.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var candles []exchange.Candle
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candle file: %w", err)
		}
		line++

		c, err := parseRecord(record)
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles in %s", path)
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime.Before(candles[i-1].OpenTime) {
			return nil, fmt.Errorf("candles out of order at index %d", i)
		}
	}
	return candles, nil
}

func parseRecord(record []string) (exchange.Candle, error) {
	ts, err := parseTime(strings.TrimSpace(record[0]))
	if err != nil {
		return exchange.Candle{}, err
	}

	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		vals[i] = v
	}

	c := exchange.Candle{
		OpenTime: ts,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}
	if c.High < c.Low || c.Open <= 0 || c.Close <= 0 {
		return exchange.Candle{}, fmt.Errorf("inconsistent OHLC values")
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
