// Package storage persists orders, fills, equity snapshots and candles in a
// local bbolt database. Keys are "<symbol>_<unixnano>" so range scans by
// symbol and time come straight off the B-tree cursor.
package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptrader/internal/exchange"
	"cryptrader/internal/order"
	"cryptrader/internal/portfolio"

	bolt "go.etcd.io/bbolt"
)

// Bucket names.
var (
	bucketOrders  = []byte("orders")
	bucketFills   = []byte("fills")
	bucketEquity  = []byte("equity")
	bucketCandles = []byte("candles")
)

// Fill is an executed trade recorded against an order.
type Fill struct {
	OrderID  string    `json:"orderId"`
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Amount   float64   `json:"amount"`
	Price    float64   `json:"price"`
	Ts       time.Time `json:"ts"`
}

// Store wraps a bbolt database with typed accessors.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (or creates) the database and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketOrders, bucketFills, bucketEquity, bucketCandles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func key(symbol string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%d", symbol, ts.UnixNano()))
}

func keyTime(k []byte) (time.Time, bool) {
	i := strings.LastIndexByte(string(k), '_')
	if i < 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(string(k[i+1:]), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

func (s *Store) put(bucket []byte, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(k, data)
	})
}

// rangeScan iterates a bucket's entries for one symbol within [from, to],
// decoding each value into a fresh T.
func rangeScan[T any](s *Store, bucket []byte, symbol string, from, to time.Time) ([]T, error) {
	prefix := []byte(symbol + "_")
	min := key(symbol, from)
	max := key(symbol, to)

	var out []T
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(min); k != nil && string(k) <= string(max); k, v = c.Next() {
			if !strings.HasPrefix(string(k), string(prefix)) {
				continue
			}
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			out = append(out, item)
		}
		return nil
	})
	return out, err
}

// SaveOrder persists an order record keyed by symbol and creation time.
func (s *Store) SaveOrder(o order.Order) error {
	return s.put(bucketOrders, key(o.Symbol, o.CreatedAt), o)
}

// OrdersInRange returns orders for a symbol within the time range.
func (s *Store) OrdersInRange(symbol string, from, to time.Time) ([]order.Order, error) {
	return rangeScan[order.Order](s, bucketOrders, symbol, from, to)
}

// SaveFill persists an executed fill.
func (s *Store) SaveFill(f Fill) error {
	return s.put(bucketFills, key(f.Symbol, f.Ts), f)
}

// FillsInRange returns fills for a symbol within the time range.
func (s *Store) FillsInRange(symbol string, from, to time.Time) ([]Fill, error) {
	return rangeScan[Fill](s, bucketFills, symbol, from, to)
}

// SaveEquity persists an equity snapshot. Equity points are global, keyed
// under a fixed pseudo-symbol.
func (s *Store) SaveEquity(p portfolio.EquityPoint) error {
	return s.put(bucketEquity, key("equity", p.Ts), p)
}

// EquityInRange returns equity snapshots within the time range.
func (s *Store) EquityInRange(from, to time.Time) ([]portfolio.EquityPoint, error) {
	return rangeScan[portfolio.EquityPoint](s, bucketEquity, "equity", from, to)
}

// SaveCandles persists a batch of candles for a symbol, keyed by open time.
// Existing keys are overwritten, which makes refreshing recent history
// idempotent.
func (s *Store) SaveCandles(symbol string, candles []exchange.Candle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCandles)
		for _, c := range candles {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal candle: %w", err)
			}
			if err := b.Put(key(symbol, c.OpenTime), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// CandlesInRange returns candles for a symbol within the time range in
// chronological order.
func (s *Store) CandlesInRange(symbol string, from, to time.Time) ([]exchange.Candle, error) {
	return rangeScan[exchange.Candle](s, bucketCandles, symbol, from, to)
}

// Counts returns per-bucket entry counts, surfaced through the engine
// status.
func (s *Store) Counts() (map[string]int, error) {
	counts := make(map[string]int, 4)
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketOrders, bucketFills, bucketEquity, bucketCandles} {
			counts[string(name)] = tx.Bucket(name).Stats().KeyN
		}
		return nil
	})
	return counts, err
}
