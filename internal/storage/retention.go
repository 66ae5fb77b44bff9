package storage

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	bolt "go.etcd.io/bbolt"
)

// archived is one exported entry: its key and raw stored value.
type archived struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Sweep removes entries older than the retention window from every bucket.
// Before deletion each bucket's expired entries are exported to a
// gzip-compressed JSON file under <dir>/archive. Returns the number of
// entries removed.
func (s *Store) Sweep(retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	archiveDir := filepath.Join(filepath.Dir(s.path), "archive")
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	total := 0
	for _, bucket := range [][]byte{bucketOrders, bucketFills, bucketEquity, bucketCandles} {
		removed, err := s.sweepBucket(bucket, cutoff, archiveDir, now)
		if err != nil {
			return total, fmt.Errorf("sweep %s: %w", bucket, err)
		}
		total += removed
	}

	if total > 0 {
		log.Info().Int("removed", total).Time("cutoff", cutoff).Msg("retention sweep completed")
	}
	return total, nil
}

func (s *Store) sweepBucket(bucket []byte, cutoff time.Time, archiveDir string, now time.Time) (int, error) {
	// Collect expired entries in a read transaction first, then archive,
	// then delete. A crash between archive and delete only duplicates data.
	var expired []archived
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			ts, ok := keyTime(k)
			if ok && ts.Before(cutoff) {
				expired = append(expired, archived{
					Key:   string(k),
					Value: json.RawMessage(append([]byte(nil), v...)),
				})
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := writeArchive(archiveDir, string(bucket), now, expired); err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		for _, e := range expired {
			if err := b.Delete([]byte(e.Key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func writeArchive(dir, bucket string, now time.Time, entries []archived) error {
	name := fmt.Sprintf("%s-%s.json.gz", bucket, now.UTC().Format("20060102T150405"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(entries); err != nil {
		gz.Close()
		return fmt.Errorf("encode archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return f.Sync()
}
