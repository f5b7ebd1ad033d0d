package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

// BoltFileName is the bbolt file created inside the base directory.
const BoltFileName = "rulesync.bolt"

var (
	// Bucket names
	bucketCache = []byte("cache")
	bucketRuns  = []byte("sync_runs")
)

// Bolt stores the cache in a bbolt file. Run IDs are ULIDs, so the runs bucket
// iterates in chronological order.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) baseDir/rulesync.bolt.
func OpenBolt(baseDir string) (*Bolt, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, BoltFileName)
	bdb, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCache, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &Bolt{db: bdb}, nil
}

// Close closes the database
func (c *Bolt) Close() error {
	return c.db.Close()
}

func (c *Bolt) get(key string) (string, bool, error) {
	var value []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCache).Get([]byte(key)); v != nil {
			// bbolt values are only valid inside the transaction
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", false, errors.NewStorageUnavailable(err)
	}
	return string(value), value != nil, nil
}

func (c *Bolt) put(values map[string]string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	return nil
}

// Get implements Cache.
func (c *Bolt) Get(_ context.Context) (*rule.Snapshot, error) {
	value, ok, err := c.get(KeyCatalogue)
	if err != nil || !ok {
		return nil, err
	}
	return decodeSnapshot(value)
}

// Put implements Cache.
func (c *Bolt) Put(_ context.Context, s rule.Snapshot) error {
	value, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	return c.put(map[string]string{KeyCatalogue: value})
}

// LastSyncTime implements Cache.
func (c *Bolt) LastSyncTime(_ context.Context) (*time.Time, error) {
	value, ok, err := c.get(KeyLastSync)
	if err != nil || !ok {
		return nil, err
	}
	return decodeTime(value)
}

// SetLastSyncTime implements Cache.
func (c *Bolt) SetLastSyncTime(_ context.Context, t time.Time) error {
	return c.put(map[string]string{KeyLastSync: encodeTime(t)})
}

// Load implements Cache. Both keys are read in one View transaction.
func (c *Bolt) Load(_ context.Context) (*rule.Snapshot, *time.Time, error) {
	var catalogue, lastSync []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		if v := b.Get([]byte(KeyCatalogue)); v != nil {
			catalogue = append([]byte(nil), v...)
		}
		if v := b.Get([]byte(KeyLastSync)); v != nil {
			lastSync = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.NewStorageUnavailable(err)
	}
	return decodePair(string(catalogue), catalogue != nil, string(lastSync), lastSync != nil)
}

// Commit implements Cache. Both keys are written in one Update transaction.
func (c *Bolt) Commit(_ context.Context, s rule.Snapshot, syncedAt time.Time) error {
	value, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	return c.put(map[string]string{
		KeyCatalogue: value,
		KeyLastSync:  encodeTime(syncedAt),
	})
}

// RecordRun implements RunLog.
func (c *Bolt) RecordRun(_ context.Context, run db.SyncRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
	})
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	return nil
}

// ListRuns implements RunLog, newest first.
func (c *Bolt) ListRuns(_ context.Context, limit int) ([]db.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}

	runs := make([]db.SyncRun, 0)
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketRuns).Cursor()
		for k, v := cur.Last(); k != nil && len(runs) < limit; k, v = cur.Prev() {
			var run db.SyncRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	return runs, nil
}
