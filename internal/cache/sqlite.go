package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/rule"
)

// SQLite stores the cache in the cache_entries table of the rulesync database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an initialized database (see db.Init).
func NewSQLite(database *sql.DB) *SQLite {
	return &SQLite{db: database}
}

// Get implements Cache.
func (c *SQLite) Get(ctx context.Context) (*rule.Snapshot, error) {
	value, ok, err := db.GetValue(ctx, c.db, KeyCatalogue)
	if err != nil || !ok {
		return nil, err
	}
	return decodeSnapshot(value)
}

// Put implements Cache.
func (c *SQLite) Put(ctx context.Context, s rule.Snapshot) error {
	value, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	return db.PutValues(ctx, c.db, map[string]string{KeyCatalogue: value})
}

// LastSyncTime implements Cache.
func (c *SQLite) LastSyncTime(ctx context.Context) (*time.Time, error) {
	value, ok, err := db.GetValue(ctx, c.db, KeyLastSync)
	if err != nil || !ok {
		return nil, err
	}
	return decodeTime(value)
}

// SetLastSyncTime implements Cache.
func (c *SQLite) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return db.PutValues(ctx, c.db, map[string]string{KeyLastSync: encodeTime(t)})
}

// Load implements Cache. Both keys come from one SELECT.
func (c *SQLite) Load(ctx context.Context) (*rule.Snapshot, *time.Time, error) {
	values, err := db.GetValues(ctx, c.db, KeyCatalogue, KeyLastSync)
	if err != nil {
		return nil, nil, err
	}
	catalogue, hasCatalogue := values[KeyCatalogue]
	lastSync, hasLastSync := values[KeyLastSync]
	return decodePair(catalogue, hasCatalogue, lastSync, hasLastSync)
}

// Commit implements Cache. Both keys are written in one transaction.
func (c *SQLite) Commit(ctx context.Context, s rule.Snapshot, syncedAt time.Time) error {
	value, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	return db.PutValues(ctx, c.db, map[string]string{
		KeyCatalogue: value,
		KeyLastSync:  encodeTime(syncedAt),
	})
}

// RecordRun implements RunLog.
func (c *SQLite) RecordRun(ctx context.Context, run db.SyncRun) error {
	return db.InsertSyncRun(ctx, c.db, run)
}

// ListRuns implements RunLog.
func (c *SQLite) ListRuns(ctx context.Context, limit int) ([]db.SyncRun, error) {
	return db.ListSyncRuns(ctx, c.db, limit)
}
