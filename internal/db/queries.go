package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/hpungsan/rulesync/internal/errors"
)

// GetValue reads one cache key. ok is false when the key has never been written.
func GetValue(ctx context.Context, db *sql.DB, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewStorageUnavailable(err)
	}
	return value, true, nil
}

// GetValues reads several cache keys in one statement, so the result is a single
// consistent snapshot. Keys that were never written are absent from the map.
func GetValues(ctx context.Context, db *sql.DB, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM cache_entries WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	return values, nil
}

// PutValues upserts all given keys in a single transaction, so readers observe
// either every new value or none of them.
func PutValues(ctx context.Context, db *sql.DB, values map[string]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for key, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, now)
		if err != nil {
			return errors.NewStorageUnavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageUnavailable(err)
	}
	return nil
}

// SyncRun is one recorded remote sync attempt.
type SyncRun struct {
	ID         string  `json:"id"`
	Trigger    string  `json:"trigger"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt int64   `json:"finished_at"`
	Outcome    string  `json:"outcome"`
	RuleCount  int     `json:"rule_count"`
	ErrorCode  *string `json:"error_code,omitempty"`
}

// InsertSyncRun records a sync attempt.
func InsertSyncRun(ctx context.Context, db *sql.DB, run SyncRun) error {
	var code sql.NullString
	if run.ErrorCode != nil {
		code = sql.NullString{String: *run.ErrorCode, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, kind, started_at, finished_at, outcome, rule_count, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Trigger, run.StartedAt, run.FinishedAt, run.Outcome, run.RuleCount, code)
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	return nil
}

// ListSyncRuns returns the most recent sync attempts, newest first.
func ListSyncRuns(ctx context.Context, db *sql.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, started_at, finished_at, outcome, rule_count, error_code
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	defer rows.Close()

	runs := make([]SyncRun, 0)
	for rows.Next() {
		var run SyncRun
		var code sql.NullString
		if err := rows.Scan(&run.ID, &run.Trigger, &run.StartedAt, &run.FinishedAt,
			&run.Outcome, &run.RuleCount, &code); err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
		if code.Valid {
			c := code.String
			run.ErrorCode = &c
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	return runs, nil
}
