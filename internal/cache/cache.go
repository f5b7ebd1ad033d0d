// Package cache persists the last successfully synced catalogue and its sync time.
//
// Two durable keys are kept: KeyLastSync (Unix milliseconds) and KeyCatalogue
// (snapshot JSON). Every backend fault is reported as STORAGE_UNAVAILABLE.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

// Durable keys.
const (
	KeyLastSync  = "last_sync"
	KeyCatalogue = "catalogue"
)

// Cache is durable storage for one catalogue snapshot.
type Cache interface {
	// Get returns the stored snapshot, or nil if none exists.
	Get(ctx context.Context) (*rule.Snapshot, error)

	// Put overwrites the stored snapshot.
	Put(ctx context.Context, s rule.Snapshot) error

	// LastSyncTime returns the last successful sync time, or nil if never synced.
	LastSyncTime(ctx context.Context) (*time.Time, error)

	// SetLastSyncTime records the last successful sync time.
	SetLastSyncTime(ctx context.Context, t time.Time) error

	// Load reads the snapshot and the sync time from one consistent view, so a
	// concurrent Commit is seen entirely or not at all. Either may be nil.
	Load(ctx context.Context) (*rule.Snapshot, *time.Time, error)

	// Commit stores the snapshot and the sync time as one atomic unit.
	Commit(ctx context.Context, s rule.Snapshot, syncedAt time.Time) error
}

// RunLog records remote sync attempts.
type RunLog interface {
	RecordRun(ctx context.Context, run db.SyncRun) error
	ListRuns(ctx context.Context, limit int) ([]db.SyncRun, error)
}

func encodeSnapshot(s rule.Snapshot) (string, error) {
	if s.Entries == nil {
		s.Entries = []rule.Entry{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", errors.NewStorageUnavailable(err)
	}
	return string(data), nil
}

func decodeSnapshot(value string) (*rule.Snapshot, error) {
	var s rule.Snapshot
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		return nil, errors.NewStorageUnavailable(fmt.Errorf("decode %s: %w", KeyCatalogue, err))
	}
	return &s, nil
}

// decodePair decodes the values read by a backend's Load. Missing keys decode to nil.
func decodePair(catalogue string, hasCatalogue bool, lastSync string, hasLastSync bool) (*rule.Snapshot, *time.Time, error) {
	var (
		snap *rule.Snapshot
		last *time.Time
		err  error
	)
	if hasCatalogue {
		if snap, err = decodeSnapshot(catalogue); err != nil {
			return nil, nil, err
		}
	}
	if hasLastSync {
		if last, err = decodeTime(lastSync); err != nil {
			return nil, nil, err
		}
	}
	return snap, last, nil
}

func encodeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeTime(value string) (*time.Time, error) {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, errors.NewStorageUnavailable(fmt.Errorf("decode %s: %w", KeyLastSync, err))
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
