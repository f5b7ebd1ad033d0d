package ops

import (
	"context"

	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

// SyncOutput contains the result of a manual sync.
type SyncOutput struct {
	Rules    []rule.Entry `json:"rules"`
	Count    int          `json:"count"`
	LastSync int64        `json:"last_sync"`
}

// Sync fetches the remote catalogue now, regardless of freshness.
// On failure nothing is changed and the error is returned unchanged.
func Sync(ctx context.Context, cat Catalogue) (*SyncOutput, error) {
	res, err := cat.SyncNow(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("sync")
		}
		return nil, err
	}
	return &SyncOutput{
		Rules:    res.Rules,
		Count:    len(res.Rules),
		LastSync: millis(res.LastSync),
	}, nil
}

// StatusInput contains parameters for the Status operation.
type StatusInput struct {
	RunLimit int // default: 10, max: 100
}

// StatusOutput describes the cache without touching the network.
type StatusOutput struct {
	LastSync      *int64       `json:"last_sync"`
	NeedsSync     bool         `json:"needs_sync"`
	CachedCount   int          `json:"cached_count"`
	WindowSeconds int64        `json:"window_seconds"`
	Runs          []db.SyncRun `json:"runs"`
}

// Status reports freshness and the most recent sync runs.
func Status(ctx context.Context, cat Catalogue, input StatusInput) (*StatusOutput, error) {
	limit := input.RunLimit
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	if limit > MaxRunLimit {
		limit = MaxRunLimit
	}

	st, err := cat.Status(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &StatusOutput{
		LastSync:      rule.UnixMillis(st.LastSync),
		NeedsSync:     st.NeedsSync,
		CachedCount:   st.CachedCount,
		WindowSeconds: int64(st.Window.Seconds()),
		Runs:          st.Runs,
	}, nil
}
