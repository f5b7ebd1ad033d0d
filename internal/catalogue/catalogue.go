// Package catalogue decides where the rule catalogue comes from on every request:
// the persistent cache while it is fresh, the remote endpoint when it is stale,
// and the last cached snapshot or the bundled catalogue when the remote fails.
package catalogue

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/rulesync/internal/cache"
	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/log"
	"github.com/hpungsan/rulesync/internal/metrics"
	"github.com/hpungsan/rulesync/internal/rule"
)

// DefaultWindow is the age after which the cached catalogue is stale.
const DefaultWindow = 24 * time.Hour

// Sync triggers and outcomes, as recorded in the run log and metrics.
const (
	TriggerLoad   = "load"
	TriggerManual = "manual"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// RemoteSource fetches the full catalogue. One call is one network attempt.
type RemoteSource interface {
	Fetch(ctx context.Context) ([]rule.Entry, error)
}

// LocalSource returns the bundled catalogue. It never fails.
type LocalSource interface {
	Load(ctx context.Context) []rule.Entry
}

// Options configures a Coordinator. Cache, Local and Remote are required.
type Options struct {
	Cache  cache.Cache
	Local  LocalSource
	Remote RemoteSource

	// Runs records every remote attempt when set.
	Runs cache.RunLog

	// Window defaults to DefaultWindow.
	Window time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	// Retries is the number of extra remote attempts LoadRules makes before
	// falling back, spaced by RetryBackoff * attempt. SyncNow never retries.
	Retries      int
	RetryBackoff time.Duration

	Logger zerolog.Logger
}

// Coordinator serves the catalogue. It is safe for concurrent use; concurrent
// remote syncs share one fetch and one commit.
type Coordinator struct {
	cache   cache.Cache
	local   LocalSource
	remote  RemoteSource
	runs    cache.RunLog
	window  time.Duration
	now     func() time.Time
	retries int
	backoff time.Duration
	logger  zerolog.Logger

	group singleflight.Group
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		cache:   opts.Cache,
		local:   opts.Local,
		remote:  opts.Remote,
		runs:    opts.Runs,
		window:  opts.Window,
		now:     opts.Now,
		retries: opts.Retries,
		backoff: opts.RetryBackoff,
		logger:  opts.Logger,
	}
	if c.window <= 0 {
		c.window = DefaultWindow
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.backoff <= 0 {
		c.backoff = 500 * time.Millisecond
	}
	return c
}

// Window returns the freshness window in use.
func (c *Coordinator) Window() time.Duration {
	return c.window
}

// NeedsSync reports whether a catalogue last synced at lastSync is stale at now.
// Exactly window old is still fresh.
func NeedsSync(lastSync *time.Time, now time.Time, window time.Duration) bool {
	return lastSync == nil || now.Sub(*lastSync) > window
}

// SyncResult is the outcome of a successful remote sync.
type SyncResult struct {
	Rules    []rule.Entry
	LastSync time.Time
}

// LoadRules returns the catalogue for one request. Remote, cache and local
// failures are absorbed into the returned State; the only error is the
// context's own when it is cancelled.
func (c *Coordinator) LoadRules(ctx context.Context) (rule.State, error) {
	snap, last := c.readCache(ctx)

	if snap != nil && !NeedsSync(last, c.now(), c.window) {
		metrics.CatalogueServed.WithLabelValues(string(rule.OriginCache)).Inc()
		return rule.State{Rules: snap.Entries, LastSync: last, Origin: rule.OriginCache}, nil
	}

	res, err := c.sync(ctx, TriggerLoad, c.retries)
	if err == nil {
		metrics.CatalogueServed.WithLabelValues(string(rule.OriginRemote)).Inc()
		lastSync := res.LastSync
		return rule.State{Rules: res.Rules, LastSync: &lastSync, Origin: rule.OriginRemote}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return rule.State{}, ctxErr
	}

	if snap != nil {
		metrics.CatalogueServed.WithLabelValues(string(rule.OriginCache)).Inc()
		return rule.State{
			Rules:     snap.Entries,
			LastSync:  last,
			NeedsSync: true,
			IsOffline: true,
			Origin:    rule.OriginCache,
		}, nil
	}

	metrics.CatalogueServed.WithLabelValues(string(rule.OriginLocal)).Inc()
	return rule.State{
		Rules:     c.local.Load(ctx),
		LastSync:  last,
		NeedsSync: true,
		IsOffline: true,
		Origin:    rule.OriginLocal,
	}, nil
}

// SyncNow fetches the remote catalogue regardless of freshness. On failure the
// error is returned unchanged and the cache is left as it was.
func (c *Coordinator) SyncNow(ctx context.Context) (SyncResult, error) {
	return c.sync(ctx, TriggerManual, 0)
}

// Status describes the cache without touching the network.
type Status struct {
	LastSync    *time.Time
	NeedsSync   bool
	CachedCount int
	Window      time.Duration
	Runs        []db.SyncRun
}

// Status reports the cache state and, when a run log is configured, the most recent sync runs.
func (c *Coordinator) Status(ctx context.Context, runLimit int) (Status, error) {
	snap, last, err := c.cache.Load(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		LastSync:  last,
		NeedsSync: snap == nil || NeedsSync(last, c.now(), c.window),
		Window:    c.window,
		Runs:      []db.SyncRun{},
	}
	if snap != nil {
		st.CachedCount = len(snap.Entries)
	}
	if c.runs != nil {
		runs, err := c.runs.ListRuns(ctx, runLimit)
		if err != nil {
			return Status{}, err
		}
		st.Runs = runs
	}
	return st, nil
}

// readCache treats storage faults as an absent cache. The snapshot and its
// sync time always come from the same commit.
func (c *Coordinator) readCache(ctx context.Context) (*rule.Snapshot, *time.Time) {
	snap, last, err := c.cache.Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cached catalogue unavailable")
		return nil, nil
	}
	return snap, last
}

// sync runs at most one remote fetch and commit at a time. Callers arriving
// while a sync is in flight wait for its result instead of starting another.
// The shared fetch runs under the first caller's context; if that caller goes
// away, a waiter whose own context is live starts one fresh fetch rather than
// inheriting the cancellation.
func (c *Coordinator) sync(ctx context.Context, trigger string, retries int) (SyncResult, error) {
	for attempt := 0; ; attempt++ {
		ch := c.group.DoChan("sync", func() (any, error) {
			return c.fetchAndCommit(ctx, trigger, retries)
		})

		var r singleflight.Result
		select {
		case <-ctx.Done():
			return SyncResult{}, ctx.Err()
		case r = <-ch:
		}
		if r.Err == nil {
			return r.Val.(SyncResult), nil
		}
		if ctx.Err() == nil && isContextErr(r.Err) {
			if attempt == 0 {
				c.logger.Debug().Str("trigger", trigger).Msg("shared sync was cancelled; fetching again")
				continue
			}
			return SyncResult{}, errors.NewNetwork(r.Err)
		}
		return SyncResult{}, r.Err
	}
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) fetchAndCommit(ctx context.Context, trigger string, retries int) (SyncResult, error) {
	runID := newRunID(c.now())
	logger := log.WithRunID(c.logger, runID).With().Str("trigger", trigger).Logger()
	timer := metrics.NewTimer()
	started := c.now()

	entries, err := c.fetch(ctx, retries, logger)
	timer.ObserveDuration(metrics.SyncDuration)
	finished := c.now()

	if err != nil {
		logger.Warn().Err(err).Msg("remote sync failed")
		metrics.SyncTotal.WithLabelValues(trigger, OutcomeError).Inc()
		code := string(errors.ErrInternal)
		if rErr, ok := errors.As(err); ok {
			code = string(rErr.Code)
		} else if ctx.Err() != nil {
			code = string(errors.ErrCancelled)
		}
		c.record(ctx, db.SyncRun{
			ID: runID, Trigger: trigger, StartedAt: started.UnixMilli(), FinishedAt: finished.UnixMilli(),
			Outcome: OutcomeError, ErrorCode: &code,
		}, logger)
		return SyncResult{}, err
	}

	snap := rule.Snapshot{Entries: entries, FetchedAt: &finished}
	if err := c.cache.Commit(context.WithoutCancel(ctx), snap, finished); err != nil {
		// The fetched data is still served; the next request syncs again.
		logger.Warn().Err(err).Msg("failed to persist synced catalogue")
	}

	metrics.SyncTotal.WithLabelValues(trigger, OutcomeOK).Inc()
	logger.Info().Int("rules", len(entries)).Dur("took", timer.Duration()).Msg("remote sync complete")
	c.record(ctx, db.SyncRun{
		ID: runID, Trigger: trigger, StartedAt: started.UnixMilli(), FinishedAt: finished.UnixMilli(),
		Outcome: OutcomeOK, RuleCount: len(entries),
	}, logger)

	return SyncResult{Rules: entries, LastSync: finished}, nil
}

// fetch makes 1+retries attempts with linear backoff.
func (c *Coordinator) fetch(ctx context.Context, retries int, logger zerolog.Logger) ([]rule.Entry, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
			logger.Debug().Int("attempt", attempt+1).Msg("retrying remote fetch")
		}
		entries, err := c.remote.Fetch(ctx)
		if err == nil {
			return entries, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Coordinator) record(ctx context.Context, run db.SyncRun, logger zerolog.Logger) {
	if c.runs == nil {
		return
	}
	if err := c.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn().Err(err).Msg("failed to record sync run")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
