package catalogue

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/rulesync/internal/cache"
	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

var (
	cachedRules = []rule.Entry{{Title: "Cached", Slug: "cached", Tags: []string{}, Libs: []string{}, Content: "c"}}
	remoteRules = []rule.Entry{{Title: "Remote", Slug: "remote", Tags: []string{}, Libs: []string{}, Content: "r"}}
	localRules  = []rule.Entry{{Title: "Local", Slug: "local", Tags: []string{}, Libs: []string{}, Content: "l"}}
)

// fakeRemote returns results in order, repeating the last one.
type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	results []fetchResult
	gate    chan struct{}
	entered atomic.Int32
}

type fetchResult struct {
	entries []rule.Entry
	err     error
}

func (f *fakeRemote) Fetch(ctx context.Context) ([]rule.Entry, error) {
	f.entered.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i].entries, f.results[i].err
}

func (f *fakeRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func remoteOK() *fakeRemote {
	return &fakeRemote{results: []fetchResult{{entries: remoteRules}}}
}

func remoteFailing() *fakeRemote {
	return &fakeRemote{results: []fetchResult{{err: errors.NewNetwork(stderrors.New("connection refused"))}}}
}

type fakeLocal struct {
	calls atomic.Int32
}

func (f *fakeLocal) Load(context.Context) []rule.Entry {
	f.calls.Add(1)
	return localRules
}

// memCache is an in-memory Cache with fault injection.
type memCache struct {
	mu        sync.Mutex
	snap      *rule.Snapshot
	last      *time.Time
	getErr    error
	commitErr error
	commits   int
}

func (m *memCache) Get(context.Context) (*rule.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.snap, nil
}

func (m *memCache) Put(_ context.Context, s rule.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &s
	return nil
}

func (m *memCache) LastSyncTime(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.last, nil
}

func (m *memCache) Load(context.Context) (*rule.Snapshot, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, nil, m.getErr
	}
	return m.snap, m.last, nil
}

func (m *memCache) SetLastSyncTime(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &t
	return nil
}

func (m *memCache) Commit(_ context.Context, s rule.Snapshot, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	m.snap = &s
	m.last = &t
	return nil
}

// interleavedCache commits a newer catalogue from another process right after
// every Get, the window in which a separate LastSyncTime read would pair the old
// snapshot with the new sync time.
type interleavedCache struct {
	*memCache
	next   rule.Snapshot
	nextAt time.Time
}

func (c *interleavedCache) Get(ctx context.Context) (*rule.Snapshot, error) {
	snap, err := c.memCache.Get(ctx)
	_ = c.memCache.Commit(ctx, c.next, c.nextAt)
	return snap, err
}

func seeded(last time.Time) *memCache {
	return &memCache{snap: &rule.Snapshot{Entries: cachedRules, FetchedAt: &last}, last: &last}
}

var baseNow = time.UnixMilli(1700000000000)

func newCoordinator(c cache.Cache, remote RemoteSource, local LocalSource) *Coordinator {
	return New(Options{
		Cache:        c,
		Local:        local,
		Remote:       remote,
		Now:          func() time.Time { return baseNow },
		RetryBackoff: time.Millisecond,
		Logger:       zerolog.Nop(),
	})
}

func TestNeedsSync(t *testing.T) {
	now := baseNow
	at := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	require.True(t, NeedsSync(nil, now, DefaultWindow))
	require.False(t, NeedsSync(at(0), now, DefaultWindow))
	require.False(t, NeedsSync(at(DefaultWindow), now, DefaultWindow))
	require.True(t, NeedsSync(at(DefaultWindow+time.Millisecond), now, DefaultWindow))
}

func TestLoadRules_FreshCacheMakesNoNetworkCall(t *testing.T) {
	remote := remoteOK()
	local := &fakeLocal{}
	c := seeded(baseNow.Add(-time.Hour))

	st, err := newCoordinator(c, remote, local).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, cachedRules, st.Rules)
	require.False(t, st.NeedsSync)
	require.False(t, st.IsOffline)
	require.Equal(t, rule.OriginCache, st.Origin)
	require.Equal(t, 0, remote.Calls())
	require.Equal(t, int32(0), local.calls.Load())
}

func TestLoadRules_StaleBoundary(t *testing.T) {
	t.Run("exactly window old is fresh", func(t *testing.T) {
		remote := remoteOK()
		st, err := newCoordinator(seeded(baseNow.Add(-DefaultWindow)), remote, &fakeLocal{}).LoadRules(context.Background())
		require.NoError(t, err)
		require.Equal(t, rule.OriginCache, st.Origin)
		require.Equal(t, 0, remote.Calls())
	})

	t.Run("one millisecond past window syncs", func(t *testing.T) {
		remote := remoteOK()
		c := seeded(baseNow.Add(-DefaultWindow - time.Millisecond))
		st, err := newCoordinator(c, remote, &fakeLocal{}).LoadRules(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, remote.Calls())
		require.Equal(t, remoteRules, st.Rules)
		require.Equal(t, rule.OriginRemote, st.Origin)
		require.False(t, st.NeedsSync)
		require.False(t, st.IsOffline)

		// Commit stored both the data and the sync time.
		require.Equal(t, 1, c.commits)
		require.Equal(t, remoteRules, c.snap.Entries)
		require.True(t, c.last.Equal(baseNow))
		require.True(t, st.LastSync.Equal(baseNow))
	})
}

func TestLoadRules_FirstRunOnline(t *testing.T) {
	c := &memCache{}
	local := &fakeLocal{}

	st, err := newCoordinator(c, remoteOK(), local).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, remoteRules, st.Rules)
	require.Equal(t, rule.OriginRemote, st.Origin)
	require.NotNil(t, st.LastSync)
	require.Equal(t, int32(0), local.calls.Load())
	require.NotNil(t, c.snap)
}

func TestLoadRules_FirstRunOfflineUsesLocal(t *testing.T) {
	c := &memCache{}
	local := &fakeLocal{}

	st, err := newCoordinator(c, remoteFailing(), local).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, localRules, st.Rules)
	require.Nil(t, st.LastSync)
	require.True(t, st.NeedsSync)
	require.True(t, st.IsOffline)
	require.Equal(t, rule.OriginLocal, st.Origin)
	require.Nil(t, c.snap, "local fallback must not be cached")
}

func TestLoadRules_StaleCacheRemoteDownServesCache(t *testing.T) {
	last := baseNow.Add(-48 * time.Hour)
	c := seeded(last)
	local := &fakeLocal{}

	st, err := newCoordinator(c, remoteFailing(), local).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, cachedRules, st.Rules)
	require.True(t, st.NeedsSync)
	require.True(t, st.IsOffline)
	require.Equal(t, rule.OriginCache, st.Origin)
	require.True(t, st.LastSync.Equal(last))
	require.Equal(t, int32(0), local.calls.Load())
	require.Equal(t, 0, c.commits)
}

func TestLoadRules_ReadsSnapshotAndSyncTimeTogether(t *testing.T) {
	other := []rule.Entry{{Title: "Other", Slug: "other", Tags: []string{}, Libs: []string{}, Content: "o"}}
	c := &interleavedCache{
		memCache: seeded(baseNow.Add(-48 * time.Hour)),
		next:     rule.Snapshot{Entries: other},
		nextAt:   baseNow,
	}
	remote := remoteOK()

	st, err := newCoordinator(c, remote, &fakeLocal{}).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, remote.Calls(), "a stale snapshot must not be served as fresh")
	require.Equal(t, rule.OriginRemote, st.Origin)
	require.Equal(t, remoteRules, st.Rules)
	require.NotEqual(t, cachedRules, st.Rules)
}

func TestLoadRules_StorageFaultTreatedAsAbsent(t *testing.T) {
	c := &memCache{getErr: errors.NewStorageUnavailable(stderrors.New("disk gone"))}

	st, err := newCoordinator(c, remoteFailing(), &fakeLocal{}).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, rule.OriginLocal, st.Origin)
	require.Equal(t, localRules, st.Rules)
}

func TestLoadRules_CommitFailureStillServesFetched(t *testing.T) {
	c := &memCache{commitErr: errors.NewStorageUnavailable(stderrors.New("read-only"))}

	st, err := newCoordinator(c, remoteOK(), &fakeLocal{}).LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, remoteRules, st.Rules)
	require.Equal(t, rule.OriginRemote, st.Origin)
	require.Nil(t, c.snap)
}

func TestLoadRules_RetriesBeforeFallback(t *testing.T) {
	remote := &fakeRemote{results: []fetchResult{
		{err: errors.NewNetwork(stderrors.New("reset"))},
		{err: errors.NewRemote(503)},
		{entries: remoteRules},
	}}

	co := New(Options{
		Cache:        &memCache{},
		Local:        &fakeLocal{},
		Remote:       remote,
		Retries:      2,
		RetryBackoff: time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	st, err := co.LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, remote.Calls())
	require.Equal(t, rule.OriginRemote, st.Origin)
}

func TestLoadRules_CancelledContext(t *testing.T) {
	remote := &fakeRemote{results: []fetchResult{{entries: remoteRules}}, gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(&memCache{}, remote, &fakeLocal{}).LoadRules(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSyncNow_SuccessCommits(t *testing.T) {
	c := seeded(baseNow.Add(-time.Hour))
	remote := remoteOK()

	res, err := newCoordinator(c, remote, &fakeLocal{}).SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, remoteRules, res.Rules)
	require.True(t, res.LastSync.Equal(baseNow))
	require.Equal(t, 1, remote.Calls(), "manual sync ignores freshness")
	require.Equal(t, remoteRules, c.snap.Entries)
}

func TestSyncNow_FailureMutatesNothing(t *testing.T) {
	last := baseNow.Add(-time.Hour)
	c := seeded(last)
	remote := &fakeRemote{results: []fetchResult{{err: errors.NewRemote(500)}}}

	co := New(Options{
		Cache:   c,
		Local:   &fakeLocal{},
		Remote:  remote,
		Retries: 3,
		Logger:  zerolog.Nop(),
	})

	_, err := co.SyncNow(context.Background())
	require.True(t, errors.Is(err, errors.ErrRemote), "got %v", err)
	require.Equal(t, 1, remote.Calls(), "manual sync makes a single attempt")
	require.Equal(t, cachedRules, c.snap.Entries)
	require.True(t, c.last.Equal(last))
	require.Equal(t, 0, c.commits)
}

func TestSyncNow_SecondSyncOverwrites(t *testing.T) {
	second := []rule.Entry{{Title: "Second", Slug: "second", Tags: []string{}, Libs: []string{}, Content: "2"}}
	remote := &fakeRemote{results: []fetchResult{{entries: remoteRules}, {entries: second}}}
	c := &memCache{}

	clock := baseNow
	co := New(Options{
		Cache:  c,
		Local:  &fakeLocal{},
		Remote: remote,
		Now:    func() time.Time { return clock },
		Logger: zerolog.Nop(),
	})

	_, err := co.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, remoteRules, c.snap.Entries)

	clock = baseNow.Add(time.Minute)
	res, err := co.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, second, res.Rules)

	// The second catalogue replaces the first; nothing is merged.
	require.Equal(t, second, c.snap.Entries)
	require.True(t, c.last.Equal(clock))
	require.Equal(t, 2, c.commits)

	st, err := co.LoadRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, rule.OriginCache, st.Origin)
	require.Equal(t, second, st.Rules)
}

func TestSync_WaiterSurvivesLeaderCancellation(t *testing.T) {
	remote := &fakeRemote{results: []fetchResult{{entries: remoteRules}}, gate: make(chan struct{})}
	c := &memCache{}
	co := newCoordinator(c, remote, &fakeLocal{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := co.SyncNow(leaderCtx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool {
		return remote.entered.Load() == 1
	}, time.Second, time.Millisecond)

	type outcome struct {
		res SyncResult
		err error
	}
	waiter := make(chan outcome, 1)
	go func() {
		res, err := co.SyncNow(context.Background())
		waiter <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	// The waiter starts its own fetch once the shared one is abandoned.
	require.Eventually(t, func() bool {
		return remote.entered.Load() == 2
	}, time.Second, time.Millisecond)
	close(remote.gate)

	got := <-waiter
	require.NoError(t, got.err)
	require.Equal(t, remoteRules, got.res.Rules)
	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 1, c.commits)
}

func TestSync_ConcurrentCallersShareOneFetch(t *testing.T) {
	remote := &fakeRemote{results: []fetchResult{{entries: remoteRules}}, gate: make(chan struct{})}
	c := &memCache{}
	co := newCoordinator(c, remote, &fakeLocal{})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]SyncResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = co.SyncNow(context.Background())
		}(i)
	}

	// Let every caller join the in-flight sync before releasing it.
	require.Eventually(t, func() bool {
		return remote.entered.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, remoteRules, results[i].Rules)
	}
	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 1, c.commits)
}

func TestStatus(t *testing.T) {
	sqlDB, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer sqlDB.Close()
	store := cache.NewSQLite(sqlDB)

	remote := &fakeRemote{results: []fetchResult{
		{entries: remoteRules},
		{err: errors.NewNetwork(stderrors.New("offline"))},
	}}
	co := New(Options{
		Cache:  store,
		Runs:   store,
		Local:  &fakeLocal{},
		Remote: remote,
		Now:    func() time.Time { return baseNow },
		Logger: zerolog.Nop(),
	})

	st, err := co.Status(context.Background(), 10)
	require.NoError(t, err)
	require.Nil(t, st.LastSync)
	require.True(t, st.NeedsSync)
	require.Equal(t, 0, st.CachedCount)
	require.Empty(t, st.Runs)
	require.Equal(t, DefaultWindow, st.Window)

	_, err = co.SyncNow(context.Background())
	require.NoError(t, err)
	_, err = co.SyncNow(context.Background())
	require.Error(t, err)

	st, err = co.Status(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, st.LastSync)
	require.False(t, st.NeedsSync)
	require.Equal(t, len(remoteRules), st.CachedCount)
	require.Len(t, st.Runs, 2)

	var ok, failed int
	for _, run := range st.Runs {
		require.Equal(t, TriggerManual, run.Trigger)
		switch run.Outcome {
		case OutcomeOK:
			ok++
			require.Equal(t, len(remoteRules), run.RuleCount)
		case OutcomeError:
			failed++
			require.NotNil(t, run.ErrorCode)
			require.Equal(t, string(errors.ErrNetwork), *run.ErrorCode)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
}
