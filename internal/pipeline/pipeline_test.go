package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"github.com/couchcryptid/quake-feed-service/internal/ratelimit"
	"github.com/couchcryptid/quake-feed-service/internal/state"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokyoFeed = "time,latitude,longitude,depth,mag,id,place\n" +
	"2024-01-15T10:30:00.000Z,35.6762,139.6503,10.5,4.5,us7000abcd,\"Near Tokyo, Japan\"\n"

const twoEventFeed = tokyoFeed +
	"2024-01-15T11:00:00.000Z,37.7749,-122.4194,8.0,2.1,nc1234,San Francisco\n"

// --- mocks ---

type fetchResponse struct {
	text string
	err  error
}

type mockFetcher struct {
	responses []fetchResponse // consumed in order; the last one repeats
	release   chan struct{}   // when set, Fetch waits for it before returning
	passFirst int             // calls that skip the release wait
	calls     atomic.Int64
}

func (m *mockFetcher) Fetch(_ context.Context) (string, error) {
	n := int(m.calls.Add(1) - 1)
	if m.release != nil && n >= m.passFirst {
		<-m.release
	}
	if n >= len(m.responses) {
		n = len(m.responses) - 1
	}
	r := m.responses[n]
	return r.text, r.err
}

type mockSink struct {
	mu        sync.Mutex
	published [][]domain.Quake
	err       error
}

func (m *mockSink) Publish(_ context.Context, events []domain.Quake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, events)
	return m.err
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// --- harness ---

type harness struct {
	clock   *clockwork.FakeClock
	store   *ratelimit.MemoryStore
	state   *state.State
	fetcher *mockFetcher
	sink    *mockSink
	metrics *observability.Metrics
	sched   *pipeline.Scheduler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(responses ...fetchResponse) *harness {
	h := &harness{
		clock:   clockwork.NewFakeClockAt(time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)),
		store:   ratelimit.NewMemoryStore(),
		state:   state.New(),
		fetcher: &mockFetcher{responses: responses},
		sink:    &mockSink{},
		metrics: observability.NewMetricsForTesting(),
	}
	ledger := ratelimit.NewLedger(h.store, discardLogger())
	h.sched = pipeline.New(h.fetcher, ledger, h.state, h.clock, discardLogger(), h.metrics, h.sink)
	return h
}

// start runs the scheduler in the background and returns a stop function that
// cancels it and waits for Run to return.
func (h *harness) start(t *testing.T) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}
	t.Cleanup(stop)
	return ctx, stop
}

// waitForTickers blocks until the poll and status tickers are both registered.
func (h *harness) waitForTickers(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 2))
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// --- tests ---

func TestScheduler_Run_ImmediateAttempt(t *testing.T) {
	h := newHarness(fetchResponse{text: twoEventFeed})
	require.Error(t, h.sched.CheckReadiness(context.Background()))

	h.start(t)

	eventually(t, h.state.Loaded, "state should load after first attempt")
	assert.Len(t, h.state.Events(), 2)
	assert.EqualValues(t, 1, h.fetcher.calls.Load())
	assert.NoError(t, h.sched.CheckReadiness(context.Background()))
	eventually(t, func() bool { return h.sink.count() == 1 }, "sink should receive the published set")
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.SchedulerRunning), 0)
}

func TestScheduler_Run_PollsEveryTenSeconds(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed}, fetchResponse{text: twoEventFeed})
	h.start(t)
	h.waitForTickers(t)
	require.EqualValues(t, 1, h.fetcher.calls.Load())

	h.clock.Advance(pipeline.PollInterval)

	eventually(t, func() bool { return len(h.state.Events()) == 2 }, "second poll should replace the event set")
	assert.EqualValues(t, 2, h.fetcher.calls.Load())
	assert.InDelta(t, 2.0, testutil.ToFloat64(h.metrics.FetchResults.WithLabelValues("auto", "success")), 0)
}

func TestScheduler_Run_StopsOnCancel(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	_, stop := h.start(t)
	h.waitForTickers(t)

	stop()

	assert.InDelta(t, 0.0, testutil.ToFloat64(h.metrics.SchedulerRunning), 0)
	r := h.sched.Refresh(context.Background())
	assert.ErrorIs(t, r.Err, pipeline.ErrStopped)
	assert.EqualValues(t, 1, h.fetcher.calls.Load())
}

func TestScheduler_FirstFailureMarksLoadedWithNoEvents(t *testing.T) {
	h := newHarness(fetchResponse{err: errors.New("connection refused")})
	h.start(t)

	eventually(t, h.state.Loaded, "a failed first attempt still resolves loading")
	assert.Empty(t, h.state.Events())
	assert.NoError(t, h.sched.CheckReadiness(context.Background()))
	assert.Zero(t, h.sink.count())
}

// A failed refresh keeps the previously published events on purpose so the
// view stays populated while the upstream feed is unreachable.
func TestScheduler_FailureRetainsPreviousEvents(t *testing.T) {
	h := newHarness(
		fetchResponse{text: twoEventFeed},
		fetchResponse{err: errors.New("upstream 503")},
	)
	ctx := context.Background()

	first := h.sched.Refresh(ctx)
	require.NoError(t, first.Err)
	require.True(t, first.Fetched)
	assert.Equal(t, 2, first.Events)

	second := h.sched.Refresh(ctx)
	require.Error(t, second.Err)
	assert.False(t, second.Fetched)

	events := h.state.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "us7000abcd", events[0].ID)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.FetchResults.WithLabelValues("manual", "failure")), 0)
}

func TestScheduler_EmptyFeedReplacesEvents(t *testing.T) {
	h := newHarness(
		fetchResponse{text: twoEventFeed},
		fetchResponse{text: "time,latitude,longitude\n"},
	)
	ctx := context.Background()

	h.sched.Refresh(ctx)
	require.Len(t, h.state.Events(), 2)

	r := h.sched.Refresh(ctx)
	require.NoError(t, r.Err)
	assert.True(t, r.Fetched)
	assert.Empty(t, h.state.Events())
	assert.True(t, h.state.Loaded())
}

func TestScheduler_DeniedDuringCooldownSkipsFetch(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	ctx := context.Background()
	deadline := h.clock.Now().Add(time.Minute).UnixMilli()
	require.NoError(t, h.store.Set(ctx, ratelimit.CooldownKey, strconv.FormatInt(deadline, 10)))

	r := h.sched.Refresh(ctx)

	assert.Equal(t, ratelimit.DeniedCooldown, r.Decision.Outcome)
	assert.Equal(t, time.Minute, r.Decision.Remaining)
	assert.False(t, r.Fetched)
	assert.Zero(t, h.fetcher.calls.Load())
	assert.True(t, r.Status.Denied)
	assert.Equal(t, 60, r.Status.CooldownSeconds())
	assert.True(t, h.state.Loaded(), "a denied first attempt still resolves loading")
	assert.Empty(t, h.state.Events())
}

func TestScheduler_ManualRefreshSharesBudget(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	ctx := context.Background()

	for i := range ratelimit.Capacity {
		r := h.sched.Refresh(ctx)
		require.Truef(t, r.Decision.Allowed(), "attempt %d", i+1)
		require.True(t, r.Fetched)
	}

	r := h.sched.Refresh(ctx)

	assert.Equal(t, ratelimit.DeniedCooldown, r.Decision.Outcome)
	assert.EqualValues(t, ratelimit.Capacity, h.fetcher.calls.Load())
	assert.Equal(t, 0, r.Status.Remaining)
	assert.Equal(t, 120, r.Status.CooldownSeconds())
	assert.Equal(t, r.Status, h.state.Status())
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.FetchAttempts.WithLabelValues("manual", "denied_cooldown")), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(h.metrics.RateLimitRemaining), 0)
}

func TestScheduler_AutoAttemptsDeniedAfterManualExhaustion(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	ctx := context.Background()
	for range ratelimit.Capacity {
		h.sched.Refresh(ctx)
	}

	h.start(t)
	h.waitForTickers(t)
	h.clock.Advance(pipeline.PollInterval)

	eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.FetchAttempts.WithLabelValues("auto", "denied_cooldown")) == 2
	}, "both automatic attempts should be denied")
	assert.EqualValues(t, ratelimit.Capacity, h.fetcher.calls.Load())
}

func TestScheduler_StatusObserverCountsDown(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	ctx := context.Background()
	for range ratelimit.Capacity {
		h.sched.Refresh(ctx)
	}
	require.Equal(t, 120, h.state.Status().CooldownSeconds())

	h.start(t)
	h.waitForTickers(t)

	h.clock.Advance(pipeline.StatusInterval)
	eventually(t, func() bool { return h.state.Status().CooldownSeconds() == 119 }, "status should tick down")

	h.clock.Advance(pipeline.StatusInterval)
	eventually(t, func() bool { return h.state.Status().CooldownSeconds() == 118 }, "status should keep ticking")
	assert.True(t, h.state.Status().Denied)
}

func TestScheduler_DiscardsResultAfterShutdown(t *testing.T) {
	h := newHarness(fetchResponse{text: twoEventFeed})
	h.fetcher.release = make(chan struct{})
	_, stop := h.start(t)

	eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, "first fetch should be in flight")

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	// Let the cancellation land before the response does.
	time.Sleep(20 * time.Millisecond)
	close(h.fetcher.release)
	<-stopped

	assert.False(t, h.state.Loaded())
	assert.Empty(t, h.state.Events())
	assert.Zero(t, h.sink.count())
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.FetchResults.WithLabelValues("auto", "discarded")), 0)
}

func TestScheduler_RefreshRejectedOnceRunIsCancelled(t *testing.T) {
	h := newHarness(fetchResponse{text: twoEventFeed})
	h.fetcher.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()
	eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, "first fetch should be in flight")

	// Run is still blocked in its fetch, so only the context knows it is over.
	cancel()
	eventually(t, func() bool { return testutil.ToFloat64(h.metrics.SchedulerRunning) == 0 }, "scheduler should halt")

	r := h.sched.Refresh(context.Background())
	require.ErrorIs(t, r.Err, pipeline.ErrStopped)
	assert.EqualValues(t, 1, h.fetcher.calls.Load())

	close(h.fetcher.release)
	require.NoError(t, <-done)

	ledger := ratelimit.NewLedger(h.store, discardLogger())
	assert.Equal(t, ratelimit.Capacity-1, ledger.Remaining(context.Background(), h.clock.Now()))
	assert.False(t, h.state.Loaded())
	assert.Empty(t, h.state.Events())
}

func TestScheduler_ManualFetchInFlightAtShutdownIsDiscarded(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed}, fetchResponse{text: twoEventFeed})
	h.fetcher.release = make(chan struct{})
	h.fetcher.passFirst = 1
	_, stop := h.start(t)
	eventually(t, func() bool { return len(h.state.Events()) == 1 }, "first attempt should publish")

	results := make(chan pipeline.Result, 1)
	go func() { results <- h.sched.Refresh(context.Background()) }()
	eventually(t, func() bool { return h.fetcher.calls.Load() == 2 }, "manual fetch should be in flight")

	stop()
	close(h.fetcher.release)
	r := <-results

	require.ErrorIs(t, r.Err, pipeline.ErrStopped)
	events := h.state.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "us7000abcd", events[0].ID)
	assert.Equal(t, 1, h.sink.count())
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.FetchResults.WithLabelValues("manual", "discarded")), 0)
}

func TestScheduler_SinkErrorDoesNotAffectPublish(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	h.sink.err = errors.New("broker unavailable")

	r := h.sched.Refresh(context.Background())

	require.NoError(t, r.Err)
	assert.True(t, r.Fetched)
	assert.Len(t, h.state.Events(), 1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.SinkErrors), 0)
}

func TestScheduler_ResetLimitRestoresBudget(t *testing.T) {
	h := newHarness(fetchResponse{text: tokyoFeed})
	ctx := context.Background()
	for range ratelimit.Capacity {
		h.sched.Refresh(ctx)
	}
	require.True(t, h.state.Status().Denied)

	st := h.sched.ResetLimit(ctx)

	assert.Equal(t, ratelimit.Status{Remaining: ratelimit.Capacity, Limit: ratelimit.Capacity}, st)
	assert.Equal(t, st, h.state.Status())
	assert.True(t, h.sched.Refresh(ctx).Fetched)
}
