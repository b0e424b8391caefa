package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/couchcryptid/quake-feed-service/internal/ratelimit"
	"github.com/couchcryptid/quake-feed-service/internal/state"
	"github.com/jonboulle/clockwork"
)

// Fixed cadence of the scheduler.
const (
	PollInterval   = 10 * time.Second
	StatusInterval = time.Second
)

// ErrStopped is returned by Refresh after the scheduler has been torn down.
var ErrStopped = errors.New("scheduler stopped")

// Trigger identifies what started a fetch attempt.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

// Fetcher retrieves the raw feed text.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Limiter gates fetch attempts. Implemented by ratelimit.Ledger.
type Limiter interface {
	TryAcquire(ctx context.Context, now time.Time) ratelimit.Decision
	Status(ctx context.Context, now time.Time) ratelimit.Status
	Reset(ctx context.Context)
}

// Sink receives every newly published event set.
type Sink interface {
	Publish(ctx context.Context, events []domain.Quake) error
}

// Result describes one fetch attempt.
type Result struct {
	Trigger  Trigger
	Decision ratelimit.Decision
	Status   ratelimit.Status
	Fetched  bool
	Events   int
	Err      error
}

// Scheduler drives automatic and manual fetch attempts through the Limiter and
// publishes decoded event sets into the shared State.
type Scheduler struct {
	fetcher Fetcher
	limiter Limiter
	state   *state.State
	sinks   []Sink
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	attempted atomic.Bool
	stopped   atomic.Bool
	// mu orders State writes against halt.
	mu sync.Mutex
}

// New creates a Scheduler. Sinks are optional.
func New(f Fetcher, l Limiter, st *state.State, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *Scheduler {
	return &Scheduler{
		fetcher: f,
		limiter: l,
		state:   st,
		sinks:   sinks,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once the first fetch attempt has resolved.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.attempted.Load() {
		return errors.New("no fetch attempt has resolved yet")
	}
	return nil
}

// Run performs one attempt immediately, then one every PollInterval, until ctx
// is cancelled. A status observer refreshes the rate-limit status every
// StatusInterval alongside. Results arriving after cancellation are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "poll_interval", PollInterval)
	s.metrics.SchedulerRunning.Set(1)
	unregister := context.AfterFunc(ctx, s.halt)
	defer unregister()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.observe(ctx)
	}()

	s.attempt(ctx, TriggerAuto)

	ticker := s.clock.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.halt()
			wg.Wait()
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.attempt(ctx, TriggerAuto)
		}
	}
}

// Refresh runs a user-initiated attempt. It is subject to the same Limiter as
// automatic polling and may be denied even when no other fetch is in flight.
func (s *Scheduler) Refresh(ctx context.Context) Result {
	if s.stopped.Load() {
		return Result{Trigger: TriggerManual, Err: ErrStopped}
	}
	return s.attempt(ctx, TriggerManual)
}

// ResetLimit clears the rate-limit ledger on explicit user request and
// republishes the status.
func (s *Scheduler) ResetLimit(ctx context.Context) ratelimit.Status {
	s.limiter.Reset(ctx)
	s.logger.Warn("rate limit overridden by user")
	return s.publishStatus(ctx)
}

func (s *Scheduler) attempt(ctx context.Context, trigger Trigger) Result {
	res := Result{Trigger: trigger}

	res.Decision = s.limiter.TryAcquire(ctx, s.clock.Now())
	s.metrics.FetchAttempts.WithLabelValues(string(trigger), res.Decision.Outcome.String()).Inc()

	if !res.Decision.Allowed() {
		s.logger.Info("fetch denied by rate limit",
			"trigger", trigger,
			"outcome", res.Decision.Outcome.String(),
			"cooldown_remaining", res.Decision.Remaining,
		)
		s.publish(ctx, s.resolveFirst)
		res.Status = s.publishStatus(ctx)
		return res
	}

	text, err := s.fetcher.Fetch(ctx)
	var events []domain.Quake
	if err == nil {
		events = domain.DecodeFeed(text)
	}
	published := s.publish(ctx, func() {
		if err != nil {
			s.resolveFirst()
			return
		}
		s.state.ReplaceEvents(events, s.clock.Now())
		s.attempted.Store(true)
	})
	if !published {
		s.metrics.FetchResults.WithLabelValues(string(trigger), "discarded").Inc()
		s.logger.Debug("discarding fetch result after shutdown", "trigger", trigger)
		res.Err = ErrStopped
		return res
	}

	if err != nil {
		s.metrics.FetchResults.WithLabelValues(string(trigger), "failure").Inc()
		s.logger.Error("fetch failed, keeping last published events", "trigger", trigger, "error", err)
		res.Err = err
		res.Status = s.publishStatus(ctx)
		return res
	}

	s.metrics.FetchResults.WithLabelValues(string(trigger), "success").Inc()
	s.metrics.EventsPublished.Set(float64(len(events)))
	s.logger.Info("event set published", "trigger", trigger, "events", len(events))

	s.forward(ctx, events)

	res.Fetched = true
	res.Events = len(events)
	res.Status = s.publishStatus(ctx)
	return res
}

// resolveFirst marks the state loaded when an attempt resolves without data.
// Previously published events are left untouched.
func (s *Scheduler) resolveFirst() {
	s.attempted.Store(true)
	if !s.state.Loaded() {
		s.state.MarkLoaded()
	}
}

// halt stops State writes. Once it returns, no attempt still in flight can
// publish.
func (s *Scheduler) halt() {
	s.mu.Lock()
	s.stopped.Store(true)
	s.mu.Unlock()
	s.metrics.SchedulerRunning.Set(0)
}

// publish runs fn unless the attempt's context is done or the scheduler has
// halted, and reports whether it ran.
func (s *Scheduler) publish(ctx context.Context, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.stopped.Load() {
		return false
	}
	fn()
	return true
}

func (s *Scheduler) forward(ctx context.Context, events []domain.Quake) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			s.metrics.SinkErrors.Inc()
			s.logger.Warn("sink publish failed", "error", err, "events", len(events))
		}
	}
}

// observe republishes the rate-limit status every StatusInterval so observers
// can render a live countdown between attempts.
func (s *Scheduler) observe(ctx context.Context) {
	ticker := s.clock.NewTicker(StatusInterval)
	defer ticker.Stop()

	s.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.publishStatus(ctx)
		}
	}
}

func (s *Scheduler) publishStatus(ctx context.Context) ratelimit.Status {
	st := s.limiter.Status(ctx, s.clock.Now())
	s.publish(ctx, func() {
		s.state.SetStatus(st)
		s.metrics.RateLimitRemaining.Set(float64(st.Remaining))
		s.metrics.CooldownSeconds.Set(float64(st.CooldownSeconds()))
	})
	return st
}
