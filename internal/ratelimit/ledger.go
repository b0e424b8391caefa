package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limits of the feed ledger. These are fixed by the upstream feed etiquette
// and are not configurable.
const (
	Capacity = 10
	Window   = 60 * time.Second
	Cooldown = 120 * time.Second
)

// Storage keys. Shared with any other instance using the same store.
const (
	RequestsKey = "quake_rate_limit_requests"
	CooldownKey = "quake_rate_limit_cooldown"
)

// Outcome classifies a TryAcquire decision.
type Outcome int

const (
	Allowed Outcome = iota
	DeniedCooldown
	DeniedAtCapacity
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case DeniedCooldown:
		return "denied_cooldown"
	case DeniedAtCapacity:
		return "denied_capacity"
	default:
		return "unknown"
	}
}

// Decision is the result of one TryAcquire call. Remaining is only set for
// DeniedCooldown.
type Decision struct {
	Outcome   Outcome
	Remaining time.Duration
}

// Allowed reports whether the attempt may proceed to the network.
func (d Decision) Allowed() bool { return d.Outcome == Allowed }

// Status is a point-in-time view of the ledger for observers.
type Status struct {
	Remaining         int
	Limit             int
	CooldownRemaining time.Duration
	Denied            bool
}

// CooldownSeconds rounds the remaining cooldown up to whole seconds.
func (s Status) CooldownSeconds() int {
	if s.CooldownRemaining <= 0 {
		return 0
	}
	return int((s.CooldownRemaining + time.Second - 1) / time.Second)
}

// Ledger is a persistent sliding-window limiter with a hard cooldown.
//
// Every call re-reads the store and writes mutations through immediately, so
// several instances sharing one store converge on the same state. Races
// between instances can over-admit slightly; within one instance calls are
// serialised.
type Ledger struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// TryAcquire decides whether a fetch attempt at now may proceed. A denied
// attempt is never recorded. The attempt that fills the window is allowed
// but arms the cooldown so the next one is refused outright.
func (l *Ledger) TryAcquire(ctx context.Context, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowMs := now.UnixMilli()

	var requests []int64
	if deadline, ok := l.readCooldown(ctx); ok {
		if nowMs < deadline {
			return Decision{Outcome: DeniedCooldown, Remaining: time.Duration(deadline-nowMs) * time.Millisecond}
		}
		// An expired cooldown starts a fresh window even if the removes fail.
		l.remove(ctx, CooldownKey)
		l.remove(ctx, RequestsKey)
	} else {
		requests = prune(l.readRequests(ctx), nowMs)
	}

	if len(requests) >= Capacity {
		l.writeCooldown(ctx, nowMs+Cooldown.Milliseconds())
		l.writeRequests(ctx, requests)
		return Decision{Outcome: DeniedAtCapacity}
	}

	requests = append(requests, nowMs)
	l.writeRequests(ctx, requests)
	if len(requests) == Capacity {
		l.writeCooldown(ctx, nowMs+Cooldown.Milliseconds())
	}
	return Decision{Outcome: Allowed}
}

// Remaining returns how many attempts the window still admits at now, or 0
// while a cooldown is active.
func (l *Ledger) Remaining(ctx context.Context, now time.Time) int {
	return l.Status(ctx, now).Remaining
}

// Status reports remaining capacity and cooldown at now without mutating
// the store.
func (l *Ledger) Status(ctx context.Context, now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowMs := now.UnixMilli()
	if deadline, ok := l.readCooldown(ctx); ok && nowMs < deadline {
		return Status{
			Remaining:         0,
			Limit:             Capacity,
			CooldownRemaining: time.Duration(deadline-nowMs) * time.Millisecond,
			Denied:            true,
		}
	}

	remaining := Capacity - len(prune(l.readRequests(ctx), nowMs))
	if remaining < 0 {
		remaining = 0
	}
	return Status{Remaining: remaining, Limit: Capacity}
}

// Reset clears all recorded attempts and any cooldown. It backs the explicit
// user override and is never called by the scheduler itself.
func (l *Ledger) Reset(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.remove(ctx, RequestsKey)
	l.remove(ctx, CooldownKey)
	l.logger.Info("rate limit ledger reset")
}

// prune keeps timestamps younger than Window relative to nowMs.
func prune(requests []int64, nowMs int64) []int64 {
	kept := requests[:0]
	for _, ts := range requests {
		if nowMs-ts < Window.Milliseconds() {
			kept = append(kept, ts)
		}
	}
	return kept
}

func (l *Ledger) readRequests(ctx context.Context) []int64 {
	raw, ok, err := l.store.Get(ctx, RequestsKey)
	if err != nil {
		l.logger.Warn("read rate limit requests failed, treating as empty", "error", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var requests []int64
	if err := json.Unmarshal([]byte(raw), &requests); err != nil {
		l.logger.Warn("malformed rate limit requests, treating as empty", "error", err)
		return nil
	}
	return requests
}

func (l *Ledger) readCooldown(ctx context.Context) (int64, bool) {
	raw, ok, err := l.store.Get(ctx, CooldownKey)
	if err != nil {
		l.logger.Warn("read rate limit cooldown failed, treating as absent", "error", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}

	deadline, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		l.logger.Warn("malformed rate limit cooldown, treating as absent", "value", raw)
		return 0, false
	}
	return deadline, true
}

func (l *Ledger) writeRequests(ctx context.Context, requests []int64) {
	if requests == nil {
		requests = []int64{}
	}
	data, err := json.Marshal(requests)
	if err != nil {
		l.logger.Error("encode rate limit requests", "error", err)
		return
	}
	if err := l.store.Set(ctx, RequestsKey, string(data)); err != nil {
		l.logger.Error("persist rate limit requests", "error", err)
	}
}

func (l *Ledger) writeCooldown(ctx context.Context, deadline int64) {
	if err := l.store.Set(ctx, CooldownKey, strconv.FormatInt(deadline, 10)); err != nil {
		l.logger.Error("persist rate limit cooldown", "error", err)
	}
}

func (l *Ledger) remove(ctx context.Context, key string) {
	if err := l.store.Remove(ctx, key); err != nil {
		l.logger.Error("remove rate limit key", "key", key, "error", err)
	}
}
