// File: internal/throttle/throttle.go
package throttle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/humanoid"
)

// State is the rate limit bookkeeping of one account. It is plain data so an
// outside collaborator can persist it between sessions; the throttle itself
// never writes it anywhere.
type State struct {
	DailyCount int `json:"dailyCount"`
	// Ledger holds action timestamps in chronological order.
	Ledger        []time.Time `json:"ledger"`
	LifetimeCount int         `json:"lifetimeCount"`
	// SessionCount is the number of confirmed actions this session. Breaks
	// are scheduled from it.
	SessionCount int       `json:"sessionCount"`
	SessionStart time.Time `json:"sessionStart"`
	LastAction   time.Time `json:"lastAction"`
	// DayStart is when the daily counters were last reset.
	DayStart time.Time `json:"dayStart"`
}

func (s State) clone() State {
	s.Ledger = append([]time.Time(nil), s.Ledger...)
	return s
}

// Throttle enforces daily, rolling window and lifetime quotas and schedules
// rest periods. All methods are safe for concurrent use.
type Throttle struct {
	mu     sync.Mutex
	limits Limits
	policy BreakPolicy
	state  State
	// shortRestedAt and longRestedAt record the session count at which the
	// last break of each kind was taken, so a break is due once per multiple.
	shortRestedAt int
	longRestedAt  int

	clock     humanoid.Clock
	delayer   schemas.Delayer
	telemetry schemas.Telemetry
	logger    *zap.Logger
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c humanoid.Clock) Option {
	return func(t *Throttle) { t.clock = c }
}

// WithDelayer sets the delay collaborator. Defaults to a Pacer on the clock.
func WithDelayer(d schemas.Delayer) Option {
	return func(t *Throttle) { t.delayer = d }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(tel schemas.Telemetry) Option {
	return func(t *Throttle) { t.telemetry = tel }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Throttle) { t.logger = l }
}

// New creates a Throttle with a fresh state starting now.
func New(limits Limits, policy BreakPolicy, opts ...Option) *Throttle {
	t := &Throttle{
		limits: limits,
		policy: policy,
		clock:  humanoid.SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.limits.Window <= 0 {
		t.limits.Window = time.Hour
	}
	if t.delayer == nil {
		t.delayer = humanoid.New(t.clock, nil, t.logger)
	}
	if t.telemetry == nil {
		t.telemetry = schemas.NopTelemetry
	}
	t.logger = t.logger.Named("throttle")

	now := t.clock.Now()
	t.state = State{SessionStart: now, DayStart: now}
	return t
}

// Limits returns the configured limits.
func (t *Throttle) Limits() Limits { return t.limits }

// Policy returns the configured break policy.
func (t *Throttle) Policy() BreakPolicy { return t.policy }

// -- Quota --

// prune drops ledger entries that fell out of the rolling window. An entry
// exactly one window old is already outside it. Callers hold t.mu.
func (t *Throttle) prune(now time.Time) {
	cutoff := now.Add(-t.limits.Window)
	i := 0
	for i < len(t.state.Ledger) && !t.state.Ledger[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.state.Ledger = append(t.state.Ledger[:0], t.state.Ledger[i:]...)
	}
}

func (t *Throttle) canProceedLocked(dailyLimit int) bool {
	return t.state.DailyCount < dailyLimit &&
		len(t.state.Ledger) < t.limits.Hourly &&
		t.state.LifetimeCount < t.limits.Lifetime
}

// CanProceed reports whether another action fits every quota, using
// dailyLimit for the daily window. The ledger is pruned first.
func (t *Throttle) CanProceed(dailyLimit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.clock.Now())
	return t.canProceedLocked(dailyLimit)
}

// Exhausted reports whether the daily or lifetime quota is used up. Unlike a
// full rolling window, those never free up within the session.
func (t *Throttle) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.DailyCount >= t.limits.Daily || t.state.LifetimeCount >= t.limits.Lifetime
}

// SlotWait returns how long until the rolling window has room for one more
// action, or zero if it already does.
func (t *Throttle) SlotWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.prune(now)
	excess := len(t.state.Ledger) - t.limits.Hourly
	if excess < 0 {
		return 0
	}
	// The entry whose expiry brings the ledger below the limit.
	frees := t.state.Ledger[excess].Add(t.limits.Window)
	if wait := frees.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// WaitForSlot blocks until the rolling window has room, then waits out the
// randomized minimum interval since the last action.
func (t *Throttle) WaitForSlot(ctx context.Context) error {
	if wait := t.SlotWait(); wait > 0 {
		t.logger.Info("Hourly quota reached, waiting for a slot.", zap.Duration("wait", wait))
		if err := t.delayer.Sleep(ctx, wait); err != nil {
			return err
		}
		t.mu.Lock()
		t.prune(t.clock.Now())
		t.mu.Unlock()
	}

	t.mu.Lock()
	last := t.state.LastAction
	now := t.clock.Now()
	t.mu.Unlock()
	if last.IsZero() {
		return nil
	}

	remaining := t.limits.Interval.Shift(now.Sub(last))
	if remaining.Max <= 0 {
		return nil
	}
	return t.delayer.Suspend(ctx, remaining)
}

// RegisterAction records one confirmed action.
func (t *Throttle) RegisterAction() {
	t.mu.Lock()
	t.registerLocked(t.clock.Now())
	snap := t.quotaLocked()
	t.mu.Unlock()

	t.emitQuota(snap)
}

func (t *Throttle) registerLocked(now time.Time) {
	t.state.DailyCount++
	t.state.LifetimeCount++
	t.state.SessionCount++
	t.state.Ledger = append(t.state.Ledger, now)
	t.state.LastAction = now
}

// ResetDaily zeroes the daily counter and the ledger. Lifetime history and
// the session start are kept.
func (t *Throttle) ResetDaily() {
	t.mu.Lock()
	t.resetDailyLocked(t.clock.Now())
	t.mu.Unlock()
	t.logger.Info("Daily quota reset.")
}

func (t *Throttle) resetDailyLocked(now time.Time) {
	t.state.DailyCount = 0
	t.state.Ledger = nil
	t.state.DayStart = now
}

// RolloverIfNewDay resets the daily quota when the calendar day changed
// since the last reset. It reports whether a reset happened.
func (t *Throttle) RolloverIfNewDay() bool {
	t.mu.Lock()
	now := t.clock.Now()
	y1, m1, d1 := t.state.DayStart.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		t.mu.Unlock()
		return false
	}
	t.resetDailyLocked(now)
	t.mu.Unlock()
	t.logger.Info("New day, daily quota reset.", zap.Time("day", now))
	return true
}

// -- State access --

// Snapshot returns a copy of the current state.
func (t *Throttle) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.clock.Now())
	return t.state.clone()
}

// Restore replaces the state, typically with lifetime history carried over
// from a previous session. Break bookkeeping restarts from the restored
// session count.
func (t *Throttle) Restore(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s.clone()
	if t.state.SessionStart.IsZero() {
		t.state.SessionStart = t.clock.Now()
	}
	if t.state.DayStart.IsZero() {
		t.state.DayStart = t.state.SessionStart
	}
	t.shortRestedAt = t.state.SessionCount
	t.longRestedAt = t.state.SessionCount
	t.prune(t.clock.Now())
}

// Quota returns the telemetry view of the current state.
func (t *Throttle) Quota() schemas.QuotaSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.clock.Now())
	return t.quotaLocked()
}

func (t *Throttle) quotaLocked() schemas.QuotaSnapshot {
	return schemas.QuotaSnapshot{
		DailyCount:    t.state.DailyCount,
		DailyLimit:    t.limits.Daily,
		HourlyCount:   len(t.state.Ledger),
		HourlyLimit:   t.limits.Hourly,
		LifetimeCount: t.state.LifetimeCount,
		LifetimeLimit: t.limits.Lifetime,
		SessionCount:  t.state.SessionCount,
		LastAction:    t.state.LastAction,
	}
}

func (t *Throttle) emitQuota(snap schemas.QuotaSnapshot) {
	t.telemetry.Emit(schemas.Event{
		Type:  schemas.EventQuotaSnapshot,
		Time:  t.clock.Now(),
		Quota: &snap,
	})
}
