// File: internal/throttle/breaks.go
package throttle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
)

// NeedsShortBreak reports whether the confirmed action count this session has
// reached a multiple of the short break threshold since the last rest. A
// multiple passed over without resting still counts.
func (t *Throttle) NeedsShortBreak() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return due(t.state.SessionCount, t.policy.ShortEvery, t.shortRestedAt)
}

// NeedsLongBreak is NeedsShortBreak for the long break threshold.
func (t *Throttle) NeedsLongBreak() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return due(t.state.SessionCount, t.policy.LongEvery, t.longRestedAt)
}

func due(count, every, restedAt int) bool {
	return every > 0 && count/every > restedAt/every
}

// TakeShortBreak rests for a duration drawn from the short break range.
func (t *Throttle) TakeShortBreak(ctx context.Context) error {
	t.mu.Lock()
	t.shortRestedAt = t.state.SessionCount
	t.mu.Unlock()
	return t.rest(ctx, schemas.BreakShort, t.policy.ShortDuration)
}

// TakeLongBreak rests for a duration drawn from the long break range. A long
// break also satisfies a short break due at the same count.
func (t *Throttle) TakeLongBreak(ctx context.Context) error {
	t.mu.Lock()
	t.longRestedAt = t.state.SessionCount
	t.shortRestedAt = t.state.SessionCount
	t.mu.Unlock()
	return t.rest(ctx, schemas.BreakLong, t.policy.LongDuration)
}

// rest sleeps in ProgressInterval chunks, reporting the remaining time after
// each one.
func (t *Throttle) rest(ctx context.Context, kind schemas.BreakKind, r schemas.DurationRange) error {
	total := t.delayer.Pick(r)
	t.logger.Info("Taking a break.", zap.String("kind", string(kind)), zap.Duration("duration", total))
	t.emitBreak(schemas.EventBreakStarted, kind, total, total)

	remaining := total
	for remaining > 0 {
		chunk := remaining
		if step := t.policy.ProgressInterval; step > 0 && step < chunk {
			chunk = step
		}
		if err := t.delayer.Sleep(ctx, chunk); err != nil {
			t.logger.Info("Break interrupted.", zap.String("kind", string(kind)), zap.Duration("remaining", remaining))
			t.emitBreak(schemas.EventBreakEnded, kind, total, remaining)
			return err
		}
		remaining -= chunk
		if remaining > 0 {
			t.logger.Debug("Break in progress.", zap.String("kind", string(kind)), zap.Duration("remaining", remaining))
			t.emitBreak(schemas.EventBreakProgress, kind, total, remaining)
		}
	}

	t.logger.Info("Break finished.", zap.String("kind", string(kind)))
	t.emitBreak(schemas.EventBreakEnded, kind, total, 0)
	return nil
}

func (t *Throttle) emitBreak(typ schemas.EventType, kind schemas.BreakKind, total, remaining time.Duration) {
	t.telemetry.Emit(schemas.Event{
		Type:  typ,
		Time:  t.clock.Now(),
		Break: &schemas.BreakInfo{Kind: kind, Total: total, Remaining: remaining},
	})
}
