// File: internal/orchestrator/batch.go
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/classifier"
	"github.com/xkilldash9x/cadence/internal/executor"
)

type candidate struct {
	handle schemas.ElementHandle
	status schemas.ElementStatus
	anchor string
}

// classify turns one scan into the batch to act on, in discovery order.
// Unknown and invisible elements are dropped, as are elements whose anchor
// was already handled earlier in the session.
func (o *Orchestrator) classify(ctx context.Context, handles []schemas.ElementHandle) []candidate {
	counts := schemas.ClassificationCounts{Scanned: len(handles)}
	batch := make([]candidate, 0, len(handles))
	repeats := 0

	for _, h := range handles {
		if ctx.Err() != nil {
			break
		}
		status, bag := o.classifier.Evaluate(ctx, o.extractor, h)
		if bag.Empty() {
			counts.Unknown++
			continue
		}
		if !classifier.Visible(bag) {
			counts.Invisible++
			continue
		}
		switch status {
		case schemas.StatusFollowable:
			counts.Followable++
		case schemas.StatusActive:
			counts.Active++
		case schemas.StatusPending:
			counts.Pending++
		default:
			counts.Unknown++
			continue
		}
		if o.handled(bag.Anchor()) {
			repeats++
			continue
		}
		batch = append(batch, candidate{handle: h, status: status, anchor: bag.Anchor()})
	}

	o.logger.Debug("Scan classified.",
		zap.Int("scanned", counts.Scanned),
		zap.Int("followable", counts.Followable),
		zap.Int("active", counts.Active),
		zap.Int("pending", counts.Pending),
		zap.Int("invisible", counts.Invisible),
		zap.Int("unknown", counts.Unknown),
		zap.Int("already_handled", repeats))
	o.emit(schemas.Event{Type: schemas.EventClassification, Classification: &counts})
	return batch
}

// act handles the batch. Once the quota refuses a followable element, the
// remaining followable ones are left alone, while active and pending ones
// are still accounted for since they consume nothing.
func (o *Orchestrator) act(ctx context.Context, batch []candidate) StopReason {
	quotaBlocked := false
	for i, c := range batch {
		if reason := o.stopped(ctx); reason != "" {
			return reason
		}

		if c.status == schemas.StatusFollowable {
			if quotaBlocked {
				continue
			}
			if !o.throttle.CanProceed(o.throttle.Limits().Daily) {
				quotaBlocked = true
				o.logger.Info("Quota reached, holding remaining followable elements.", zap.Any("quota", o.throttle.Quota()))
				continue
			}
			if o.owesSlot {
				if err := o.throttle.WaitForSlot(ctx); err != nil {
					return o.interrupted(ctx)
				}
				o.owesSlot = false
			}
		}

		o.markHandled(c.anchor)
		visible, err := o.source.IsVisible(ctx, c.handle)
		if err != nil || !visible {
			cause := executor.ErrStaleElement
			if err != nil {
				cause = fmt.Errorf("%w: %v", executor.ErrStaleElement, err)
			}
			o.executor.Record(c.handle, schemas.Skipped(c.status, cause))
			continue
		}

		outcome := o.executor.Handle(ctx, c.handle, c.status)
		if !outcome.Confirmed() {
			continue
		}
		if err := o.takeDueBreak(ctx); err != nil {
			return o.interrupted(ctx)
		}

		next, ok := o.nextDispatched(batch[i+1:], quotaBlocked)
		switch {
		case !ok:
			o.owesSlot = true
		case next.status == schemas.StatusFollowable:
			if err := o.throttle.WaitForSlot(ctx); err != nil {
				return o.interrupted(ctx)
			}
		default:
			o.owesSlot = true
			if err := o.delayer.Suspend(ctx, o.settings.BetweenDelay); err != nil {
				return o.interrupted(ctx)
			}
		}
	}
	return ""
}

// nextDispatched returns the next element act will hand to the executor.
func (o *Orchestrator) nextDispatched(rest []candidate, quotaBlocked bool) (candidate, bool) {
	for _, c := range rest {
		if c.status == schemas.StatusFollowable && quotaBlocked {
			continue
		}
		return c, true
	}
	return candidate{}, false
}

// handled reports whether an element with this anchor was dispatched before.
// Elements without an anchor can't be recognized and are never filtered.
func (o *Orchestrator) handled(anchor string) bool {
	if anchor == "" {
		return false
	}
	_, ok := o.seen[anchor]
	return ok
}

func (o *Orchestrator) markHandled(anchor string) {
	if anchor != "" {
		o.seen[anchor] = struct{}{}
	}
}
