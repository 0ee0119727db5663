// File: internal/executor/confirm.go
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/signals"
)

// handleFollowable verifies the element is still followable, triggers the
// interaction and confirms the resulting state.
func (e *Executor) handleFollowable(ctx context.Context, h schemas.ElementHandle) schemas.Outcome {
	log := e.logger.With(zap.String("handle", h.HandleID()))

	bag, err := e.extractor.Extract(ctx, h)
	if err != nil {
		return schemas.Skipped(schemas.StatusFollowable, fmt.Errorf("%w: %v", ErrStaleElement, err))
	}
	if current := e.classifier.Classify(bag); current != schemas.StatusFollowable {
		log.Info("Status drifted since the scan, redirecting.", zap.Stringer("status", current))
		return e.dispatch(ctx, h, current)
	}

	if err := e.delayer.Suspend(ctx, e.timing.Observe); err != nil {
		return schemas.Skipped(schemas.StatusFollowable, err)
	}
	if err := e.source.Trigger(ctx, h); err != nil {
		return schemas.Failed(schemas.StatusFollowable, fmt.Errorf("trigger interaction: %w", err))
	}

	confirmCtx, cancel := e.confirmContext(ctx)
	defer cancel()

	status, err := e.confirm(confirmCtx, h, bag.Anchor())
	if err != nil {
		log.Warn("Confirmation interrupted.", zap.Error(err))
	}

	switch status {
	case schemas.StatusActive:
		e.registrar.RegisterAction()
		return schemas.Outcome{Kind: schemas.OutcomeCompleted, Status: status}
	case schemas.StatusPending:
		e.registrar.RegisterAction()
		return schemas.Outcome{Kind: schemas.OutcomeRequested, Status: status}
	}

	log.Warn("Could not confirm the interaction, skipping element.", zap.Stringer("last_status", status))
	e.telemetry.Emit(schemas.Event{
		Type:    schemas.EventConfirmationTimeout,
		Time:    e.clock.Now(),
		Outcome: &schemas.OutcomeInfo{HandleID: h.HandleID(), Kind: schemas.OutcomeSkipped, Status: status},
	})
	if err == nil {
		err = ErrConfirmationTimeout
	} else {
		err = fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
	}
	return schemas.Skipped(schemas.StatusFollowable, err)
}

// confirmContext keeps parent's values but not its cancellation, so a
// confirmation already under way finishes after a stop request.
func (e *Executor) confirmContext(parent context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(parent)
	if e.timing.ConfirmTimeout > 0 {
		return context.WithTimeout(detached, e.timing.ConfirmTimeout)
	}
	return context.WithCancel(detached)
}

// confirm waits for the UI to react, polls, and retries the poll exactly once.
// It returns the last observed status; anything but Active or Pending is
// inconclusive.
func (e *Executor) confirm(ctx context.Context, h schemas.ElementHandle, anchor string) (schemas.ElementStatus, error) {
	if err := e.delayer.Suspend(ctx, e.timing.Reaction); err != nil {
		return schemas.StatusUnknown, err
	}
	status := e.poll(ctx, h, anchor)
	if conclusive(status) {
		return status, nil
	}

	e.logger.Debug("First confirmation poll inconclusive, retrying.",
		zap.String("handle", h.HandleID()), zap.Stringer("status", status))
	if err := e.delayer.Suspend(ctx, e.timing.Retry); err != nil {
		return status, err
	}
	return e.poll(ctx, h, anchor), nil
}

// poll re-reads the element itself, then falls back to a single scan of the
// whole set looking for an element in the same row.
func (e *Executor) poll(ctx context.Context, h schemas.ElementHandle, anchor string) schemas.ElementStatus {
	status := schemas.StatusUnknown
	if bag, err := e.extractor.Extract(ctx, h); err == nil {
		status = e.classifier.Classify(bag)
		if conclusive(status) {
			return status
		}
	} else if !errors.Is(err, signals.ErrNoSignals) {
		e.logger.Debug("Element unreadable during confirmation.", zap.String("handle", h.HandleID()), zap.Error(err))
	}

	if fallback := e.rescan(ctx, h, anchor); conclusive(fallback) {
		return fallback
	}
	return status
}

// rescan enumerates the current elements and classifies those sharing the
// anchor of the clicked element. The UI may have replaced the element after the
// interaction, leaving the first handle detached.
func (e *Executor) rescan(ctx context.Context, h schemas.ElementHandle, anchor string) schemas.ElementStatus {
	if anchor == "" {
		return schemas.StatusUnknown
	}
	handles, err := e.source.Enumerate(ctx)
	if err != nil {
		e.logger.Debug("Fallback rescan failed.", zap.Error(err))
		return schemas.StatusUnknown
	}
	for _, candidate := range handles {
		if candidate.HandleID() == h.HandleID() {
			continue
		}
		bag, err := e.extractor.Extract(ctx, candidate)
		if err != nil || bag.Anchor() != anchor {
			continue
		}
		if status := e.classifier.Classify(bag); conclusive(status) {
			return status
		}
	}
	return schemas.StatusUnknown
}

func conclusive(s schemas.ElementStatus) bool {
	return s == schemas.StatusActive || s == schemas.StatusPending
}
