// File: internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/classifier"
	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/signals"
)

var (
	// ErrStaleElement means the element could not be read or had no box at act time.
	ErrStaleElement = errors.New("element is stale")
	// ErrConfirmationTimeout means the status stayed unresolved after the
	// poll and its single retry.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// Registrar records confirmed actions against the quota.
type Registrar interface {
	RegisterAction()
}

// Timing holds the suspensions around a state changing interaction.
type Timing struct {
	// Observe is the pause before acting on a freshly verified element.
	Observe schemas.DurationRange
	// Reaction is the pause between the gesture and the first poll.
	Reaction schemas.DurationRange
	// Retry is the pause before the second and last poll.
	Retry schemas.DurationRange
	// ConfirmTimeout bounds the whole confirmation, which runs detached from
	// the caller's cancellation.
	ConfirmTimeout time.Duration
}

// DefaultTiming returns the pacing used in production.
func DefaultTiming() Timing {
	return Timing{
		Observe:        schemas.DurationRange{Min: 1800 * time.Millisecond, Max: 4200 * time.Millisecond},
		Reaction:       schemas.DurationRange{Min: 1800 * time.Millisecond, Max: 3200 * time.Millisecond},
		Retry:          schemas.DurationRange{Min: 1500 * time.Millisecond, Max: 3000 * time.Millisecond},
		ConfirmTimeout: 30 * time.Second,
	}
}

type handlerFunc func(ctx context.Context, h schemas.ElementHandle) schemas.Outcome

// Executor performs and verifies the state transition for one element at a
// time. It is driven by a single worker; the tally is guarded so it can be
// read while a session is running.
type Executor struct {
	source     schemas.UISource
	extractor  *signals.Extractor
	classifier *classifier.Classifier
	registrar  Registrar
	timing     Timing

	delayer   schemas.Delayer
	clock     humanoid.Clock
	telemetry schemas.Telemetry
	logger    *zap.Logger

	handlers map[schemas.ElementStatus]handlerFunc

	mu    sync.Mutex
	tally Tally
}

// Option configures an Executor.
type Option func(*Executor)

// WithDelayer sets the delay collaborator.
func WithDelayer(d schemas.Delayer) Option {
	return func(e *Executor) { e.delayer = d }
}

// WithClock sets the clock used to timestamp telemetry.
func WithClock(c humanoid.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t schemas.Telemetry) Option {
	return func(e *Executor) { e.telemetry = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor.
func New(source schemas.UISource, cls *classifier.Classifier, registrar Registrar, timing Timing, opts ...Option) *Executor {
	e := &Executor{
		source:     source,
		classifier: cls,
		registrar:  registrar,
		timing:     timing,
		clock:      humanoid.SystemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.delayer == nil {
		e.delayer = humanoid.New(e.clock, nil, e.logger)
	}
	if e.telemetry == nil {
		e.telemetry = schemas.NopTelemetry
	}
	e.logger = e.logger.Named("executor")
	e.extractor = signals.NewExtractor(source, e.logger)

	e.handlers = map[schemas.ElementStatus]handlerFunc{
		schemas.StatusFollowable: e.handleFollowable,
		schemas.StatusActive:     e.handleAlreadyActive(schemas.StatusActive),
		schemas.StatusPending:    e.handleAlreadyActive(schemas.StatusPending),
		schemas.StatusUnknown:    e.handleUnknown,
	}
	return e
}

// Handle dispatches the element to the handler for its scanned status and
// records the outcome. Errors and panics never escape: they become a Failed
// outcome and the caller moves on to the next element.
func (e *Executor) Handle(ctx context.Context, h schemas.ElementHandle, status schemas.ElementStatus) (outcome schemas.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic while handling element.",
				zap.String("handle", h.HandleID()), zap.Any("panic", r))
			outcome = schemas.Failed(status, fmt.Errorf("panic: %v", r))
		}
		e.Record(h, outcome)
	}()
	return e.dispatch(ctx, h, status)
}

func (e *Executor) dispatch(ctx context.Context, h schemas.ElementHandle, status schemas.ElementStatus) schemas.Outcome {
	handler, ok := e.handlers[status]
	if !ok {
		return schemas.Skipped(status, fmt.Errorf("no handler for status %s", status))
	}
	return handler(ctx, h)
}

// Record folds an outcome into the tally and reports it. The orchestrator
// uses it directly for elements it skips without dispatching.
func (e *Executor) Record(h schemas.ElementHandle, o schemas.Outcome) {
	e.mu.Lock()
	e.tally.Record(o)
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("handle", h.HandleID()),
		zap.Stringer("outcome", o.Kind),
		zap.Stringer("status", o.Status),
	}
	info := &schemas.OutcomeInfo{HandleID: h.HandleID(), Kind: o.Kind, Status: o.Status}
	if o.Err != nil {
		fields = append(fields, zap.Error(o.Err))
		info.Error = o.Err.Error()
	}
	switch o.Kind {
	case schemas.OutcomeFailed:
		e.logger.Warn("Element handling failed.", fields...)
	case schemas.OutcomeCompleted, schemas.OutcomeRequested:
		e.logger.Info("Action confirmed.", fields...)
	default:
		e.logger.Debug("Element handled.", fields...)
	}
	e.telemetry.Emit(schemas.Event{Type: schemas.EventOutcome, Time: e.clock.Now(), Outcome: info})
}

// Tally returns a copy of the outcomes recorded so far.
func (e *Executor) Tally() Tally {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tally
}

func (e *Executor) handleAlreadyActive(status schemas.ElementStatus) handlerFunc {
	return func(context.Context, schemas.ElementHandle) schemas.Outcome {
		return schemas.AlreadyActive(status)
	}
}

func (e *Executor) handleUnknown(context.Context, schemas.ElementHandle) schemas.Outcome {
	return schemas.Skipped(schemas.StatusUnknown, nil)
}
