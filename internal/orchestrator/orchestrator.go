// File: internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/classifier"
	"github.com/xkilldash9x/cadence/internal/executor"
	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/signals"
	"github.com/xkilldash9x/cadence/internal/throttle"
)

// ErrCollaboratorUnavailable is returned when the UI source cannot list
// elements. It is the only error that ends a session.
var ErrCollaboratorUnavailable = errors.New("ui collaborator unavailable")

// StopReason explains why a session ended.
type StopReason string

const (
	StopQuotaExhausted   StopReason = "quota_exhausted"
	StopCancelled        StopReason = "cancelled"
	StopRequested        StopReason = "stop_requested"
	StopNoMoreElements   StopReason = "no_more_elements"
	StopCollaboratorDown StopReason = "collaborator_unavailable"
)

// Settings holds the loop pacing.
type Settings struct {
	// EmptyScanDelay follows a pass that found nothing to handle.
	EmptyScanDelay schemas.DurationRange
	// BetweenDelay follows a confirmed action when the next element is not
	// followable.
	BetweenDelay schemas.DurationRange
	// RestDelay follows the scroll at the end of every batch.
	RestDelay schemas.DurationRange
	// MaxEmptyScans ends the session after that many consecutive empty
	// passes. Zero keeps scanning until stopped.
	MaxEmptyScans int
	// DailyRollover resets the daily quota when the calendar day changes.
	DailyRollover bool
}

// DefaultSettings returns the production loop pacing.
func DefaultSettings() Settings {
	return Settings{
		EmptyScanDelay: schemas.DurationRange{Min: 1200 * time.Millisecond, Max: 2500 * time.Millisecond},
		BetweenDelay:   schemas.DurationRange{Min: 800 * time.Millisecond, Max: 1600 * time.Millisecond},
		RestDelay:      schemas.DurationRange{Min: 1500 * time.Millisecond, Max: 3000 * time.Millisecond},
		MaxEmptyScans:  25,
		DailyRollover:  true,
	}
}

// Summary is the result of a session.
type Summary struct {
	SessionID  string                `json:"sessionId"`
	Tally      executor.Tally        `json:"tally"`
	StopReason StopReason            `json:"stopReason"`
	Quota      schemas.QuotaSnapshot `json:"quota"`
	// State is the final throttle state; callers may persist it and restore
	// it into the next session.
	State   throttle.State `json:"state"`
	Started time.Time      `json:"started"`
	Ended   time.Time      `json:"ended"`
}

// Orchestrator drives the scan, classify, gate, act and rest loop for one
// session. It is the sole writer of the throttle state.
type Orchestrator struct {
	source     schemas.UISource
	classifier *classifier.Classifier
	extractor  *signals.Extractor
	throttle   *throttle.Throttle
	executor   *executor.Executor
	settings   Settings

	sessionID string
	lifecycle schemas.Lifecycle
	delayer   schemas.Delayer
	clock     humanoid.Clock
	telemetry schemas.Telemetry
	logger    *zap.Logger

	// seen holds the anchors of elements already handed to the executor, so
	// rows still on screen are not handled twice.
	seen map[string]struct{}
	// owesSlot is set when a confirmed action was not followed by
	// WaitForSlot, so the next followable element waits first.
	owesSlot bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionID sets the session identifier. A random UUID is used otherwise.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

// WithLifecycle sets the external run/stop switch.
func WithLifecycle(l schemas.Lifecycle) Option {
	return func(o *Orchestrator) { o.lifecycle = l }
}

// WithDelayer sets the delay collaborator.
func WithDelayer(d schemas.Delayer) Option {
	return func(o *Orchestrator) { o.delayer = d }
}

// WithClock sets the clock used for session timestamps.
func WithClock(c humanoid.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t schemas.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator over already built collaborators.
func New(source schemas.UISource, cls *classifier.Classifier, th *throttle.Throttle, exec *executor.Executor, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:     source,
		classifier: cls,
		throttle:   th,
		executor:   exec,
		settings:   settings,
		seen:       make(map[string]struct{}),
		lifecycle:  schemas.AlwaysRunning,
		clock:      humanoid.SystemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	if o.delayer == nil {
		o.delayer = humanoid.New(o.clock, nil, o.logger)
	}
	if o.telemetry == nil {
		o.telemetry = schemas.NopTelemetry
	}
	o.logger = o.logger.Named("orchestrator").With(zap.String("session_id", o.sessionID))
	o.extractor = signals.NewExtractor(source, o.logger)
	return o
}

// SessionID returns the identifier of the session.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Run executes the session until the quota is exhausted, the context is
// cancelled, the lifecycle reports a stop, or the UI source fails. The
// summary is always populated; the error is non nil only for a failing
// UI source.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	started := o.clock.Now()
	quota := o.throttle.Quota()
	o.logger.Info("Session started.",
		zap.Int("daily", quota.DailyCount), zap.Int("daily_limit", quota.DailyLimit),
		zap.Int("lifetime", quota.LifetimeCount), zap.Int("lifetime_limit", quota.LifetimeLimit))

	reason, err := o.loop(ctx)

	summary := Summary{
		SessionID:  o.sessionID,
		Tally:      o.executor.Tally(),
		StopReason: reason,
		Quota:      o.throttle.Quota(),
		State:      o.throttle.Snapshot(),
		Started:    started,
		Ended:      o.clock.Now(),
	}
	final := summary.Tally.Summary(string(reason))
	o.emit(schemas.Event{Type: schemas.EventSessionEnded, Summary: &final})

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("completed", summary.Tally.Completed),
		zap.Int("requested", summary.Tally.Requested),
		zap.Int("already_active", summary.Tally.ActiveProcessed),
		zap.Int("already_pending", summary.Tally.PendingProcessed),
		zap.Int("skipped", summary.Tally.Skipped),
		zap.Duration("elapsed", summary.Ended.Sub(started)),
	}
	if err != nil {
		o.logger.Error("Session aborted.", append(fields, zap.Error(err))...)
	} else {
		o.logger.Info("Session finished.", fields...)
	}
	return summary, err
}

// -- State machine --

func (o *Orchestrator) loop(ctx context.Context) (StopReason, error) {
	emptyScans := 0
	for {
		if reason := o.stopped(ctx); reason != "" {
			return reason, nil
		}
		if o.settings.DailyRollover {
			o.throttle.RolloverIfNewDay()
		}
		if o.throttle.Exhausted() {
			return StopQuotaExhausted, nil
		}
		if wait := o.throttle.SlotWait(); wait > 0 {
			if err := o.throttle.WaitForSlot(ctx); err != nil {
				return o.interrupted(ctx), nil
			}
			o.owesSlot = false
			continue
		}

		// Scanning
		handles, err := o.source.Enumerate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return StopCancelled, nil
			}
			return StopCollaboratorDown, fmt.Errorf("%w: enumerate elements: %v", ErrCollaboratorUnavailable, err)
		}

		// Classifying
		batch := o.classify(ctx, handles)
		if reason := o.stopped(ctx); reason != "" {
			return reason, nil
		}

		// Gating
		if len(batch) == 0 {
			emptyScans++
			if o.settings.MaxEmptyScans > 0 && emptyScans >= o.settings.MaxEmptyScans {
				o.logger.Info("No actionable elements left.", zap.Int("empty_scans", emptyScans))
				return StopNoMoreElements, nil
			}
			o.logger.Debug("Nothing actionable in view, scrolling.", zap.Int("empty_scans", emptyScans))
			o.scroll(ctx)
			if err := o.delayer.Suspend(ctx, o.settings.EmptyScanDelay); err != nil {
				return o.interrupted(ctx), nil
			}
			continue
		}
		emptyScans = 0

		// Acting
		if reason := o.act(ctx, batch); reason != "" {
			return reason, nil
		}

		// Resting
		if reason := o.rest(ctx); reason != "" {
			return reason, nil
		}
	}
}

// stopped polls the cancellation sources.
func (o *Orchestrator) stopped(ctx context.Context) StopReason {
	if ctx.Err() != nil {
		return StopCancelled
	}
	if !o.lifecycle.Running() {
		return StopRequested
	}
	return ""
}

// interrupted names the reason a suspension returned early.
func (o *Orchestrator) interrupted(ctx context.Context) StopReason {
	if reason := o.stopped(ctx); reason != "" {
		return reason
	}
	return StopCancelled
}

func (o *Orchestrator) scroll(ctx context.Context) {
	if err := o.source.ScrollForMore(ctx); err != nil && ctx.Err() == nil {
		o.logger.Warn("Failed to scroll for more elements.", zap.Error(err))
	}
}

func (o *Orchestrator) emit(e schemas.Event) {
	e.SessionID = o.sessionID
	if e.Time.IsZero() {
		e.Time = o.clock.Now()
	}
	o.telemetry.Emit(e)
}

// rest takes a due break, then scrolls and pauses before the next scan.
func (o *Orchestrator) rest(ctx context.Context) StopReason {
	if reason := o.stopped(ctx); reason != "" {
		return reason
	}
	if err := o.takeDueBreak(ctx); err != nil {
		return o.interrupted(ctx)
	}
	o.scroll(ctx)
	if err := o.delayer.Suspend(ctx, o.settings.RestDelay); err != nil {
		return o.interrupted(ctx)
	}
	return ""
}

// takeDueBreak takes the long break when one is due, else a due short break.
func (o *Orchestrator) takeDueBreak(ctx context.Context) error {
	switch {
	case o.throttle.NeedsLongBreak():
		return o.throttle.TakeLongBreak(ctx)
	case o.throttle.NeedsShortBreak():
		return o.throttle.TakeShortBreak(ctx)
	}
	return nil
}
