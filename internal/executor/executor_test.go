// File: internal/executor/executor_test.go
package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/classifier"
	"github.com/xkilldash9x/cadence/internal/executor"
	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/mocks"
	"github.com/xkilldash9x/cadence/internal/observability"
)

// -- Test Suite Setup --

type testSetup struct {
	source    *mocks.MockUISource
	registrar *mocks.MockRegistrar
	clock     *humanoid.FakeClock
	telemetry *observability.MemoryTelemetry
	exec      *executor.Executor
}

func testTiming() executor.Timing {
	return executor.Timing{
		Observe:        schemas.DurationRange{Min: 2 * time.Second, Max: 2 * time.Second},
		Reaction:       schemas.DurationRange{Min: 3 * time.Second, Max: 3 * time.Second},
		Retry:          schemas.DurationRange{Min: time.Second, Max: time.Second},
		ConfirmTimeout: time.Minute,
	}
}

func setup(t *testing.T) *testSetup {
	t.Helper()
	s := &testSetup{
		source:    &mocks.MockUISource{},
		registrar: &mocks.MockRegistrar{},
		clock:     humanoid.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		telemetry: observability.NewMemoryTelemetry(),
	}
	s.exec = executor.New(s.source, classifier.Default(), s.registrar, testTiming(),
		executor.WithClock(s.clock),
		executor.WithDelayer(humanoid.NewTestPacer(s.clock, 1)),
		executor.WithTelemetry(s.telemetry),
		executor.WithLogger(zaptest.NewLogger(t)),
	)
	t.Cleanup(func() {
		s.source.AssertExpectations(t)
		s.registrar.AssertExpectations(t)
	})
	return s
}

func row(label, user string) schemas.RawSignals {
	return schemas.RawSignals{
		Text:       label,
		ParentText: user + " Suggested for you",
		Geometry:   schemas.Geometry{Width: 90, Height: 32},
	}
}

const h = mocks.Handle("btn-1")

// -- Followable --

func TestHandle_FollowableCompleted(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "alice"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Return(nil).Once()
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Following", "alice"), nil).Once()
	s.registrar.On("RegisterAction").Return().Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeCompleted, out.Kind)
	assert.Equal(t, schemas.StatusActive, out.Status)
	assert.NoError(t, out.Err)
	assert.Equal(t, executor.Tally{Completed: 1}, s.exec.Tally())
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, s.clock.Sleeps(), "observe then reaction delay")
	require.Len(t, s.telemetry.OfType(schemas.EventOutcome), 1)
}

func TestHandle_FollowableRequested(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "bob"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Return(nil).Once()
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Requested", "bob"), nil).Once()
	s.registrar.On("RegisterAction").Return().Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeRequested, out.Kind)
	assert.Equal(t, executor.Tally{Requested: 1}, s.exec.Tally(), "a request is not also counted as pending processed")
}

func TestHandle_ConfirmedOnRetry(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "carol"), nil).Twice()
	s.source.On("Trigger", mock.Anything, h).Return(nil).Once()
	s.source.On("Enumerate", mock.Anything).Return([]schemas.ElementHandle{h}, nil).Once()
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Following", "carol"), nil).Once()
	s.registrar.On("RegisterAction").Return().Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeCompleted, out.Kind)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, time.Second}, s.clock.Sleeps())
}

// The poll and its single retry both come back inconclusive.
func TestHandle_ConfirmationTimeout(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "dave"), nil).Times(3)
	s.source.On("Trigger", mock.Anything, h).Return(nil).Once()
	s.source.On("Enumerate", mock.Anything).Return([]schemas.ElementHandle{h}, nil).Twice()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeSkipped, out.Kind)
	assert.ErrorIs(t, out.Err, executor.ErrConfirmationTimeout)
	assert.Equal(t, executor.Tally{Skipped: 1}, s.exec.Tally())
	s.registrar.AssertNotCalled(t, "RegisterAction")
	assert.Len(t, s.telemetry.OfType(schemas.EventConfirmationTimeout), 1)
}

func TestHandle_FallbackRescanFindsReplacedElement(t *testing.T) {
	s := setup(t)
	replacement := mocks.Handle("btn-1-rerendered")
	other := mocks.Handle("btn-2")

	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "erin"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Return(nil).Once()
	s.source.On("ReadSignals", mock.Anything, h).Return(schemas.RawSignals{}, errors.New("node detached")).Once()
	s.source.On("Enumerate", mock.Anything).Return([]schemas.ElementHandle{other, h, replacement}, nil).Once()
	// A different row that happens to be Active must not confirm this one.
	s.source.On("ReadSignals", mock.Anything, other).Return(row("Following", "frank"), nil).Once()
	s.source.On("ReadSignals", mock.Anything, replacement).Return(row("Following", "erin"), nil).Once()
	s.registrar.On("RegisterAction").Return().Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeCompleted, out.Kind)
}

func TestHandle_StatusDriftRedirects(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Following", "gina"), nil).Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.AlreadyActive(schemas.StatusActive), out)
	assert.Equal(t, executor.Tally{ActiveProcessed: 1}, s.exec.Tally())
	s.source.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	s.registrar.AssertNotCalled(t, "RegisterAction")
}

func TestHandle_DriftToUnknownSkips(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Message", "hank"), nil).Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeSkipped, out.Kind)
	assert.Equal(t, schemas.StatusUnknown, out.Status)
}

func TestHandle_StaleElement(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(schemas.RawSignals{}, errors.New("no node with given id")).Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeSkipped, out.Kind)
	assert.ErrorIs(t, out.Err, executor.ErrStaleElement)
	assert.Equal(t, executor.Tally{Skipped: 1}, s.exec.Tally())
}

func TestHandle_TriggerErrorFails(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "ivy"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Return(errors.New("click intercepted")).Once()

	out := s.exec.Handle(context.Background(), h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.ErrorContains(t, out.Err, "click intercepted")
	assert.Equal(t, executor.Tally{Skipped: 1, Failed: 1}, s.exec.Tally())
}

func TestHandle_PanicIsIsolated(t *testing.T) {
	s := setup(t)
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "jack"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Panic("renderer crashed").Once()

	var out schemas.Outcome
	require.NotPanics(t, func() {
		out = s.exec.Handle(context.Background(), h, schemas.StatusFollowable)
	})
	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.ErrorContains(t, out.Err, "renderer crashed")
	assert.Equal(t, 1, s.exec.Tally().Failed)
}

func TestHandle_ConfirmationSurvivesCancellation(t *testing.T) {
	s := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "kim"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Run(func(mock.Arguments) { cancel() }).Return(nil).Once()
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Following", "kim"), nil).Once()
	s.registrar.On("RegisterAction").Return().Once()

	out := s.exec.Handle(ctx, h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeCompleted, out.Kind, "an in-flight confirmation completes after a stop request")
}

type traceKey struct{}

func TestHandle_ConfirmationKeepsContextValues(t *testing.T) {
	s := setup(t)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), traceKey{}, "trace-7"))
	defer cancel()

	detachedWithValue := mock.MatchedBy(func(c context.Context) bool {
		return c.Value(traceKey{}) == "trace-7" && c.Err() == nil
	})
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "noa"), nil).Once()
	s.source.On("Trigger", mock.Anything, h).Run(func(mock.Arguments) { cancel() }).Return(nil).Once()
	s.source.On("ReadSignals", detachedWithValue, h).Return(row("Following", "noa"), nil).Once()
	s.registrar.On("RegisterAction").Return().Once()

	out := s.exec.Handle(ctx, h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeCompleted, out.Kind)
}

func TestHandle_CancelledBeforeActing(t *testing.T) {
	s := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.source.On("ReadSignals", mock.Anything, h).Return(row("Follow", "lee"), nil).Once()

	out := s.exec.Handle(ctx, h, schemas.StatusFollowable)

	assert.Equal(t, schemas.OutcomeSkipped, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	s.source.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

// -- Already active --

func TestHandle_AlreadyActiveBookkeeping(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	assert.Equal(t, schemas.AlreadyActive(schemas.StatusActive), s.exec.Handle(ctx, mocks.Handle("a"), schemas.StatusActive))
	assert.Equal(t, schemas.AlreadyActive(schemas.StatusPending), s.exec.Handle(ctx, mocks.Handle("p"), schemas.StatusPending))
	assert.Equal(t, schemas.AlreadyActive(schemas.StatusActive), s.exec.Handle(ctx, mocks.Handle("a2"), schemas.StatusActive))

	assert.Equal(t, executor.Tally{ActiveProcessed: 2, PendingProcessed: 1}, s.exec.Tally())
	s.source.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	s.source.AssertNotCalled(t, "ReadSignals", mock.Anything, mock.Anything)
	s.registrar.AssertNotCalled(t, "RegisterAction")
	assert.Empty(t, s.clock.Sleeps())
}

func TestHandle_UnknownSkipped(t *testing.T) {
	s := setup(t)
	out := s.exec.Handle(context.Background(), h, schemas.StatusUnknown)
	assert.Equal(t, schemas.OutcomeSkipped, out.Kind)
	assert.Equal(t, executor.Tally{Skipped: 1}, s.exec.Tally())
}

func TestRecord_ExternalSkip(t *testing.T) {
	s := setup(t)
	s.exec.Record(h, schemas.Skipped(schemas.StatusFollowable, executor.ErrStaleElement))

	assert.Equal(t, executor.Tally{Skipped: 1}, s.exec.Tally())
	events := s.telemetry.OfType(schemas.EventOutcome)
	require.Len(t, events, 1)
	assert.Equal(t, "btn-1", events[0].Outcome.HandleID)
	assert.Equal(t, executor.ErrStaleElement.Error(), events[0].Outcome.Error)
}
