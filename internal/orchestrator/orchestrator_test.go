// File: internal/orchestrator/orchestrator_test.go
package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/classifier"
	"github.com/xkilldash9x/cadence/internal/executor"
	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/mocks"
	"github.com/xkilldash9x/cadence/internal/observability"
	"github.com/xkilldash9x/cadence/internal/orchestrator"
	"github.com/xkilldash9x/cadence/internal/throttle"
	"github.com/xkilldash9x/cadence/internal/uisim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

// -- Harness --

type harness struct {
	clock     *humanoid.FakeClock
	telemetry *observability.MemoryTelemetry
	throttle  *throttle.Throttle
	orch      *orchestrator.Orchestrator
}

type config struct {
	limits    throttle.Limits
	policy    throttle.BreakPolicy
	settings  orchestrator.Settings
	lifecycle schemas.Lifecycle
}

func defaults() config {
	return config{
		limits: throttle.Limits{
			Daily:    50,
			Hourly:   30,
			Lifetime: 500,
			Window:   time.Hour,
			Interval: schemas.DurationRange{Min: time.Minute, Max: time.Minute},
		},
		settings: orchestrator.Settings{
			EmptyScanDelay: schemas.DurationRange{Min: time.Second, Max: time.Second},
			BetweenDelay:   schemas.DurationRange{Min: time.Second, Max: time.Second},
			RestDelay:      schemas.DurationRange{Min: 2 * time.Second, Max: 2 * time.Second},
			MaxEmptyScans:  1,
		},
		lifecycle: schemas.AlwaysRunning,
	}
}

func timing() executor.Timing {
	fixed := schemas.DurationRange{Min: time.Second, Max: time.Second}
	return executor.Timing{Observe: fixed, Reaction: fixed, Retry: fixed, ConfirmTimeout: time.Minute}
}

func newHarness(t *testing.T, source schemas.UISource, cfg config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		clock:     humanoid.NewFakeClock(epoch),
		telemetry: observability.NewMemoryTelemetry(),
	}
	pacer := humanoid.NewTestPacer(h.clock, 1)
	tel := orchestrator.SessionTelemetry("session-1", h.telemetry)
	cls := classifier.Default()

	h.throttle = throttle.New(cfg.limits, cfg.policy,
		throttle.WithClock(h.clock),
		throttle.WithDelayer(pacer),
		throttle.WithTelemetry(tel),
		throttle.WithLogger(logger),
	)
	exec := executor.New(source, cls, h.throttle, timing(),
		executor.WithClock(h.clock),
		executor.WithDelayer(pacer),
		executor.WithTelemetry(tel),
		executor.WithLogger(logger),
	)
	h.orch = orchestrator.New(source, cls, h.throttle, exec, cfg.settings,
		orchestrator.WithSessionID("session-1"),
		orchestrator.WithLifecycle(cfg.lifecycle),
		orchestrator.WithClock(h.clock),
		orchestrator.WithDelayer(pacer),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithLogger(logger),
	)
	return h
}

func followable(user string) uisim.Row {
	return uisim.Row{User: user, Status: schemas.StatusFollowable}
}

// -- Scenarios --

func TestRun_MixedBatch(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{
		followable("alice"),
		{User: "bob", Status: schemas.StatusActive},
		{User: "carol", Status: schemas.StatusPending},
	}, 0, 0, nil)
	h := newHarness(t, page, defaults())

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	want := executor.Tally{Completed: 1, ActiveProcessed: 1, PendingProcessed: 1}
	if diff := cmp.Diff(want, summary.Tally); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, orchestrator.StopNoMoreElements, summary.StopReason)
	assert.Equal(t, "session-1", summary.SessionID)
	assert.Equal(t, 1, summary.State.DailyCount)
	assert.Equal(t, 1, page.Stats().Triggers)
	assert.Equal(t, schemas.StatusActive, page.Status(0))
}

func TestRun_StopsWhenDailyQuotaExhausted(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{
		followable("a"), followable("b"), followable("c"), followable("d"),
	}, 0, 0, nil)
	cfg := defaults()
	cfg.limits.Daily = 2
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StopQuotaExhausted, summary.StopReason)
	assert.Equal(t, 2, summary.Tally.Completed)
	assert.Equal(t, 2, page.Stats().Triggers)
	assert.Equal(t, schemas.StatusFollowable, page.Status(2), "quota gated rows are left untouched")
	assert.Equal(t, 2, summary.Quota.DailyCount)
}

func TestRun_ActiveRowsProcessedAfterQuotaGate(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{
		followable("a"),
		followable("b"),
		{User: "c", Status: schemas.StatusActive},
	}, 0, 0, nil)
	cfg := defaults()
	cfg.limits.Daily = 1
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	want := executor.Tally{Completed: 1, ActiveProcessed: 1}
	if diff := cmp.Diff(want, summary.Tally); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, orchestrator.StopQuotaExhausted, summary.StopReason)
}

func TestRun_WaitsForHourlySlot(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a"), followable("b")}, 0, 0, nil)
	cfg := defaults()
	cfg.limits.Hourly = 1
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Tally.Completed)
	assert.GreaterOrEqual(t, summary.Ended.Sub(summary.Started), time.Hour,
		"the second action waits for the first to leave the window")
	assert.Equal(t, 2, summary.Quota.DailyCount)
}

func TestRun_PrivateRowRequested(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{{User: "p", Status: schemas.StatusFollowable, Private: true}}, 0, 1, nil)
	h := newHarness(t, page, defaults())

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	want := executor.Tally{Requested: 1}
	if diff := cmp.Diff(want, summary.Tally); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, summary.Quota.DailyCount)
}

func TestRun_FailedRowIsolated(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{
		{User: "broken", Status: schemas.StatusFollowable, Fails: true},
		followable("ok"),
	}, 0, 0, nil)
	h := newHarness(t, page, defaults())

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	want := executor.Tally{Completed: 1, Skipped: 1, Failed: 1}
	if diff := cmp.Diff(want, summary.Tally); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, summary.Quota.DailyCount, "a failed click consumes no quota")
}

func TestRun_InvisibleRowsExcluded(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{
		{User: "ghost", Status: schemas.StatusFollowable, Hidden: true},
		followable("real"),
	}, 0, 0, nil)
	h := newHarness(t, page, defaults())

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, executor.Tally{Completed: 1}, summary.Tally)

	events := h.telemetry.OfType(schemas.EventClassification)
	require.NotEmpty(t, events)
	first := events[0].Classification
	assert.Equal(t, schemas.ClassificationCounts{Scanned: 2, Invisible: 1, Followable: 1}, *first)
}

func TestRun_ScrollsUntilEmptyScansExhausted(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{
		{User: "x", Status: schemas.StatusUnknown},
		{User: "y", Status: schemas.StatusUnknown},
		followable("z"),
	}, 1, 0, nil)
	cfg := defaults()
	cfg.settings.MaxEmptyScans = 3
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StopNoMoreElements, summary.StopReason)
	assert.Equal(t, 1, summary.Tally.Completed, "the followable row is reached by scrolling")
	assert.Equal(t, 3, page.Stats().Loaded)
}

func TestRun_ShortBreakDue(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a"), followable("b")}, 0, 0, nil)
	cfg := defaults()
	cfg.policy = throttle.BreakPolicy{
		ShortEvery:       2,
		ShortDuration:    schemas.DurationRange{Min: 3 * time.Minute, Max: 3 * time.Minute},
		ProgressInterval: time.Minute,
	}
	h := newHarness(t, page, cfg)

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	started := h.telemetry.OfType(schemas.EventBreakStarted)
	require.Len(t, started, 1)
	assert.Equal(t, schemas.BreakShort, started[0].Break.Kind)
	assert.Equal(t, 3*time.Minute, started[0].Break.Total)
	assert.Len(t, h.telemetry.OfType(schemas.EventBreakProgress), 2)
}

func TestRun_BreakTakenMidBatch(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a"), followable("b"), followable("c")}, 0, 0, nil)
	cfg := defaults()
	cfg.policy = throttle.BreakPolicy{
		ShortEvery:    2,
		ShortDuration: schemas.DurationRange{Min: time.Minute, Max: time.Minute},
	}
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Tally.Completed)
	assert.Len(t, h.telemetry.OfType(schemas.EventBreakStarted), 1, "the multiple reached inside the batch is rested on once")
}

func TestRun_BreakDueAcrossBatches(t *testing.T) {
	rows := []uisim.Row{followable("a"), followable("b"), followable("c"), followable("d"), followable("e")}
	page := uisim.NewFromRows(rows, 3, 0, nil)
	cfg := defaults()
	cfg.settings.MaxEmptyScans = 2
	cfg.policy = throttle.BreakPolicy{
		ShortEvery:    2,
		ShortDuration: schemas.DurationRange{Min: time.Minute, Max: time.Minute},
	}
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Tally.Completed)
	assert.Len(t, h.telemetry.OfType(schemas.EventBreakStarted), 2)
}

// -- Cancellation --

func TestRun_LifecycleStop(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a"), followable("b"), followable("c")}, 0, 0, nil)
	cfg := defaults()
	cfg.lifecycle = schemas.LifecycleFunc(func() bool { return page.Stats().Triggers < 1 })
	h := newHarness(t, page, cfg)

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StopRequested, summary.StopReason)
	assert.Equal(t, 1, summary.Tally.Completed)
	assert.Equal(t, 1, page.Stats().Triggers)
}

func TestRun_ContextCancelled(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a"), followable("b")}, 0, 0, nil)
	h := newHarness(t, page, defaults())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.OnSleep = func(time.Duration) {
		if page.Stats().Triggers == 1 {
			cancel()
		}
	}

	summary, err := h.orch.Run(ctx)
	require.NoError(t, err, "cancellation is a stop reason, not an error")

	assert.Equal(t, orchestrator.StopCancelled, summary.StopReason)
	assert.Equal(t, 1, summary.Tally.Completed, "the in flight confirmation still completes")
	assert.Equal(t, 1, page.Stats().Triggers)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a")}, 0, 0, nil)
	h := newHarness(t, page, defaults())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StopCancelled, summary.StopReason)
	assert.Zero(t, page.Stats().Triggers)
}

// -- Collaborator failures --

func TestRun_EnumerateFailureIsFatal(t *testing.T) {
	source := &mocks.MockUISource{}
	source.On("Enumerate", mock.Anything).Return(nil, errors.New("devtools socket closed")).Once()
	h := newHarness(t, source, defaults())

	summary, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, orchestrator.ErrCollaboratorUnavailable))
	assert.Contains(t, err.Error(), "devtools socket closed")
	assert.Equal(t, orchestrator.StopCollaboratorDown, summary.StopReason)
	source.AssertExpectations(t)
}

func TestRun_ElementGoneBeforeAction(t *testing.T) {
	source := &mocks.MockUISource{}
	btn := mocks.Handle("btn-1")
	source.On("Enumerate", mock.Anything).Return([]schemas.ElementHandle{btn}, nil)
	source.On("ReadSignals", mock.Anything, btn).Return(schemas.RawSignals{
		Text:       "Follow",
		ParentText: "alice Suggested for you",
		Geometry:   schemas.Geometry{Width: 90, Height: 32},
	}, nil)
	source.On("IsVisible", mock.Anything, btn).Return(false, nil).Once()
	source.On("ScrollForMore", mock.Anything).Return(nil)
	h := newHarness(t, source, defaults())

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, executor.Tally{Skipped: 1}, summary.Tally)
	source.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	outcomes := h.telemetry.OfType(schemas.EventOutcome)
	require.Len(t, outcomes, 1)
	assert.Contains(t, outcomes[0].Outcome.Error, executor.ErrStaleElement.Error())
}

// -- Telemetry --

func TestRun_SessionEndedEvent(t *testing.T) {
	page := uisim.NewFromRows([]uisim.Row{followable("a")}, 0, 0, nil)
	h := newHarness(t, page, defaults())

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	ended := h.telemetry.OfType(schemas.EventSessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, string(orchestrator.StopNoMoreElements), ended[0].Summary.StopReason)
	assert.Equal(t, 1, ended[0].Summary.Completed)
	for _, e := range h.telemetry.Events() {
		assert.Equal(t, "session-1", e.SessionID, "event %s", e.Type)
	}
}

func TestSessionTelemetry_KeepsExistingID(t *testing.T) {
	rec := observability.NewMemoryTelemetry()
	tel := orchestrator.SessionTelemetry("s1", rec)

	tel.Emit(schemas.Event{Type: schemas.EventOutcome})
	tel.Emit(schemas.Event{Type: schemas.EventOutcome, SessionID: "other"})

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "other", events[1].SessionID)
}

func TestNew_GeneratesSessionID(t *testing.T) {
	page := uisim.NewFromRows(nil, 0, 0, nil)
	cls := classifier.Default()
	th := throttle.New(throttle.DefaultLimits(), throttle.DefaultBreakPolicy())
	exec := executor.New(page, cls, th, executor.DefaultTiming())

	a := orchestrator.New(page, cls, th, exec, orchestrator.DefaultSettings())
	b := orchestrator.New(page, cls, th, exec, orchestrator.DefaultSettings())
	assert.Len(t, a.SessionID(), 36)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}
