// File: cmd/session.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/api/schemas"
	"github.com/xkilldash9x/cadence/internal/classifier"
	"github.com/xkilldash9x/cadence/internal/config"
	"github.com/xkilldash9x/cadence/internal/executor"
	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/observability"
	"github.com/xkilldash9x/cadence/internal/orchestrator"
	"github.com/xkilldash9x/cadence/internal/store"
	"github.com/xkilldash9x/cadence/internal/throttle"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Configuration mapping --

func limitsFrom(c config.ThrottleConfig) throttle.Limits {
	return throttle.Limits{
		Daily:    c.DailyLimit,
		Hourly:   c.HourlyLimit,
		Lifetime: c.LifetimeLimit,
		Window:   c.Window,
		Interval: schemas.DurationRange{Min: c.IntervalMin, Max: c.IntervalMax},
	}
}

func breakPolicyFrom(c config.BreaksConfig) throttle.BreakPolicy {
	return throttle.BreakPolicy{
		ShortEvery:       c.ShortEvery,
		ShortDuration:    schemas.DurationRange{Min: c.ShortMin, Max: c.ShortMax},
		LongEvery:        c.LongEvery,
		LongDuration:     schemas.DurationRange{Min: c.LongMin, Max: c.LongMax},
		ProgressInterval: c.ProgressInterval,
	}
}

func timingFrom(c config.ExecutorConfig) executor.Timing {
	return executor.Timing{
		Observe:        schemas.DurationRange{Min: c.ObserveMin, Max: c.ObserveMax},
		Reaction:       schemas.DurationRange{Min: c.ReactionMin, Max: c.ReactionMax},
		Retry:          schemas.DurationRange{Min: c.RetryMin, Max: c.RetryMax},
		ConfirmTimeout: c.ConfirmTimeout,
	}
}

func settingsFrom(cfg *config.Config) orchestrator.Settings {
	o := cfg.Orchestrator
	return orchestrator.Settings{
		EmptyScanDelay: schemas.DurationRange{Min: o.EmptyScanDelayMin, Max: o.EmptyScanDelayMax},
		BetweenDelay:   schemas.DurationRange{Min: o.BetweenDelayMin, Max: o.BetweenDelayMax},
		RestDelay:      schemas.DurationRange{Min: o.RestDelayMin, Max: o.RestDelayMax},
		MaxEmptyScans:  o.MaxEmptyScans,
		DailyRollover:  cfg.Throttle.DailyRollover,
	}
}

func lexiconFrom(c config.ClassifierConfig) classifier.Lexicon {
	return classifier.DefaultLexicon().Merge(classifier.Lexicon{
		Pending:           c.Pending,
		PendingClasses:    c.PendingClasses,
		PendingAttributes: c.PendingAttributes,
		Active:            c.Active,
		CallToAction:      c.CallToAction,
		Close:             c.Close,
		CloseWords:        c.CloseWords,
		CloseClasses:      c.CloseClasses,
	})
}

// -- Session wiring --

// runtimeDeps are the pieces that differ between a live run and a simulation.
type runtimeDeps struct {
	source schemas.UISource
	clock  humanoid.Clock
	pacer  *humanoid.Pacer
	// deadline, when non zero, stops the session once the clock passes it.
	deadline time.Duration
}

type session struct {
	id        string
	orch      *orchestrator.Orchestrator
	throttle  *throttle.Throttle
	repo      store.Repository
	closeRepo func()
	sink      *observability.AsyncTelemetry
	logger    *zap.Logger
}

func newSession(ctx context.Context, cfg *config.Config, deps runtimeDeps, logger *zap.Logger) (*session, error) {
	limits, policy := limitsFrom(cfg.Throttle), breakPolicyFrom(cfg.Breaks)
	if err := errors.Join(limits.Validate(), policy.Validate()); err != nil {
		return nil, fmt.Errorf("invalid throttle settings: %w", err)
	}
	cls, err := classifier.New(lexiconFrom(cfg.Classifier), logger)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open quota history: %w", err)
	}
	s := &session{id: uuid.NewString(), repo: repo, closeRepo: closeRepo, logger: logger}
	tel := schemas.NopTelemetry
	if cfg.Orchestrator.TelemetryEnabled {
		s.sink = observability.NewAsyncTelemetry(observability.NewZapTelemetry(logger), cfg.Orchestrator.TelemetryQueueSize)
		tel = s.sink
	}
	tel = orchestrator.SessionTelemetry(s.id, tel)

	s.throttle = throttle.New(limits, policy,
		throttle.WithClock(deps.clock),
		throttle.WithDelayer(deps.pacer),
		throttle.WithTelemetry(tel),
		throttle.WithLogger(logger),
	)
	if err := restoreState(ctx, repo, s.throttle); err != nil {
		s.close()
		return nil, fmt.Errorf("restore quota history: %w", err)
	}

	exec := executor.New(deps.source, cls, s.throttle, timingFrom(cfg.Executor),
		executor.WithClock(deps.clock),
		executor.WithDelayer(deps.pacer),
		executor.WithTelemetry(tel),
		executor.WithLogger(logger),
	)

	lifecycle := schemas.AlwaysRunning
	if deps.deadline > 0 {
		stopAt := deps.clock.Now().Add(deps.deadline)
		lifecycle = schemas.LifecycleFunc(func() bool { return deps.clock.Now().Before(stopAt) })
	}

	s.orch = orchestrator.New(deps.source, cls, s.throttle, exec, settingsFrom(cfg),
		orchestrator.WithSessionID(s.id),
		orchestrator.WithLifecycle(lifecycle),
		orchestrator.WithClock(deps.clock),
		orchestrator.WithDelayer(deps.pacer),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithLogger(logger),
	)
	return s, nil
}

// run executes the session and stores the quota history afterwards, even
// when the session was interrupted.
func (s *session) run(ctx context.Context) (orchestrator.Summary, error) {
	defer s.close()
	summary, runErr := s.orch.Run(ctx)
	if s.repo == nil {
		return summary, runErr
	}
	// The session context may already be cancelled; the history is written
	// regardless.
	if err := s.repo.SaveSession(context.WithoutCancel(ctx), summary); err != nil {
		s.logger.Error("Failed to save quota history.", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return summary, runErr
}

func (s *session) close() {
	s.closeRepo()
	if s.sink == nil {
		return
	}
	s.sink.Close()
	if dropped := s.sink.Dropped(); dropped > 0 {
		s.logger.Warn("Telemetry events dropped.", zap.Int("count", dropped))
	}
}

// -- Quota history --

// openRepository picks where quota history lives: PostgreSQL when a database
// URL is configured, else the state file, else nowhere. The returned close
// function is never nil.
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Repository, func(), error) {
	if url := cfg.Store.DatabaseURL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		st, err := store.New(ctx, pool, cfg.Store.Account, logger)
		if err == nil {
			err = st.EnsureSchema(ctx)
		}
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	}
	if path := cfg.Throttle.StateFile; path != "" {
		return store.NewFileStore(path), func() {}, nil
	}
	return nil, func() {}, nil
}

// restoreState seeds the throttle with stored history. Session scoped
// fields start over.
func restoreState(ctx context.Context, repo store.Repository, th *throttle.Throttle) error {
	if repo == nil {
		return nil
	}
	st, ok, err := repo.LoadState(ctx)
	if err != nil || !ok {
		return err
	}
	st.SessionCount = 0
	st.SessionStart = time.Time{}
	th.Restore(st)
	th.RolloverIfNewDay()
	return nil
}

// -- Output --

func printSummary(w io.Writer, summary orchestrator.Summary, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	t := summary.Tally
	_, err := fmt.Fprintf(w,
		"\nSession %s finished: %s\n"+
			"  completed        %d\n"+
			"  requested        %d\n"+
			"  already active   %d\n"+
			"  already pending  %d\n"+
			"  skipped          %d (failed %d)\n"+
			"  quota            daily %d/%d, hourly %d/%d, lifetime %d/%d\n"+
			"  elapsed          %s\n",
		summary.SessionID, summary.StopReason,
		t.Completed, t.Requested, t.ActiveProcessed, t.PendingProcessed, t.Skipped, t.Failed,
		summary.Quota.DailyCount, summary.Quota.DailyLimit,
		summary.Quota.HourlyCount, summary.Quota.HourlyLimit,
		summary.Quota.LifetimeCount, summary.Quota.LifetimeLimit,
		summary.Ended.Sub(summary.Started).Round(time.Second),
	)
	return err
}
