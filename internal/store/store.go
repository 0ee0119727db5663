// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/internal/orchestrator"
	"github.com/xkilldash9x/cadence/internal/throttle"
)

// Repository carries quota history between sessions.
type Repository interface {
	// LoadState returns the stored state, or false when nothing is stored yet.
	LoadState(ctx context.Context) (throttle.State, bool, error)
	// SaveSession stores the state at the end of a session along with its summary.
	SaveSession(ctx context.Context, summary orchestrator.Summary) error
}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlCreateSchema = `
        CREATE TABLE IF NOT EXISTS quota_state (
            account        TEXT PRIMARY KEY,
            daily_count    INTEGER NOT NULL,
            lifetime_count INTEGER NOT NULL,
            ledger         TIMESTAMPTZ[] NOT NULL,
            day_start      TIMESTAMPTZ,
            last_action    TIMESTAMPTZ,
            updated_at     TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS session_summaries (
            session_id        TEXT PRIMARY KEY,
            account           TEXT NOT NULL,
            started_at        TIMESTAMPTZ NOT NULL,
            ended_at          TIMESTAMPTZ NOT NULL,
            stop_reason       TEXT NOT NULL,
            completed         INTEGER NOT NULL,
            requested         INTEGER NOT NULL,
            active_processed  INTEGER NOT NULL,
            pending_processed INTEGER NOT NULL,
            skipped           INTEGER NOT NULL,
            failed            INTEGER NOT NULL
        );
    `
	sqlSelectState = `
        SELECT daily_count, lifetime_count, ledger, day_start, last_action
        FROM quota_state
        WHERE account = $1;
    `
	sqlUpsertState = `
        INSERT INTO quota_state (account, daily_count, lifetime_count, ledger, day_start, last_action, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (account) DO UPDATE SET
            daily_count = EXCLUDED.daily_count,
            lifetime_count = EXCLUDED.lifetime_count,
            ledger = EXCLUDED.ledger,
            day_start = EXCLUDED.day_start,
            last_action = EXCLUDED.last_action,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertSession = `
        INSERT INTO session_summaries (session_id, account, started_at, ended_at, stop_reason,
            completed, requested, active_processed, pending_processed, skipped, failed)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `
)

// Store is the PostgreSQL Repository for one account.
type Store struct {
	pool    DBPool
	account string
	log     *zap.Logger
}

var _ Repository = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, account string, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool:    pool,
		account: account,
		log:     logger.Named("store").With(zap.String("account", account)),
	}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LoadState implements Repository.
func (s *Store) LoadState(ctx context.Context) (throttle.State, bool, error) {
	var (
		st                   throttle.State
		dayStart, lastAction *time.Time
	)
	err := s.pool.QueryRow(ctx, sqlSelectState, s.account).
		Scan(&st.DailyCount, &st.LifetimeCount, &st.Ledger, &dayStart, &lastAction)
	if errors.Is(err, pgx.ErrNoRows) {
		return throttle.State{}, false, nil
	}
	if err != nil {
		return throttle.State{}, false, fmt.Errorf("failed to query quota state: %w", err)
	}
	if dayStart != nil {
		st.DayStart = *dayStart
	}
	if lastAction != nil {
		st.LastAction = *lastAction
	}
	s.log.Debug("Loaded quota state.", zap.Int("daily", st.DailyCount), zap.Int("lifetime", st.LifetimeCount))
	return st, true, nil
}

// SaveSession implements Repository. The state and the summary are written
// in one transaction.
func (s *Store) SaveSession(ctx context.Context, summary orchestrator.Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	st := summary.State
	ledger := make([]time.Time, len(st.Ledger))
	for i, ts := range st.Ledger {
		ledger[i] = ts.UTC()
	}
	if _, err := tx.Exec(ctx, sqlUpsertState,
		s.account, st.DailyCount, st.LifetimeCount, ledger,
		nullTime(st.DayStart), nullTime(st.LastAction), summary.Ended.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert quota state: %w", err)
	}

	t := summary.Tally
	if _, err := tx.Exec(ctx, sqlInsertSession,
		summary.SessionID, s.account, summary.Started.UTC(), summary.Ended.UTC(), string(summary.StopReason),
		t.Completed, t.Requested, t.ActiveProcessed, t.PendingProcessed, t.Skipped, t.Failed,
	); err != nil {
		return fmt.Errorf("failed to insert session summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
