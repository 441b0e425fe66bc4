package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// Schema creates the tables SaveReport writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS rtsm_runs (
    id          UUID PRIMARY KEY,
    base_url    TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    passed      INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    skipped     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_results (
    id          UUID PRIMARY KEY,
    run_id      UUID NOT NULL REFERENCES rtsm_runs(id) ON DELETE CASCADE,
    scenario    TEXT NOT NULL,
    status      TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    notes       TEXT[] NOT NULL DEFAULT '{}',
    artifacts   TEXT[] NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS scenario_results_run_id_idx ON scenario_results (run_id);
`

const sqlInsertRun = `
    INSERT INTO rtsm_runs (id, base_url, started_at, finished_at, passed, failed, skipped)
    VALUES ($1, $2, $3, $4, $5, $6, $7);
`

const sqlSelectResults = `
    SELECT id, scenario, status, attempts, started_at, duration_ms, error, notes, artifacts
    FROM scenario_results
    WHERE run_id = $1
    ORDER BY started_at ASC, scenario ASC;
`

var resultColumns = []string{"id", "run_id", "scenario", "status", "attempts", "started_at", "duration_ms", "error", "notes", "artifacts"}

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists run reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate applies Schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveReport writes the run and all of its results in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *suite.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.BaseURL,
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
		report.Count(suite.StatusPassed), report.Count(suite.StatusFailed), report.Count(suite.StatusSkipped),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	if len(report.Results) > 0 {
		if err := s.copyResults(ctx, tx, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Saved run report.", zap.String("run_id", report.RunID), zap.Int("results", len(report.Results)))
	return nil
}

func (s *Store) copyResults(ctx context.Context, tx pgx.Tx, report *suite.Report) error {
	rows := make([][]interface{}, len(report.Results))
	for i, r := range report.Results {
		rows[i] = []interface{}{
			r.ID, report.RunID, r.Scenario, string(r.Status), r.Attempts,
			r.StartedAt.UTC(), r.Duration.Milliseconds(), r.Error,
			nonNil(r.Notes), nonNil(r.Artifacts),
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"scenario_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy scenario results: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// ResultsByRunID loads the results saved for runID, oldest first.
func (s *Store) ResultsByRunID(ctx context.Context, runID string) ([]suite.Result, error) {
	rows, err := s.pool.Query(ctx, sqlSelectResults, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario results: %w", err)
	}
	defer rows.Close()

	var results []suite.Result
	for rows.Next() {
		var (
			r          suite.Result
			status     string
			durationMS int64
		)
		if err := rows.Scan(&r.ID, &r.Scenario, &status, &r.Attempts, &r.StartedAt, &durationMS, &r.Error, &r.Notes, &r.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.Status = suite.Status(status)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
