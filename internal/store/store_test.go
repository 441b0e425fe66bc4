package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/rtsm-probe/internal/suite"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleReport() *suite.Report {
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.FixedZone("KST", 9*3600))
	return &suite.Report{
		RunID:      "0b7e0a4e-3c55-4b1f-9a86-3f0a3c4b8e11",
		BaseURL:    "https://staging.example.test",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Results: []suite.Result{
			{ID: "r1", Scenario: "page-access", Status: suite.StatusPassed, Attempts: 1, StartedAt: start, Duration: 1500 * time.Millisecond},
			{
				ID: "r2", Scenario: "dashboard", Status: suite.StatusFailed, Attempts: 2, StartedAt: start, Duration: 30 * time.Second,
				Error: "dashboard: study list is empty", Notes: []string{"no dashboard menu"}, Artifacts: []string{"a.jpg"},
			},
		},
	}
}

func TestNewStore(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS rtsm_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveReport(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the run and its results without rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, report.BaseURL, report.StartedAt.UTC(), report.FinishedAt.UTC(), 1, 1, 0).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, resultColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "a committed transaction logs nothing")
	})

	t.Run("should skip the copy for an empty run", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()
		report.Results = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(report.RunID, report.BaseURL, report.StartedAt.UTC(), report.FinishedAt.UTC(), 0, 0, 0).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the run insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).WillReturnError(errors.New("duplicate key"))
		mockPool.ExpectRollback()

		err := s.SaveReport(ctx, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert run")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on a copy count mismatch", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"scenario_results"}, resultColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveReport(ctx, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report begin failures", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := s.SaveReport(ctx, sampleReport())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

func TestResultsByRunID(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newMockStore(t, zap.NewNop())
	started := time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "scenario", "status", "attempts", "started_at", "duration_ms", "error", "notes", "artifacts"}).
		AddRow("r1", "page-access", "passed", 1, started, int64(1500), "", []string{}, []string{}).
		AddRow("r2", "dashboard", "failed", 2, started, int64(30000), "boom", []string{"note"}, []string{"a.jpg"})
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectResults)).WithArgs("run-1").WillReturnRows(rows)

	results, err := s.ResultsByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, suite.StatusPassed, results[0].Status)
	assert.Equal(t, 1500*time.Millisecond, results[0].Duration)
	assert.Equal(t, suite.StatusFailed, results[1].Status)
	assert.Equal(t, 2, results[1].Attempts)
	assert.Equal(t, []string{"a.jpg"}, results[1].Artifacts)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestResultsByRunID_QueryError(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectResults)).WithArgs("run-1").WillReturnError(errors.New("relation does not exist"))

	_, err := s.ResultsByRunID(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query scenario results")
}
