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

	"github.com/d3xf/scenic/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleResult() *schemas.RunResult {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &schemas.RunResult{
		RunID:      "run-123",
		SessionID:  "sess-9",
		TargetURL:  "https://example.com/login",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Success:    true,
		CapturedReturns: []interface{}{
			"hello", float64(2),
		},
		Records: []schemas.ActionRecord{
			{Path: "[0]", Kind: schemas.ActionGoto, Status: schemas.StatusCompleted, StartedAt: started, DurationMs: 1200},
			{Path: "[1]", Kind: schemas.ActionClick, Status: schemas.StatusCompleted, StartedAt: started.Add(time.Second), DurationMs: 90},
		},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestPersistRun(t *testing.T) {
	ctx := context.Background()

	t.Run("persists run and records in one transaction", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		res := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO runs")).
			WithArgs(res.RunID, res.SessionID, res.TargetURL,
				res.StartedAt.UTC(), res.FinishedAt.UTC(),
				res.Success, res.FailedPath, res.Error, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"action_records"},
			[]string{"run_id", "seq", "path", "kind", "status", "error", "started_at", "duration_ms"}).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback() // deferred rollback on the closed tx

		require.NoError(t, s.PersistRun(ctx, res))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("skips copy when there are no records", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		res := sampleResult()
		res.Records = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO runs")).
			WithArgs(res.RunID, res.SessionID, res.TargetURL,
				res.StartedAt.UTC(), res.FinishedAt.UTC(),
				res.Success, res.FailedPath, res.Error, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback()

		require.NoError(t, s.PersistRun(ctx, res))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back when insert fails", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		res := sampleResult()

		insertErr := errors.New("constraint violation")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO runs")).
			WithArgs(res.RunID, res.SessionID, res.TargetURL,
				res.StartedAt.UTC(), res.FinishedAt.UTC(),
				res.Success, res.FailedPath, res.Error, pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, res)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("fails on copy count mismatch", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		res := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO runs")).
			WithArgs(res.RunID, res.SessionID, res.TargetURL,
				res.StartedAt.UTC(), res.FinishedAt.UTC(),
				res.Success, res.FailedPath, res.Error, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"action_records"},
			[]string{"run_id", "seq", "path", "kind", "status", "error", "started_at", "duration_ms"}).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistRun(ctx, res)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied record count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newTestStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher("CREATE TABLE IF NOT EXISTS runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()

	t.Run("loads run with records", func(t *testing.T) {
		s, mockPool := newTestStore(t)
		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		runRows := pgxmock.NewRows([]string{
			"run_id", "session_id", "target_url", "started_at", "finished_at",
			"success", "failed_path", "error", "captured_returns",
		}).AddRow("run-123", "sess-9", "https://example.com", started, started.Add(time.Second),
			false, "[1]", "click failed", []byte(`["hello"]`))
		mockPool.ExpectQuery(flexibleSQLMatcher("SELECT run_id, session_id, target_url")).
			WithArgs("run-123").
			WillReturnRows(runRows)

		recordRows := pgxmock.NewRows([]string{"path", "kind", "status", "error", "started_at", "duration_ms"}).
			AddRow("[0]", "goto", "completed", "", started, int64(900)).
			AddRow("[1]", "click", "failed", "click failed", started, int64(60000))
		mockPool.ExpectQuery(flexibleSQLMatcher("SELECT path, kind, status, error, started_at, duration_ms")).
			WithArgs("run-123").
			WillReturnRows(recordRows)

		res, err := s.GetRun(ctx, "run-123")
		require.NoError(t, err)
		assert.Equal(t, "run-123", res.RunID)
		assert.False(t, res.Success)
		assert.Equal(t, "[1]", res.FailedPath)
		assert.Equal(t, []interface{}{"hello"}, res.CapturedReturns)
		require.Len(t, res.Records, 2)
		assert.Equal(t, schemas.ActionClick, res.Records[1].Kind)
		assert.Equal(t, schemas.StatusFailed, res.Records[1].Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing run", func(t *testing.T) {
		s, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher("SELECT run_id, session_id, target_url")).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{
				"run_id", "session_id", "target_url", "started_at", "finished_at",
				"success", "failed_path", "error", "captured_returns",
			}))

		_, err := s.GetRun(ctx, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
