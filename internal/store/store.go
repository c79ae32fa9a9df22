package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking
// in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides a PostgreSQL implementation of schemas.RunStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RunStore = (*Store)(nil)

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

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id           TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL DEFAULT '',
    target_url       TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL,
    finished_at      TIMESTAMPTZ NOT NULL,
    success          BOOLEAN NOT NULL,
    failed_path      TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    captured_returns JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS action_records (
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    path        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_target_url ON runs (target_url, started_at DESC);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const sqlInsertRun = `
INSERT INTO runs (run_id, session_id, target_url, started_at, finished_at, success, failed_path, error, captured_returns)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`

// PersistRun writes the run summary and its per-action records in one
// transaction.
func (s *Store) PersistRun(ctx context.Context, res *schemas.RunResult) error {
	captured, err := json.Marshal(res.CapturedReturns)
	if err != nil {
		return fmt.Errorf("failed to marshal captured returns: %w", err)
	}
	if len(captured) == 0 || string(captured) == "null" {
		captured = json.RawMessage("[]")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		res.RunID, res.SessionID, res.TargetURL,
		res.StartedAt.UTC(), res.FinishedAt.UTC(),
		res.Success, res.FailedPath, res.Error, captured,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(res.Records) > 0 {
		rows := make([][]interface{}, len(res.Records))
		for i, r := range res.Records {
			rows[i] = []interface{}{
				res.RunID, i, r.Path, string(r.Kind), string(r.Status),
				r.Error, r.StartedAt.UTC(), r.DurationMs,
			}
		}

		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"action_records"},
			[]string{"run_id", "seq", "path", "kind", "status", "error", "started_at", "duration_ms"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy action records: %w", err)
		}
		if int(copyCount) != len(res.Records) {
			return fmt.Errorf("mismatch in copied record count: expected %d, got %d", len(res.Records), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun loads a persisted run with its action records.
func (s *Store) GetRun(ctx context.Context, runID string) (*schemas.RunResult, error) {
	query := `
SELECT run_id, session_id, target_url, started_at, finished_at, success, failed_path, error, captured_returns
FROM runs
WHERE run_id = $1;
`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, fmt.Errorf("run %s not found", runID)
	}

	var res schemas.RunResult
	var captured []byte
	if err := rows.Scan(
		&res.RunID, &res.SessionID, &res.TargetURL,
		&res.StartedAt, &res.FinishedAt,
		&res.Success, &res.FailedPath, &res.Error, &captured,
	); err != nil {
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}
	rows.Close()

	if len(captured) > 0 {
		if err := json.Unmarshal(captured, &res.CapturedReturns); err != nil {
			return nil, fmt.Errorf("failed to decode captured returns: %w", err)
		}
	}

	records, err := s.getRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	res.Records = records
	return &res, nil
}

func (s *Store) getRecords(ctx context.Context, runID string) ([]schemas.ActionRecord, error) {
	query := `
SELECT path, kind, status, error, started_at, duration_ms
FROM action_records
WHERE run_id = $1
ORDER BY seq ASC;
`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action records: %w", err)
	}
	defer rows.Close()

	var records []schemas.ActionRecord
	for rows.Next() {
		var r schemas.ActionRecord
		var kind, status string
		if err := rows.Scan(&r.Path, &kind, &status, &r.Error, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		r.Kind = schemas.ActionKind(kind)
		r.Status = schemas.ActionStatus(status)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
