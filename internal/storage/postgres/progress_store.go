// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/newsletter-archiver/internal/store"
)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pool
}

// NewRunStore creates a RunStore backed by a new connection pool.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	if dsn == "" {
		return nil, errors.New("db.dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// StartRun inserts a run row in the running state.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO archive_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE archive_runs.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// FinishRun marks a run as completed with a status and optional error message.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE archive_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddHostStats accumulates per-host fetch counters for a run.
func (s *RunStore) AddHostStats(
	ctx context.Context,
	runID uuid.UUID,
	host string,
	fetched,
	failed,
	bytes int64,
	at time.Time,
) error {
	query := `
		INSERT INTO host_stats (run_id, host, last_update, fetched, failed, bytes_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, host) DO UPDATE
		SET fetched = host_stats.fetched + EXCLUDED.fetched,
			failed = host_stats.failed + EXCLUDED.failed,
			bytes_total = host_stats.bytes_total + EXCLUDED.bytes_total,
			last_update = GREATEST(host_stats.last_update, EXCLUDED.last_update);
	`
	if _, err := s.pool.Exec(ctx, query, runID, host, at, fetched, failed, bytes); err != nil {
		return fmt.Errorf("failed to add host stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM archive_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM archive_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunHosts retrieves aggregated host statistics for a run.
func (s *RunStore) ListRunHosts(ctx context.Context, runID uuid.UUID) ([]store.HostStats, error) {
	query := `
		SELECT run_id, host, last_update, fetched, failed, bytes_total
		FROM host_stats
		WHERE run_id = $1
		ORDER BY host;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run hosts: %w", err)
	}
	defer rows.Close()

	var stats []store.HostStats
	for rows.Next() {
		var stat store.HostStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Host,
			&stat.LastUpdate,
			&stat.Fetched,
			&stat.Failed,
			&stat.BytesTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan host stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate host stats: %w", err)
	}
	return stats, nil
}
