package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the archive_runs status column.
type RunStatus string

// Run statuses persisted in archive_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one archive build.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
}

// HostStats aggregates fetch outcomes per remote host for one run.
type HostStats struct {
	RunID      uuid.UUID
	Host       string
	LastUpdate time.Time
	Fetched    int64
	Failed     int64
	BytesTotal int64
}

// RunRepository persists incremental build progress.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) the started_at timestamp.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// FinishRun marks the run finished with the provided status and error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddHostStats applies fetched/failed/byte deltas per (run, host).
	AddHostStats(ctx context.Context, runID uuid.UUID, host string, fetched, failed, bytes int64, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
	// ListRunHosts returns aggregated host stats for one run.
	ListRunHosts(ctx context.Context, runID uuid.UUID) ([]HostStats, error)
}
