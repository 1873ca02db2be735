package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS host_stats (
	run_id UUID NOT NULL REFERENCES archive_runs (id) ON DELETE CASCADE,
	host TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	fetched BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, host)
);
`

// EnsureSchema creates the run tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
