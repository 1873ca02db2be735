package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/progress"
	"github.com/JakeFAU/newsletter-archiver/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Fetch outcomes are
// collapsed per host within a batch before they are written.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies run transitions in order and flushes host deltas last.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var finals []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			finals = append(finals, evt)
		case progress.StageFetchDone:
			recordHostStats(stats, runID, evt)
		}
	}

	for key, delta := range stats {
		if err := s.repo.AddHostStats(
			ctx,
			key.runID,
			key.host,
			delta.fetched,
			delta.failed,
			delta.bytes,
			delta.at,
		); err != nil {
			return fmt.Errorf("add host stats: %w", err)
		}
	}

	for _, evt := range finals {
		if err := s.finish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) finish(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	s.logger.Debug("run persisted", zap.Stringer("run_id", evt.RunUUID()), zap.String("status", string(status)))
	return nil
}

func recordHostStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Host == "" {
		return
	}
	key := statsKey{runID: runID, host: evt.Host}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	if evt.Failed {
		stat.failed++
	} else {
		stat.fetched++
		stat.bytes += evt.Bytes
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID uuid.UUID
	host  string
}

type statsDelta struct {
	fetched int64
	failed  int64
	bytes   int64
	at      time.Time
}
