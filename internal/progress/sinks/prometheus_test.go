package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archiver/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{
			RunID:       runID,
			TS:          time.Now().Add(10 * time.Second),
			Stage:       progress.StageFetchDone,
			Host:        "example.com",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{
			RunID:       runID,
			TS:          time.Now().Add(11 * time.Second),
			Stage:       progress.StageFetchDone,
			Host:        "example.com",
			StatusClass: progress.Status4xx,
			Failed:      true,
		},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRecordDone, Record: "2020-05-01_Note"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageIndexWrote},
		{RunID: runID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.fetchRequests.WithLabelValues("example.com", string(progress.Status2xx))),
		1e-9,
	)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.fetchFailures.WithLabelValues("example.com")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "archiver_fetch_duration_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.recordsDone.WithLabelValues("archived")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.indexesWritten))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
