package progress

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestHubBatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		emit    int
		batches []int
	}{
		{
			name:    "flushes at size limit",
			cfg:     Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute},
			emit:    4,
			batches: []int{2, 2},
		},
		{
			name:    "flushes small batch on timer",
			cfg:     Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond},
			emit:    1,
			batches: []int{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sink := &recordingSink{}
			hub := NewHub(tt.cfg, sink)
			t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

			for i := 0; i < tt.emit; i++ {
				hub.Emit(fetchDone("cdn.example.com", 1024))
			}
			require.Eventually(t, func() bool {
				return slices.Equal(sink.sizes(), tt.batches)
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestHubEmitNeverBlocksWorkers(t *testing.T) {
	t.Parallel()

	// Unbuffered and unread: every send would block.
	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			hub.Emit(fetchDone("example.com", 1))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
	require.Equal(t, int64(3), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(fetchDone("", 10))
	hub.Emit(Event{Stage: StageRunStart, TS: time.Now()})
	hub.Emit(Event{RunID: testRun, TS: time.Now(), Stage: StageRecordDone})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.sizes())
	require.Equal(t, 1, sink.closes)
}

func TestHubCloseFlushesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.Emit(Event{RunID: testRun, TS: time.Now(), Stage: StageRunStart})
	hub.Emit(Event{RunID: testRun, TS: time.Now(), Stage: StageRecordDone, Record: "2014-02-10_Weekly_Note_7"})

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, []int{2}, sink.sizes())
	require.Equal(t, 1, sink.closes)

	// Emits after Close are ignored.
	hub.Emit(Event{RunID: testRun, TS: time.Now(), Stage: StageRunDone})
	require.Equal(t, []int{2}, sink.sizes())
}

func TestHubCountsDroppedEvents(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var consumed sync.WaitGroup
	consumed.Add(1)
	var once sync.Once
	blocking := SinkFunc(func(context.Context, []Event) error {
		once.Do(consumed.Done)
		<-release
		return nil
	})
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1}, blocking)

	// The first event is taken by the loop and blocks in the sink.
	hub.Emit(fetchDone("example.com", 1))
	consumed.Wait()
	hub.Emit(fetchDone("example.com", 1))
	hub.Emit(fetchDone("example.com", 1))
	hub.Emit(fetchDone("example.com", 1))

	require.Equal(t, int64(2), hub.Dropped())
	close(release)
	require.NoError(t, hub.Close(context.Background()))

	var nilHub *Hub
	require.Zero(t, nilHub.Dropped())
}

func TestHubCloseTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	hub := NewHub(Config{MaxBatchEvents: 1}, SinkFunc(func(context.Context, []Event) error {
		<-release
		return nil
	}))
	hub.Emit(fetchDone("example.com", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, hub.Close(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, hub.Close(context.Background()))
}

var testRun = UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-0000000000a1"))

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closes  int
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

func fetchDone(host string, bytes int64) Event {
	return Event{
		RunID:       testRun,
		TS:          time.Now(),
		Stage:       StageFetchDone,
		Host:        host,
		StatusClass: Status2xx,
		Bytes:       bytes,
	}
}
