package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches the events of an archive run and fans them out to sinks. Emit
// is safe for concurrent use by fetch workers and never blocks them.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool

	// pending counts drops since the last warning; dropped counts all of them.
	pending  atomic.Int64
	dropped  atomic.Int64
	lastWarn atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.loop()
	return h
}

// Emit enqueues an Event. A full buffer drops the event and logs a
// throttled warning.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.drop()
	}
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	h.pending.Add(1)
	now := time.Now().UnixNano()
	last := h.lastWarn.Load()
	if now-last < dropWarnInterval.Nanoseconds() || !h.lastWarn.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.pending.Swap(0)))
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close drains buffered events, flushes and closes every sink, then waits for
// the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	b := &batcher{
		events: make([]Event, 0, h.cfg.MaxBatchEvents),
		max:    h.cfg.MaxBatchEvents,
		timer:  newFlushTimer(h.cfg.MaxBatchWait),
		flush:  h.flush,
	}
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer.C():
			b.timer.fired()
			b.drain()
		case <-h.stopCh:
			b.timer.stop()
			h.drainBuffered(b)
			b.drain()
			h.closeSinks()
			return
		}
	}
}

// drainBuffered moves whatever is still in the channel into the batch.
func (h *Hub) drainBuffered(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			b.push(evt)
		default:
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(snapshot)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batcher accumulates events until the size limit or the flush timer fires.
type batcher struct {
	events []Event
	max    int
	timer  *flushTimer
	flush  func([]Event)
}

// add appends evt, flushing at the size limit and arming the timer otherwise.
func (b *batcher) add(evt Event) {
	b.events = append(b.events, evt)
	if len(b.events) >= b.max {
		b.timer.stop()
		b.drain()
		return
	}
	b.timer.arm()
}

// push appends evt without touching the timer.
func (b *batcher) push(evt Event) {
	b.events = append(b.events, evt)
	if len(b.events) >= b.max {
		b.drain()
	}
}

func (b *batcher) drain() {
	if len(b.events) == 0 {
		return
	}
	b.flush(b.events)
	b.events = b.events[:0]
}

// flushTimer wraps a stopped time.Timer that is re-armed on demand.
type flushTimer struct {
	t      *time.Timer
	wait   time.Duration
	active bool
}

func newFlushTimer(wait time.Duration) *flushTimer {
	t := time.NewTimer(wait)
	t.Stop()
	return &flushTimer{t: t, wait: wait}
}

func (f *flushTimer) C() <-chan time.Time {
	return f.t.C
}

func (f *flushTimer) fired() {
	f.active = false
}

func (f *flushTimer) arm() {
	f.stop()
	f.t.Reset(f.wait)
	f.active = true
}

func (f *flushTimer) stop() {
	if !f.active {
		return
	}
	if !f.t.Stop() {
		select {
		case <-f.t.C:
		default:
		}
	}
	f.active = false
}
