package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/newsletter-archiver/internal/progress"
)

// PrometheusSink exports build progress via Prometheus: runs started,
// completed and in flight, plus per-host fetch counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchFailures *prometheus.CounterVec

	recordsDone    *prometheus.CounterVec
	indexesWritten prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_runs_started_total",
			Help: "Total archive builds that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_runs_completed_total",
			Help: "Total archive builds completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_runs_running",
			Help: "Current number of running archive builds.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_run_runtime_seconds",
			Help:    "Wall time per completed archive build.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_fetch_requests_total",
			Help: "Fetch completions partitioned by host and status class.",
		}, []string{"host", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_fetch_bytes_total",
			Help: "Bytes written to the archive per host.",
		}, []string{"host"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by host and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"host", "status_class"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_fetch_failures_total",
			Help: "Fetch tasks that did not land on disk, per host.",
		}, []string{"host"}),
		recordsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_records_total",
			Help: "Records processed partitioned by outcome.",
		}, []string{"outcome"}),
		indexesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_index_writes_total",
			Help: "Archive index documents written.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.fetchFailures,
		s.recordsDone,
		s.indexesWritten,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageRecordDone:
		s.recordsDone.WithLabelValues("archived").Inc()
	case progress.StageRecordSkip:
		s.recordsDone.WithLabelValues("skipped").Inc()
	case progress.StageRewriteFail:
		s.recordsDone.WithLabelValues("rewrite_failed").Inc()
	case progress.StageIndexWrote:
		s.indexesWritten.Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	host := evt.Host
	if host == "" {
		host = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(host, statusClass).Inc()
	if evt.Failed {
		s.fetchFailures.WithLabelValues(host).Inc()
	}
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(host).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(host, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
