// Package worker executes fetch tasks: pace, download, and land each file in the archive.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/metrics"
	"github.com/JakeFAU/newsletter-archiver/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// Root is the absolute archive root; task destinations are stored relative to it.
	Root string
	// RunID tags emitted progress events.
	RunID [16]byte
	// Headers are sent with every request.
	Headers http.Header
	// Policy, when set, is consulted before pacing or fetching.
	Policy archive.FetchPolicy
}

// Worker consumes fetch tasks from a queue. Several workers share one queue.
type Worker struct {
	queue     archive.TaskQueue
	fetcher   archive.Fetcher
	blobStore archive.BlobStore
	limiter   archive.RateLimiter
	emitter   progress.Emitter
	clock     archive.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter and emitter may be nil.
func New(
	queue archive.TaskQueue,
	fetcher archive.Fetcher,
	blobStore archive.BlobStore,
	limiter archive.RateLimiter,
	emitter progress.Emitter,
	clock archive.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		fetcher:   fetcher,
		blobStore: blobStore,
		limiter:   limiter,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes tasks until the queue is closed and drained or the context
// finishes, handing every outcome to report.
func (w *Worker) Run(ctx context.Context, report func(archive.FetchResult)) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, archive.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		report(w.Process(ctx, task))
	}
}

// Process performs one transfer. A failure is confined to the returned result.
func (w *Worker) Process(ctx context.Context, task archive.FetchTask) archive.FetchResult {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	host := metrics.SanitizeHost(task.URL)
	w.emit(progress.Event{Stage: progress.StageFetchStart, Host: host, URL: task.URL})

	start := time.Now()
	result := w.transfer(ctx, task)
	result.Duration = time.Since(start)

	evt := progress.Event{
		Stage:       progress.StageFetchDone,
		Host:        host,
		URL:         task.URL,
		Bytes:       result.Bytes,
		StatusClass: progress.ClassifyStatus(result.StatusCode),
		Dur:         result.Duration,
	}
	if result.Err != nil {
		evt.Failed = true
		evt.Note = result.Err.Error()
		w.logger.Warn("fetch failed",
			zap.String("url", task.URL),
			zap.String("dest", task.Dest),
			zap.Int("status", result.StatusCode),
			zap.Error(result.Err),
		)
	} else {
		w.logger.Debug("fetched",
			zap.String("url", task.URL),
			zap.String("dest", task.Dest),
			zap.Int64("bytes", result.Bytes),
			zap.Duration("dur", result.Duration),
		)
	}
	w.emit(evt)
	return result
}

func (w *Worker) transfer(ctx context.Context, task archive.FetchTask) archive.FetchResult {
	result := archive.FetchResult{Task: task}

	path, err := w.objectPath(task.Dest)
	if err != nil {
		result.Err = err
		return result
	}
	if w.cfg.Policy != nil {
		if err := w.cfg.Policy.AllowFetch(task.URL); err != nil {
			result.Err = err
			return result
		}
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, task.URL); err != nil {
			result.Err = err
			return result
		}
	}

	resp, err := w.fetcher.Fetch(ctx, archive.FetchRequest{URL: task.URL, Headers: w.cfg.Headers})
	result.StatusCode = resp.StatusCode
	if err != nil {
		var statusErr *archive.StatusError
		if errors.As(err, &statusErr) {
			result.StatusCode = statusErr.StatusCode
		}
		result.Err = fmt.Errorf("fetch %s: %w", task.URL, err)
		return result
	}

	if _, err := w.blobStore.PutObject(ctx, path, resp.Headers.Get("Content-Type"), bytes.NewReader(resp.Body)); err != nil {
		result.Err = fmt.Errorf("write %s: %w", task.Dest, err)
		return result
	}
	result.Bytes = int64(len(resp.Body))
	return result
}

// objectPath converts an absolute destination into a slash path under Root.
func (w *Worker) objectPath(dest string) (string, error) {
	if w.cfg.Root == "" {
		return filepath.ToSlash(dest), nil
	}
	rel, err := filepath.Rel(w.cfg.Root, dest)
	if err != nil {
		return "", fmt.Errorf("destination %s: %w", dest, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("destination %s is outside the archive root", dest)
	}
	return filepath.ToSlash(rel), nil
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.RunID = w.cfg.RunID
	if w.clock != nil {
		evt.TS = w.clock.Now()
	} else {
		evt.TS = time.Now().UTC()
	}
	w.emitter.Emit(evt)
}
