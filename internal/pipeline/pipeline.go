// Package pipeline materializes one archive run: plan folders, fetch every
// document and asset, rewrite references, and build the index page.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/clock/system"
	"github.com/JakeFAU/newsletter-archiver/internal/dispatcher"
	"github.com/JakeFAU/newsletter-archiver/internal/hash/sha256"
	iduuid "github.com/JakeFAU/newsletter-archiver/internal/id/uuid"
	"github.com/JakeFAU/newsletter-archiver/internal/index"
	"github.com/JakeFAU/newsletter-archiver/internal/planner"
	"github.com/JakeFAU/newsletter-archiver/internal/progress"
	"github.com/JakeFAU/newsletter-archiver/internal/queue/memory"
	"github.com/JakeFAU/newsletter-archiver/internal/resolver"
	"github.com/JakeFAU/newsletter-archiver/internal/rewriter"
	"github.com/JakeFAU/newsletter-archiver/internal/storage/local"
	"github.com/JakeFAU/newsletter-archiver/internal/worker"
)

// Defaults applied by New when the matching Config field is empty.
const (
	DefaultPagesFolder          = "pages"
	DefaultIndexFilename        = "index.html"
	DefaultMaxConcurrentFetches = 5
	LockFileName                = ".archiver.lock"
)

var (
	// ErrNoRecords aborts a run before any output is produced.
	ErrNoRecords = errors.New("no records to archive")
	// ErrLocked reports another run holding the archive lock.
	ErrLocked = errors.New("archive is locked by another run")
)

// Config describes one archive layout.
type Config struct {
	// BaseFolder is the archive root. The index lives directly inside it.
	BaseFolder string
	// PagesFolder holds one folder per record, relative to BaseFolder.
	PagesFolder   string
	IndexFilename string
	DocumentExt   string
	// MaxConcurrentFetches bounds transfers in flight.
	MaxConcurrentFetches int
	Title                string
	// Lock guards BaseFolder with a lock file for the duration of the run.
	Lock bool
	// Topic receives a run summary when a Publisher is configured.
	Topic string
}

// RunIDGenerator yields run identifiers.
type RunIDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Deps are the collaborators of a Pipeline. Only Fetcher is required.
type Deps struct {
	Fetcher   archive.Fetcher
	Limiter   archive.RateLimiter
	Policy    archive.FetchPolicy
	Hasher    archive.Hasher
	Clock     archive.Clock
	IDs       RunIDGenerator
	Emitter   progress.Emitter
	Publisher archive.Publisher
	Logger    *zap.Logger
}

// Result summarizes a finished run.
type Result struct {
	RunID     uuid.UUID
	Records   []archive.ProcessedRecord
	Skipped   []planner.Skipped
	Fetch     archive.FetchReport
	Rewrites  []rewriter.Result
	IndexPath string
	Duration  time.Duration
}

// RewriteFailures counts documents left unrewritten because of an error.
func (r *Result) RewriteFailures() int {
	n := 0
	for _, res := range r.Rewrites {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Summary is the payload published after a successful run.
type Summary struct {
	RunID    string `json:"run_id"`
	Records  int    `json:"records"`
	Skipped  int    `json:"skipped"`
	Tasks    int    `json:"tasks"`
	Failed   int    `json:"failed"`
	Bytes    int64  `json:"bytes"`
	Index    string `json:"index"`
	Finished string `json:"finished"`
}

// Pipeline runs archive builds. A Pipeline may run many times; each Run is
// independent.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates cfg, fills defaults, and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.BaseFolder == "" {
		return nil, errors.New("base folder is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.PagesFolder == "" {
		cfg.PagesFolder = DefaultPagesFolder
	}
	if filepath.IsAbs(cfg.PagesFolder) {
		return nil, fmt.Errorf("pages folder %q must be relative to the base folder", cfg.PagesFolder)
	}
	if cfg.IndexFilename == "" {
		cfg.IndexFilename = DefaultIndexFilename
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if cfg.Title == "" {
		cfg.Title = index.DefaultTitle
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New(sha256.WithLength(resolver.DigestLength))
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = iduuid.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Run materializes records into the archive. Per-file failures are reported
// in the Result and never fail the run; a failure to lock the archive or
// write the index does.
func (p *Pipeline) Run(ctx context.Context, records []archive.Record) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	root, err := filepath.Abs(p.cfg.BaseFolder)
	if err != nil {
		return nil, fmt.Errorf("resolve base folder: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create base folder: %w", err)
	}
	if p.cfg.Lock {
		unlock, err := acquire(filepath.Join(root, LockFileName))
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	runID, err := p.deps.IDs.NewRawID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger := p.deps.Logger.With(zap.String("run_id", runID.String()))
	run := &runState{p: p, id: progress.UUIDToBytes(runID)}
	start := p.deps.Clock.Now()
	run.emit(progress.Event{Stage: progress.StageRunStart})
	logger.Info("archive run starting",
		zap.String("root", root),
		zap.Int("records", len(records)),
		zap.Int("max_concurrent_fetches", p.cfg.MaxConcurrentFetches),
	)

	res := &Result{RunID: runID}
	processed, tasks := p.resolve(root, records, res, run, logger)
	res.Records = processed

	res.Fetch = p.fetch(ctx, root, runID, tasks, logger)

	// Every transfer has finished; documents are complete on disk.
	res.Rewrites = rewriter.New(root, logger).RewriteAll(processed)
	for _, rw := range res.Rewrites {
		folder := filepath.Base(rw.Record.Folder)
		if rw.Err != nil {
			run.emit(progress.Event{Stage: progress.StageRewriteFail, Record: folder, Failed: true, Note: rw.Err.Error()})
			continue
		}
		run.emit(progress.Event{Stage: progress.StageRecordDone, Record: folder})
	}

	res.IndexPath = filepath.Join(root, p.cfg.IndexFilename)
	if err := index.New(p.cfg.Title, logger).WriteFile(res.IndexPath, processed); err != nil {
		run.emit(progress.Event{Stage: progress.StageRunError, Failed: true, Note: err.Error()})
		logger.Error("archive run failed", zap.Error(err))
		return res, fmt.Errorf("write index: %w", err)
	}
	run.emit(progress.Event{Stage: progress.StageIndexWrote, Note: res.IndexPath})

	res.Duration = p.deps.Clock.Now().Sub(start)
	run.emit(progress.Event{Stage: progress.StageRunDone, Dur: res.Duration})
	logger.Info("archive run finished",
		zap.Int("records", len(processed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("fetched", res.Fetch.Succeeded()),
		zap.Int("failed", len(res.Fetch.Failed())),
		zap.Int("rewrite_failures", res.RewriteFailures()),
		zap.Duration("duration", res.Duration),
	)

	p.publish(ctx, res, logger)
	return res, nil
}

// resolve plans folders and expands every record into fetch tasks. Records
// that cannot be planned are recorded in res.Skipped.
func (p *Pipeline) resolve(
	root string,
	records []archive.Record,
	res *Result,
	run *runState,
	logger *zap.Logger,
) ([]archive.ProcessedRecord, []archive.FetchTask) {
	plans, skipped := planner.New(filepath.Join(root, p.cfg.PagesFolder)).Plan(records)
	res.Skipped = append(res.Skipped, skipped...)

	rsv := resolver.New(resolver.Config{Root: root, DocumentExt: p.cfg.DocumentExt}, p.deps.Hasher, logger)
	processed := make([]archive.ProcessedRecord, 0, len(plans))
	var tasks []archive.FetchTask
	for _, plan := range plans {
		rec, recTasks, err := rsv.Resolve(plan)
		if err != nil {
			res.Skipped = append(res.Skipped, planner.Skipped{Record: plan.Record, Reason: err})
			continue
		}
		processed = append(processed, rec)
		tasks = append(tasks, recTasks...)
	}

	for _, s := range res.Skipped {
		logger.Warn("record skipped", zap.String("record", s.Record.Name), zap.Error(s.Reason))
		name := s.Record.Name
		if name == "" {
			name = s.Record.DetailURL
		}
		if name == "" {
			name = "unnamed"
		}
		run.emit(progress.Event{Stage: progress.StageRecordSkip, Record: name, Note: s.Reason.Error()})
	}
	return processed, tasks
}

// fetch runs the worker pool over tasks and blocks until all have finished.
func (p *Pipeline) fetch(
	ctx context.Context,
	root string,
	runID uuid.UUID,
	tasks []archive.FetchTask,
	logger *zap.Logger,
) archive.FetchReport {
	if len(tasks) == 0 {
		return archive.FetchReport{}
	}
	store, err := local.New(local.Config{BaseDir: root})
	if err != nil {
		// The root was created above; a failure here leaves nothing to fetch into.
		logger.Error("open archive store", zap.Error(err))
		results := make([]archive.FetchResult, 0, len(tasks))
		for _, task := range tasks {
			results = append(results, archive.FetchResult{Task: task, Err: err})
		}
		return archive.FetchReport{Results: results}
	}

	queue := memory.NewQueue(p.cfg.MaxConcurrentFetches * 2)
	workers := make([]*worker.Worker, p.cfg.MaxConcurrentFetches)
	wcfg := worker.Config{Root: root, RunID: progress.UUIDToBytes(runID), Policy: p.deps.Policy}
	for i := range workers {
		workers[i] = worker.New(queue, p.deps.Fetcher, store, p.deps.Limiter, p.deps.Emitter, p.deps.Clock, wcfg, logger)
	}
	return dispatcher.New(queue, workers, logger).Run(ctx, tasks)
}

func (p *Pipeline) publish(ctx context.Context, res *Result, logger *zap.Logger) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	summary := Summary{
		RunID:    res.RunID.String(),
		Records:  len(res.Records),
		Skipped:  len(res.Skipped),
		Tasks:    len(res.Fetch.Results),
		Failed:   len(res.Fetch.Failed()),
		Bytes:    res.Fetch.Bytes(),
		Index:    (&url.URL{Scheme: "file", Path: filepath.ToSlash(res.IndexPath)}).String(),
		Finished: p.deps.Clock.Now().UTC().Format(time.RFC3339),
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish run summary", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("run summary published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}

func acquire(path string) (func(), error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() { _ = lock.Unlock() }, nil
}

type runState struct {
	p  *Pipeline
	id [16]byte
}

func (r *runState) emit(evt progress.Event) {
	if r.p.deps.Emitter == nil {
		return
	}
	evt.RunID = r.id
	evt.TS = r.p.deps.Clock.Now().UTC()
	r.p.deps.Emitter.Emit(evt)
}
