// Package dispatcher is the fetch scheduler: it fans a batch of fetch tasks out
// to a fixed pool of workers and waits for every one of them to settle.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/worker"
)

// Queue is the task queue shared by the pool. Close signals that no further
// tasks will arrive.
type Queue interface {
	archive.TaskQueue
	Close()
}

// Dispatcher fans out queue work to a pool of workers. The pool size bounds
// the number of transfers in flight.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher. Every worker must consume from queue.
func New(queue Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run schedules tasks and blocks until each has completed or failed. A
// Dispatcher runs one batch: the queue is closed once tasks are enqueued.
// Tasks sharing a destination are transferred once. Tasks that could not be
// enqueued because ctx ended are reported as failed.
func (d *Dispatcher) Run(ctx context.Context, tasks []archive.FetchTask) archive.FetchReport {
	tasks = dedupe(tasks)
	order := make(map[string]int, len(tasks))
	for i, task := range tasks {
		order[task.Dest] = i
	}

	var (
		mu      sync.Mutex
		results = make([]archive.FetchResult, 0, len(tasks))
	)
	report := func(res archive.FetchResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx, report)
		}(w)
	}

	for i, task := range tasks {
		if err := d.queue.Enqueue(ctx, task); err != nil {
			for _, rest := range tasks[i:] {
				report(archive.FetchResult{Task: rest, Err: fmt.Errorf("schedule %s: %w", rest.URL, err)})
			}
			break
		}
	}
	d.queue.Close()
	wg.Wait()

	// A canceled context can stop workers with tasks still buffered.
	seen := make(map[string]struct{}, len(results))
	for _, res := range results {
		seen[res.Task.Dest] = struct{}{}
	}
	for _, task := range tasks {
		if _, ok := seen[task.Dest]; !ok {
			results = append(results, archive.FetchResult{
				Task: task,
				Err:  fmt.Errorf("schedule %s: %w", task.URL, context.Cause(ctx)),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].Task.Dest] < order[results[j].Task.Dest]
	})
	out := archive.FetchReport{Results: results}
	d.logger.Info("fetch batch settled",
		zap.Int("tasks", len(tasks)),
		zap.Int("succeeded", out.Succeeded()),
		zap.Int("failed", len(out.Failed())),
		zap.Int("workers", len(d.workers)),
	)
	return out
}

func dedupe(tasks []archive.FetchTask) []archive.FetchTask {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]archive.FetchTask, 0, len(tasks))
	for _, task := range tasks {
		if _, ok := seen[task.Dest]; ok {
			continue
		}
		seen[task.Dest] = struct{}{}
		out = append(out, task)
	}
	return out
}
