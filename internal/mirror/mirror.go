// Package mirror copies a built archive tree to a BlobStore such as a GCS
// bucket.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/metrics"
)

const defaultConcurrency = 8

// Failure is one file that did not upload.
type Failure struct {
	Path string
	Err  error
}

// Report summarizes a mirror pass.
type Report struct {
	Uploaded int
	Bytes    int64
	Failures []Failure
}

// Mirror uploads every visible file under a root.
type Mirror struct {
	store       archive.BlobStore
	concurrency int
	logger      *zap.Logger
}

// New returns a Mirror writing to store with at most concurrency uploads in flight.
func New(store archive.BlobStore, concurrency int, logger *zap.Logger) *Mirror {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{store: store, concurrency: concurrency, logger: logger}
}

// Files lists the archive-relative, slash-separated paths that Run would
// upload. Hidden files and folders (lock file, temp files) are skipped.
func Files(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Run uploads every file under root. A failed upload is recorded and the
// rest continue; only a walk failure or cancellation returns an error.
func (m *Mirror) Run(ctx context.Context, root string) (Report, error) {
	files, err := Files(root)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, rel := range files {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := m.upload(gCtx, root, rel)
			metrics.ObserveMirrorUpload(err == nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("upload failed", zap.String("path", rel), zap.Error(err))
				report.Failures = append(report.Failures, Failure{Path: rel, Err: err})
				return nil
			}
			report.Uploaded++
			report.Bytes += n
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("mirror canceled: %w", err)
	}

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Path < report.Failures[j].Path })
	m.logger.Info("mirror finished",
		zap.String("root", root),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("failed", len(report.Failures)),
		zap.Int64("bytes", report.Bytes),
	)
	return report, nil
}

func (m *Mirror) upload(ctx context.Context, root, rel string) (int64, error) {
	// #nosec G304 -- rel comes from walking root.
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	if _, err := m.store.PutObject(ctx, rel, contentType(rel), f); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func contentType(rel string) string {
	if ct := mime.TypeByExtension(filepath.Ext(rel)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Err joins all failures, or returns nil when every upload succeeded.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}
