// Package archive defines the core types shared across the materialization pipeline.
package archive

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Record is one discovered publication handed to the pipeline by the
// upstream discovery/filtering stage. The pipeline never mutates it.
type Record struct {
	Date        time.Time `json:"date"`
	Name        string    `json:"name"`
	DetailURL   string    `json:"html_link,omitempty"`
	DocumentURL string    `json:"pdf_link,omitempty"`
	Assets      []string  `json:"images,omitempty"`
}

// FetchTask is a single remote-to-local transfer.
type FetchTask struct {
	URL  string
	Dest string
}

// ProcessedRecord is the derived, per-record output of planning and fetching.
type ProcessedRecord struct {
	Date      time.Time
	Name      string
	DetailURL string
	// DocumentPath is relative to the archive root; empty without a detail URL.
	DocumentPath string
	// FilePath is the document-format file relative to the archive root.
	FilePath string
	// Folder is the absolute record folder.
	Folder string
	// AssetOrder preserves the record's embedded asset order for rewriting.
	AssetOrder []string
	// Assets maps an original asset URL to its folder-relative reference.
	Assets map[string]string
}

// FetchResult is the outcome of one FetchTask.
type FetchResult struct {
	Task       FetchTask
	StatusCode int
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// OK reports whether the task landed on disk.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// FetchReport collects every task result of one scheduling run.
type FetchReport struct {
	Results []FetchResult
}

// Succeeded returns the number of tasks that completed without error.
func (r FetchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed returns the results that carry an error.
func (r FetchReport) Failed() []FetchResult {
	var out []FetchResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Bytes sums the bytes written across successful tasks.
func (r FetchReport) Bytes() int64 {
	var total int64
	for _, res := range r.Results {
		if res.OK() {
			total += res.Bytes
		}
	}
	return total
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ErrQueueClosed is returned by a TaskQueue once it is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// ErrHTTPStatus is matched by every StatusError.
var ErrHTTPStatus = errors.New("unexpected http status")

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Is lets errors.Is(err, ErrHTTPStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}
