package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/clock/system"
	collyfetcher "github.com/JakeFAU/newsletter-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/newsletter-archiver/internal/progress"
	pubmemory "github.com/JakeFAU/newsletter-archiver/internal/publisher/memory"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func newsletterServer(t *testing.T) *httptest.Server {
	t.Helper()
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/news/7.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html><body><img src="%[1]s/img/a.png"><img src="%[1]s/img/b.png?v=1"></body></html>`, base)
	})
	mux.HandleFunc("/news/9.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html><body><img src="%[1]s/img/a.png"><img src="%[1]s/missing.png"></body></html>`, base)
	})
	mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-a"))
	})
	mux.HandleFunc("/img/b.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-b"))
	})
	mux.HandleFunc("/files/7.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func weeklyNotes(base string) []archive.Record {
	return []archive.Record{
		{
			Date:        time.Date(2014, time.February, 10, 0, 0, 0, 0, time.UTC),
			Name:        "Weekly Note 7",
			DetailURL:   base + "/news/7.html",
			DocumentURL: base + "/files/7.pdf",
			Assets:      []string{base + "/img/a.png", base + "/img/b.png?v=1"},
		},
		{
			Date:      time.Date(2014, time.February, 24, 0, 0, 0, 0, time.UTC),
			Name:      "Weekly Note 9",
			DetailURL: base + "/news/9.html",
			Assets:    []string{base + "/img/a.png", base + "/missing.png"},
		},
	}
}

func newPipeline(t *testing.T, cfg Config, deps Deps) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if deps.Fetcher == nil {
		deps.Fetcher = collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second, Logger: logger})
	}
	deps.Logger = logger
	p, err := New(cfg, deps)
	require.NoError(t, err)
	return p
}

func TestRunMaterializesArchive(t *testing.T) {
	t.Parallel()

	srv := newsletterServer(t)
	root := t.TempDir()
	records := weeklyNotes(srv.URL)
	original := weeklyNotes(srv.URL)

	p := newPipeline(t, Config{BaseFolder: root, Lock: true}, Deps{})
	res, err := p.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, original, records, "input records must not be mutated")
	require.Len(t, res.Records, 2)
	assert.Empty(t, res.Skipped)

	failed := res.Fetch.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, srv.URL+"/missing.png", failed[0].Task.URL)
	assert.ErrorIs(t, failed[0].Err, archive.ErrHTTPStatus)
	assert.Equal(t, 6, res.Fetch.Succeeded())

	note7 := filepath.Join(root, "pages", "2014-02-10_Weekly_Note_7")
	doc, err := os.ReadFile(filepath.Join(note7, "entry.html"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `src="./img/a.png"`)
	assert.NotContains(t, string(doc), srv.URL)
	assert.FileExists(t, filepath.Join(note7, "img", "a.png"))
	assert.FileExists(t, filepath.Join(note7, "7.pdf"))

	note9 := filepath.Join(root, "pages", "2014-02-24_Weekly_Note_9")
	doc9, err := os.ReadFile(filepath.Join(note9, "entry.html"))
	require.NoError(t, err)
	assert.Contains(t, string(doc9), `src="./img/a.png"`)
	assert.Contains(t, string(doc9), `src="./missing.png"`)
	assert.NoFileExists(t, filepath.Join(note9, "missing.png"))

	page, err := os.ReadFile(res.IndexPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index.html"), res.IndexPath)
	html := string(page)
	i9 := strings.Index(html, "Weekly Note 9")
	i7 := strings.Index(html, "Weekly Note 7")
	require.NotEqual(t, -1, i9)
	require.NotEqual(t, -1, i7)
	assert.Less(t, i9, i7, "newer entries come first")
	assert.Contains(t, html, "pages/2014-02-10_Weekly_Note_7/entry.html")
	assert.Contains(t, html, "pages/2014-02-10_Weekly_Note_7/7.pdf")
}

func TestRunQueryStringAssetsGetDistinctNames(t *testing.T) {
	t.Parallel()

	srv := newsletterServer(t)
	root := t.TempDir()
	p := newPipeline(t, Config{BaseFolder: root}, Deps{})
	res, err := p.Run(context.Background(), weeklyNotes(srv.URL)[:1])
	require.NoError(t, err)

	rec := res.Records[0]
	ref := rec.Assets[srv.URL+"/img/b.png?v=1"]
	require.NotEmpty(t, ref)
	assert.NotEqual(t, "./img/b.png", ref)
	assert.True(t, strings.HasPrefix(ref, "./img/b_"), ref)

	body, err := os.ReadFile(filepath.Join(rec.Folder, filepath.FromSlash(strings.TrimPrefix(ref, "./"))))
	require.NoError(t, err)
	assert.Equal(t, "png-b", string(body))
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newsletterServer(t)
	root := t.TempDir()
	p := newPipeline(t, Config{BaseFolder: root}, Deps{})

	first, err := p.Run(context.Background(), weeklyNotes(srv.URL))
	require.NoError(t, err)
	firstIndex, err := os.ReadFile(first.IndexPath)
	require.NoError(t, err)

	second, err := p.Run(context.Background(), weeklyNotes(srv.URL))
	require.NoError(t, err)
	secondIndex, err := os.ReadFile(second.IndexPath)
	require.NoError(t, err)

	assert.Equal(t, firstIndex, secondIndex)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunSkipsUndatedRecords(t *testing.T) {
	t.Parallel()

	srv := newsletterServer(t)
	records := append(weeklyNotes(srv.URL), archive.Record{Name: "No Date", DetailURL: srv.URL + "/news/7.html"})
	emitter := &recordingEmitter{}
	p := newPipeline(t, Config{BaseFolder: t.TempDir()}, Deps{Emitter: emitter})

	res, err := p.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "No Date", res.Skipped[0].Record.Name)
	assert.Len(t, res.Records, 2)
	assert.Contains(t, emitter.stages(), progress.StageRecordSkip)
}

func TestRunEmitsProgressAndPublishesSummary(t *testing.T) {
	t.Parallel()

	srv := newsletterServer(t)
	emitter := &recordingEmitter{}
	pub := pubmemory.New()
	p := newPipeline(t,
		Config{BaseFolder: t.TempDir(), Topic: "archive-runs"},
		Deps{Emitter: emitter, Publisher: pub, Clock: system.Fixed{At: time.Date(2014, time.February, 10, 12, 0, 0, 0, time.UTC)}},
	)

	res, err := p.Run(context.Background(), weeklyNotes(srv.URL))
	require.NoError(t, err)

	stages := emitter.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	assert.Contains(t, stages, progress.StageFetchDone)
	assert.Contains(t, stages, progress.StageIndexWrote)
	for _, evt := range emitter.events {
		assert.NoError(t, evt.Validate(), "stage %s", evt.Stage)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "archive-runs", msgs[0].Topic)
	summary, ok := msgs[0].Payload.(Summary)
	require.True(t, ok)
	assert.Equal(t, res.RunID.String(), summary.RunID)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 7, summary.Tasks)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "2014-02-10T12:00:00Z", summary.Finished)
	assert.Zero(t, res.Duration)
	assert.True(t, strings.HasPrefix(summary.Index, "file://"), summary.Index)
}

func TestRunRejectsLockedArchive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	held := flock.New(filepath.Join(root, LockFileName))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = held.Unlock() })

	p := newPipeline(t, Config{BaseFolder: root, Lock: true}, Deps{})
	_, err = p.Run(context.Background(), []archive.Record{{Date: time.Now(), Name: "x"}})
	require.ErrorIs(t, err, ErrLocked)
	assert.NoFileExists(t, filepath.Join(root, DefaultIndexFilename))
}

func TestRunRequiresRecords(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "archive")
	p := newPipeline(t, Config{BaseFolder: root}, Deps{})
	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoRecords)
	assert.NoDirExists(t, root)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	fetcher := collyfetcher.New(collyfetcher.Config{})

	_, err := New(Config{}, Deps{Fetcher: fetcher})
	require.Error(t, err)

	_, err = New(Config{BaseFolder: "out"}, Deps{})
	require.Error(t, err)

	_, err = New(Config{BaseFolder: "out", PagesFolder: "/abs"}, Deps{Fetcher: fetcher})
	require.Error(t, err)

	p, err := New(Config{BaseFolder: "out"}, Deps{Fetcher: fetcher})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConcurrentFetches, p.cfg.MaxConcurrentFetches)
	assert.Equal(t, DefaultPagesFolder, p.cfg.PagesFolder)
	assert.Equal(t, DefaultIndexFilename, p.cfg.IndexFilename)
}

func TestRunSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	srv := newsletterServer(t)
	pub := pubmemory.New()
	pub.FailWith(errors.New("pubsub unavailable"))
	p := newPipeline(t, Config{BaseFolder: t.TempDir(), Topic: "archive-runs"}, Deps{Publisher: pub})

	res, err := p.Run(context.Background(), weeklyNotes(srv.URL))
	require.NoError(t, err)
	assert.FileExists(t, res.IndexPath)
	assert.Empty(t, pub.Messages())
}
