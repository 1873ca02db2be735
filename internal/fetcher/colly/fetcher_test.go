package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

func newAssetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/img/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Trace", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/private/doc.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pdf"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	f := New(Config{UserAgent: "archiver-test", Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), archive.FetchRequest{
		URL:     srv.URL + "/img/logo.png",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "png-bytes", string(resp.Body))
	require.Equal(t, "yes", resp.Headers.Get("X-Trace"))
}

func TestFetchAllowsRevisit(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	f := New(Config{})
	for range 2 {
		_, err := f.Fetch(context.Background(), archive.FetchRequest{URL: srv.URL + "/img/logo.png"})
		require.NoError(t, err)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	f := New(Config{})

	resp, err := f.Fetch(context.Background(), archive.FetchRequest{URL: srv.URL + "/missing.png"})
	require.ErrorIs(t, err, archive.ErrHTTPStatus)
	var statusErr *archive.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchRespectsRobotsWhenEnabled(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)

	strict := New(Config{RespectRobots: true})
	_, err := strict.Fetch(context.Background(), archive.FetchRequest{URL: srv.URL + "/private/doc.pdf"})
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	lenient := New(Config{})
	_, err = lenient.Fetch(context.Background(), archive.FetchRequest{URL: srv.URL + "/private/doc.pdf"})
	require.NoError(t, err)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, archive.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := archive.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	start := time.Unix(0, 0)
	var result archive.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	if result.StatusCode != http.StatusCreated || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Headers.Get("X-Resp") != "ok" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(archive.FetchRequest{}, collyReq)
	if len(*collyReq.Headers) != 0 {
		t.Fatalf("expected no headers to be copied, got %+v", *collyReq.Headers)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
