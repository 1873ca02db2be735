package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	robotsPath     = "/robots.txt"
	robotsAllowAll = "User-agent: *\nAllow: /"
	robotsTimeout  = 5 * time.Second
)

// robotsTransport bounds robots.txt lookups by their own deadline. A host
// whose robots.txt cannot be reached is treated as allowing everything so
// its assets are still archived. Other requests pass through untouched.
type robotsTransport struct {
	base    http.RoundTripper
	timeout time.Duration
	logger  *zap.Logger

	warned sync.Map
}

func newRobotsTransport(base http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsTransport{base: base, timeout: robotsTimeout, logger: logger}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, robotsPath) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.Clone(ctx))
	if err != nil {
		cancel()
		if req.Context().Err() != nil {
			return nil, fmt.Errorf("robots lookup %s: %w", req.URL.Host, req.Context().Err())
		}
		t.warnOnce(req.URL.Host, err)
		return allowAll(req), nil
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (t *robotsTransport) warnOnce(host string, err error) {
	if _, seen := t.warned.LoadOrStore(host, struct{}{}); seen {
		return
	}
	t.logger.Warn("robots.txt unreachable, allowing all", zap.String("host", host), zap.Error(err))
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

// cancelOnClose releases the lookup deadline once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
