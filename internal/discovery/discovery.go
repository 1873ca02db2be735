// Package discovery crawls the newsletter listing page and produces the raw
// record list consumed by the build.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/newsletter-archiver/internal/records"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultParallelism = 5
	rowKey             = "row"
)

// Config controls a listing crawl.
type Config struct {
	StartURL  string
	UserAgent string
	Timeout   time.Duration
	// Parallelism bounds concurrent detail page requests.
	Parallelism int
	Transport   http.RoundTripper
	Logger      *zap.Logger
}

// Crawler reads the listing table and each linked detail page.
type Crawler struct {
	cfg Config
}

// New validates cfg and returns a Crawler.
func New(cfg Config) (*Crawler, error) {
	if strings.TrimSpace(cfg.StartURL) == "" {
		return nil, errors.New("start url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg}, nil
}

// Discover returns one entry per listing row, in page order. Rows without a
// date are kept; records.Refine drops them later. A detail page that cannot
// be loaded leaves its row without images.
func (c *Crawler) Discover(ctx context.Context) ([]records.Raw, error) {
	var (
		rows    []records.Raw
		mu      sync.Mutex
		pageErr error
	)
	listing := c.collector(false)
	listing.OnHTML("tr", func(e *colly.HTMLElement) {
		// Only the row's own cells count, so a listing nested in a layout
		// table does not fold its rows into the outer one.
		cells := e.DOM.ChildrenFiltered("td")
		row := records.Raw{
			Date: ownText(cells.Eq(0)),
			Name: ownText(cells.Eq(1).ChildrenFiltered("strong").First()),
		}
		cells.Eq(2).ChildrenFiltered("a[href]").Each(func(_ int, a *goquery.Selection) {
			href := e.Request.AbsoluteURL(a.AttrOr("href", ""))
			if href == "" || !strings.Contains(href, "html") {
				return
			}
			row.HTMLLink = href
			row.PDFLink = strings.ReplaceAll(href, "/html", "/pdf")
		})
		rows = append(rows, row)
	})
	listing.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		pageErr = fmt.Errorf("listing %s (status %d): %w", r.Request.URL, r.StatusCode, err)
	})
	err := c.visit(ctx, func() error { return listing.Visit(c.cfg.StartURL) })
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	mu.Lock()
	listingErr := pageErr
	mu.Unlock()
	if listingErr != nil {
		return nil, listingErr
	}
	if err != nil {
		return nil, fmt.Errorf("visit listing: %w", err)
	}

	if err := c.collectImages(ctx, rows); err != nil {
		return nil, err
	}
	c.cfg.Logger.Info("listing discovered", zap.String("url", c.cfg.StartURL), zap.Int("rows", len(rows)))
	return rows, nil
}

// ownText returns the first text node directly under the selected element,
// trimmed. Text of nested elements is ignored.
func ownText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	for n := s.Get(0).FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode {
			return strings.TrimSpace(n.Data)
		}
	}
	return ""
}

func (c *Crawler) collectImages(ctx context.Context, rows []records.Raw) error {
	detail := c.collector(true)
	detail.AllowURLRevisit = true
	if err := detail.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: c.cfg.Parallelism}); err != nil {
		return fmt.Errorf("limit detail collector: %w", err)
	}
	var mu sync.Mutex
	detail.OnHTML("img[src]", func(e *colly.HTMLElement) {
		idx, ok := e.Request.Ctx.GetAny(rowKey).(int)
		if !ok {
			return
		}
		src := e.Request.AbsoluteURL(e.Attr("src"))
		if src == "" {
			return
		}
		mu.Lock()
		rows[idx].Images = append(rows[idx].Images, src)
		mu.Unlock()
	})
	detail.OnError(func(r *colly.Response, err error) {
		c.cfg.Logger.Warn("detail page failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status", r.StatusCode),
			zap.Error(err),
		)
	})

	return c.visit(ctx, func() error {
		for i, row := range rows {
			if row.HTMLLink == "" {
				continue
			}
			reqCtx := colly.NewContext()
			reqCtx.Put(rowKey, i)
			if err := detail.Request(http.MethodGet, row.HTMLLink, nil, reqCtx, nil); err != nil {
				c.cfg.Logger.Warn("detail page not requested", zap.String("url", row.HTMLLink), zap.Error(err))
			}
		}
		detail.Wait()
		return nil
	})
}

func (c *Crawler) collector(async bool) *colly.Collector {
	opts := []colly.CollectorOption{colly.Async(async)}
	if c.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(c.cfg.Timeout)
	if c.cfg.Transport != nil {
		collector.WithTransport(c.cfg.Transport)
	}
	return collector
}

// visit runs fn and gives up when ctx ends first. An abandoned crawl
// finishes in the background.
func (c *Crawler) visit(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("discovery canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}
