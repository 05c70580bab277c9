// Package sitemap builds sitemaps.org urlset documents by crawling a site with colly.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/crawler"
	"github.com/JakeFAU/sitemap-bot/internal/metrics"
)

var _ crawler.SiteCrawler = (*Crawler)(nil)

// Config tunes the crawl.
type Config struct {
	UserAgent      string
	MaxDepth       int
	MaxPages       int
	Parallelism    int
	Delay          time.Duration
	RequestTimeout time.Duration
	RespectRobots  bool
}

// Crawler discovers same-host HTML pages reachable from a root URL.
type Crawler struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Crawler{cfg: cfg, logger: logger.Named("sitemap")}
}

// crawlState collects pages across colly's async callbacks.
type crawlState struct {
	mu       sync.Mutex
	pages    map[string]struct{}
	rootErr  error
	requests atomic.Int64
}

func (s *crawlState) addPage(loc string) {
	s.mu.Lock()
	s.pages[loc] = struct{}{}
	s.mu.Unlock()
}

func (s *crawlState) failRoot(err error) {
	s.mu.Lock()
	if s.rootErr == nil {
		s.rootErr = err
	}
	s.mu.Unlock()
}

// Crawl visits rootURL and every same-host link up to MaxDepth, then writes
// the sitemap to outPath. Only a failed root visit fails the crawl; later
// page errors are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, rootURL, outPath string) error {
	root, err := url.Parse(rootURL)
	if err != nil || root.Hostname() == "" {
		return fmt.Errorf("%w: %w: %q", crawler.ErrCrawlFailed, crawler.ErrInvalidURL, rootURL)
	}

	state := &crawlState{pages: make(map[string]struct{})}
	collector, err := c.newCollector(ctx, root.Hostname(), state)
	if err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCrawlFailed, err)
	}

	start := time.Now()
	if err := collector.Visit(rootURL); err != nil {
		return fmt.Errorf("%w: visit root: %w", crawler.ErrCrawlFailed, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCrawlFailed, err)
	}
	if state.rootErr != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCrawlFailed, state.rootErr)
	}

	locs := make([]string, 0, len(state.pages))
	for loc := range state.pages {
		locs = append(locs, loc)
	}
	if err := WriteFile(outPath, locs); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCrawlFailed, err)
	}
	c.logger.Info("sitemap written",
		zap.String("root_url", rootURL),
		zap.Int("pages", len(locs)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (c *Crawler) newCollector(ctx context.Context, host string, state *crawlState) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.AllowedDomains(host),
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.Async(true),
		colly.StdlibContext(ctx),
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	if c.cfg.RequestTimeout > 0 {
		collector.SetRequestTimeout(c.cfg.RequestTimeout)
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
		Delay:       c.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		if c.cfg.MaxPages > 0 && state.requests.Add(1) > int64(c.cfg.MaxPages) {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		metrics.ObservePage(host, r.StatusCode)
		if r.StatusCode < 200 || r.StatusCode > 299 || !isHTML(r) {
			return
		}
		state.addPage(canonical(r.Request.URL))
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if err := e.Request.Visit(link); err != nil && !isExpectedVisitErr(err) {
			c.logger.Debug("skipping link", zap.String("url", link), zap.Error(err))
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		metrics.ObservePage(host, r.StatusCode)
		if r.Request.Depth <= 1 {
			state.failRoot(fmt.Errorf("fetch %s (status %d): %w", r.Request.URL, r.StatusCode, err))
			return
		}
		c.logger.Warn("page fetch failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})
	return collector, nil
}

func isHTML(r *colly.Response) bool {
	if r.Headers == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "text/html")
}

// canonical drops the fragment so "/a" and "/a#top" are one entry.
func canonical(u *url.URL) string {
	cp := *u
	cp.Fragment = ""
	cp.RawFragment = ""
	return cp.String()
}

func isExpectedVisitErr(err error) bool {
	var alreadyVisited *colly.AlreadyVisitedError
	return errors.As(err, &alreadyVisited) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrMissingURL) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked)
}
