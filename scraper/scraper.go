package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly"
	"go.uber.org/zap"
)

// Fetcher retrieves the raw body of a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// NetworkError reports a failed fetch. Status is the HTTP status code when a
// response was received, zero otherwise.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Options configures a Scraper.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Scraper fetches remote JSON documents with colly. Each request gets its own
// collector so concurrent fetches share no visit state.
type Scraper struct {
	opts   Options
	logger *zap.Logger
}

var _ Fetcher = (*Scraper)(nil)

func NewScraper(opts Options, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Scraper{opts: opts, logger: logger.Named("scraper")}
}

func (s *Scraper) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if s.opts.UserAgent != "" {
		c.UserAgent = s.opts.UserAgent
	}
	c.SetRequestTimeout(s.opts.Timeout)
	c.WithTransport(&contextTransport{ctx: ctx, base: http.DefaultTransport})
	return c
}

// Fetch returns the body of url. Non-2xx responses and transport failures are
// reported as *NetworkError.
func (s *Scraper) Fetch(ctx context.Context, url string) (string, error) {
	c := s.collector(ctx)

	var (
		body   string
		status int
		cbErr  error
	)

	c.OnRequest(func(r *colly.Request) {
		s.logger.Debug("visiting", zap.String("url", r.URL.String()))
	})

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
		s.logger.Debug("response received",
			zap.Int("status", r.StatusCode),
			zap.Int("bytes", len(r.Body)))
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		cbErr = err
	})

	err := c.Visit(url)
	if err == nil {
		err = cbErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && (status < 200 || status > 299) {
		err = fmt.Errorf("unexpected status %s", http.StatusText(status))
	}
	if err != nil {
		s.logger.Debug("fetch failed", zap.String("url", url), zap.Error(err))
		return "", &NetworkError{URL: url, Status: status, Err: err}
	}
	return body, nil
}

// Reachable reports whether url answers a HEAD request. It stands in for a
// "network available" check before choosing a remote start-up target.
func (s *Scraper) Reachable(ctx context.Context, url string) bool {
	c := s.collector(ctx)

	ok := false
	c.OnResponse(func(r *colly.Response) {
		ok = r.StatusCode < 500
	})
	c.OnError(func(r *colly.Response, err error) {
		// any HTTP answer, even 401 without an API key, means the host is up
		if r != nil && r.StatusCode != 0 && r.StatusCode < 500 {
			ok = true
		}
	})

	if err := c.Head(url); err != nil && !ok {
		s.logger.Debug("host unreachable", zap.String("url", url), zap.Error(err))
		return false
	}
	return ok
}

// contextTransport binds every request of a collector to ctx so a cancelled
// load aborts its fetch.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
