package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/parser"
)

const (
	ctxStart  = "start"
	ctxPage   = "page"
	ctxStatus = "status"
)

// PageFetcher fetches one listing page and extracts it.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*parser.Page, error)
}

// FetchStats are the request counters a fetcher accumulated.
type FetchStats struct {
	Requests int
	Retries  int
}

// CollyFetcher fetches pages synchronously through a colly collector and
// retries transient failures with capped exponential backoff.
type CollyFetcher struct {
	collector *colly.Collector
	retry     *retryPolicy
	metrics   *Metrics

	requests int64
	retries  int64
}

// NewCollyFetcher builds a fetcher restricted to the configured host.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics) (*CollyFetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &CollyFetcher{
		collector: collector,
		retry:     newRetryPolicy(cfg),
		metrics:   metrics,
	}
	f.configureHandlers()
	return f, nil
}

// Fetch retrieves pageURL, retrying transient failures. The returned error
// is a *FetchError carrying the classified cause.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (*parser.Page, error) {
	for attempt := 1; ; attempt++ {
		page, err := f.fetchOnce(pageURL)
		if err == nil {
			return page, nil
		}

		category := errorTypeLabel(err)
		f.metrics.IncError(category)
		slog.Error("request error",
			slog.String("url", pageURL),
			slog.String("category", category),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt > f.retry.maxRetries || !retryable(err) || ctx.Err() != nil {
			return nil, &FetchError{URL: pageURL, Attempts: attempt, Err: err}
		}

		atomic.AddInt64(&f.retries, 1)
		f.metrics.IncRetries()
		if waitErr := sleepContext(ctx, f.retry.backoff(attempt)); waitErr != nil {
			return nil, &FetchError{URL: pageURL, Attempts: attempt, Err: err}
		}
	}
}

// Stats returns a snapshot of the fetch counters.
func (f *CollyFetcher) Stats() FetchStats {
	return FetchStats{
		Requests: int(atomic.LoadInt64(&f.requests)),
		Retries:  int(atomic.LoadInt64(&f.retries)),
	}
}

func (f *CollyFetcher) fetchOnce(pageURL string) (*parser.Page, error) {
	reqCtx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, pageURL, nil, reqCtx, nil)
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil || status >= http.StatusBadRequest {
		return nil, classifyError(err, status)
	}

	page, ok := reqCtx.GetAny(ctxPage).(*parser.Page)
	if !ok {
		// Non-HTML body: nothing to extract and nowhere to go next.
		slog.Warn("response had no parsable markup", slog.String("url", pageURL))
		return &parser.Page{URL: pageURL}, nil
	}
	return page, nil
}

func (f *CollyFetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		atomic.AddInt64(&f.requests, 1)
		f.metrics.IncRequest("started")
		slog.Debug("fetching page", slog.String("url", r.URL.String()))
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		f.metrics.IncRequest("completed")
		if start, ok := r.Request.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put(ctxStatus, r.StatusCode)
		}
	})

	f.collector.OnHTML("html", func(e *colly.HTMLElement) {
		e.Request.Ctx.Put(ctxPage, parser.ExtractPage(e.DOM, e.Request.URL))
	})
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newRequestError(ErrTimeout, statusCode, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newRequestError(ErrTimeout, statusCode, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newRequestError(ErrConnection, statusCode, err)
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return newRequestError(ErrForbidden, statusCode, wrapped)
		case statusCode == http.StatusNotFound:
			return newRequestError(ErrNotFound, statusCode, wrapped)
		case statusCode == http.StatusTooManyRequests:
			return newRequestError(ErrRateLimited, statusCode, wrapped)
		case statusCode >= http.StatusInternalServerError:
			return newRequestError(ErrServer, statusCode, wrapped)
		case err == nil && statusCode >= http.StatusBadRequest:
			return wrapped
		}
	}

	return err
}

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

func newRetryPolicy(cfg *config.Config) *retryPolicy {
	return &retryPolicy{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
	}
}

func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rp.max; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
