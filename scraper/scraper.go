// Package scraper walks the paginated listing and accumulates candidate
// records.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/models"
)

// Pacer imposes the politeness interval between consecutive fetches.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelay waits the same duration every time.
type FixedDelay time.Duration

// Wait blocks for the delay or until ctx is done.
func (d FixedDelay) Wait(ctx context.Context) error {
	return sleepContext(ctx, time.Duration(d))
}

// Scraper drives the crawl one page at a time.
type Scraper struct {
	cfg     *config.Config
	fetcher PageFetcher
	pacer   Pacer
	Metrics *Metrics
}

// NewScraper builds a scraper backed by a colly fetcher and a fixed delay.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewCollyFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return New(cfg, fetcher, FixedDelay(cfg.Delay), metrics), nil
}

// New assembles a scraper from explicit collaborators.
func New(cfg *config.Config, fetcher PageFetcher, pacer Pacer, metrics *Metrics) *Scraper {
	return &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		pacer:   pacer,
		Metrics: metrics,
	}
}

// Run crawls from the configured seed until the listing ends, a page fails,
// the page limit is hit, a next link revisits a page, or ctx is cancelled.
// Page failures end the crawl without an error; all records gathered so far
// are returned. Only cancellation produces an error, alongside the partial
// result.
func (s *Scraper) Run(ctx context.Context) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	visited, err := lru.New[string, struct{}](s.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("visited set: %w", err)
	}

	result := &models.CrawlResult{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	stats, hasStats := s.fetcher.(interface{ Stats() FetchStats })
	var before FetchStats
	if hasStats {
		before = stats.Stats()
	}
	defer func() {
		result.EndTime = time.Now()
		result.TotalCount = len(result.Books)
		if hasStats {
			st := stats.Stats()
			result.RequestCount = st.Requests - before.Requests
			result.RetryCount = st.Retries - before.Retries
		} else {
			result.RequestCount = result.PageCount
		}
	}()

	current := s.cfg.BaseURL
	visited.Add(visitKey(current), struct{}{})

	for {
		if err := ctx.Err(); err != nil {
			result.StopReason = models.StopCancelled
			return result, fmt.Errorf("crawl cancelled: %w", err)
		}

		page, err := s.fetcher.Fetch(ctx, current)
		result.PageCount++
		if err != nil {
			// A fetch abandoned because ctx ended is a cancellation, not a
			// page failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.StopReason = models.StopCancelled
				return result, fmt.Errorf("crawl cancelled: %w", ctxErr)
			}
			category := errorTypeLabel(err)
			result.ErrorCount++
			result.ErrorsByType[category]++
			result.FailedURLs = append(result.FailedURLs, current)
			result.StopReason = models.StopPageError
			s.Metrics.IncPage("error")
			slog.Error("page failed, ending crawl",
				slog.String("url", current),
				slog.String("category", category),
				slog.Any("error", err),
			)
			return result, nil
		}

		s.Metrics.IncPage("ok")
		s.Metrics.AddItems(len(page.Books), page.Skipped)
		result.Books = append(result.Books, page.Books...)
		result.SkippedCount += page.Skipped
		slog.Info("page scraped",
			slog.String("url", current),
			slog.Int("items", len(page.Books)),
			slog.Int("skipped", page.Skipped),
			slog.Int("total", len(result.Books)),
		)

		if !page.HasNext() {
			result.StopReason = models.StopEndOfSequence
			return result, nil
		}
		if result.PageCount >= s.cfg.MaxPages {
			result.StopReason = models.StopPageLimit
			slog.Warn("page limit reached", slog.Int("max_pages", s.cfg.MaxPages), slog.String("next", page.NextURL))
			return result, nil
		}
		key := visitKey(page.NextURL)
		if visited.Contains(key) {
			result.StopReason = models.StopCycleDetected
			slog.Warn("next link revisits a crawled page", slog.String("from", current), slog.String("next", page.NextURL))
			return result, nil
		}
		visited.Add(key, struct{}{})

		s.Metrics.IncPolitenessWait()
		if err := s.pacer.Wait(ctx); err != nil {
			result.StopReason = models.StopCancelled
			return result, fmt.Errorf("crawl cancelled: %w", err)
		}
		current = page.NextURL
	}
}

// visitKey normalizes a URL for cycle detection.
func visitKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
