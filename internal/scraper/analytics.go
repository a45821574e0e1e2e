package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/tiktok-product-scout/internal/browser"
	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/parser"
	"github.com/maltedev/tiktok-product-scout/internal/ratelimit"
)

// sourcePaths maps ranking sources to their list pages.
var sourcePaths = map[string]string{
	"saleslist": "/e-commerce/saleslist",
	"newlist":   "/e-commerce/newProducts",
	"hotlist":   "/e-commerce/hotvideo",
	"search":    "/e-commerce/search",
}

const (
	listWaitSelector   = "table tbody tr"
	detailWaitSelector = ".metric-card, dl dt"
)

// Sources lists the ranking sources the scraper knows.
func Sources() []string {
	out := make([]string, 0, len(sourcePaths))
	for s := range sourcePaths {
		out = append(out, s)
	}
	return out
}

// feedback is implemented by limiters that adapt to errors.
type feedback interface {
	RecordSuccess()
	RecordError()
}

// AnalyticsScraper reads ranking lists and product details from the
// analytics site.
type AnalyticsScraper struct {
	fetcher Fetcher
	parser  parser.Parser
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

var _ Scraper = (*AnalyticsScraper)(nil)

func NewAnalyticsScraper(f Fetcher, p parser.Parser, limiter ratelimit.RateLimiter, opts Options, logger *slog.Logger) *AnalyticsScraper {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &AnalyticsScraper{
		fetcher: f,
		parser:  p,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "analytics_scraper"),
		now:     time.Now,
	}
}

// ListURL builds the URL of one page of a ranking list.
func (s *AnalyticsScraper) ListURL(q Query, page int) (string, error) {
	path, ok := sourcePaths[q.Source]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSource, q.Source)
	}

	v := url.Values{}
	if q.Region != "" {
		v.Set("region", q.Region)
	}
	if q.Category != "" {
		v.Set("l1_cid", q.Category)
	}
	v.Set("page", strconv.Itoa(page))
	return s.opts.BaseURL + path + "?" + v.Encode(), nil
}

// DetailURL builds the URL of a product's detail page.
func (s *AnalyticsScraper) DetailURL(productID string) string {
	return s.opts.BaseURL + "/e-commerce/detail/" + url.PathEscape(productID)
}

// SalesList scrapes up to q.Pages pages of a ranking list. Products seen on
// an earlier page keep their first rank.
func (s *AnalyticsScraper) SalesList(ctx context.Context, q Query) ([]models.SalesRecord, error) {
	if q.Pages < 1 {
		q.Pages = 1
	}

	var (
		records []models.SalesRecord
		seen    = make(map[string]bool)
	)

	for page := 1; page <= q.Pages; page++ {
		pageURL, err := s.ListURL(q, page)
		if err != nil {
			return nil, err
		}

		html, err := s.fetch(ctx, pageURL, listWaitSelector)
		if err != nil {
			if page > 1 && len(records) > 0 && !errors.Is(err, ErrBlocked) {
				s.logger.Warn("stopping pagination after fetch failure",
					"source", q.Source, "page", page, "error", err)
				break
			}
			return nil, fmt.Errorf("failed to fetch %s page %d: %w", q.Source, page, err)
		}

		rows, err := s.parser.ParseSalesList(html, q.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s page %d: %w", q.Source, page, err)
		}

		scrapedAt := s.now().UTC()
		for _, rec := range rows {
			if seen[rec.ProductID] {
				continue
			}
			seen[rec.ProductID] = true

			rec.Rank = len(records) + 1
			if rec.Region == "" {
				rec.Region = q.Region
			}
			if rec.Category == "" {
				rec.Category = q.Category
			}
			rec.ScrapedAt = scrapedAt
			records = append(records, rec)
		}

		s.logger.Info("ranking page scraped",
			"source", q.Source,
			"page", page,
			"rows", len(rows),
			"total", len(records))

		if len(rows) == 0 || !s.parser.HasNextPage(html) {
			break
		}
	}

	return records, nil
}

// Detail scrapes a product's detail page.
func (s *AnalyticsScraper) Detail(ctx context.Context, productID string) (*models.ProductDetail, error) {
	html, err := s.fetch(ctx, s.DetailURL(productID), detailWaitSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detail of %s: %w", productID, err)
	}

	detail, err := s.parser.ParseDetail(html, productID)
	if errors.Is(err, parser.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail of %s: %w", productID, err)
	}

	detail.FetchedAt = s.now().UTC()
	return detail, nil
}

// fetch waits for the limiter and retries transient failures. Blocks are
// returned at once and slow the adaptive limiter down.
func (s *AnalyticsScraper) fetch(ctx context.Context, pageURL, waitSelector string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := ratelimit.Backoff(attempt-1, s.opts.RetryDelay, time.Minute)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}

		html, err := s.fetcher.Fetch(ctx, pageURL, waitSelector)
		if err == nil {
			s.record(nil)
			return html, nil
		}

		s.record(err)
		if errors.Is(err, browser.ErrBlocked) || errors.Is(err, browser.ErrLoginRequired) {
			return "", fmt.Errorf("%w: %v", ErrBlocked, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		s.logger.Warn("fetch failed", "url", pageURL, "attempt", attempt+1, "error", err)
	}

	return "", lastErr
}

func (s *AnalyticsScraper) record(err error) {
	fb, ok := s.limiter.(feedback)
	if !ok {
		return
	}
	if err != nil {
		fb.RecordError()
		return
	}
	fb.RecordSuccess()
}
