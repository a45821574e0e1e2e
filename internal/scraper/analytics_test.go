package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/browser"
	"github.com/maltedev/tiktok-product-scout/internal/parser"
	"github.com/maltedev/tiktok-product-scout/internal/ratelimit"
)

type fakeFetcher struct {
	pages map[string]string
	errs  map[string][]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, waitSelector string) (string, error) {
	f.calls = append(f.calls, url)
	if errs := f.errs[url]; len(errs) > 0 {
		f.errs[url] = errs[1:]
		return "", errs[0]
	}
	html, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("no fixture for %s", url)
	}
	return html, nil
}

func listPage(next bool, ids ...string) string {
	var b strings.Builder
	b.WriteString(`<table><thead><tr><th>Product</th><th>Sales</th></tr></thead><tbody>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr data-row-key="%s"><td><a href="/e-commerce/detail/%s">Product %s</a></td><td>1.5K</td></tr>`, id, id, id)
	}
	b.WriteString(`</tbody></table>`)
	if next {
		b.WriteString(`<li class="ant-pagination-next"></li>`)
	} else {
		b.WriteString(`<li class="ant-pagination-next ant-pagination-disabled"></li>`)
	}
	return b.String()
}

func newTestScraper(f Fetcher) *AnalyticsScraper {
	s := NewAnalyticsScraper(f, parser.NewAnalyticsParser(), ratelimit.NewJitterLimiter(0, 0),
		Options{BaseURL: "https://analytics.test/", MaxRetries: 3, RetryDelay: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }
	return s
}

func TestAnalyticsScraper_ListURL(t *testing.T) {
	s := newTestScraper(&fakeFetcher{})

	u, err := s.ListURL(Query{Region: "US", Category: "14", Source: "saleslist"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://analytics.test/e-commerce/saleslist?l1_cid=14&page=2&region=US", u)

	_, err = s.ListURL(Query{Source: "bestsellers"}, 1)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestAnalyticsScraper_SalesList(t *testing.T) {
	ctx := context.Background()

	t.Run("paginates and dedups", func(t *testing.T) {
		f := &fakeFetcher{pages: map[string]string{
			"https://analytics.test/e-commerce/saleslist?page=1&region=US": listPage(true, "11", "12"),
			"https://analytics.test/e-commerce/saleslist?page=2&region=US": listPage(true, "12", "13"),
			"https://analytics.test/e-commerce/saleslist?page=3&region=US": listPage(false, "14"),
		}}
		s := newTestScraper(f)

		records, err := s.SalesList(ctx, Query{Region: "US", Source: "saleslist", Pages: 5})
		require.NoError(t, err)
		require.Len(t, records, 4)

		for i, id := range []string{"11", "12", "13", "14"} {
			assert.Equal(t, id, records[i].ProductID)
			assert.Equal(t, i+1, records[i].Rank)
			assert.Equal(t, "US", records[i].Region)
			assert.Equal(t, "saleslist", records[i].Source)
			assert.False(t, records[i].ScrapedAt.IsZero())
		}
		assert.Len(t, f.calls, 3, "stops when the pager is disabled")
	})

	t.Run("respects page limit", func(t *testing.T) {
		f := &fakeFetcher{pages: map[string]string{
			"https://analytics.test/e-commerce/newProducts?page=1&region=US": listPage(true, "21"),
		}}
		s := newTestScraper(f)

		records, err := s.SalesList(ctx, Query{Region: "US", Source: "newlist", Pages: 1})
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Len(t, f.calls, 1)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		u := "https://analytics.test/e-commerce/saleslist?page=1&region=US"
		f := &fakeFetcher{
			pages: map[string]string{u: listPage(false, "31")},
			errs:  map[string][]error{u: {errors.New("net::ERR_TIMED_OUT")}},
		}
		s := newTestScraper(f)

		records, err := s.SalesList(ctx, Query{Region: "US", Source: "saleslist", Pages: 1})
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Len(t, f.calls, 2)
	})

	t.Run("block is not retried", func(t *testing.T) {
		u := "https://analytics.test/e-commerce/saleslist?page=1&region=US"
		f := &fakeFetcher{errs: map[string][]error{u: {browser.ErrBlocked}}}
		s := newTestScraper(f)

		_, err := s.SalesList(ctx, Query{Region: "US", Source: "saleslist", Pages: 1})
		assert.ErrorIs(t, err, ErrBlocked)
		assert.Len(t, f.calls, 1)
	})

	t.Run("later page failure keeps earlier rows", func(t *testing.T) {
		f := &fakeFetcher{pages: map[string]string{
			"https://analytics.test/e-commerce/saleslist?page=1&region=US": listPage(true, "41", "42"),
		}}
		s := newTestScraper(f)

		records, err := s.SalesList(ctx, Query{Region: "US", Source: "saleslist", Pages: 2})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestAnalyticsScraper_Detail(t *testing.T) {
	ctx := context.Background()

	f := &fakeFetcher{pages: map[string]string{
		"https://analytics.test/e-commerce/detail/51": `<div class="metric-card"><div class="metric-label">Rating</div><div class="metric-value">4.8</div></div>`,
		"https://analytics.test/e-commerce/detail/52": `<div class="product-not-found">Product does not exist</div>`,
	}}
	s := newTestScraper(f)

	d, err := s.Detail(ctx, "51")
	require.NoError(t, err)
	require.NotNil(t, d.Rating)
	assert.Equal(t, 4.8, *d.Rating)
	assert.Equal(t, time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC), d.FetchedAt)

	_, err = s.Detail(ctx, "52")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestAnalyticsScraper_AdaptsLimiter(t *testing.T) {
	u := "https://analytics.test/e-commerce/detail/61"
	f := &fakeFetcher{errs: map[string][]error{u: {browser.ErrBlocked, browser.ErrBlocked, browser.ErrBlocked}}}

	limiter := ratelimit.NewAdaptiveLimiter(time.Millisecond, 2*time.Millisecond)
	s := NewAnalyticsScraper(f, parser.NewAnalyticsParser(), limiter,
		Options{BaseURL: "https://analytics.test", MaxRetries: 1},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 3; i++ {
		_, err := s.Detail(context.Background(), "61")
		require.ErrorIs(t, err, ErrBlocked)
	}

	minDelay, maxDelay := limiter.Delays()
	assert.Greater(t, minDelay, time.Millisecond)
	assert.Greater(t, maxDelay, 2*time.Millisecond)
}
