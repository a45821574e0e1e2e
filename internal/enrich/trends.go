package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

const (
	risingRatio    = 1.2
	decliningRatio = 0.8
)

// TrendCache stores directions between runs.
type TrendCache interface {
	Get(keyword string) (models.TrendDirection, bool)
	Put(keyword string, dir models.TrendDirection) error
}

// TrendsClient reads Google Trends interest over time through SerpApi.
type TrendsClient struct {
	baseURL string
	apiKey  string
	geo     string
	cache   TrendCache
	client  *jsonClient
	logger  *slog.Logger
}

// NewTrendsClient creates the client. cache may be nil.
func NewTrendsClient(baseURL, apiKey, geo string, cache TrendCache, opts Options, logger *slog.Logger) *TrendsClient {
	logger = logger.With("component", "trends")
	return &TrendsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		geo:     geo,
		cache:   cache,
		client:  newJSONClient(opts, logger),
		logger:  logger,
	}
}

type serpTrendsResponse struct {
	Error            string `json:"error"`
	InterestOverTime struct {
		TimelineData []struct {
			Date   string `json:"date"`
			Values []struct {
				Query          string  `json:"query"`
				ExtractedValue float64 `json:"extracted_value"`
			} `json:"values"`
		} `json:"timeline_data"`
	} `json:"interest_over_time"`
}

// Direction classifies the keyword's search interest as rising, stable or
// declining.
func (c *TrendsClient) Direction(ctx context.Context, keyword string) (models.TrendDirection, error) {
	if c.cache != nil {
		if dir, ok := c.cache.Get(keyword); ok {
			return dir, nil
		}
	}

	q := url.Values{}
	q.Set("engine", "google_trends")
	q.Set("q", keyword)
	q.Set("data_type", "TIMESERIES")
	q.Set("date", "today 3-m")
	if c.geo != "" {
		q.Set("geo", c.geo)
	}
	q.Set("api_key", c.apiKey)

	var resp serpTrendsResponse
	if err := c.client.getJSON(ctx, c.baseURL+"/search.json?"+q.Encode(), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch trends: %w", err)
	}
	if resp.Error != "" {
		if strings.Contains(strings.ToLower(resp.Error), "hasn't returned any results") {
			return "", ErrNoResults
		}
		return "", fmt.Errorf("serpapi: %s", resp.Error)
	}

	series := make([]float64, 0, len(resp.InterestOverTime.TimelineData))
	for _, point := range resp.InterestOverTime.TimelineData {
		if len(point.Values) > 0 {
			series = append(series, point.Values[0].ExtractedValue)
		}
	}

	dir, err := ClassifyTrend(series)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		if err := c.cache.Put(keyword, dir); err != nil {
			c.logger.Warn("failed to cache trend", "keyword", keyword, "error", err)
		}
	}
	return dir, nil
}

// ClassifyTrend compares the mean of the last quarter of the series with
// the mean of the first quarter.
func ClassifyTrend(series []float64) (models.TrendDirection, error) {
	if len(series) < 4 {
		return "", ErrNoResults
	}

	quarter := len(series) / 4
	first := mean(series[:quarter])
	last := mean(series[len(series)-quarter:])

	if first == 0 {
		if last > 0 {
			return models.TrendRising, nil
		}
		return "", errors.Join(ErrNoResults, fmt.Errorf("flat zero interest"))
	}

	switch ratio := last / first; {
	case ratio >= risingRatio:
		return models.TrendRising, nil
	case ratio <= decliningRatio:
		return models.TrendDeclining, nil
	default:
		return models.TrendStable, nil
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
