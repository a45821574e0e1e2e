package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// shopeePriceUnit is the fixed-point factor of Shopee search prices.
const shopeePriceUnit = 100000

// ShopeeClient validates demand on the Shopee marketplace.
type ShopeeClient struct {
	baseURL string
	limit   int
	client  *jsonClient
	logger  *slog.Logger
}

func NewShopeeClient(baseURL string, opts Options, logger *slog.Logger) *ShopeeClient {
	logger = logger.With("component", "shopee")
	return &ShopeeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   60,
		client:  newJSONClient(opts, logger),
		logger:  logger,
	}
}

type shopeeSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		ItemBasic struct {
			ItemID         int64   `json:"itemid"`
			Name           string  `json:"name"`
			Price          float64 `json:"price"`
			HistoricalSold float64 `json:"historical_sold"`
		} `json:"item_basic"`
	} `json:"items"`
}

// Stats sums the historical sales of the top search results, reports the
// total result count as competitors and the median listing price.
func (c *ShopeeClient) Stats(ctx context.Context, keyword string) (*models.ShopeeStats, error) {
	q := url.Values{}
	q.Set("by", "relevancy")
	q.Set("keyword", keyword)
	q.Set("limit", fmt.Sprint(c.limit))
	q.Set("newest", "0")
	q.Set("order", "desc")
	q.Set("page_type", "search")

	var resp shopeeSearchResponse
	err := c.client.getJSON(ctx, c.baseURL+"/api/v4/search/search_items?"+q.Encode(),
		map[string]string{"X-Api-Source": "pc"}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to search shopee: %w", err)
	}

	if len(resp.Items) == 0 {
		return nil, ErrNoResults
	}

	stats := &models.ShopeeStats{
		Keyword:         keyword,
		CompetitorCount: float64(resp.TotalCount),
	}
	if resp.TotalCount < len(resp.Items) {
		stats.CompetitorCount = float64(len(resp.Items))
	}

	prices := make([]float64, 0, len(resp.Items))
	for _, item := range resp.Items {
		stats.SoldCount += item.ItemBasic.HistoricalSold
		if item.ItemBasic.Price > 0 {
			prices = append(prices, item.ItemBasic.Price/shopeePriceUnit)
		}
	}
	stats.MedianPrice = median(prices)

	c.logger.Debug("shopee stats",
		"keyword", keyword,
		"sold_count", stats.SoldCount,
		"competitor_count", stats.CompetitorCount)

	return stats, nil
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}
