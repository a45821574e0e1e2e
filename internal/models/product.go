package models

import (
	"time"
)

// TrendDirection is the external search-trend signal for a product keyword.
type TrendDirection string

const (
	TrendRising    TrendDirection = "rising"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
)

// Level maps the direction onto the 2/1/0 scale used by the googleTrends dimension.
func (d TrendDirection) Level() (float64, bool) {
	switch d {
	case TrendRising:
		return 2, true
	case TrendStable:
		return 1, true
	case TrendDeclining:
		return 0, true
	default:
		return 0, false
	}
}

// SalesRecord is one row of a discovery snapshot scraped from the analytics site.
type SalesRecord struct {
	ProductID       string     `json:"product_id"`
	Title           string     `json:"title"`
	ShopName        string     `json:"shop_name,omitempty"`
	Category        string     `json:"category,omitempty"`
	Region          string     `json:"region"`
	Source          string     `json:"source"`
	Rank            int        `json:"rank"`
	PriceUSD        *float64   `json:"price_usd,omitempty"`
	SalesVolume     *float64   `json:"sales_volume,omitempty"`
	SalesGrowthRate *float64   `json:"sales_growth_rate,omitempty"`
	GMV             *float64   `json:"gmv,omitempty"`
	VideoViews      *float64   `json:"video_views,omitempty"`
	CreatorCount    *float64   `json:"creator_count,omitempty"`
	HotIndex        *float64   `json:"hot_index,omitempty"`
	GPM             *float64   `json:"gpm,omitempty"`
	CommissionRate  *float64   `json:"commission_rate,omitempty"`
	ListedAt        *time.Time `json:"listed_at,omitempty"`
	ScrapedAt       time.Time  `json:"scraped_at"`
}

// ProductDetail is the expensive per-product detail scrape.
type ProductDetail struct {
	ProductID        string     `json:"product_id"`
	Rating           *float64   `json:"rating,omitempty"`
	ReviewCount      *int       `json:"review_count,omitempty"`
	VocPositiveRate  *float64   `json:"voc_positive_rate,omitempty"`
	ConversionRate   *float64   `json:"conversion_rate,omitempty"`
	ShopSalesVolume  *float64   `json:"shop_sales_volume,omitempty"`
	CompetitionScore *float64   `json:"competition_score,omitempty"`
	ListedAt         *time.Time `json:"listed_at,omitempty"`
	FetchedAt        time.Time  `json:"fetched_at"`
}

// ShopeeStats is the marketplace validation signal for a keyword.
type ShopeeStats struct {
	Keyword         string   `json:"keyword"`
	SoldCount       float64  `json:"sold_count"`
	CompetitorCount float64  `json:"competitor_count"`
	MedianPrice     *float64 `json:"median_price,omitempty"`
}

// SourcingQuote is the cheapest supplier offer found for a keyword.
type SourcingQuote struct {
	Keyword     string  `json:"keyword"`
	SupplierSKU string  `json:"supplier_sku,omitempty"`
	UnitCostUSD float64 `json:"unit_cost_usd"`
	ShippingUSD float64 `json:"shipping_usd"`
}

// LandedCost is what one unit costs delivered.
func (q *SourcingQuote) LandedCost() float64 {
	return q.UnitCostUSD + q.ShippingUSD
}

// Margin returns the gross margin for a sell price, or false when it cannot be computed.
func Margin(priceUSD *float64, quote *SourcingQuote) (float64, bool) {
	if priceUSD == nil || quote == nil || *priceUSD <= 0 {
		return 0, false
	}
	return (*priceUSD - quote.LandedCost()) / *priceUSD, true
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
