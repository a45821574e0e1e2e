package pipeline

import (
	"strings"

	"github.com/maltedev/tiktok-product-scout/internal/config"
)

// passesPreFilter applies the sales and price bounds to a discovered
// product. Absent fields pass.
func passesPreFilter(p *product, f config.PreFilter) (bool, string) {
	rec := &p.record

	if f.MinSalesVolume > 0 && rec.SalesVolume != nil && *rec.SalesVolume < f.MinSalesVolume {
		return false, "sales_volume"
	}
	if rec.PriceUSD != nil {
		if f.MinPrice > 0 && *rec.PriceUSD < f.MinPrice {
			return false, "price_below_min"
		}
		if f.MaxPrice > 0 && *rec.PriceUSD > f.MaxPrice {
			return false, "price_above_max"
		}
	}
	for _, c := range f.ExcludeCategories {
		if rec.Category != "" && strings.EqualFold(strings.TrimSpace(c), rec.Category) {
			return false, "excluded_category"
		}
	}
	return true, ""
}

// passesPostFilter applies the margin and competition bounds to an
// enriched product. A bound only applies when its value is known.
func passesPostFilter(p *product, f config.PostFilter) (bool, string) {
	in := &p.input

	if f.MinMargin > 0 && in.ProfitMargin != nil && *in.ProfitMargin < f.MinMargin {
		return false, "margin"
	}
	if f.MaxShopeeCompetitors > 0 && in.ShopeeCompetitorCount != nil && *in.ShopeeCompetitorCount > f.MaxShopeeCompetitors {
		return false, "shopee_competitors"
	}
	return true, ""
}
