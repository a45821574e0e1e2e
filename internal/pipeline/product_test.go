package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/config"
	"github.com/maltedev/tiktok-product-scout/internal/models"
)

func TestMergeRecords(t *testing.T) {
	a := record("p1", "saleslist", "", 100, 10)
	b := record("p1", "hotlist", "Garlic Press", 900, 12)
	b.HotIndex = models.Float(77)
	c := record("p2", "hotlist", "Ice Roller", 50, 8)

	products := mergeRecords([]models.SalesRecord{a, b, c, a})
	require.Len(t, products, 2)

	p1 := products[0]
	assert.Equal(t, "p1", p1.record.ProductID)
	assert.Equal(t, []string{"saleslist", "hotlist"}, p1.sources)
	assert.Equal(t, "Garlic Press", p1.record.Title)
	assert.Equal(t, 100.0, *p1.record.SalesVolume)
	assert.Equal(t, 77.0, *p1.record.HotIndex)
	assert.Equal(t, "p2", products[1].record.ProductID)
}

func TestBuildInput(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	listed := now.Add(-72 * time.Hour)
	detailListed := now.Add(-240 * time.Hour)
	rising := models.TrendRising

	t.Run("everything known", func(t *testing.T) {
		rec := record("p1", "saleslist", "Lamp", 100, 40)
		rec.ListedAt = &listed
		p := &product{
			record: rec,
			detail: &models.ProductDetail{Rating: models.Float(4.2), ListedAt: &detailListed},
			shopee: &models.ShopeeStats{SoldCount: 300, CompetitorCount: 12},
			trend:  &rising,
			quote:  &models.SourcingQuote{UnitCostUSD: 10, ShippingUSD: 4},
		}
		p.buildInput(now)

		require.NotNil(t, p.input.DaysSinceListed)
		assert.Equal(t, 10.0, *p.input.DaysSinceListed)
		assert.Equal(t, 4.2, *p.input.Rating)
		assert.Equal(t, 300.0, *p.input.ShopeeSoldCount)
		assert.Equal(t, 12.0, *p.input.ShopeeCompetitorCount)
		assert.InDelta(t, 0.65, *p.input.ProfitMargin, 1e-9)
		assert.Equal(t, models.TrendRising, *p.input.GoogleTrends)
	})

	t.Run("nothing enriched", func(t *testing.T) {
		rec := record("p1", "saleslist", "Lamp", 100, 40)
		rec.ListedAt = &listed
		p := &product{record: rec}
		p.buildInput(now)

		assert.Equal(t, 3.0, *p.input.DaysSinceListed)
		assert.Nil(t, p.input.Rating)
		assert.Nil(t, p.input.ShopeeSoldCount)
		assert.Nil(t, p.input.ProfitMargin)
		assert.Nil(t, p.input.GoogleTrends)
	})

	t.Run("listing date in the future", func(t *testing.T) {
		future := now.Add(48 * time.Hour)
		rec := record("p1", "saleslist", "Lamp", 100, 40)
		rec.ListedAt = &future
		p := &product{record: rec}
		p.buildInput(now)

		assert.Equal(t, 0.0, *p.input.DaysSinceListed)
	})
}

func TestKeyword(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"LED Desk Lamp", "led desk lamp"},
		{"2-in-1 Mini Blender, USB Rechargeable (Pink) 380ml", "2 in 1 mini blender"},
		{"  ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Keyword(tt.title))
		})
	}
}

func TestPreFilter(t *testing.T) {
	f := config.PreFilter{MinSalesVolume: 50, MinPrice: 5, MaxPrice: 80, ExcludeCategories: []string{" Beauty "}}

	tests := []struct {
		name   string
		rec    models.SalesRecord
		pass   bool
		reason string
	}{
		{"passes", record("p", "s", "t", 100, 20), true, ""},
		{"low sales", record("p", "s", "t", 49, 20), false, "sales_volume"},
		{"too cheap", record("p", "s", "t", 100, 4.99), false, "price_below_min"},
		{"too expensive", record("p", "s", "t", 100, 80.01), false, "price_above_max"},
		{"absent fields pass", models.SalesRecord{ProductID: "p"}, true, ""},
		{"excluded category", func() models.SalesRecord {
			r := record("p", "s", "t", 100, 20)
			r.Category = "beauty"
			return r
		}(), false, "excluded_category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := passesPreFilter(&product{record: tt.rec}, f)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}

	t.Run("zero bounds disable", func(t *testing.T) {
		ok, _ := passesPreFilter(&product{record: record("p", "s", "t", 1, 1000)}, config.PreFilter{})
		assert.True(t, ok)
	})
}

func TestPostFilter(t *testing.T) {
	f := config.PostFilter{MinMargin: 0.25, MaxShopeeCompetitors: 500}

	tests := []struct {
		name   string
		in     models.ScoringInput
		pass   bool
		reason string
	}{
		{"unknown values pass", models.ScoringInput{}, true, ""},
		{"thin margin", models.ScoringInput{ProfitMargin: models.Float(0.1)}, false, "margin"},
		{"crowded market", models.ScoringInput{ShopeeCompetitorCount: models.Float(501)}, false, "shopee_competitors"},
		{"at the bounds", models.ScoringInput{ProfitMargin: models.Float(0.25), ShopeeCompetitorCount: models.Float(500)}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := passesPostFilter(&product{input: tt.in}, f)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
