package pipeline

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// product is one discovered product on its way through a run.
type product struct {
	record  models.SalesRecord
	sources []string
	detail  *models.ProductDetail
	shopee  *models.ShopeeStats
	trend   *models.TrendDirection
	quote   *models.SourcingQuote
	input   models.ScoringInput
}

// mergeRecords folds the records of all sources into one product per ID,
// in first-seen order. Later sources only fill fields the earlier ones left
// empty.
func mergeRecords(records []models.SalesRecord) []*product {
	byID := make(map[string]*product, len(records))
	var out []*product

	for _, rec := range records {
		p, ok := byID[rec.ProductID]
		if !ok {
			p = &product{record: rec}
			byID[rec.ProductID] = p
			out = append(out, p)
		} else {
			fillRecord(&p.record, &rec)
		}
		if !contains(p.sources, rec.Source) {
			p.sources = append(p.sources, rec.Source)
		}
	}
	return out
}

func fillRecord(dst, src *models.SalesRecord) {
	fillString := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fillFloat := func(d **float64, s *float64) {
		if *d == nil {
			*d = s
		}
	}

	fillString(&dst.Title, src.Title)
	fillString(&dst.ShopName, src.ShopName)
	fillString(&dst.Category, src.Category)
	fillString(&dst.Region, src.Region)
	fillFloat(&dst.PriceUSD, src.PriceUSD)
	fillFloat(&dst.SalesVolume, src.SalesVolume)
	fillFloat(&dst.SalesGrowthRate, src.SalesGrowthRate)
	fillFloat(&dst.GMV, src.GMV)
	fillFloat(&dst.VideoViews, src.VideoViews)
	fillFloat(&dst.CreatorCount, src.CreatorCount)
	fillFloat(&dst.HotIndex, src.HotIndex)
	fillFloat(&dst.GPM, src.GPM)
	fillFloat(&dst.CommissionRate, src.CommissionRate)
	if dst.ListedAt == nil {
		dst.ListedAt = src.ListedAt
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// buildInput assembles the signal bundle from everything known about the
// product. MaxSalesVolume is set later for the whole batch.
func (p *product) buildInput(now time.Time) {
	rec := &p.record
	in := models.ScoringInput{
		SalesVolume:     rec.SalesVolume,
		SalesGrowthRate: rec.SalesGrowthRate,
		VideoViews:      rec.VideoViews,
		CreatorCount:    rec.CreatorCount,
		HotIndex:        rec.HotIndex,
		GPM:             rec.GPM,
		CommissionRate:  rec.CommissionRate,
		PriceUSD:        rec.PriceUSD,
		GoogleTrends:    p.trend,
	}

	listedAt := rec.ListedAt
	if d := p.detail; d != nil {
		in.Rating = d.Rating
		in.VocPositiveRate = d.VocPositiveRate
		in.ConversionRate = d.ConversionRate
		in.ShopSalesVolume = d.ShopSalesVolume
		in.CompetitionScore = d.CompetitionScore
		if d.ListedAt != nil {
			listedAt = d.ListedAt
		}
	}
	if listedAt != nil {
		in.DaysSinceListed = models.Float(daysSince(*listedAt, now))
	}

	if s := p.shopee; s != nil {
		in.ShopeeSoldCount = models.Float(s.SoldCount)
		in.ShopeeCompetitorCount = models.Float(s.CompetitorCount)
	}
	if m, ok := models.Margin(rec.PriceUSD, p.quote); ok {
		in.ProfitMargin = models.Float(m)
	}

	p.input = in
}

// daysSince counts whole days, never negative.
func daysSince(t, now time.Time) float64 {
	d := math.Floor(now.Sub(t).Hours() / 24)
	return math.Max(d, 0)
}

// maxKeywordWords caps the length of enrichment keywords.
const maxKeywordWords = 5

// Keyword derives the enrichment search keyword from a listing title.
func Keyword(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) > maxKeywordWords {
		fields = fields[:maxKeywordWords]
	}
	return strings.Join(fields, " ")
}
