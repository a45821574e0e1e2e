// Package scoring turns a product's raw signal bundle into 0-100 scores under
// several weighted strategy profiles, keeping a per-dimension audit trail.
package scoring

import (
	"math"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// Dimension is one independently normalizable metric. The vocabulary is closed.
type Dimension string

const (
	SalesVolume       Dimension = "salesVolume"
	SalesGrowthRate   Dimension = "salesGrowthRate"
	VideoViews        Dimension = "videoViews"
	CreatorCount      Dimension = "creatorCount"
	HotIndex          Dimension = "hotIndex"
	GPM               Dimension = "gpm"
	CommissionRate    Dimension = "commissionRate"
	ConversionRate    Dimension = "conversionRate"
	Margin            Dimension = "margin"
	VOC               Dimension = "voc"
	ShopeeValidation  Dimension = "shopeeValidation"
	ShopeeCompetitors Dimension = "shopeeCompetitors"
	ShopSales         Dimension = "shopSales"
	GoogleTrends      Dimension = "googleTrends"
	Competition       Dimension = "competitionScore"
	Recency           Dimension = "recency"
	PricePoint        Dimension = "pricePoint"
	Rating            Dimension = "rating"
)

// Calibration constants.
const (
	shopeeSoldCeiling       = 1_000
	videoViewsCeiling       = 1_000_000
	shopSalesCeiling        = 10_000
	creatorCountCeiling     = 500
	shopeeCompetitorCeiling = 1_000
	recencyHorizonDays      = 120
	pricePointCenter        = 20.0
	pricePointHalfWidth     = 15.0
)

// Dimensions lists every known dimension.
func Dimensions() []Dimension {
	return []Dimension{
		SalesVolume, SalesGrowthRate, VideoViews, CreatorCount, HotIndex, GPM,
		CommissionRate, ConversionRate, Margin, VOC, ShopeeValidation,
		ShopeeCompetitors, ShopSales, GoogleTrends, Competition, Recency,
		PricePoint, Rating,
	}
}

// IsKnown reports whether d belongs to the dimension vocabulary.
func IsKnown(d Dimension) bool {
	for _, k := range Dimensions() {
		if k == d {
			return true
		}
	}
	return false
}

// Context carries batch-level values some normalizers are relative to.
type Context struct {
	MaxSalesVolume float64
}

// Normalize maps a raw value onto 0-100. It never fails: unknown dimensions
// and non-finite results normalize to 0.
func Normalize(d Dimension, raw float64, ctx Context) float64 {
	switch d {
	case SalesVolume:
		if !(ctx.MaxSalesVolume > 0) {
			return 0
		}
		return clamp(raw / ctx.MaxSalesVolume * 100)
	case SalesGrowthRate, CommissionRate, ConversionRate, Margin, VOC:
		return clamp(raw * 100)
	case ShopeeValidation:
		return logScale(raw, shopeeSoldCeiling)
	case VideoViews:
		return logScale(raw, videoViewsCeiling)
	case ShopSales:
		return logScale(raw, shopSalesCeiling)
	case CreatorCount:
		return inverseLogScale(raw, creatorCountCeiling)
	case ShopeeCompetitors:
		return inverseLogScale(raw, shopeeCompetitorCeiling)
	case HotIndex, GPM:
		return clamp(raw)
	case GoogleTrends:
		switch {
		case raw >= 2:
			return 100
		case raw >= 1:
			return 50
		default:
			return 0
		}
	case Competition:
		return clamp(100 - raw)
	case Recency:
		if raw <= 0 {
			return 100
		}
		return clamp(100 - raw/recencyHorizonDays*100)
	case PricePoint:
		if !(raw > 0) {
			return 0
		}
		return clamp(100 - math.Abs(raw-pricePointCenter)/pricePointHalfWidth*50)
	case Rating:
		return clamp(raw * 20)
	default:
		return 0
	}
}

func logScale(raw, ceiling float64) float64 {
	if !(raw > 0) {
		return 0
	}
	return clamp(math.Log10(raw) / math.Log10(ceiling) * 100)
}

func inverseLogScale(raw, ceiling float64) float64 {
	if raw <= 0 {
		return 100
	}
	return clamp(100 - math.Log10(raw+1)/math.Log10(ceiling+1)*100)
}

// clamp rounds half away from zero after scaling, then bounds to [0,100].
func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// rawValue reads the bundle field a dimension is computed from.
func rawValue(d Dimension, in *models.ScoringInput) (float64, bool) {
	var p *float64
	switch d {
	case SalesVolume:
		p = in.SalesVolume
	case SalesGrowthRate:
		p = in.SalesGrowthRate
	case VideoViews:
		p = in.VideoViews
	case CreatorCount:
		p = in.CreatorCount
	case HotIndex:
		p = in.HotIndex
	case GPM:
		p = in.GPM
	case CommissionRate:
		p = in.CommissionRate
	case ConversionRate:
		p = in.ConversionRate
	case Margin:
		p = in.ProfitMargin
	case VOC:
		p = in.VocPositiveRate
	case ShopeeValidation:
		p = in.ShopeeSoldCount
	case ShopeeCompetitors:
		p = in.ShopeeCompetitorCount
	case ShopSales:
		p = in.ShopSalesVolume
	case Competition:
		p = in.CompetitionScore
	case Recency:
		p = in.DaysSinceListed
	case PricePoint:
		p = in.PriceUSD
	case Rating:
		p = in.Rating
	case GoogleTrends:
		if in.GoogleTrends == nil {
			return 0, false
		}
		return in.GoogleTrends.Level()
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
