package models

import (
	"time"
)

// ScoringInput is the signal bundle for one product. A nil field means the
// signal has not been collected, which is never the same as zero.
type ScoringInput struct {
	SalesVolume           *float64        `json:"salesVolume,omitempty"`
	SalesGrowthRate       *float64        `json:"salesGrowthRate,omitempty"`
	VideoViews            *float64        `json:"videoViews,omitempty"`
	CreatorCount          *float64        `json:"creatorCount,omitempty"`
	HotIndex              *float64        `json:"hotIndex,omitempty"`
	GPM                   *float64        `json:"gpm,omitempty"`
	CommissionRate        *float64        `json:"commissionRate,omitempty"`
	PriceUSD              *float64        `json:"priceUsd,omitempty"`
	Rating                *float64        `json:"rating,omitempty"`
	VocPositiveRate       *float64        `json:"vocPositiveRate,omitempty"`
	ConversionRate        *float64        `json:"conversionRate,omitempty"`
	ShopSalesVolume       *float64        `json:"shopSalesVolume,omitempty"`
	CompetitionScore      *float64        `json:"competitionScore,omitempty"`
	DaysSinceListed       *float64        `json:"daysSinceListed,omitempty"`
	ShopeeSoldCount       *float64        `json:"shopeeSoldCount,omitempty"`
	ShopeeCompetitorCount *float64        `json:"shopeeCompetitorCount,omitempty"`
	ProfitMargin          *float64        `json:"profitMargin,omitempty"`
	GoogleTrends          *TrendDirection `json:"googleTrends,omitempty"`

	// MaxSalesVolume is the largest sales volume in the current scoring batch.
	MaxSalesVolume float64 `json:"maxSalesVolume"`
}

// TagType classifies a tag.
type TagType string

const (
	TagDiscovery TagType = "discovery"
	TagStrategy  TagType = "strategy"
	TagSignal    TagType = "signal"
	TagManual    TagType = "manual"
)

// TrackTag is the manual tag that pins a product into the scrape queue.
const TrackTag = "track"

// Tag is a (type, name) label attached to a product.
type Tag struct {
	Type TagType `json:"tagType"`
	Name string  `json:"tagName"`
}

// ScoreDetail is one row of the scoring audit trail.
type ScoreDetail struct {
	Profile         string   `json:"profile"`
	Dimension       string   `json:"dimension"`
	RawValue        *float64 `json:"rawValue"`
	NormalizedValue *float64 `json:"normalizedValue"`
	Weight          int      `json:"weight"`
	WeightedScore   float64  `json:"weightedScore"`
}

// Candidate is a scored product persisted at the end of a pipeline run.
type Candidate struct {
	ID        int64               `json:"id"`
	RunID     string              `json:"run_id"`
	ProductID string              `json:"product_id"`
	Title     string              `json:"title"`
	Region    string              `json:"region"`
	Category  string              `json:"category,omitempty"`
	Input     ScoringInput        `json:"input"`
	Scores    map[string]*float64 `json:"scores"`
	Details   []ScoreDetail       `json:"details"`
	Tags      []Tag               `json:"tags"`
	CreatedAt time.Time           `json:"created_at"`
}

// BestScore returns the highest non-null profile score.
func (c *Candidate) BestScore() (string, float64, bool) {
	var (
		bestName string
		best     float64
		found    bool
	)
	for name, s := range c.Scores {
		if s == nil {
			continue
		}
		if !found || *s > best || (*s == best && name < bestName) {
			bestName, best, found = name, *s, true
		}
	}
	return bestName, best, found
}
