// Package tagger derives discovery, signal and strategy tags for products.
package tagger

import (
	"sort"
	"strings"
	"unicode"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// sourceTags maps analytics-site list identifiers onto stable tag names.
var sourceTags = map[string]string{
	"saleslist":   "sales-rank",
	"newlist":     "new-listing",
	"hotlist":     "hot-list",
	"videolist":   "hot-video",
	"creatorlist": "creator-pick",
	"search":      "search",
}

// DiscoveryTags maps where a product was found onto discovery tags, dropping
// duplicates and keeping first-seen order. Unknown sources pass through.
func DiscoveryTags(sources []string) []models.Tag {
	seen := make(map[string]struct{}, len(sources))
	tags := make([]models.Tag, 0, len(sources))
	for _, src := range sources {
		name, ok := sourceTags[src]
		if !ok {
			name = src
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tags = append(tags, models.Tag{Type: models.TagDiscovery, Name: name})
	}
	return tags
}

// Rule is a named signal rule.
type Rule struct {
	Name      string `yaml:"-" json:"name"`
	Condition string `yaml:"condition" json:"condition"`
}

// Diagnostic explains why a rule could not be evaluated at all.
type Diagnostic struct {
	Rule   string
	Reason string
}

// EvaluateSignals fires rules against r in declaration order. A rule whose
// field is absent is skipped silently; a rule that does not parse is skipped
// and reported as a diagnostic.
func EvaluateSignals(r Record, rules []Rule) ([]models.Tag, []Diagnostic) {
	var (
		tags  []models.Tag
		diags []Diagnostic
	)
	for _, rule := range rules {
		cond, err := ParseCondition(rule.Condition)
		if err != nil {
			diags = append(diags, Diagnostic{Rule: rule.Name, Reason: err.Error()})
			continue
		}
		if matched, ok := cond.Eval(r); ok && matched {
			tags = append(tags, models.Tag{Type: models.TagSignal, Name: rule.Name})
		}
	}
	return tags, diags
}

// StrategyTags emits one tag per profile scoring at or above threshold,
// ordered by tag name.
func StrategyTags(scores map[string]float64, threshold float64) []models.Tag {
	var tags []models.Tag
	for profile, score := range scores {
		if score >= threshold {
			tags = append(tags, models.Tag{Type: models.TagStrategy, Name: ToKebabCase(profile)})
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags
}

// ToKebabCase turns "blueOcean" into "blue-ocean". Kebab input is unchanged,
// so applying it twice is the same as applying it once.
func ToKebabCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	prev := rune(0)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && prev != '-' {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

// SignalRecord flattens a signal bundle into the record rules are evaluated
// against. Absent signals are absent keys.
func SignalRecord(in models.ScoringInput, extra Record) Record {
	r := make(Record, 20+len(extra))
	put := func(key string, v *float64) {
		if v != nil {
			r[key] = *v
		}
	}
	put("salesVolume", in.SalesVolume)
	put("salesGrowthRate", in.SalesGrowthRate)
	put("videoViews", in.VideoViews)
	put("creatorCount", in.CreatorCount)
	put("hotIndex", in.HotIndex)
	put("gpm", in.GPM)
	put("commissionRate", in.CommissionRate)
	put("priceUsd", in.PriceUSD)
	put("rating", in.Rating)
	put("vocPositiveRate", in.VocPositiveRate)
	put("conversionRate", in.ConversionRate)
	put("shopSalesVolume", in.ShopSalesVolume)
	put("competitionScore", in.CompetitionScore)
	put("daysSinceListed", in.DaysSinceListed)
	put("shopeeSoldCount", in.ShopeeSoldCount)
	put("shopeeCompetitorCount", in.ShopeeCompetitorCount)
	put("profitMargin", in.ProfitMargin)
	if in.GoogleTrends != nil {
		r["googleTrends"] = string(*in.GoogleTrends)
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}
