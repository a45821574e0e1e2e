package scoring

import (
	"math"
	"sort"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// Profile is one named strategy: a weighted subset of dimensions. Weights are
// percentage points and are expected, not enforced, to sum to 100.
type Profile struct {
	Name       string         `yaml:"name" json:"name"`
	Dimensions map[string]int `yaml:"dimensions" json:"dimensions"`
}

// TotalWeight sums the profile's weights.
func (p Profile) TotalWeight() int {
	total := 0
	for _, w := range p.Dimensions {
		total += w
	}
	return total
}

// Result holds one score per profile (nil when the profile had no data at
// all) and the audit rows every score can be rebuilt from.
type Result struct {
	Scores  map[string]*float64  `json:"scores"`
	Details []models.ScoreDetail `json:"details"`
}

// ComputeScores scores a signal bundle under every profile. Profiles are
// visited by name and dimensions by descending weight, so the detail order is
// stable across runs.
func ComputeScores(in models.ScoringInput, profiles map[string]Profile) Result {
	res := Result{Scores: make(map[string]*float64, len(profiles))}
	ctx := Context{MaxSalesVolume: in.MaxSalesVolume}

	for _, name := range sortedProfileNames(profiles) {
		var (
			sum     float64
			hasData bool
		)
		for _, dw := range orderedDimensions(profiles[name].Dimensions) {
			dim := Dimension(dw.name)
			row := models.ScoreDetail{
				Profile:   name,
				Dimension: dw.name,
				Weight:    dw.weight,
			}
			if raw, ok := rawValue(dim, &in); ok {
				norm := Normalize(dim, raw, ctx)
				row.RawValue = models.Float(raw)
				row.NormalizedValue = models.Float(norm)
				row.WeightedScore = norm * float64(dw.weight) / 100
				sum += row.WeightedScore
				hasData = true
			}
			res.Details = append(res.Details, row)
		}
		if hasData {
			res.Scores[name] = models.Float(roundTo1(sum))
		} else {
			res.Scores[name] = nil
		}
	}
	return res
}

// Present returns only the non-null scores.
func (r Result) Present() map[string]float64 {
	out := make(map[string]float64, len(r.Scores))
	for name, s := range r.Scores {
		if s != nil {
			out[name] = *s
		}
	}
	return out
}

type dimensionWeight struct {
	name   string
	weight int
}

func orderedDimensions(dims map[string]int) []dimensionWeight {
	out := make([]dimensionWeight, 0, len(dims))
	for name, w := range dims {
		out = append(out, dimensionWeight{name: name, weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		return out[i].name < out[j].name
	})
	return out
}

func sortedProfileNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}
