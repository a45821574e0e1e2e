package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/tiktok-product-scout/internal/scoring"
	"github.com/maltedev/tiktok-product-scout/internal/tagger"
)

var ErrInvalidProfile = errors.New("invalid scoring profile")

// ScoringConfig is the YAML file that drives scoring, tagging and filtering.
type ScoringConfig struct {
	StrategyThreshold float64                    `yaml:"strategy_threshold"`
	Profiles          map[string]scoring.Profile `yaml:"profiles"`
	Signals           SignalRules                `yaml:"signals"`
	Filters           Filters                    `yaml:"filters"`
}

type Filters struct {
	Pre  PreFilter  `yaml:"pre"`
	Post PostFilter `yaml:"post"`
}

// PreFilter runs on raw sales records before enrichment. Zero disables a bound.
type PreFilter struct {
	MinSalesVolume    float64  `yaml:"min_sales_volume"`
	MinPrice          float64  `yaml:"min_price"`
	MaxPrice          float64  `yaml:"max_price"`
	ExcludeCategories []string `yaml:"exclude_categories"`
}

// PostFilter runs on enriched products. Zero disables a bound.
type PostFilter struct {
	MinMargin            float64 `yaml:"min_margin"`
	MaxShopeeCompetitors float64 `yaml:"max_shopee_competitors"`
}

// SignalRules keeps signal rules in the order they are written in the file.
type SignalRules []tagger.Rule

func (s *SignalRules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("signals: expected a mapping, got line %d", node.Line)
	}

	rules := make(SignalRules, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var rule tagger.Rule
		if err := node.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("signal %q: %w", node.Content[i].Value, err)
		}
		rule.Name = node.Content[i].Value
		rules = append(rules, rule)
	}
	*s = rules
	return nil
}

// DefaultScoring returns the built-in profiles, rules and filters.
func DefaultScoring() *ScoringConfig {
	return &ScoringConfig{
		StrategyThreshold: 60,
		Profiles: map[string]scoring.Profile{
			"trending": {Name: "Trending", Dimensions: map[string]int{
				"salesVolume": 30, "salesGrowthRate": 25, "videoViews": 15, "googleTrends": 15, "recency": 15,
			}},
			"blueOcean": {Name: "Blue Ocean", Dimensions: map[string]int{
				"creatorCount": 30, "competitionScore": 25, "shopeeValidation": 20, "salesGrowthRate": 15, "pricePoint": 10,
			}},
			"highMargin": {Name: "High Margin", Dimensions: map[string]int{
				"margin": 40, "pricePoint": 20, "commissionRate": 15, "rating": 15, "voc": 10,
			}},
			"crossMarket": {Name: "Cross Market", Dimensions: map[string]int{
				"shopeeValidation": 30, "shopeeCompetitors": 20, "googleTrends": 20, "conversionRate": 15, "shopSales": 15,
			}},
			"contentDriven": {Name: "Content Driven", Dimensions: map[string]int{
				"hotIndex": 40, "gpm": 30, "videoViews": 30,
			}},
		},
		Signals: SignalRules{
			{Name: "surging", Condition: "salesGrowthRate > 1.0"},
			{Name: "few-creators", Condition: "creatorCount <= 20"},
			{Name: "rising-search", Condition: `googleTrends == "rising"`},
			{Name: "fat-margin", Condition: "profitMargin >= 0.4"},
			{Name: "shopee-proven", Condition: "shopeeSoldCount >= 1000"},
			{Name: "fresh-listing", Condition: "daysSinceListed <= 30"},
			{Name: "well-reviewed", Condition: "rating >= 4.5"},
		},
		Filters: Filters{
			Pre: PreFilter{
				MinSalesVolume: 50,
				MinPrice:       5,
				MaxPrice:       80,
			},
			Post: PostFilter{
				MinMargin:            0.25,
				MaxShopeeCompetitors: 500,
			},
		},
	}
}

// LoadScoring reads a scoring YAML file over DefaultScoring. Profiles and
// signals in the file replace the defaults as a whole; threshold and filters
// override field by field.
func LoadScoring(path string) (*ScoringConfig, error) {
	cfg := DefaultScoring()
	defaultProfiles, defaultSignals := cfg.Profiles, cfg.Signals
	cfg.Profiles, cfg.Signals = nil, nil

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scoring config %s: %w", path, err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = defaultProfiles
	}
	if cfg.Signals == nil {
		cfg.Signals = defaultSignals
	}
	for key, p := range cfg.Profiles {
		if p.Name == "" {
			p.Name = key
			cfg.Profiles[key] = p
		}
	}

	return cfg, cfg.Validate()
}

// Validate enforces the profile contract: known dimensions, positive
// weights, and weights summing to exactly 100.
func (c *ScoringConfig) Validate() error {
	if c.StrategyThreshold < 0 || c.StrategyThreshold > 100 {
		return fmt.Errorf("strategy_threshold must be within [0,100], got %v", c.StrategyThreshold)
	}

	if len(c.Profiles) == 0 {
		return fmt.Errorf("%w: at least one profile is required", ErrInvalidProfile)
	}

	keys := make([]string, 0, len(c.Profiles))
	for k := range c.Profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := c.Profiles[key]
		if len(p.Dimensions) == 0 {
			return fmt.Errorf("%w: %s has no dimensions", ErrInvalidProfile, key)
		}
		for dim, w := range p.Dimensions {
			if !scoring.IsKnown(scoring.Dimension(dim)) {
				return fmt.Errorf("%w: %s uses unknown dimension %q", ErrInvalidProfile, key, dim)
			}
			if w <= 0 {
				return fmt.Errorf("%w: %s.%s weight must be positive, got %d", ErrInvalidProfile, key, dim, w)
			}
		}
		if total := p.TotalWeight(); total != 100 {
			return fmt.Errorf("%w: %s weights sum to %d, want 100", ErrInvalidProfile, key, total)
		}
	}

	seen := make(map[string]struct{}, len(c.Signals))
	for i, rule := range c.Signals {
		if rule.Name == "" {
			return fmt.Errorf("signals[%d]: name is required", i)
		}
		if strings.TrimSpace(rule.Condition) == "" {
			return fmt.Errorf("signal %q: condition is required", rule.Name)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("signal %q is defined twice", rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}

	pre := c.Filters.Pre
	if pre.MaxPrice > 0 && pre.MinPrice > pre.MaxPrice {
		return fmt.Errorf("filters.pre.min_price cannot be greater than max_price")
	}
	if c.Filters.Post.MinMargin >= 1 {
		return fmt.Errorf("filters.post.min_margin must be below 1")
	}

	return nil
}

// Rules returns the signal rules as the tagger consumes them.
func (c *ScoringConfig) Rules() []tagger.Rule {
	return []tagger.Rule(c.Signals)
}
