package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var metricPattern = regexp.MustCompile(`^([-+]?\d+(?:\.\d+)?)\s*([kmbw万]?)\s*(%?)$`)

var metricSuffixes = map[string]float64{
	"":  1,
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
	"w": 1e4,
	"万": 1e4,
}

// ParseMetric reads the abbreviated numbers the site prints: "1.2K",
// "3.4M", "$12.99", "15.3%", "2,315". Percentages come back as fractions.
// Ranges such as "$3.99 - $8.50" yield their lower bound. Placeholders
// ("-", "--", "N/A") report false.
func ParseMetric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, " - "); i > 0 {
		s = s[:i]
	} else if i := strings.Index(s, "~"); i > 0 {
		s = s[:i]
	}

	s = strings.ToLower(s)
	s = strings.NewReplacer(",", "", "$", "", "usd", "", "us", "", " ", "", "\u00a0", "").Replace(s)
	if s == "" || s == "-" || s == "--" || s == "n/a" {
		return 0, false
	}

	m := metricPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	v *= metricSuffixes[m[2]]
	if m[3] == "%" {
		v /= 100
	}
	return v, true
}

func metricPtr(s string) *float64 {
	if v, ok := ParseMetric(s); ok {
		return &v
	}
	return nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseDate reads the listing dates shown on the site, interpreted as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
