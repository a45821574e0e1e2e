package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
	}{
		{"1.2K", 1200, true},
		{"3.4M", 3400000, true},
		{"1.1B", 1.1e9, true},
		{"$12.99", 12.99, true},
		{"US$ 7", 7, true},
		{"15.3%", 0.153, true},
		{"-4.5%", -0.045, true},
		{"2,315", 2315, true},
		{"1.5w", 15000, true},
		{"3万", 30000, true},
		{"$3.99 - $8.50", 3.99, true},
		{"  86  ", 86, true},
		{"", 0, false},
		{"-", 0, false},
		{"--", 0, false},
		{"N/A", 0, false},
		{"abc", 0, false},
		{"12 units", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseMetric(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	for _, s := range []string{"2026-03-07", "2026/03/07", "03/07/2026", "Mar 7, 2026", "7 Mar 2026"} {
		got, ok := ParseDate(s)
		assert.True(t, ok, s)
		assert.Equal(t, want, got, s)
	}

	_, ok := ParseDate("yesterday")
	assert.False(t, ok)
}
