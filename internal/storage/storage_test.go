package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

func TestTrendCache_PutGet(t *testing.T) {
	cache, err := NewTrendCache("", time.Hour)
	require.NoError(t, err)

	_, ok := cache.Get("led strip")
	assert.False(t, ok)

	require.NoError(t, cache.Put("LED Strip ", models.TrendRising))

	dir, ok := cache.Get("led strip")
	assert.True(t, ok)
	assert.Equal(t, models.TrendRising, dir)
}

func TestTrendCache_Expiry(t *testing.T) {
	cache, err := NewTrendCache("", time.Hour)
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	require.NoError(t, cache.Put("neck fan", models.TrendStable))

	now = now.Add(2 * time.Hour)
	_, ok := cache.Get("neck fan")
	assert.False(t, ok)

	removed, err := cache.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, cache.Stats()["total"])
}

func TestTrendCache_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trends.json")

	first, err := NewTrendCache(path, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, first.Put("posture corrector", models.TrendDeclining))
	require.NoError(t, first.Put("ice roller", models.TrendRising))

	second, err := NewTrendCache(path, 24*time.Hour)
	require.NoError(t, err)

	dir, ok := second.Get("posture corrector")
	assert.True(t, ok)
	assert.Equal(t, models.TrendDeclining, dir)

	stats := second.Stats()
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["rising"])
	assert.Equal(t, 1, stats["declining"])
}

func TestTrendCache_RejectsEmptyKeyword(t *testing.T) {
	cache, err := NewTrendCache("", time.Hour)
	require.NoError(t, err)

	assert.Error(t, cache.Put("  ", models.TrendRising))
}
