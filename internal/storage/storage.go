// Package storage keeps small file-backed caches between runs.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

type trendEntry struct {
	Keyword   string                `json:"keyword"`
	Direction models.TrendDirection `json:"direction"`
	FetchedAt time.Time             `json:"fetched_at"`
}

// TrendCache remembers search-trend directions per keyword for a TTL so
// repeated runs on the same day do not re-query the trends API.
type TrendCache struct {
	mu       sync.RWMutex
	entries  map[string]*trendEntry
	filename string
	ttl      time.Duration
	now      func() time.Time
}

// NewTrendCache loads filename if it exists. An empty filename keeps the
// cache in memory only.
func NewTrendCache(filename string, ttl time.Duration) (*TrendCache, error) {
	c := &TrendCache{
		entries:  make(map[string]*trendEntry),
		filename: filename,
		ttl:      ttl,
		now:      time.Now,
	}

	if filename != "" {
		if err := c.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load trend cache: %w", err)
		}
	}

	return c, nil
}

func cacheKey(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// Get returns a cached direction that is younger than the TTL.
func (c *TrendCache) Get(keyword string) (models.TrendDirection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(keyword)]
	if !ok || c.now().Sub(e.FetchedAt) > c.ttl {
		return "", false
	}
	return e.Direction, true
}

// Put stores a direction and persists the cache.
func (c *TrendCache) Put(keyword string, dir models.TrendDirection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(keyword)
	if key == "" {
		return fmt.Errorf("keyword is required")
	}

	c.entries[key] = &trendEntry{Keyword: key, Direction: dir, FetchedAt: c.now()}
	return c.save()
}

// Prune drops expired entries and returns how many were removed.
func (c *TrendCache) Prune() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if c.now().Sub(e.FetchedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.save()
}

// Stats counts cached entries per direction plus a total.
func (c *TrendCache) Stats() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]int)
	for _, e := range c.entries {
		stats[string(e.Direction)]++
	}
	stats["total"] = len(c.entries)
	return stats
}

func (c *TrendCache) save() error {
	if c.filename == "" {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := c.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, c.filename)
}

func (c *TrendCache) load() error {
	data, err := os.ReadFile(c.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &c.entries)
}
