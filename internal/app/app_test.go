package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadScoring(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadScoring(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
		require.NoError(t, err)
		assert.Equal(t, config.DefaultScoring().StrategyThreshold, cfg.StrategyThreshold)
		assert.Len(t, cfg.Profiles, 5)
	})

	t.Run("invalid profile is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scoring.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  lopsided:
    dimensions: {salesVolume: 70}
`), 0o644))

		_, err := LoadScoring(path, testLogger())
		assert.ErrorIs(t, err, config.ErrInvalidProfile)
	})
}

func TestBrowserOptions(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Browser.Headless = false
	cfg.Browser.Locale = "en-GB"
	cfg.Scraper.UserAgents = []string{"scout-test-agent"}
	cfg.Scraper.SessionCookie = "fd_tk=secret"

	a := &App{Config: cfg, logger: testLogger()}
	opts := a.browserOptions()

	assert.False(t, opts.Headless)
	assert.Equal(t, "en-GB", opts.Locale)
	assert.Equal(t, "scout-test-agent", opts.UserAgent)
	require.Len(t, opts.Cookies, 1)
	assert.Equal(t, "fd_tk", opts.Cookies[0].Name)
	assert.Equal(t, cfg.Scraper.BaseURL, *opts.Cookies[0].URL)

	cfg.Scraper.SessionCookie = ""
	assert.Empty(t, a.browserOptions().Cookies)
}

func TestSyncer(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	a := &App{Config: cfg, logger: testLogger()}
	cfg.Notion.Token = ""
	assert.Equal(t, "multi", a.Syncer().Name())

	cfg.Notion.Token = "secret"
	cfg.Notion.DatabaseID = "db"
	assert.Len(t, a.Syncer(), 2)
}
