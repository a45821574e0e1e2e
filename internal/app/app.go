// Package app wires configuration, storage, scraping, enrichment and sync
// into the services the commands run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/maltedev/tiktok-product-scout/internal/browser"
	"github.com/maltedev/tiktok-product-scout/internal/config"
	"github.com/maltedev/tiktok-product-scout/internal/database"
	"github.com/maltedev/tiktok-product-scout/internal/enrich"
	"github.com/maltedev/tiktok-product-scout/internal/events"
	"github.com/maltedev/tiktok-product-scout/internal/jobs"
	"github.com/maltedev/tiktok-product-scout/internal/notion"
	"github.com/maltedev/tiktok-product-scout/internal/parser"
	"github.com/maltedev/tiktok-product-scout/internal/pipeline"
	"github.com/maltedev/tiktok-product-scout/internal/queue"
	"github.com/maltedev/tiktok-product-scout/internal/ratelimit"
	"github.com/maltedev/tiktok-product-scout/internal/scraper"
	"github.com/maltedev/tiktok-product-scout/internal/storage"
)

// App holds the long-lived dependencies shared by every mode.
type App struct {
	Config    *config.Config
	Scoring   *config.ScoringConfig
	DB        *database.DB
	Products  *database.ProductRepository
	Outbox    *database.OutboxRepository
	Scheduler *queue.Scheduler

	browser *browser.Browser
	logger  *slog.Logger
}

// New connects to Postgres, applies the schema and loads the scoring file.
// A missing scoring file falls back to the built-in defaults.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	scoring, err := LoadScoring(cfg.Pipeline.ScoringFile, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL(),
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	queueRepo := database.NewQueueRepository(db)

	return &App{
		Config:    cfg,
		Scoring:   scoring,
		DB:        db,
		Products:  database.NewProductRepository(db),
		Outbox:    database.NewOutboxRepository(db),
		Scheduler: queue.NewScheduler(queueRepo, logger),
		logger:    logger,
	}, nil
}

// LoadScoring reads and validates the scoring file.
func LoadScoring(path string, logger *slog.Logger) (*config.ScoringConfig, error) {
	scoring, err := config.LoadScoring(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("scoring config not found, using defaults", "path", path)
		scoring = config.DefaultScoring()
	} else if err != nil {
		return nil, err
	}

	if err := scoring.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	return scoring, nil
}

// Scraper starts the browser on first use and returns the analytics
// scraper on top of it.
func (a *App) Scraper() (*scraper.AnalyticsScraper, error) {
	if a.browser == nil {
		b, err := browser.New(a.browserOptions(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		a.browser = b
	}

	limiter := ratelimit.NewAdaptiveLimiter(a.Config.Scraper.RateLimitMin, a.Config.Scraper.RateLimitMax)
	return scraper.NewAnalyticsScraper(a.browser, parser.NewAnalyticsParser(), limiter, scraper.Options{
		BaseURL:    a.Config.Scraper.BaseURL,
		MaxRetries: a.Config.Scraper.MaxRetries,
		RetryDelay: a.Config.Scraper.RetryDelay,
	}, a.logger), nil
}

func (a *App) browserOptions() *browser.Options {
	cfg := a.Config
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	if len(cfg.Scraper.UserAgents) > 0 {
		opts.UserAgent = cfg.Scraper.UserAgents[0]
	}

	if cfg.Scraper.SessionCookie != "" {
		cookie, err := browser.ParseCookie(cfg.Scraper.SessionCookie, cfg.Scraper.BaseURL)
		if err != nil {
			a.logger.Warn("ignoring session cookie", "error", err)
		} else {
			opts.Cookies = append(opts.Cookies, cookie)
		}
	}
	return opts
}

// Orchestrator builds the discovery pipeline. Enrichment sources without
// credentials are left out, and Notion sync is added when configured.
func (a *App) Orchestrator(s pipeline.Scraper) (*pipeline.Orchestrator, error) {
	cfg := a.Config.Enrich
	opts := enrich.Options{
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RequestsPerMin: cfg.RequestsPerMin,
	}

	var shopee pipeline.ShopeeSource = enrich.NewShopeeClient(cfg.ShopeeBaseURL, opts, a.logger)

	var trends pipeline.TrendSource
	if cfg.SerpAPIKey != "" {
		cache, err := storage.NewTrendCache(cfg.TrendCacheFile, cfg.TrendCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open trend cache: %w", err)
		}
		if pruned, err := cache.Prune(); err != nil {
			a.logger.Warn("failed to prune trend cache", "error", err)
		} else if pruned > 0 {
			a.logger.Debug("pruned trend cache", "entries", pruned)
		}
		trends = enrich.NewTrendsClient(cfg.SerpAPIBaseURL, cfg.SerpAPIKey, cfg.TrendsGeo, cache, opts, a.logger)
	} else {
		a.logger.Info("SERPAPI_KEY not set, trend enrichment disabled")
	}

	var sourcing pipeline.SourcingSource
	if cfg.CJAccessToken != "" {
		sourcing = enrich.NewCJClient(cfg.CJBaseURL, cfg.CJAccessToken, cfg.CJShippingUSD, opts, a.logger)
	} else {
		a.logger.Info("CJ_ACCESS_TOKEN not set, sourcing enrichment disabled")
	}

	return pipeline.NewOrchestrator(s, a.Products, a.Scoring, a.logger,
		pipeline.WithEnrichers(shopee, trends, sourcing),
		pipeline.WithSyncer(a.Syncer()),
		pipeline.WithConcurrency(cfg.Concurrency),
	), nil
}

// Syncer returns the outbox publisher, plus Notion when it is configured.
func (a *App) Syncer() pipeline.Syncer {
	syncers := pipeline.MultiSyncer{events.NewPublisher(a.Outbox, a.Config.Redis.Stream, a.logger)}
	if a.Config.Notion.Enabled() {
		syncers = append(syncers, notion.NewClient(notion.Config{
			Token:      a.Config.Notion.Token,
			DatabaseID: a.Config.Notion.DatabaseID,
			BaseURL:    a.Config.Notion.BaseURL,
		}, a.logger))
	}
	return syncers
}

// Worker builds the detail worker on top of s.
func (a *App) Worker(s jobs.DetailScraper) *jobs.Worker {
	return jobs.NewWorker(a.Scheduler, s, a.Products, jobs.Config{
		BatchSize:    a.Config.Queue.BatchSize,
		PollInterval: a.Config.Queue.PollInterval,
	}, a.logger)
}

// FreshnessPolicy is the configured queue policy.
func (a *App) FreshnessPolicy() queue.FreshnessPolicy {
	return queue.FreshnessPolicy{DetailRefreshDays: a.Config.Queue.DetailRefreshDays}
}

// Close stops the browser and the connection pool.
func (a *App) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("failed to close browser", "error", err)
		}
	}
	a.DB.Close()
}
