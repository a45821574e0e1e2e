// Package pipeline runs discovery end to end: scrape, persist, filter,
// enrich, score, tag, persist candidates and sync.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/tiktok-product-scout/internal/config"
	"github.com/maltedev/tiktok-product-scout/internal/enrich"
	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/scoring"
	"github.com/maltedev/tiktok-product-scout/internal/scraper"
	"github.com/maltedev/tiktok-product-scout/internal/tagger"
)

// ErrAllSourcesFailed aborts a run when no ranking source could be scraped.
var ErrAllSourcesFailed = errors.New("all sources failed")

type Scraper interface {
	SalesList(ctx context.Context, q scraper.Query) ([]models.SalesRecord, error)
}

// Store is the persistence the pipeline writes to.
type Store interface {
	SaveSnapshots(ctx context.Context, records []models.SalesRecord) error
	Details(ctx context.Context, productIDs []string) (map[string]*models.ProductDetail, error)
	SaveCandidate(ctx context.Context, c *models.Candidate) error
}

type ShopeeSource interface {
	Stats(ctx context.Context, keyword string) (*models.ShopeeStats, error)
}

type TrendSource interface {
	Direction(ctx context.Context, keyword string) (models.TrendDirection, error)
}

type SourcingSource interface {
	Quote(ctx context.Context, keyword string) (*models.SourcingQuote, error)
}

// RunOptions select what one run scrapes.
type RunOptions struct {
	Region   string
	Category string
	Sources  []string
	Pages    int
	// DryRun scores without persisting or syncing anything.
	DryRun bool
}

// Report summarizes a run. Counts are products leaving each stage.
type Report struct {
	RunID        string             `json:"run_id"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
	Scraped      int                `json:"scraped"`
	PreFiltered  int                `json:"pre_filtered"`
	Enriched     int                `json:"enriched"`
	PostFiltered int                `json:"post_filtered"`
	Scored       int                `json:"scored"`
	Persisted    int                `json:"persisted"`
	Synced       int                `json:"synced"`
	Rejected     map[string]int     `json:"rejected"`
	Failures     map[string]int     `json:"failures"`
	Candidates   []models.Candidate `json:"candidates,omitempty"`
}

func (r *Report) fail(stage string) {
	r.Failures[stage]++
}

// Orchestrator wires the stages of a run together.
type Orchestrator struct {
	scraper     Scraper
	store       Store
	shopee      ShopeeSource
	trends      TrendSource
	sourcing    SourcingSource
	syncer      Syncer
	scoring     *config.ScoringConfig
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Orchestrator)

// WithEnrichers sets the enrichment sources. Any of them may be nil.
func WithEnrichers(shopee ShopeeSource, trends TrendSource, sourcing SourcingSource) Option {
	return func(o *Orchestrator) {
		o.shopee = shopee
		o.trends = trends
		o.sourcing = sourcing
	}
}

func WithSyncer(s Syncer) Option {
	return func(o *Orchestrator) { o.syncer = s }
}

// WithConcurrency bounds how many products are enriched at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(s Scraper, store Store, scoringCfg *config.ScoringConfig, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		scraper:     s,
		store:       store,
		scoring:     scoringCfg,
		concurrency: 4,
		logger:      logger.With("component", "pipeline"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one discovery run. Only a failure to scrape any source or
// to persist the snapshots aborts it; every later failure is logged,
// counted in the report, and the run goes on.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: o.now().UTC(),
		Rejected:  make(map[string]int),
		Failures:  make(map[string]int),
	}
	logger := o.logger.With("run_id", report.RunID)
	logger.Info("run started",
		"region", opts.Region,
		"category", opts.Category,
		"sources", opts.Sources,
		"dry_run", opts.DryRun)

	// 1. scrape
	records, err := o.scrape(ctx, opts, report, logger)
	if err != nil {
		return report, err
	}
	products := mergeRecords(records)
	report.Scraped = len(products)

	// 2. persist snapshots
	if !opts.DryRun {
		if err := o.store.SaveSnapshots(ctx, records); err != nil {
			return report, fmt.Errorf("failed to persist snapshots: %w", err)
		}
	}

	// 3. pre-filter
	products = o.filter(products, report, func(p *product) (bool, string) {
		return passesPreFilter(p, o.scoring.Filters.Pre)
	})
	report.PreFiltered = len(products)

	// 4. enrich
	o.loadDetails(ctx, products, report, logger)
	if err := o.enrich(ctx, products, report, logger); err != nil {
		return report, err
	}
	now := o.now()
	for _, p := range products {
		p.buildInput(now)
	}

	// 5. post-filter
	products = o.filter(products, report, func(p *product) (bool, string) {
		return passesPostFilter(p, o.scoring.Filters.Post)
	})
	report.PostFiltered = len(products)

	// 6. score and tag
	candidates := o.score(products, report, logger)
	report.Scored = len(candidates)

	if opts.DryRun {
		report.Candidates = candidates
		report.Duration = o.now().Sub(report.StartedAt)
		logger.Info("dry run finished", "scored", report.Scored)
		return report, nil
	}

	// 7. persist candidates, 8. sync
	for i := range candidates {
		c := &candidates[i]
		if err := o.store.SaveCandidate(ctx, c); err != nil {
			report.fail("persist")
			logger.Error("failed to persist candidate", "product_id", c.ProductID, "error", err)
			continue
		}
		report.Persisted++
		report.Candidates = append(report.Candidates, *c)

		if o.syncer == nil {
			continue
		}
		if err := o.syncer.Sync(ctx, c); err != nil {
			report.fail("sync")
			logger.Warn("failed to sync candidate", "product_id", c.ProductID, "error", err)
			continue
		}
		report.Synced++
	}

	report.Duration = o.now().Sub(report.StartedAt)
	logger.Info("run finished",
		"scraped", report.Scraped,
		"pre_filtered", report.PreFiltered,
		"enriched", report.Enriched,
		"post_filtered", report.PostFiltered,
		"scored", report.Scored,
		"persisted", report.Persisted,
		"synced", report.Synced,
		"failures", report.Failures,
		"duration", report.Duration)

	return report, nil
}

func (o *Orchestrator) scrape(ctx context.Context, opts RunOptions, report *Report, logger *slog.Logger) ([]models.SalesRecord, error) {
	var (
		records []models.SalesRecord
		failed  int
	)

	for _, source := range opts.Sources {
		rows, err := o.scraper.SalesList(ctx, scraper.Query{
			Region:   opts.Region,
			Category: opts.Category,
			Source:   source,
			Pages:    opts.Pages,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			report.fail("scrape")
			logger.Error("failed to scrape source", "source", source, "error", err)
			continue
		}
		logger.Info("source scraped", "source", source, "records", len(rows))
		records = append(records, rows...)
	}

	if len(opts.Sources) == 0 || failed == len(opts.Sources) {
		return nil, ErrAllSourcesFailed
	}
	return records, nil
}

func (o *Orchestrator) filter(products []*product, report *Report, keep func(*product) (bool, string)) []*product {
	kept := products[:0]
	for _, p := range products {
		if ok, reason := keep(p); ok {
			kept = append(kept, p)
		} else {
			report.Rejected[reason]++
		}
	}
	return kept
}

// loadDetails merges stored product details into the batch. A lookup
// failure leaves the details absent.
func (o *Orchestrator) loadDetails(ctx context.Context, products []*product, report *Report, logger *slog.Logger) {
	if o.store == nil || len(products) == 0 {
		return
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.record.ProductID
	}

	details, err := o.store.Details(ctx, ids)
	if err != nil {
		report.fail("details")
		logger.Warn("failed to load product details", "error", err)
		return
	}
	for _, p := range products {
		p.detail = details[p.record.ProductID]
	}
}

// enrich queries every configured source for every product, at most
// o.concurrency products at a time. A source failure leaves its fields
// absent.
func (o *Orchestrator) enrich(ctx context.Context, products []*product, report *Report, logger *slog.Logger) error {
	if o.shopee == nil && o.trends == nil && o.sourcing == nil {
		return nil
	}

	var (
		mu       sync.Mutex
		enriched int
	)
	fail := func(source string, p *product, err error) {
		if errors.Is(err, enrich.ErrNoResults) {
			logger.Debug("no enrichment data", "source", source, "product_id", p.record.ProductID)
			return
		}
		mu.Lock()
		report.fail("enrich_" + source)
		mu.Unlock()
		logger.Warn("enrichment failed", "source", source, "product_id", p.record.ProductID, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, p := range products {
		p := p
		keyword := Keyword(p.record.Title)
		if keyword == "" {
			continue
		}

		g.Go(func() error {
			var sg errgroup.Group
			if o.shopee != nil {
				sg.Go(func() error {
					stats, err := o.shopee.Stats(gctx, keyword)
					if err != nil {
						fail("shopee", p, err)
						return nil
					}
					p.shopee = stats
					return nil
				})
			}
			if o.trends != nil {
				sg.Go(func() error {
					dir, err := o.trends.Direction(gctx, keyword)
					if err != nil {
						fail("trends", p, err)
						return nil
					}
					p.trend = &dir
					return nil
				})
			}
			if o.sourcing != nil {
				sg.Go(func() error {
					quote, err := o.sourcing.Quote(gctx, keyword)
					if err != nil {
						fail("sourcing", p, err)
						return nil
					}
					p.quote = quote
					return nil
				})
			}
			_ = sg.Wait()

			if p.shopee != nil || p.trend != nil || p.quote != nil {
				mu.Lock()
				enriched++
				mu.Unlock()
			}
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("enrichment interrupted: %w", err)
	}
	report.Enriched = enriched
	return nil
}

// score computes scores and tags for the batch. maxSalesVolume is the
// largest sales volume among the products being scored.
func (o *Orchestrator) score(products []*product, report *Report, logger *slog.Logger) []models.Candidate {
	var maxSales float64
	for _, p := range products {
		if v := p.input.SalesVolume; v != nil && *v > maxSales {
			maxSales = *v
		}
	}

	rules := o.scoring.Rules()
	reported := make(map[string]bool)
	candidates := make([]models.Candidate, 0, len(products))

	for _, p := range products {
		p.input.MaxSalesVolume = maxSales
		res := scoring.ComputeScores(p.input, o.scoring.Profiles)

		tags := tagger.DiscoveryTags(p.sources)

		signals, diags := tagger.EvaluateSignals(tagger.SignalRecord(p.input, tagger.Record{
			"category": p.record.Category,
			"region":   p.record.Region,
		}), rules)
		for _, d := range diags {
			if !reported[d.Rule] {
				reported[d.Rule] = true
				logger.Warn("signal rule skipped", "rule", d.Rule, "reason", d.Reason)
			}
		}
		tags = append(tags, signals...)
		tags = append(tags, tagger.StrategyTags(res.Present(), o.scoring.StrategyThreshold)...)

		candidates = append(candidates, models.Candidate{
			ProductID: p.record.ProductID,
			RunID:     report.RunID,
			Title:     p.record.Title,
			Region:    p.record.Region,
			Category:  p.record.Category,
			Input:     p.input,
			Scores:    res.Scores,
			Details:   res.Details,
			Tags:      tags,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		_, si, oki := candidates[i].BestScore()
		_, sj, okj := candidates[j].BestScore()
		if oki != okj {
			return oki
		}
		return si > sj
	})
	return candidates
}
