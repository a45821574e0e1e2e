package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/tiktok-product-scout/internal/app"
	"github.com/maltedev/tiktok-product-scout/internal/config"
	"github.com/maltedev/tiktok-product-scout/internal/pipeline"
	"github.com/maltedev/tiktok-product-scout/pkg/logger"
)

func main() {
	var (
		mode     = flag.String("mode", "run", "Mode: run, queue, worker or detail")
		region   = flag.String("region", "", "Region to scrape (default PIPELINE_REGION)")
		category = flag.String("category", "", "Category filter (default PIPELINE_CATEGORY)")
		sources  = flag.String("sources", "", "Comma separated ranking lists (default PIPELINE_SOURCES)")
		pages    = flag.Int("pages", 0, "Pages per ranking list (default PIPELINE_PAGES)")
		dryRun   = flag.Bool("dry-run", false, "Score without persisting or syncing")
		budget   = flag.Int("budget", -1, "Queue budget for queue mode (default QUEUE_BUDGET)")
		batches  = flag.Int("batches", 1, "Worker batches to process (0 = until the queue is empty)")
		product  = flag.String("product", "", "Product ID for detail mode")
		save     = flag.Bool("save", false, "Store the scraped detail in detail mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting product scout", "mode", *mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	switch *mode {
	case "run":
		opts := pipeline.RunOptions{
			Region:   firstNonEmpty(*region, cfg.Pipeline.Region),
			Category: firstNonEmpty(*category, cfg.Pipeline.Category),
			Sources:  cfg.Pipeline.Sources,
			Pages:    cfg.Pipeline.Pages,
			DryRun:   *dryRun,
		}
		if *sources != "" {
			opts.Sources = splitList(*sources)
		}
		if *pages > 0 {
			opts.Pages = *pages
		}
		err = runPipeline(ctx, a, opts)

	case "queue":
		b := cfg.Queue.Budget
		if *budget >= 0 {
			b = *budget
		}
		err = buildQueue(ctx, a, b, logger)

	case "worker":
		err = drainQueue(ctx, a, *batches, logger)

	case "detail":
		if *product == "" {
			fmt.Println("Please provide a product ID with -product for detail mode")
			flag.Usage()
			os.Exit(1)
		}
		err = scrapeDetail(ctx, a, *product, *save)

	default:
		fmt.Printf("Unknown mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", "mode", *mode, "error", err)
		a.Close()
		os.Exit(1)
	}
}

func runPipeline(ctx context.Context, a *app.App, opts pipeline.RunOptions) error {
	s, err := a.Scraper()
	if err != nil {
		return err
	}
	o, err := a.Orchestrator(s)
	if err != nil {
		return err
	}

	report, err := o.Run(ctx, opts)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return fmt.Errorf("failed to write report: %w", encErr)
		}
	}
	return err
}

func buildQueue(ctx context.Context, a *app.App, budget int, logger *slog.Logger) error {
	enqueued, err := a.Scheduler.BuildQueue(ctx, budget, a.FreshnessPolicy())
	if err != nil {
		return err
	}
	logger.Info("queue rebuilt", "budget", budget, "enqueued", enqueued)
	return nil
}

func drainQueue(ctx context.Context, a *app.App, batches int, logger *slog.Logger) error {
	s, err := a.Scraper()
	if err != nil {
		return err
	}
	w := a.Worker(s)

	for i := 0; batches == 0 || i < batches; i++ {
		res, err := w.ProcessBatch(ctx)
		if err != nil {
			return err
		}
		if res.Blocked {
			logger.Warn("stopping: analytics site is blocking requests")
			break
		}
		if res.Done+res.Failed+res.Skipped == 0 {
			break
		}
	}

	logger.Info("worker finished", "stats", w.Stats())
	return nil
}

func scrapeDetail(ctx context.Context, a *app.App, productID string, save bool) error {
	s, err := a.Scraper()
	if err != nil {
		return err
	}

	detail, err := s.Detail(ctx, productID)
	if err != nil {
		return err
	}
	if save {
		if err := a.Products.SaveDetail(ctx, detail); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(detail)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
