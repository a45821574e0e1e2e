// Package jobs runs the background detail worker that drains the scrape
// queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/queue"
	"github.com/maltedev/tiktok-product-scout/internal/scraper"
)

// Queue is the part of the scheduler the worker needs.
type Queue interface {
	Pending(ctx context.Context, limit int) ([]queue.Entry, error)
	Consume(ctx context.Context, id int64, outcome queue.Outcome) (*queue.Entry, error)
}

type DetailScraper interface {
	Detail(ctx context.Context, productID string) (*models.ProductDetail, error)
}

type DetailStore interface {
	SaveDetail(ctx context.Context, d *models.ProductDetail) error
}

// Config controls the worker loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

// BatchResult counts what one ProcessBatch call did.
type BatchResult struct {
	Done    int  `json:"done"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Blocked bool `json:"blocked"`
}

// Worker scrapes product details for pending queue entries and reports
// each outcome back to the queue.
type Worker struct {
	queue   Queue
	scraper DetailScraper
	store   DetailStore
	cfg     Config
	logger  *slog.Logger

	done   atomic.Int64
	failed atomic.Int64
}

func NewWorker(q Queue, s DetailScraper, store DetailStore, cfg Config, logger *slog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}

	return &Worker{
		queue:   q,
		scraper: s,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "detail_worker"),
	}
}

// Start processes a batch immediately and then on every poll tick until
// ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("detail worker started",
		"batch_size", w.cfg.BatchSize,
		"poll_interval", w.cfg.PollInterval)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("failed to process batch", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("detail worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessBatch handles up to BatchSize pending entries in queue order.
// A scrape or save failure consumes the entry as failed. A block from the
// analytics site stops the batch and leaves the rest of it pending.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	entries, err := w.queue.Pending(ctx, w.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to load pending entries: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	w.logger.Debug("processing batch", "entries", len(entries))

	for _, entry := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if entry.TargetType != queue.TargetProduct {
			w.logger.Warn("unknown target type", "queue_id", entry.ID, "target_type", entry.TargetType)
			res.Skipped++
			continue
		}

		scrapeErr := w.processEntry(ctx, entry)
		if errors.Is(scrapeErr, scraper.ErrBlocked) {
			w.logger.Warn("analytics site is blocking, stopping batch",
				"queue_id", entry.ID,
				"error", scrapeErr)
			res.Blocked = true
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		outcome := queue.OutcomeDone
		if scrapeErr != nil {
			outcome = queue.OutcomeFailed
			w.logger.Warn("detail scrape failed",
				"queue_id", entry.ID,
				"product_id", entry.TargetID,
				"retry_count", entry.RetryCount,
				"error", scrapeErr)
		}

		consumed, err := w.queue.Consume(ctx, entry.ID, outcome)
		if err != nil {
			w.logger.Error("failed to consume queue entry",
				"queue_id", entry.ID,
				"outcome", outcome,
				"error", err)
			res.Skipped++
			continue
		}
		if consumed == nil {
			// removed by a rebuild while the detail was scraped
			res.Skipped++
			continue
		}

		if outcome == queue.OutcomeDone {
			res.Done++
			w.done.Add(1)
		} else {
			res.Failed++
			w.failed.Add(1)
		}
	}

	w.logger.Info("batch processed",
		"done", res.Done,
		"failed", res.Failed,
		"skipped", res.Skipped)

	return res, nil
}

func (w *Worker) processEntry(ctx context.Context, entry queue.Entry) error {
	detail, err := w.scraper.Detail(ctx, entry.TargetID)
	if err != nil {
		return err
	}
	if err := w.store.SaveDetail(ctx, detail); err != nil {
		return fmt.Errorf("failed to save detail: %w", err)
	}

	w.logger.Debug("detail saved", "queue_id", entry.ID, "product_id", entry.TargetID)
	return nil
}

// Stats returns the totals since the worker was created.
func (w *Worker) Stats() map[string]int64 {
	return map[string]int64{
		"done":   w.done.Load(),
		"failed": w.failed.Load(),
	}
}
