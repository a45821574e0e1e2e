package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Scheduler builds and drains the scrape queue.
type Scheduler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// one build at a time per process; the store serializes across processes
	buildMu sync.Mutex
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store Store, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		logger: logger.With("component", "queue_scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildQueue discards all pending entries and enqueues at most budget
// targets, highest tier first. It returns the number of entries inserted.
func (s *Scheduler) BuildQueue(ctx context.Context, budget int, policy FreshnessPolicy) (int, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	staleBefore := now.AddDate(0, 0, -policy.DetailRefreshDays)

	never, err := s.store.NeverDetailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list never detailed products: %w", err)
	}
	stale, err := s.store.StaleReappeared(ctx, staleBefore, startOfDay)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale products: %w", err)
	}
	tracked, err := s.store.Tracked(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tracked products: %w", err)
	}

	targets := selectTargets(budget, map[int][]string{
		TierNeverDetailed:   never,
		TierStaleReappeared: stale,
		TierTracked:         tracked,
	})

	n, err := s.store.ReplacePending(ctx, targets)
	if err != nil {
		return 0, fmt.Errorf("failed to replace pending entries: %w", err)
	}

	s.logger.Info("scrape queue rebuilt",
		"enqueued", n,
		"budget", budget,
		"never_detailed", len(never),
		"stale_reappeared", len(stale),
		"tracked", len(tracked))

	return n, nil
}

// selectTargets dedups product IDs across tiers, keeping the highest tier,
// orders them by tier descending with discovery order inside a tier, and
// cuts the result at budget.
func selectTargets(budget int, tiers map[int][]string) []Target {
	if budget <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var targets []Target
	for _, tier := range []int{TierNeverDetailed, TierStaleReappeared, TierTracked} {
		for _, id := range tiers[tier] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, Target{TargetType: TargetProduct, TargetID: id, Priority: tier})
		}
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority > targets[j].Priority
	})

	if len(targets) > budget {
		targets = targets[:budget]
	}
	return targets
}

// Consume applies a worker outcome to a pending entry. A missing entry is
// logged and ignored: the returned entry and error are both nil.
func (s *Scheduler) Consume(ctx context.Context, id int64, outcome Outcome) (*Entry, error) {
	var (
		entry *Entry
		err   error
	)
	switch outcome {
	case OutcomeDone:
		entry, err = s.store.MarkDone(ctx, id, s.now().UTC())
	case OutcomeFailed:
		entry, err = s.store.RecordFailure(ctx, id, MaxRetries)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("queue entry not found", "queue_id", id, "outcome", outcome)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue entry %d: %w", id, err)
	}

	if entry.Status == StatusFailed {
		s.logger.Warn("queue entry exhausted retries",
			"queue_id", id,
			"target_id", entry.TargetID,
			"retry_count", entry.RetryCount)
	}
	return entry, nil
}

// Pending returns up to limit pending entries in worker order.
func (s *Scheduler) Pending(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := s.store.Pending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	return entries, nil
}
