// Package queue schedules expensive detail scrapes under a per-run budget.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("queue entry not found")
	ErrTerminal       = errors.New("queue entry is already done or failed")
	ErrInvalidOutcome = errors.New("invalid consume outcome")
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Outcome is what the scrape worker reports back for an entry.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
)

// ParseOutcome validates a caller-supplied outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeDone, OutcomeFailed:
		return Outcome(s), nil
	}
	return "", ErrInvalidOutcome
}

// Priority tiers. Higher always outranks lower.
const (
	TierTracked         = 1
	TierStaleReappeared = 2
	TierNeverDetailed   = 3
)

// MaxRetries is the failure count at which an entry becomes failed.
const MaxRetries = 3

// TargetProduct is the only target type the detail worker understands.
const TargetProduct = "product"

// Entry is one row of the scrape queue.
type Entry struct {
	ID            int64      `json:"id"`
	TargetType    string     `json:"target_type"`
	TargetID      string     `json:"target_id"`
	Priority      int        `json:"priority"`
	Status        Status     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Target is an entry about to be inserted.
type Target struct {
	TargetType string
	TargetID   string
	Priority   int
}

// FreshnessPolicy controls when a detail record counts as stale.
type FreshnessPolicy struct {
	DetailRefreshDays int
}

// Store is the persisted product and queue state the scheduler works on.
// Product ID lists are returned in discovery order.
type Store interface {
	// NeverDetailed lists products without any detail record.
	NeverDetailed(ctx context.Context) ([]string, error)
	// StaleReappeared lists products whose detail was fetched before
	// staleBefore and that appear in a snapshot taken at or after seenSince.
	StaleReappeared(ctx context.Context, staleBefore, seenSince time.Time) ([]string, error)
	// Tracked lists products carrying the manual track tag.
	Tracked(ctx context.Context) ([]string, error)

	// ReplacePending deletes every pending entry and inserts targets in order
	// as one unit. Done and failed entries are left alone.
	ReplacePending(ctx context.Context, targets []Target) (int, error)
	// MarkDone moves a pending entry to done.
	MarkDone(ctx context.Context, id int64, at time.Time) (*Entry, error)
	// RecordFailure atomically increments retry_count of a pending entry and
	// sets it failed once the count reaches maxRetries.
	RecordFailure(ctx context.Context, id int64, maxRetries int) (*Entry, error)
	// Pending lists pending entries by priority descending, then insertion.
	Pending(ctx context.Context, limit int) ([]Entry, error)
}
