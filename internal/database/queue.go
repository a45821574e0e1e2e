package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/queue"
)

// queueBuildLockKey serializes queue rebuilds across processes.
const queueBuildLockKey int64 = 0x5c0a7_0001

const queueColumns = `id, target_type, target_id, priority, status, retry_count, last_scraped_at, created_at`

// QueueRepository is the Postgres queue.Store.
type QueueRepository struct {
	db *DB
}

func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db}
}

var _ queue.Store = (*QueueRepository)(nil)

func (r *QueueRepository) NeverDetailed(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.product_id
		FROM products p
		LEFT JOIN product_details d ON d.product_id = p.product_id
		WHERE d.product_id IS NULL
		ORDER BY p.seq`

	return r.productIDs(ctx, query)
}

func (r *QueueRepository) StaleReappeared(ctx context.Context, staleBefore, seenSince time.Time) ([]string, error) {
	query := `
		SELECT p.product_id
		FROM products p
		JOIN product_details d ON d.product_id = p.product_id
		WHERE d.fetched_at < $1
			AND EXISTS (
				SELECT 1 FROM sales_snapshots s
				WHERE s.product_id = p.product_id AND s.scraped_at >= $2
			)
		ORDER BY p.seq`

	return r.productIDs(ctx, query, staleBefore, seenSince)
}

func (r *QueueRepository) Tracked(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.product_id
		FROM products p
		JOIN product_tags t ON t.product_id = p.product_id
		WHERE t.tag_type = $1 AND t.tag_name = $2
		ORDER BY p.seq`

	return r.productIDs(ctx, query, string(models.TagManual), models.TrackTag)
}

func (r *QueueRepository) productIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan product ids: %w", err)
	}
	return ids, nil
}

// ReplacePending swaps the pending set inside one transaction holding an
// advisory lock, so no reader sees the queue emptied but not refilled.
func (r *QueueRepository) ReplacePending(ctx context.Context, targets []queue.Target) (int, error) {
	var inserted int64

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", queueBuildLockKey); err != nil {
			return fmt.Errorf("failed to lock scrape queue: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM scrape_queue WHERE status = $1", string(queue.StatusPending)); err != nil {
			return fmt.Errorf("failed to delete pending entries: %w", err)
		}

		if len(targets) == 0 {
			return nil
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"scrape_queue"},
			[]string{"target_type", "target_id", "priority", "status"},
			pgx.CopyFromSlice(len(targets), func(i int) ([]any, error) {
				t := targets[i]
				return []any{t.TargetType, t.TargetID, t.Priority, string(queue.StatusPending)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert queue entries: %w", err)
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	return int(inserted), nil
}

func (r *QueueRepository) MarkDone(ctx context.Context, id int64, at time.Time) (*queue.Entry, error) {
	query := `
		UPDATE scrape_queue
		SET status = $2, last_scraped_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + queueColumns

	entry, err := scanEntry(r.db.pool.QueryRow(ctx, query,
		id, string(queue.StatusDone), at, string(queue.StatusPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missingOrTerminal(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark entry done: %w", err)
	}
	return entry, nil
}

// RecordFailure increments and decides the status in a single UPDATE, so
// concurrent failures on one entry are serialized by the row lock.
func (r *QueueRepository) RecordFailure(ctx context.Context, id int64, maxRetries int) (*queue.Entry, error) {
	query := `
		UPDATE scrape_queue
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE status END
		WHERE id = $1 AND status = $4
		RETURNING ` + queueColumns

	entry, err := scanEntry(r.db.pool.QueryRow(ctx, query,
		id, maxRetries, string(queue.StatusFailed), string(queue.StatusPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missingOrTerminal(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	return entry, nil
}

func (r *QueueRepository) missingOrTerminal(ctx context.Context, id int64) error {
	var exists bool
	err := r.db.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM scrape_queue WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up queue entry: %w", err)
	}
	if exists {
		return queue.ErrTerminal
	}
	return queue.ErrNotFound
}

func (r *QueueRepository) Pending(ctx context.Context, limit int) ([]queue.Entry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	query := `
		SELECT ` + queueColumns + `
		FROM scrape_queue
		WHERE status = $1
		ORDER BY priority DESC, id ASC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, string(queue.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending entries: %w", err)
	}
	defer rows.Close()

	var entries []queue.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// StatusCounts returns the number of entries per status.
func (r *QueueRepository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.pool.Query(ctx, "SELECT status, COUNT(*) FROM scrape_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanEntry(row pgx.Row) (*queue.Entry, error) {
	var (
		e      queue.Entry
		status string
	)
	err := row.Scan(&e.ID, &e.TargetType, &e.TargetID, &e.Priority, &status,
		&e.RetryCount, &e.LastScrapedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = queue.Status(status)
	return &e, nil
}
