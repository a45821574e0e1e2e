package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox event lifecycle: pending → processed, or failed (retried with
// backoff) until MaxRetryCount moves it to dead_letter.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	MaxRetryCount = 5

	// DefaultCandidateStream receives CANDIDATE_SCORED events.
	DefaultCandidateStream = "stream:product_candidates"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, target_stream,
	status, retry_count, error_message, created_at, processed_at, next_retry_at`

var ErrEventNotFound = errors.New("outbox event not found")

// OutboxEvent is a candidate event written in the same database as the
// candidate and relayed to Redis later.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Insert writes an event in its own transaction.
func (r *OutboxRepository) Insert(ctx context.Context, event *OutboxEvent) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return r.InsertWithTx(ctx, tx, event)
	})
}

// InsertWithTx fills in defaults (id, pending status, candidate stream) and
// stores the event inside tx.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.AggregateType == "" || event.EventType == "" || len(event.Payload) == 0 {
		return fmt.Errorf("outbox event requires aggregate type, event type and payload")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultCandidateStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.TargetStream, event.Status, event.RetryCount, event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns pending and retryable events whose retry time has
// come, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, scanOutboxEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, nil
}

func scanOutboxEvent(row pgx.CollectableRow) (*OutboxEvent, error) {
	e := &OutboxEvent{}
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
		&e.TargetStream, &e.Status, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt,
		&e.ProcessedAt, &e.NextRetryAt)
	return e, err
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.pool.Exec(ctx,
		"UPDATE outbox_event SET status = $1, processed_at = $2 WHERE id = $3",
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// MarkFailed bumps the retry count, schedules the next attempt and moves the
// event to dead letter once MaxRetryCount is reached. The read-modify-write
// happens in one statement.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	query := `
		UPDATE outbox_event
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE $4 END,
			error_message = $5
		WHERE id = $1
		RETURNING retry_count`

	var retryCount int
	err := r.db.pool.QueryRow(ctx, query,
		id, MaxRetryCount, OutboxStatusDeadLetter, OutboxStatusFailed, processErr.Error(),
	).Scan(&retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	_, err = r.db.pool.Exec(ctx,
		"UPDATE outbox_event SET next_retry_at = $2 WHERE id = $1",
		id, calculateNextRetryTime(retryCount))
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	return nil
}

// CountByStatus counts events in any of the given statuses.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)", statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

// calculateNextRetryTime backs off 2^retryCount seconds, capped at five
// minutes.
func calculateNextRetryTime(retryCount int) time.Time {
	backoff := 300 * time.Second
	if retryCount <= 8 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, backoff)
	}
	return time.Now().Add(backoff)
}
