package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of *redis.Client the relay writes with.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the part of *OutboxRepository the relay drains.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// StreamEnvelope is the JSON body carried in the "data" field of every
// stream message. Consumers decode Payload according to Type.
type StreamEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      StreamMetadata  `json:"metadata"`
}

type StreamMetadata struct {
	Source     string `json:"source"`
	OutboxID   string `json:"outbox_id"`
	RetryCount int    `json:"retry_count"`
}

// Relay copies outbox events onto their Redis streams. Delivery is at least
// once: an event published but not marked processed is sent again.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "outbox_relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start drains the outbox immediately and then on every tick until ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, _, err := r.relayBatch(ctx); err != nil {
			r.logger.Error("failed to relay outbox batch", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// relayBatch publishes one batch of due events. A failing event is marked
// for retry and does not stop the batch.
func (r *Relay) relayBatch(ctx context.Context) (published, failed int, err error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := r.relay(ctx, event); err != nil {
			failed++
			r.logger.Error("failed to relay event",
				"event_id", event.ID,
				"event_type", event.EventType,
				"product_id", event.AggregateID,
				"retry_count", event.RetryCount,
				"error", err)
			continue
		}
		published++
	}

	if len(events) > 0 {
		r.logger.Debug("outbox batch relayed", "published", published, "failed", failed)
	}
	return published, failed, nil
}

func (r *Relay) relay(ctx context.Context, event *OutboxEvent) error {
	values, err := streamValues(event)
	if err == nil {
		err = r.redis.XAdd(ctx, &redis.XAddArgs{Stream: event.TargetStream, Values: values}).Err()
		if err != nil {
			err = fmt.Errorf("failed to publish to redis: %w", err)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}

// streamValues lays an outbox event out as stream fields. The flat fields
// let consumers filter without decoding "data".
func streamValues(event *OutboxEvent) (map[string]any, error) {
	envelope := StreamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Metadata: StreamMetadata{
			Source:     applicationName,
			OutboxID:   event.ID.String(),
			RetryCount: event.RetryCount,
		},
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	return map[string]any{
		"data":           string(data),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"original_id":    event.ID.String(),
		"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
	}, nil
}

// GetPendingCount counts events still waiting for delivery, including
// those scheduled for a retry.
func (r *Relay) GetPendingCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
}

// GetDeadLetterCount counts events that exhausted MaxRetryCount.
func (r *Relay) GetDeadLetterCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
}
