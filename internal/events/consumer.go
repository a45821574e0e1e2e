package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/tiktok-product-scout/internal/database"
)

// StreamReader is the consumer-group part of the Redis client.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// CandidateHandler reacts to one CANDIDATE_SCORED event.
type CandidateHandler func(ctx context.Context, payload *CandidateScoredPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// Consumer reads relayed candidate events from a Redis stream through a
// consumer group. Messages are acknowledged once handled; a failed handler
// leaves its message pending in the group.
type Consumer struct {
	redis   StreamReader
	cfg     ConsumerConfig
	handler CandidateHandler
	logger  *slog.Logger
}

func NewConsumer(r StreamReader, cfg ConsumerConfig, handler CandidateHandler, logger *slog.Logger) *Consumer {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{
		redis:   r,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "stream_consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "consumer", c.cfg.Consumer)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			c.handle(ctx, stream.Messages)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, messages []redis.XMessage) {
	for _, msg := range messages {
		payload, err := DecodeCandidateScored(msg)
		switch {
		case err != nil:
			c.logger.Error("dropping malformed message", "message_id", msg.ID, "error", err)
		case payload == nil:
			c.logger.Debug("skipping message", "message_id", msg.ID, "event_type", msg.Values["event_type"])
		default:
			if err := c.handler(ctx, payload); err != nil {
				c.logger.Error("failed to handle event",
					"message_id", msg.ID,
					"product_id", payload.ProductID,
					"error", err)
				continue
			}
		}

		if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
			c.logger.Error("failed to acknowledge message", "message_id", msg.ID, "error", err)
		}
	}
}

// DecodeCandidateScored reads the payload of a relayed stream message. It
// returns nil without error for other event types.
func DecodeCandidateScored(msg redis.XMessage) (*CandidateScoredPayload, error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypeCandidateScored) {
		return nil, nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}

	var envelope database.StreamEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	var payload CandidateScoredPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.ProductID == "" {
		return nil, fmt.Errorf("event without product id")
	}
	return &payload, nil
}

// Tracker pins a product into the detail queue.
type Tracker interface {
	SetTrack(ctx context.Context, productID string, track bool) error
}

// AutoTrack tracks every candidate whose best score reaches minScore.
func AutoTrack(t Tracker, minScore float64, logger *slog.Logger) CandidateHandler {
	logger = logger.With("component", "auto_track")
	return func(ctx context.Context, p *CandidateScoredPayload) error {
		if p.BestScore == nil || *p.BestScore < minScore {
			return nil
		}
		if err := t.SetTrack(ctx, p.ProductID, true); err != nil {
			return fmt.Errorf("failed to track %s: %w", p.ProductID, err)
		}
		logger.Info("candidate tracked",
			"product_id", p.ProductID,
			"best_profile", p.BestProfile,
			"best_score", *p.BestScore)
		return nil
	}
}
