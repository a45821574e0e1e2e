package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/tiktok-product-scout/internal/database"
	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeCandidateScored is published for every persisted candidate
	EventTypeCandidateScored EventType = "CANDIDATE_SCORED"
)

// CandidateScoredPayload represents the payload for CANDIDATE_SCORED event
type CandidateScoredPayload struct {
	EventID     string              `json:"event_id"`
	EventType   string              `json:"event_type"`
	Timestamp   time.Time           `json:"timestamp"`
	CandidateID int64               `json:"candidate_id"`
	RunID       string              `json:"run_id"`
	ProductID   string              `json:"product_id"`
	Title       string              `json:"title"`
	Region      string              `json:"region"`
	Category    string              `json:"category,omitempty"`
	Scores      map[string]*float64 `json:"scores"`
	BestProfile string              `json:"best_profile,omitempty"`
	BestScore   *float64            `json:"best_score,omitempty"`
	Tags        []models.Tag        `json:"tags"`
	Input       models.ScoringInput `json:"input"`
}

// OutboxWriter stores an event for the relay.
type OutboxWriter interface {
	Insert(ctx context.Context, event *database.OutboxEvent) error
}

// Publisher handles event publishing using transactional outbox pattern
type Publisher struct {
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

// NewPublisher creates a new event publisher. An empty stream falls back to
// database.DefaultCandidateStream.
func NewPublisher(outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultCandidateStream
	}
	return &Publisher{
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// Name identifies the publisher in sync logs.
func (p *Publisher) Name() string {
	return "outbox"
}

// NewCandidateScoredPayload builds the event body for a persisted candidate.
func NewCandidateScoredPayload(c *models.Candidate) *CandidateScoredPayload {
	payload := &CandidateScoredPayload{
		EventID:     uuid.New().String(),
		EventType:   string(EventTypeCandidateScored),
		Timestamp:   time.Now().UTC(),
		CandidateID: c.ID,
		RunID:       c.RunID,
		ProductID:   c.ProductID,
		Title:       c.Title,
		Region:      c.Region,
		Category:    c.Category,
		Scores:      c.Scores,
		Tags:        c.Tags,
		Input:       c.Input,
	}
	if payload.Tags == nil {
		payload.Tags = []models.Tag{}
	}
	if name, score, ok := c.BestScore(); ok {
		payload.BestProfile = name
		payload.BestScore = &score
	}
	return payload
}

// Sync publishes a CANDIDATE_SCORED event for the candidate to the outbox.
func (p *Publisher) Sync(ctx context.Context, c *models.Candidate) error {
	if c == nil || c.ProductID == "" {
		return fmt.Errorf("candidate without product id")
	}

	payload := NewCandidateScoredPayload(c)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: "candidate",
		AggregateID:   c.ProductID,
		EventType:     string(EventTypeCandidateScored),
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.outbox.Insert(ctx, outboxEvent); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"product_id", c.ProductID,
		"candidate_id", c.ID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
