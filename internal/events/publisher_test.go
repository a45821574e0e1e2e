package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/database"
	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// MockOutbox is a mock for the outbox repository
type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) Insert(ctx context.Context, event *database.OutboxEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func testCandidate() *models.Candidate {
	return &models.Candidate{
		ID:        42,
		RunID:     "run-7",
		ProductID: "1729381",
		Title:     "Cordless Neck Fan",
		Region:    "US",
		Scores: map[string]*float64{
			"trending":   models.Float(71.2),
			"highMargin": nil,
			"blueOcean":  models.Float(58),
		},
		Tags: []models.Tag{{Type: models.TagStrategy, Name: "trending"}},
	}
}

func TestPublisher_Sync(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("successfully publish to outbox", func(t *testing.T) {
		mockOutbox := new(MockOutbox)
		publisher := NewPublisher(mockOutbox, "", logger)

		var captured *database.OutboxEvent
		mockOutbox.On("Insert", ctx, mock.AnythingOfType("*database.OutboxEvent")).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).(*database.OutboxEvent)
			}).
			Return(nil)

		err := publisher.Sync(ctx, testCandidate())
		require.NoError(t, err)
		mockOutbox.AssertExpectations(t)

		require.NotNil(t, captured)
		assert.Equal(t, "candidate", captured.AggregateType)
		assert.Equal(t, "1729381", captured.AggregateID)
		assert.Equal(t, string(EventTypeCandidateScored), captured.EventType)
		assert.Equal(t, database.DefaultCandidateStream, captured.TargetStream)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(captured.Payload, &payload))
		assert.Equal(t, "trending", payload["best_profile"])
		assert.Equal(t, 71.2, payload["best_score"])
		assert.Equal(t, float64(42), payload["candidate_id"])

		scores := payload["scores"].(map[string]interface{})
		assert.Contains(t, scores, "highMargin")
		assert.Nil(t, scores["highMargin"])
	})

	t.Run("custom stream", func(t *testing.T) {
		mockOutbox := new(MockOutbox)
		publisher := NewPublisher(mockOutbox, "stream:custom", logger)

		mockOutbox.On("Insert", ctx, mock.MatchedBy(func(e *database.OutboxEvent) bool {
			return e.TargetStream == "stream:custom"
		})).Return(nil)

		require.NoError(t, publisher.Sync(ctx, testCandidate()))
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox failure is returned", func(t *testing.T) {
		mockOutbox := new(MockOutbox)
		publisher := NewPublisher(mockOutbox, "", logger)

		mockOutbox.On("Insert", ctx, mock.Anything).Return(errors.New("connection refused"))

		err := publisher.Sync(ctx, testCandidate())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("candidate without product id", func(t *testing.T) {
		mockOutbox := new(MockOutbox)
		publisher := NewPublisher(mockOutbox, "", logger)

		err := publisher.Sync(ctx, &models.Candidate{})
		assert.Error(t, err)
		mockOutbox.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})
}

func TestNewCandidateScoredPayload(t *testing.T) {
	c := testCandidate()
	c.Scores = map[string]*float64{"trending": nil}
	c.Tags = nil

	payload := NewCandidateScoredPayload(c)
	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, "CANDIDATE_SCORED", payload.EventType)
	assert.Nil(t, payload.BestScore)
	assert.Empty(t, payload.BestProfile)
	assert.NotNil(t, payload.Tags)
}
