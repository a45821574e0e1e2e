package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/database"
)

type MockStreamReader struct {
	mock.Mock
}

func (m *MockStreamReader) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *MockStreamReader) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	cmd.SetErr(args.Error(0))
	return cmd
}

func (m *MockStreamReader) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	cmd.SetErr(args.Error(0))
	return cmd
}

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) SetTrack(ctx context.Context, productID string, track bool) error {
	args := m.Called(ctx, productID, track)
	return args.Error(0)
}

// relayedMessage builds a stream message the way the relay writes it.
func relayedMessage(t *testing.T, id string, payload any) redis.XMessage {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(database.StreamEnvelope{
		ID:      id,
		Type:    string(EventTypeCandidateScored),
		Payload: body,
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"data":       string(data),
		"event_type": string(EventTypeCandidateScored),
	}}
}

func TestDecodeCandidateScored(t *testing.T) {
	msg := relayedMessage(t, "1-0", NewCandidateScoredPayload(testCandidate()))

	p, err := DecodeCandidateScored(msg)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "1729381", p.ProductID)
	assert.Equal(t, "trending", p.BestProfile)
	require.NotNil(t, p.BestScore)
	assert.Equal(t, 71.2, *p.BestScore)

	other, err := DecodeCandidateScored(redis.XMessage{ID: "2-0", Values: map[string]interface{}{"event_type": "SOMETHING_ELSE"}})
	assert.NoError(t, err)
	assert.Nil(t, other)

	_, err = DecodeCandidateScored(redis.XMessage{ID: "3-0", Values: map[string]interface{}{
		"event_type": string(EventTypeCandidateScored),
		"data":       "{not json",
	}})
	assert.Error(t, err)

	_, err = DecodeCandidateScored(relayedMessage(t, "4-0", map[string]any{"title": "no id"}))
	assert.Error(t, err)
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := ConsumerConfig{Stream: "stream:product_candidates", Group: "auto-track", Consumer: "c1"}

	high := testCandidate()
	low := testCandidate()
	low.ProductID = "555"
	low.Scores = map[string]*float64{"trending": nil}
	failing := testCandidate()
	failing.ProductID = "666"

	tracker := new(MockTracker)
	tracker.On("SetTrack", ctx, "1729381", true).Return(nil)
	tracker.On("SetTrack", ctx, "666", true).Return(errors.New("connection refused"))

	reader := new(MockStreamReader)
	reader.On("XAck", ctx, cfg.Stream, cfg.Group, mock.Anything).Return(nil)

	c := NewConsumer(reader, cfg, AutoTrack(tracker, 70, logger), logger)
	c.handle(ctx, []redis.XMessage{
		relayedMessage(t, "1-0", NewCandidateScoredPayload(high)),
		relayedMessage(t, "2-0", NewCandidateScoredPayload(low)),
		relayedMessage(t, "3-0", NewCandidateScoredPayload(failing)),
		{ID: "4-0", Values: map[string]interface{}{"event_type": "OTHER"}},
	})

	tracker.AssertExpectations(t)
	tracker.AssertNotCalled(t, "SetTrack", ctx, "555", true)

	reader.AssertCalled(t, "XAck", ctx, cfg.Stream, cfg.Group, []string{"1-0"})
	reader.AssertCalled(t, "XAck", ctx, cfg.Stream, cfg.Group, []string{"2-0"})
	reader.AssertNotCalled(t, "XAck", ctx, cfg.Stream, cfg.Group, []string{"3-0"})
	reader.AssertCalled(t, "XAck", ctx, cfg.Stream, cfg.Group, []string{"4-0"})
}

func TestConsumer_Run_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reader := new(MockStreamReader)
	reader.On("XGroupCreateMkStream", ctx, "s", "g", "0").Return(errors.New("BUSYGROUP Consumer Group name already exists"))
	reader.On("XReadGroup", ctx, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(redis.Nil)

	c := NewConsumer(reader, ConsumerConfig{Stream: "s", Group: "g", Consumer: "c"}, func(context.Context, *CandidateScoredPayload) error {
		return nil
	}, logger)

	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}
