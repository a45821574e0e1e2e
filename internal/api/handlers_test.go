package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/database"
	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/queue"
)

type MockProductStore struct {
	mock.Mock
}

func (m *MockProductStore) LatestCandidates(ctx context.Context, limit int) ([]models.Candidate, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candidate), args.Error(1)
}

func (m *MockProductStore) Candidate(ctx context.Context, id int64) (*models.Candidate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Candidate), args.Error(1)
}

func (m *MockProductStore) ScoreDetails(ctx context.Context, candidateID int64) ([]models.ScoreDetail, error) {
	args := m.Called(ctx, candidateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoreDetail), args.Error(1)
}

func (m *MockProductStore) SetTrack(ctx context.Context, productID string, track bool) error {
	args := m.Called(ctx, productID, track)
	return args.Error(0)
}

func (m *MockProductStore) Stats(ctx context.Context) (*database.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.Stats), args.Error(1)
}

type fakeOutbox struct {
	pending, deadLetter int64
}

func (f fakeOutbox) GetPendingCount(ctx context.Context) (int64, error)    { return f.pending, nil }
func (f fakeOutbox) GetDeadLetterCount(ctx context.Context) (int64, error) { return f.deadLetter, nil }

type testServer struct {
	handler  http.Handler
	products *MockProductStore
	queue    *queue.MemoryStore
}

func newTestServer(outbox OutboxMonitor) *testServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	products := new(MockProductStore)
	store := queue.NewMemoryStore()
	sched := queue.NewScheduler(store, logger)

	h := NewHandlers(products, sched, outbox, QueueDefaults{Budget: 2, DetailRefreshDays: 7}, logger)
	return &testServer{
		handler:  NewRouter(h, []string{"http://localhost:*"}),
		products: products,
		queue:    store,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxMonitor
		wantCode   int
		wantStatus string
	}{
		{"no outbox", nil, http.StatusOK, "ok"},
		{"healthy", fakeOutbox{pending: 3}, http.StatusOK, "ok"},
		{"backlog", fakeOutbox{pending: 1001}, http.StatusOK, "warning"},
		{"dead letters", fakeOutbox{deadLetter: 101}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newTestServer(tt.outbox).do(t, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			body := decode[map[string]interface{}](t, rec)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestCandidates(t *testing.T) {
	score := 72.5

	t.Run("list with default limit", func(t *testing.T) {
		s := newTestServer(nil)
		s.products.On("LatestCandidates", mock.Anything, defaultLimit).Return([]models.Candidate{
			{ID: 1, ProductID: "p1", Scores: map[string]*float64{"trending": &score, "blueOcean": nil}},
		}, nil)

		rec := s.do(t, http.MethodGet, "/api/v1/candidates", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[[]map[string]interface{}](t, rec)
		require.Len(t, body, 1)
		scores := body[0]["scores"].(map[string]interface{})
		assert.Equal(t, 72.5, scores["trending"])
		assert.Nil(t, scores["blueOcean"])
	})

	t.Run("limit is capped", func(t *testing.T) {
		s := newTestServer(nil)
		s.products.On("LatestCandidates", mock.Anything, maxLimit).Return(nil, nil)

		rec := s.do(t, http.MethodGet, "/api/v1/candidates?limit=100000", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := newTestServer(nil).do(t, http.MethodGet, "/api/v1/candidates?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		s := newTestServer(nil)
		s.products.On("LatestCandidates", mock.Anything, defaultLimit).Return(nil, errors.New("boom"))

		rec := s.do(t, http.MethodGet, "/api/v1/candidates", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("get one", func(t *testing.T) {
		s := newTestServer(nil)
		s.products.On("Candidate", mock.Anything, int64(7)).Return(&models.Candidate{ID: 7, ProductID: "p7"}, nil)
		s.products.On("Candidate", mock.Anything, int64(8)).Return(nil, nil)

		rec := s.do(t, http.MethodGet, "/api/v1/candidates/7", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "p7", decode[models.Candidate](t, rec).ProductID)

		rec = s.do(t, http.MethodGet, "/api/v1/candidates/8", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = s.do(t, http.MethodGet, "/api/v1/candidates/x", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("score details", func(t *testing.T) {
		s := newTestServer(nil)
		raw, norm := 1200.0, 78.2
		s.products.On("ScoreDetails", mock.Anything, int64(7)).Return([]models.ScoreDetail{
			{Profile: "trending", Dimension: "salesVolume", RawValue: &raw, NormalizedValue: &norm, Weight: 30, WeightedScore: 23.46},
			{Profile: "trending", Dimension: "googleTrends", Weight: 15},
		}, nil)
		s.products.On("ScoreDetails", mock.Anything, int64(9)).Return(nil, nil)

		rec := s.do(t, http.MethodGet, "/api/v1/candidates/7/details", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[
			{"profile":"trending","dimension":"salesVolume","rawValue":1200,"normalizedValue":78.2,"weight":30,"weightedScore":23.46},
			{"profile":"trending","dimension":"googleTrends","rawValue":null,"normalizedValue":null,"weight":15,"weightedScore":0}
		]`, rec.Body.String())

		rec = s.do(t, http.MethodGet, "/api/v1/candidates/9/details", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTracking(t *testing.T) {
	s := newTestServer(nil)
	s.products.On("SetTrack", mock.Anything, "p1", true).Return(nil)
	s.products.On("SetTrack", mock.Anything, "p1", false).Return(nil)
	s.products.On("SetTrack", mock.Anything, "missing", true).Return(database.ErrProductNotFound)

	rec := s.do(t, http.MethodPost, "/api/v1/products/p1/track", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"p1","tracked":true}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/v1/products/p1/track", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"p1","tracked":false}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/products/missing/track", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.products.AssertExpectations(t)
}

func TestQueue(t *testing.T) {
	seed := func(s *testServer) {
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			s.queue.SeeProduct(id, base.Add(time.Duration(i)*time.Minute))
		}
	}

	t.Run("rebuild uses configured budget", func(t *testing.T) {
		s := newTestServer(nil)
		seed(s)

		rec := s.do(t, http.MethodPost, "/api/v1/queue/rebuild", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"enqueued":2}`, rec.Body.String())

		rec = s.do(t, http.MethodGet, "/api/v1/queue", "")
		require.Equal(t, http.StatusOK, rec.Code)
		entries := decode[[]queue.Entry](t, rec)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].TargetID)
		assert.Equal(t, queue.TierNeverDetailed, entries[0].Priority)
	})

	t.Run("rebuild with overrides", func(t *testing.T) {
		s := newTestServer(nil)
		seed(s)

		rec := s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"budget": 10, "detail_refresh_days": 3}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"enqueued":3}`, rec.Body.String())

		rec = s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"budget": 0}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"enqueued":0}`, rec.Body.String())

		rec = s.do(t, http.MethodGet, "/api/v1/queue", "")
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("rebuild rejects bad input", func(t *testing.T) {
		s := newTestServer(nil)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"budget":`).Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"detail_refresh_days": -1}`).Code)
	})

	t.Run("negative budget keeps the pending queue", func(t *testing.T) {
		s := newTestServer(nil)
		seed(s)
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"budget": 3}`).Code)

		rec := s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"budget": -1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "budget must not be negative")

		rec = s.do(t, http.MethodGet, "/api/v1/queue", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]queue.Entry](t, rec), 3)
	})

	t.Run("consume", func(t *testing.T) {
		s := newTestServer(nil)
		seed(s)
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/queue/rebuild", `{"budget": 3}`).Code)

		id := s.queue.Entries()[0].ID
		path := "/api/v1/queue/" + strconv.FormatInt(id, 10) + "/consume"

		rec := s.do(t, http.MethodPost, path, `{"outcome":"failed"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		entry := decode[queue.Entry](t, rec)
		assert.Equal(t, 1, entry.RetryCount)
		assert.Equal(t, queue.StatusPending, entry.Status)

		rec = s.do(t, http.MethodPost, path, `{"outcome":"done"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, queue.StatusDone, decode[queue.Entry](t, rec).Status)

		rec = s.do(t, http.MethodPost, path, `{"outcome":"done"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = s.do(t, http.MethodPost, path, `{"outcome":"skipped"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/v1/queue/999/consume", `{"outcome":"done"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStats(t *testing.T) {
	s := newTestServer(nil)
	s.products.On("Stats", mock.Anything).Return(&database.Stats{
		Products: 10, Detailed: 4, Tracked: 1, Candidates: 6,
		Queue: map[string]int64{"pending": 3},
	}, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":10,"detailed":4,"tracked":1,"candidates":6,"queue":{"pending":3}}`, rec.Body.String())
}
