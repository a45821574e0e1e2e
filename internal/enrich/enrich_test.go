package enrich

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/tiktok-product-scout/internal/models"
	"github.com/maltedev/tiktok-product-scout/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		RequestsPerMin: 6000,
		RetryBase:      time.Millisecond,
		RetryMax:       5 * time.Millisecond,
	}
}

func TestShopeeClient_Stats(t *testing.T) {
	ctx := context.Background()

	t.Run("sums sold and computes median price", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v4/search/search_items", r.URL.Path)
			assert.Equal(t, "neck fan", r.URL.Query().Get("keyword"))
			w.Write([]byte(`{"total_count":240,"items":[
				{"item_basic":{"itemid":1,"price":1200000,"historical_sold":100}},
				{"item_basic":{"itemid":2,"price":800000,"historical_sold":50}},
				{"item_basic":{"itemid":3,"price":1000000,"historical_sold":0}},
				{"item_basic":{"itemid":4,"price":2000000,"historical_sold":25}}
			]}`))
		}))
		defer srv.Close()

		client := NewShopeeClient(srv.URL, fastOptions(), testLogger())
		stats, err := client.Stats(ctx, "neck fan")
		require.NoError(t, err)

		assert.Equal(t, 175.0, stats.SoldCount)
		assert.Equal(t, 240.0, stats.CompetitorCount)
		require.NotNil(t, stats.MedianPrice)
		assert.InDelta(t, 11.0, *stats.MedianPrice, 1e-9)
	})

	t.Run("no items", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"total_count":0,"items":[]}`))
		}))
		defer srv.Close()

		client := NewShopeeClient(srv.URL, fastOptions(), testLogger())
		_, err := client.Stats(ctx, "nothing")
		assert.ErrorIs(t, err, ErrNoResults)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"total_count":1,"items":[{"item_basic":{"price":500000,"historical_sold":9}}]}`))
		}))
		defer srv.Close()

		client := NewShopeeClient(srv.URL, fastOptions(), testLogger())
		stats, err := client.Stats(ctx, "retry")
		require.NoError(t, err)
		assert.Equal(t, 9.0, stats.SoldCount)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("gives up on persistent 429", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := NewShopeeClient(srv.URL, fastOptions(), testLogger())
		_, err := client.Stats(ctx, "busy")
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		client := NewShopeeClient(srv.URL, fastOptions(), testLogger())
		_, err := client.Stats(ctx, "forbidden")

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name    string
		series  []float64
		want    models.TrendDirection
		wantErr bool
	}{
		{"rising", []float64{10, 10, 12, 15, 18, 20, 24, 30}, models.TrendRising, false},
		{"declining", []float64{50, 48, 40, 35, 30, 25, 20, 20}, models.TrendDeclining, false},
		{"stable", []float64{40, 42, 41, 39, 40, 43, 41, 42}, models.TrendStable, false},
		{"exactly 1.2 is rising", []float64{10, 0, 0, 12}, models.TrendRising, false},
		{"exactly 0.8 is declining", []float64{10, 0, 0, 8}, models.TrendDeclining, false},
		{"from zero", []float64{0, 0, 5, 9}, models.TrendRising, false},
		{"too short", []float64{1, 2, 3}, "", true},
		{"all zero", []float64{0, 0, 0, 0}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyTrend(tt.series)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoResults)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrendsClient_Direction(t *testing.T) {
	ctx := context.Background()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "google_trends", r.URL.Query().Get("engine"))
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "US", r.URL.Query().Get("geo"))

		if r.URL.Query().Get("q") == "unknown" {
			w.Write([]byte(`{"error":"Google Trends hasn't returned any results for this query."}`))
			return
		}
		w.Write([]byte(`{"interest_over_time":{"timeline_data":[
			{"date":"w1","values":[{"query":"ice roller","extracted_value":20}]},
			{"date":"w2","values":[{"query":"ice roller","extracted_value":25}]},
			{"date":"w3","values":[{"query":"ice roller","extracted_value":40}]},
			{"date":"w4","values":[{"query":"ice roller","extracted_value":60}]}
		]}}`))
	}))
	defer srv.Close()

	cache, err := storage.NewTrendCache("", time.Hour)
	require.NoError(t, err)

	client := NewTrendsClient(srv.URL, "key", "US", cache, fastOptions(), testLogger())

	dir, err := client.Direction(ctx, "ice roller")
	require.NoError(t, err)
	assert.Equal(t, models.TrendRising, dir)

	dir, err = client.Direction(ctx, "Ice Roller ")
	require.NoError(t, err)
	assert.Equal(t, models.TrendRising, dir)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second lookup served from cache")

	_, err = client.Direction(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestCJClient_Quote(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("CJ-Access-Token"))
		switch r.URL.Query().Get("productNameEn") {
		case "neck fan":
			w.Write([]byte(`{"code":200,"result":true,"data":{"list":[
				{"pid":"a","productSku":"CJ-A","sellPrice":"6.40"},
				{"pid":"b","productSku":"CJ-B","sellPrice":"3.10 -- 4.20"},
				{"pid":"c","productSku":"CJ-C","sellPrice":5.5},
				{"pid":"d","productSku":"CJ-D","sellPrice":"n/a"}
			]}}`))
		case "error":
			w.Write([]byte(`{"code":1600001,"result":false,"message":"Invalid token"}`))
		default:
			w.Write([]byte(`{"code":200,"result":true,"data":{"list":[]}}`))
		}
	}))
	defer srv.Close()

	client := NewCJClient(srv.URL, "token", 4.5, fastOptions(), testLogger())

	quote, err := client.Quote(ctx, "neck fan")
	require.NoError(t, err)
	assert.Equal(t, "CJ-B", quote.SupplierSKU)
	assert.Equal(t, 3.10, quote.UnitCostUSD)
	assert.InDelta(t, 7.6, quote.LandedCost(), 1e-9)

	_, err = client.Quote(ctx, "empty")
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = client.Quote(ctx, "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid token")
}
