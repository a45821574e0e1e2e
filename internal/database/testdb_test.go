package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// every table. Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, MaxConns: 4})
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Exec(ctx, `TRUNCATE products, sales_snapshots, product_details, product_tags,
		candidates, score_details, scrape_queue, outbox_event RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
