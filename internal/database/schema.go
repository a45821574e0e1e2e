package database

import (
	"context"
	"fmt"
)

// schema is applied in order on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		product_id    TEXT PRIMARY KEY,
		title         TEXT NOT NULL DEFAULT '',
		shop_name     TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL DEFAULT '',
		region        TEXT NOT NULL DEFAULT '',
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		seq           BIGSERIAL
	)`,
	`CREATE TABLE IF NOT EXISTS sales_snapshots (
		id                BIGSERIAL PRIMARY KEY,
		product_id        TEXT NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		source            TEXT NOT NULL,
		region            TEXT NOT NULL,
		rank              INT NOT NULL DEFAULT 0,
		price_usd         DOUBLE PRECISION,
		sales_volume      DOUBLE PRECISION,
		sales_growth_rate DOUBLE PRECISION,
		gmv               DOUBLE PRECISION,
		video_views       DOUBLE PRECISION,
		creator_count     DOUBLE PRECISION,
		hot_index         DOUBLE PRECISION,
		gpm               DOUBLE PRECISION,
		commission_rate   DOUBLE PRECISION,
		listed_at         TIMESTAMPTZ,
		scraped_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_snapshots_product_scraped
		ON sales_snapshots (product_id, scraped_at DESC)`,
	`CREATE TABLE IF NOT EXISTS product_details (
		product_id        TEXT PRIMARY KEY REFERENCES products(product_id) ON DELETE CASCADE,
		rating            DOUBLE PRECISION,
		review_count      INT,
		voc_positive_rate DOUBLE PRECISION,
		conversion_rate   DOUBLE PRECISION,
		shop_sales_volume DOUBLE PRECISION,
		competition_score DOUBLE PRECISION,
		listed_at         TIMESTAMPTZ,
		fetched_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS product_tags (
		product_id TEXT NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		tag_type   TEXT NOT NULL,
		tag_name   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (product_id, tag_type, tag_name)
	)`,
	`CREATE TABLE IF NOT EXISTS candidates (
		id         BIGSERIAL PRIMARY KEY,
		run_id     TEXT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(product_id) ON DELETE CASCADE,
		title      TEXT NOT NULL DEFAULT '',
		region     TEXT NOT NULL DEFAULT '',
		category   TEXT NOT NULL DEFAULT '',
		input      JSONB NOT NULL,
		scores     JSONB NOT NULL,
		tags       JSONB NOT NULL DEFAULT '[]',
		best_score DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_created ON candidates (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS score_details (
		candidate_id     BIGINT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
		position         INT NOT NULL,
		profile          TEXT NOT NULL,
		dimension        TEXT NOT NULL,
		raw_value        DOUBLE PRECISION,
		normalized_value DOUBLE PRECISION,
		weight           INT NOT NULL,
		weighted_score   DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (candidate_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS scrape_queue (
		id              BIGSERIAL PRIMARY KEY,
		target_type     TEXT NOT NULL,
		target_id       TEXT NOT NULL,
		priority        INT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		retry_count     INT NOT NULL DEFAULT 0,
		last_scraped_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_queue_pending
		ON scrape_queue (priority DESC, id) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL CHECK (aggregate_type <> ''),
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL CHECK (event_type <> ''),
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (created_at) WHERE status IN ('pending', 'failed')`,
}

// Migrate creates every table and index that does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
