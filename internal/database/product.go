package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

var ErrProductNotFound = errors.New("product not found")

// ProductRepository persists discovered products, their details, tags and
// scored candidates.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// SaveSnapshots upserts the products of a discovery run and appends one
// snapshot row per record.
func (r *ProductRepository) SaveSnapshots(ctx context.Context, records []models.SalesRecord) error {
	if len(records) == 0 {
		return nil
	}

	upsert := `
		INSERT INTO products (product_id, title, shop_name, category, region, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (product_id) DO UPDATE SET
			title = COALESCE(NULLIF(EXCLUDED.title, ''), products.title),
			shop_name = COALESCE(NULLIF(EXCLUDED.shop_name, ''), products.shop_name),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), products.category),
			region = EXCLUDED.region,
			last_seen_at = GREATEST(products.last_seen_at, EXCLUDED.last_seen_at)`

	insert := `
		INSERT INTO sales_snapshots (
			product_id, source, region, rank, price_usd, sales_volume,
			sales_growth_rate, gmv, video_views, creator_count, hot_index,
			gpm, commission_rate, listed_at, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range records {
			rec := &records[i]
			scrapedAt := rec.ScrapedAt
			if scrapedAt.IsZero() {
				scrapedAt = time.Now()
			}
			batch.Queue(upsert, rec.ProductID, rec.Title, rec.ShopName, rec.Category, rec.Region, scrapedAt)
			batch.Queue(insert,
				rec.ProductID, rec.Source, rec.Region, rec.Rank, rec.PriceUSD, rec.SalesVolume,
				rec.SalesGrowthRate, rec.GMV, rec.VideoViews, rec.CreatorCount, rec.HotIndex,
				rec.GPM, rec.CommissionRate, rec.ListedAt, scrapedAt,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save snapshots: %w", err)
		}
		return nil
	})
}

// SaveDetail upserts the detail record of a product.
func (r *ProductRepository) SaveDetail(ctx context.Context, d *models.ProductDetail) error {
	if d.FetchedAt.IsZero() {
		d.FetchedAt = time.Now()
	}

	query := `
		INSERT INTO product_details (
			product_id, rating, review_count, voc_positive_rate, conversion_rate,
			shop_sales_volume, competition_score, listed_at, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (product_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			voc_positive_rate = EXCLUDED.voc_positive_rate,
			conversion_rate = EXCLUDED.conversion_rate,
			shop_sales_volume = EXCLUDED.shop_sales_volume,
			competition_score = EXCLUDED.competition_score,
			listed_at = COALESCE(EXCLUDED.listed_at, product_details.listed_at),
			fetched_at = EXCLUDED.fetched_at`

	_, err := r.db.pool.Exec(ctx, query,
		d.ProductID, d.Rating, d.ReviewCount, d.VocPositiveRate, d.ConversionRate,
		d.ShopSalesVolume, d.CompetitionScore, d.ListedAt, d.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save product detail: %w", err)
	}

	return nil
}

const detailColumns = `product_id, rating, review_count, voc_positive_rate, conversion_rate,
	shop_sales_volume, competition_score, listed_at, fetched_at`

func scanDetail(row pgx.Row) (*models.ProductDetail, error) {
	d := &models.ProductDetail{}
	err := row.Scan(&d.ProductID, &d.Rating, &d.ReviewCount, &d.VocPositiveRate, &d.ConversionRate,
		&d.ShopSalesVolume, &d.CompetitionScore, &d.ListedAt, &d.FetchedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Detail returns the stored detail of a product, or nil when there is none.
func (r *ProductRepository) Detail(ctx context.Context, productID string) (*models.ProductDetail, error) {
	d, err := scanDetail(r.db.pool.QueryRow(ctx,
		`SELECT `+detailColumns+` FROM product_details WHERE product_id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product detail: %w", err)
	}
	return d, nil
}

// Details returns stored details keyed by product ID. Products without a
// detail record are absent from the map.
func (r *ProductRepository) Details(ctx context.Context, productIDs []string) (map[string]*models.ProductDetail, error) {
	out := make(map[string]*models.ProductDetail, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.pool.Query(ctx,
		`SELECT `+detailColumns+` FROM product_details WHERE product_id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get product details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product detail: %w", err)
		}
		out[d.ProductID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// SetTrack adds or removes the manual track tag.
func (r *ProductRepository) SetTrack(ctx context.Context, productID string, track bool) error {
	var exists bool
	if err := r.db.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM products WHERE product_id = $1)", productID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up product: %w", err)
	}
	if !exists {
		return ErrProductNotFound
	}

	var err error
	if track {
		_, err = r.db.pool.Exec(ctx, `
			INSERT INTO product_tags (product_id, tag_type, tag_name)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			productID, string(models.TagManual), models.TrackTag)
	} else {
		_, err = r.db.pool.Exec(ctx,
			"DELETE FROM product_tags WHERE product_id = $1 AND tag_type = $2 AND tag_name = $3",
			productID, string(models.TagManual), models.TrackTag)
	}
	if err != nil {
		return fmt.Errorf("failed to update track tag: %w", err)
	}
	return nil
}

// Tags returns every tag of a product ordered by type and name.
func (r *ProductRepository) Tags(ctx context.Context, productID string) ([]models.Tag, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT tag_type, tag_name FROM product_tags
		WHERE product_id = $1
		ORDER BY tag_type, tag_name`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}

	tags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Tag, error) {
		var tag models.Tag
		var tagType string
		err := row.Scan(&tagType, &tag.Name)
		tag.Type = models.TagType(tagType)
		return tag, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tags: %w", err)
	}
	return tags, nil
}

// SaveCandidate stores a scored candidate with its audit rows and replaces
// the product's derived (non-manual) tags, all in one transaction.
func (r *ProductRepository) SaveCandidate(ctx context.Context, c *models.Candidate) error {
	input, err := json.Marshal(c.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	scores, err := json.Marshal(c.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	var best *float64
	if _, s, ok := c.BestScore(); ok {
		best = &s
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO candidates (run_id, product_id, title, region, category, input, scores, tags, best_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at`,
			c.RunID, c.ProductID, c.Title, c.Region, c.Category, input, scores, tags, best,
		).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert candidate: %w", err)
		}

		if len(c.Details) > 0 {
			_, err = tx.CopyFrom(ctx,
				pgx.Identifier{"score_details"},
				[]string{"candidate_id", "position", "profile", "dimension", "raw_value", "normalized_value", "weight", "weighted_score"},
				pgx.CopyFromSlice(len(c.Details), func(i int) ([]any, error) {
					d := c.Details[i]
					return []any{c.ID, i, d.Profile, d.Dimension, d.RawValue, d.NormalizedValue, d.Weight, d.WeightedScore}, nil
				}),
			)
			if err != nil {
				return fmt.Errorf("failed to insert score details: %w", err)
			}
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM product_tags WHERE product_id = $1 AND tag_type <> $2",
			c.ProductID, string(models.TagManual)); err != nil {
			return fmt.Errorf("failed to clear derived tags: %w", err)
		}

		batch := &pgx.Batch{}
		for _, tag := range c.Tags {
			if tag.Type == models.TagManual {
				continue
			}
			batch.Queue(`
				INSERT INTO product_tags (product_id, tag_type, tag_name)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				c.ProductID, string(tag.Type), tag.Name)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert tags: %w", err)
			}
		}

		return nil
	})
}

const candidateColumns = `id, run_id, product_id, title, region, category, input, scores, tags, created_at`

func scanCandidate(row pgx.Row) (*models.Candidate, error) {
	var (
		c                   models.Candidate
		input, scores, tags []byte
	)
	if err := row.Scan(&c.ID, &c.RunID, &c.ProductID, &c.Title, &c.Region, &c.Category,
		&input, &scores, &tags, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(input, &c.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if err := json.Unmarshal(scores, &c.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	if err := json.Unmarshal(tags, &c.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return &c, nil
}

// LatestCandidates returns the newest candidate of each product, best
// score first.
func (r *ProductRepository) LatestCandidates(ctx context.Context, limit int) ([]models.Candidate, error) {
	query := `
		SELECT ` + candidateColumns + ` FROM (
			SELECT DISTINCT ON (product_id) id, run_id, product_id, title, region,
				category, input, scores, tags, created_at, best_score
			FROM candidates
			ORDER BY product_id, created_at DESC, id DESC
		) latest
		ORDER BY best_score DESC NULLS LAST, id ASC
		LIMIT $1`

	rows, err := r.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return candidates, nil
}

// Candidate returns one candidate with its audit rows, or nil when missing.
func (r *ProductRepository) Candidate(ctx context.Context, id int64) (*models.Candidate, error) {
	c, err := scanCandidate(r.db.pool.QueryRow(ctx, `
		SELECT id, run_id, product_id, title, region, category, input, scores, tags, created_at
		FROM candidates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	c.Details, err = r.ScoreDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ScoreDetails returns the audit rows of a candidate in computation order.
func (r *ProductRepository) ScoreDetails(ctx context.Context, candidateID int64) ([]models.ScoreDetail, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT profile, dimension, raw_value, normalized_value, weight, weighted_score
		FROM score_details
		WHERE candidate_id = $1
		ORDER BY position`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get score details: %w", err)
	}

	details, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ScoreDetail, error) {
		var d models.ScoreDetail
		err := row.Scan(&d.Profile, &d.Dimension, &d.RawValue, &d.NormalizedValue, &d.Weight, &d.WeightedScore)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan score details: %w", err)
	}
	return details, nil
}

// Stats summarizes the store for the API.
type Stats struct {
	Products   int64            `json:"products"`
	Detailed   int64            `json:"detailed"`
	Tracked    int64            `json:"tracked"`
	Candidates int64            `json:"candidates"`
	Queue      map[string]int64 `json:"queue"`
}

func (r *ProductRepository) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM product_details),
			(SELECT COUNT(*) FROM product_tags WHERE tag_type = $1 AND tag_name = $2),
			(SELECT COUNT(*) FROM candidates)`,
		string(models.TagManual), models.TrackTag,
	).Scan(&s.Products, &s.Detailed, &s.Tracked, &s.Candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	s.Queue, err = NewQueueRepository(r.db).StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
