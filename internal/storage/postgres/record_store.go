package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// RecordStore implements store.RecordRepository on Postgres.
type RecordStore struct {
	pool pgxPool
}

// NewRecordStore constructs a RecordStore over an existing pool.
func NewRecordStore(pool pgxPool) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

const upsertRecordSQL = `
INSERT INTO product_records (
	article_number,
	revision,
	product_name,
	description,
	price,
	price_type,
	tiered_prices,
	tiered_prices_text,
	currency,
	category,
	verified,
	confidence,
	source,
	requires_review,
	source_url,
	extracted_at,
	updated_at
) VALUES (
	$1,1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (article_number) DO UPDATE SET
	revision = product_records.revision + 1,
	product_name = EXCLUDED.product_name,
	description = EXCLUDED.description,
	price = EXCLUDED.price,
	price_type = EXCLUDED.price_type,
	tiered_prices = EXCLUDED.tiered_prices,
	tiered_prices_text = EXCLUDED.tiered_prices_text,
	currency = EXCLUDED.currency,
	category = CASE
		WHEN product_records.category = 'FROM_EXCEL' THEN product_records.category
		ELSE EXCLUDED.category
	END,
	verified = EXCLUDED.verified,
	confidence = EXCLUDED.confidence,
	source = EXCLUDED.source,
	requires_review = EXCLUDED.requires_review,
	source_url = EXCLUDED.source_url,
	extracted_at = EXCLUDED.extracted_at,
	updated_at = EXCLUDED.updated_at;`

// UpsertRecord inserts the record at revision 1 or supersedes the existing
// row with a bumped revision. FROM_EXCEL stays sticky on conflict so a later
// extraction run cannot demote a master-list article.
func (s *RecordStore) UpsertRecord(ctx context.Context, rec store.ProductRecord) error {
	if rec.ArticleNumber == "" {
		return fmt.Errorf("article number is required")
	}
	tiersJSON, err := json.Marshal(rec.TieredPrices)
	if err != nil {
		return fmt.Errorf("marshal tiered prices: %w", err)
	}
	confidenceJSON, err := json.Marshal(rec.Confidence)
	if err != nil {
		return fmt.Errorf("marshal confidence: %w", err)
	}
	sourceJSON, err := json.Marshal(rec.Source)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	currency := rec.Currency
	if currency == "" {
		currency = "EUR"
	}
	category := rec.Category
	if category == "" {
		category = store.CategoryShopOnly
	}
	args := []any{
		rec.ArticleNumber,
		rec.ProductName,
		rec.Description,
		rec.Price,
		rec.PriceType,
		tiersJSON,
		rec.TieredPricesText,
		currency,
		category,
		rec.Verified,
		confidenceJSON,
		sourceJSON,
		rec.RequiresReview,
		rec.SourceURL,
		rec.ExtractedAt,
		rec.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, upsertRecordSQL, args...); err != nil {
		return fmt.Errorf("upsert product record: %w", err)
	}
	return nil
}

// SetCategory reclassifies an existing article.
func (s *RecordStore) SetCategory(ctx context.Context, articleNumber string, category store.RecordCategory) error {
	query := `
		UPDATE product_records
		SET category = $1, updated_at = NOW()
		WHERE article_number = $2;
	`
	res, err := s.pool.Exec(ctx, query, category, articleNumber)
	if err != nil {
		return fmt.Errorf("set record category: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const selectRecordColumns = `
	article_number, revision, product_name, description, price::text,
	price_type, tiered_prices, tiered_prices_text, currency, category,
	verified, confidence, source, requires_review, source_url,
	extracted_at, updated_at`

// GetRecord loads a single article or returns store.ErrNotFound.
func (s *RecordStore) GetRecord(ctx context.Context, articleNumber string) (store.ProductRecord, error) {
	query := `SELECT` + selectRecordColumns + `
		FROM product_records
		WHERE article_number = $1;`
	row := s.pool.QueryRow(ctx, query, articleNumber)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ProductRecord{}, store.ErrNotFound
		}
		return store.ProductRecord{}, fmt.Errorf("get product record: %w", err)
	}
	return rec, nil
}

// ListRecords returns records filtered by optional category.
func (s *RecordStore) ListRecords(
	ctx context.Context,
	category *store.RecordCategory,
	limit,
	offset int,
) ([]store.ProductRecord, error) {
	query := `SELECT` + selectRecordColumns + `
		FROM product_records
		WHERE ($1::text IS NULL OR category = $1)
		ORDER BY article_number
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list product records: %w", err)
	}
	defer rows.Close()

	var records []store.ProductRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.ProductRecord, error) {
	var (
		rec            store.ProductRecord
		tiersJSON      []byte
		confidenceJSON []byte
		sourceJSON     []byte
	)
	err := row.Scan(
		&rec.ArticleNumber,
		&rec.Revision,
		&rec.ProductName,
		&rec.Description,
		&rec.Price,
		&rec.PriceType,
		&tiersJSON,
		&rec.TieredPricesText,
		&rec.Currency,
		&rec.Category,
		&rec.Verified,
		&confidenceJSON,
		&sourceJSON,
		&rec.RequiresReview,
		&rec.SourceURL,
		&rec.ExtractedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return store.ProductRecord{}, err
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &rec.TieredPrices); err != nil {
			return store.ProductRecord{}, fmt.Errorf("unmarshal tiered prices: %w", err)
		}
	}
	if len(confidenceJSON) > 0 {
		if err := json.Unmarshal(confidenceJSON, &rec.Confidence); err != nil {
			return store.ProductRecord{}, fmt.Errorf("unmarshal confidence: %w", err)
		}
	}
	if len(sourceJSON) > 0 {
		if err := json.Unmarshal(sourceJSON, &rec.Source); err != nil {
			return store.ProductRecord{}, fmt.Errorf("unmarshal source: %w", err)
		}
	}
	return rec, nil
}
