// Package sqlite provides a file-backed record store for one-shot CLI runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// RecordStore implements store.RecordRepository on a local SQLite file.
type RecordStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and configures WAL mode.
func Open(path string) (*RecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %s: %w", pragma, err)
		}
	}
	return &RecordStore{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS product_records (
	article_number     TEXT PRIMARY KEY,
	revision           INTEGER NOT NULL DEFAULT 1,
	product_name       TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	price              TEXT,
	price_type         TEXT NOT NULL DEFAULT 'unknown',
	tiered_prices      TEXT,
	tiered_prices_text TEXT NOT NULL DEFAULT '',
	currency           TEXT NOT NULL DEFAULT 'EUR',
	category           TEXT NOT NULL DEFAULT 'SHOP_ONLY',
	verified           INTEGER NOT NULL DEFAULT 0,
	confidence         TEXT,
	source             TEXT,
	requires_review    INTEGER NOT NULL DEFAULT 0,
	source_url         TEXT NOT NULL DEFAULT '',
	extracted_at       DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_records_category ON product_records(category);
CREATE INDEX IF NOT EXISTS idx_product_records_review ON product_records(requires_review);
`

// Migrate applies the schema idempotently.
func (s *RecordStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// UpsertRecord inserts the record at revision 1 or supersedes the existing
// row with a bumped revision. FROM_EXCEL stays sticky on conflict, matching
// the Postgres store.
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
	query := `
		INSERT INTO product_records (
			article_number, revision, product_name, description, price,
			price_type, tiered_prices, tiered_prices_text, currency, category,
			verified, confidence, source, requires_review, source_url,
			extracted_at, updated_at
		) VALUES (?,1,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (article_number) DO UPDATE SET
			revision = revision + 1,
			product_name = excluded.product_name,
			description = excluded.description,
			price = excluded.price,
			price_type = excluded.price_type,
			tiered_prices = excluded.tiered_prices,
			tiered_prices_text = excluded.tiered_prices_text,
			currency = excluded.currency,
			category = CASE
				WHEN product_records.category = 'FROM_EXCEL' THEN product_records.category
				ELSE excluded.category
			END,
			verified = excluded.verified,
			confidence = excluded.confidence,
			source = excluded.source,
			requires_review = excluded.requires_review,
			source_url = excluded.source_url,
			extracted_at = excluded.extracted_at,
			updated_at = excluded.updated_at;
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ArticleNumber,
		rec.ProductName,
		rec.Description,
		rec.Price,
		string(rec.PriceType),
		string(tiersJSON),
		rec.TieredPricesText,
		currency,
		string(category),
		rec.Verified,
		string(confidenceJSON),
		string(sourceJSON),
		rec.RequiresReview,
		rec.SourceURL,
		rec.ExtractedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product record: %w", err)
	}
	return nil
}

// SetCategory reclassifies an existing article.
func (s *RecordStore) SetCategory(ctx context.Context, articleNumber string, category store.RecordCategory) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_records SET category = ?, updated_at = datetime('now') WHERE article_number = ?`,
		string(category), articleNumber,
	)
	if err != nil {
		return fmt.Errorf("set record category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set record category rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const selectRecordColumns = `
	article_number, revision, product_name, description, price,
	price_type, tiered_prices, tiered_prices_text, currency, category,
	verified, confidence, source, requires_review, source_url,
	extracted_at, updated_at`

// GetRecord loads a single article or returns store.ErrNotFound.
func (s *RecordStore) GetRecord(ctx context.Context, articleNumber string) (store.ProductRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+selectRecordColumns+` FROM product_records WHERE article_number = ?`,
		articleNumber,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	query := `SELECT` + selectRecordColumns + ` FROM product_records WHERE 1=1`
	var args []any
	if category != nil {
		query += ` AND category = ?`
		args = append(args, string(*category))
	}
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY article_number LIMIT ?`
	args = append(args, limit)
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (store.ProductRecord, error) {
	var (
		rec            store.ProductRecord
		price          sql.NullString
		tiersJSON      sql.NullString
		confidenceJSON sql.NullString
		sourceJSON     sql.NullString
	)
	err := row.Scan(
		&rec.ArticleNumber,
		&rec.Revision,
		&rec.ProductName,
		&rec.Description,
		&price,
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
	if price.Valid {
		rec.Price = &price.String
	}
	if tiersJSON.Valid && tiersJSON.String != "" {
		if err := json.Unmarshal([]byte(tiersJSON.String), &rec.TieredPrices); err != nil {
			return store.ProductRecord{}, fmt.Errorf("unmarshal tiered prices: %w", err)
		}
	}
	if confidenceJSON.Valid && confidenceJSON.String != "" {
		if err := json.Unmarshal([]byte(confidenceJSON.String), &rec.Confidence); err != nil {
			return store.ProductRecord{}, fmt.Errorf("unmarshal confidence: %w", err)
		}
	}
	if sourceJSON.Valid && sourceJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceJSON.String), &rec.Source); err != nil {
			return store.ProductRecord{}, fmt.Errorf("unmarshal source: %w", err)
		}
	}
	return rec, nil
}
