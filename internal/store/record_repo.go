package store

import (
	"context"
	"time"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// RecordCategory tracks where a product record originated relative to the
// master price list.
type RecordCategory string

// Record categories persisted in product_records.category.
const (
	// CategoryFromExcel marks articles present in the imported master list.
	CategoryFromExcel RecordCategory = "FROM_EXCEL"
	// CategoryShopOnly marks articles found in the shop but not the list.
	CategoryShopOnly RecordCategory = "SHOP_ONLY"
)

// ProductRecord models the product_records table. Each upsert of an existing
// article bumps Revision; rows are superseded, never edited in place.
type ProductRecord struct {
	ArticleNumber    string
	Revision         int
	ProductName      string
	Description      string
	Price            *string
	PriceType        extraction.PriceType
	TieredPrices     []extraction.TieredPrice
	TieredPricesText string
	Currency         string
	Category         RecordCategory
	Verified         bool
	Confidence       extraction.FieldConfidence
	Source           extraction.SourceMap
	RequiresReview   bool
	SourceURL        string
	ExtractedAt      time.Time
	UpdatedAt        time.Time
}

// RecordRepository persists extracted product data keyed by article number.
type RecordRepository interface {
	// UpsertRecord inserts the record or supersedes the existing row with a
	// bumped revision. A FROM_EXCEL category on the existing row is sticky:
	// extraction runs never demote master-list articles.
	UpsertRecord(ctx context.Context, rec ProductRecord) error
	// SetCategory reclassifies an existing article, ErrNotFound if absent.
	SetCategory(ctx context.Context, articleNumber string, category RecordCategory) error
	// GetRecord loads one article or returns ErrNotFound.
	GetRecord(ctx context.Context, articleNumber string) (ProductRecord, error)
	// ListRecords returns records filtered by optional category plus
	// limit/offset, ordered by article number.
	ListRecords(ctx context.Context, category *RecordCategory, limit, offset int) ([]ProductRecord, error)
}
