package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "extractor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRecord(article string) store.ProductRecord {
	now := time.Unix(1700000000, 0).UTC()
	price := "26.79"
	return store.ProductRecord{
		ArticleNumber: article,
		ProductName:   "Spannpratze 10mm",
		Description:   "Stahl, verzinkt",
		Price:         &price,
		PriceType:     extraction.PriceTypeNormal,
		Category:      store.CategoryShopOnly,
		Confidence:    extraction.FieldConfidence{extraction.FieldPrice: 1.0},
		Source:        extraction.SourceMap{extraction.FieldPrice: extraction.SourceDOM},
		ExtractedAt:   now,
		UpdatedAt:     now,
	}
}

func TestUpsertBumpsRevision(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("4711-M8")
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "4711-M8")
	require.NoError(t, err)
	require.Equal(t, 1, got.Revision)
	require.NotNil(t, got.Price)
	require.Equal(t, "26.79", *got.Price)
	require.InDelta(t, 1.0, got.Confidence[extraction.FieldPrice], 1e-9)

	rec.ProductName = "Spannpratze 10mm verstärkt"
	newPrice := "27.10"
	rec.Price = &newPrice
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err = s.GetRecord(ctx, "4711-M8")
	require.NoError(t, err)
	require.Equal(t, 2, got.Revision)
	require.Equal(t, "Spannpratze 10mm verstärkt", got.ProductName)
	require.Equal(t, "27.10", *got.Price)
}

func TestUpsertKeepsExcelCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("5001-PA66")
	rec.Category = store.CategoryFromExcel
	require.NoError(t, s.UpsertRecord(ctx, rec))

	// a later extraction run must not demote the master-list article
	rec.Category = store.CategoryShopOnly
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "5001-PA66")
	require.NoError(t, err)
	require.Equal(t, store.CategoryFromExcel, got.Category)
	require.Equal(t, 2, got.Revision)
}

func TestUpsertPromotesToExcelCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("8090-K2")
	require.NoError(t, s.UpsertRecord(ctx, rec))

	rec.Category = store.CategoryFromExcel
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "8090-K2")
	require.NoError(t, err)
	require.Equal(t, store.CategoryFromExcel, got.Category)
}

func TestTieredPricesRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("5555-X1")
	rec.Price = nil
	rec.PriceType = extraction.PriceTypeTiered
	rec.TieredPrices = []extraction.TieredPrice{
		{Quantity: 593, Price: "28.49"},
		{Quantity: 594, Price: "26.79"},
	}
	rec.TieredPricesText = "Bis 593 28,49 €\nAb 594 26,79 €"
	require.NoError(t, s.UpsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "5555-X1")
	require.NoError(t, err)
	require.Nil(t, got.Price)
	require.Equal(t, extraction.PriceTypeTiered, got.PriceType)
	require.Equal(t, rec.TieredPrices, got.TieredPrices)
	require.Equal(t, rec.TieredPricesText, got.TieredPricesText)
}

func TestSetCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRecord(ctx, sampleRecord("1234")))
	require.NoError(t, s.SetCategory(ctx, "1234", store.CategoryFromExcel))

	got, err := s.GetRecord(ctx, "1234")
	require.NoError(t, err)
	require.Equal(t, store.CategoryFromExcel, got.Category)

	err = s.SetCategory(ctx, "9999", store.CategoryShopOnly)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetRecord(context.Background(), "0000")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRecordsFiltersByCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleRecord("1111")
	first.Category = store.CategoryFromExcel
	require.NoError(t, s.UpsertRecord(ctx, first))
	require.NoError(t, s.UpsertRecord(ctx, sampleRecord("2222")))
	require.NoError(t, s.UpsertRecord(ctx, sampleRecord("3333")))

	all, err := s.ListRecords(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "1111", all[0].ArticleNumber, "ordered by article number")

	excel := store.CategoryFromExcel
	fromExcel, err := s.ListRecords(ctx, &excel, 10, 0)
	require.NoError(t, err)
	require.Len(t, fromExcel, 1)
	require.Equal(t, "1111", fromExcel[0].ArticleNumber)

	shopOnly := store.CategoryShopOnly
	paged, err := s.ListRecords(ctx, &shopOnly, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, "3333", paged[0].ArticleNumber)
}
