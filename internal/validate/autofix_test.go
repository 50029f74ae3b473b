package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

func TestAutoFixPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "missing decimal four digits", in: "2545", want: "25.45"},
		{name: "missing decimal three digits", in: "594", want: "5.94"},
		{name: "german comma", in: "12,50", want: "12.50"},
		{name: "already normalized", in: "26.79", want: "26.79"},
		{name: "thousands separator", in: "1.234,56", want: "1234.56"},
		{name: "unparseable text kept", in: "Auf  Anfrage", want: "Auf Anfrage"},
		{name: "five digits kept", in: "25450", want: "25450"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := tc.in
			fixed := AutoFix(extraction.MergedProduct{Price: &in})
			require.Equal(t, tc.want, *fixed.Price)
		})
	}
}

func TestAutoFixSortsTiersAscending(t *testing.T) {
	t.Parallel()

	fixed := AutoFix(extraction.MergedProduct{
		TieredPrices: []extraction.TieredPrice{
			{Quantity: 594, Price: "26,79"},
			{Quantity: 593, Price: "28,49"},
		},
	})

	require.Equal(t, []extraction.TieredPrice{
		{Quantity: 593, Price: "28.49"},
		{Quantity: 594, Price: "26.79"},
	}, fixed.TieredPrices)
}

// TestAutoFixKeepsDescendingPrices pins that a schedule whose prices drop
// as quantities rise is left alone; only the row order is repaired.
func TestAutoFixKeepsDescendingPrices(t *testing.T) {
	t.Parallel()

	fixed := AutoFix(extraction.MergedProduct{
		TieredPrices: []extraction.TieredPrice{
			{Quantity: 10, Price: "9.50"},
			{Quantity: 100, Price: "7.20"},
			{Quantity: 500, Price: "5.80"},
		},
	})

	require.Equal(t, []extraction.TieredPrice{
		{Quantity: 10, Price: "9.50"},
		{Quantity: 100, Price: "7.20"},
		{Quantity: 500, Price: "5.80"},
	}, fixed.TieredPrices)
}

func TestAutoFixDropsDuplicateTiersKeepingFirst(t *testing.T) {
	t.Parallel()

	fixed := AutoFix(extraction.MergedProduct{
		TieredPrices: []extraction.TieredPrice{
			{Quantity: 10, Price: "5.00"},
			{Quantity: 10, Price: "5.10"},
			{Quantity: 5, Price: "6.00"},
		},
	})

	require.Equal(t, []extraction.TieredPrice{
		{Quantity: 5, Price: "6.00"},
		{Quantity: 10, Price: "5.00"},
	}, fixed.TieredPrices)
}

func TestAutoFixArticleNumberDigitConfusions(t *testing.T) {
	t.Parallel()

	fixed := AutoFix(extraction.MergedProduct{ArticleNumber: " 47O1-S "})
	require.Equal(t, "4701-S", fixed.ArticleNumber)
}

func TestAutoFixShoutingName(t *testing.T) {
	t.Parallel()

	// Mojibake repair turns GRÃ–SSE into GRÖSSE before the casing fix;
	// lowercasing cannot recover ß from SS, so "ss" stays.
	fixed := AutoFix(extraction.MergedProduct{ProductName: "GRÃ–SSE M"})
	require.Equal(t, "Grösse M", fixed.ProductName)
}

func TestAutoFixDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	price := "2545"
	product := extraction.MergedProduct{
		ProductName: "HALTER",
		Price:       &price,
		TieredPrices: []extraction.TieredPrice{
			{Quantity: 20, Price: "4,00"},
			{Quantity: 10, Price: "5,00"},
		},
	}

	_ = AutoFix(product)

	require.Equal(t, "2545", price)
	require.Equal(t, "HALTER", product.ProductName)
	require.Equal(t, extraction.TieredPrice{Quantity: 20, Price: "4,00"}, product.TieredPrices[0])
}
