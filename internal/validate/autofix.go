package validate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// missingDecimal matches a 3-4 digit integer price, the classic
// recognition artifact of a lost decimal separator.
var missingDecimal = regexp.MustCompile(`^\d{3,4}$`)

// AutoFix repairs a documented set of recognition artifacts in the record:
// whitespace and casing in text fields, digit confusions in the article
// number, unsorted or duplicated tier rows, and a missing decimal point in
// the price. It is best effort and never fails; anything it cannot repair
// is returned unchanged for the validator to flag. The input is not
// mutated.
func AutoFix(product extraction.MergedProduct) extraction.MergedProduct {
	fixed := product

	fixed.ProductName = textnorm.CleanText(fixed.ProductName)
	if isShouting(fixed.ProductName) {
		fixed.ProductName = textnorm.TitleCase(fixed.ProductName)
	}
	fixed.Description = textnorm.CleanText(fixed.Description)
	fixed.ArticleNumber = textnorm.FixDigitConfusions(textnorm.CleanText(fixed.ArticleNumber))

	if fixed.Price != nil {
		price := fixPrice(*fixed.Price)
		fixed.Price = &price
	}
	fixed.TieredPrices = fixTiers(fixed.TieredPrices)
	fixed.TieredPricesText = strings.TrimSpace(fixed.TieredPricesText)

	return fixed
}

// fixPrice normalizes separator forms and reinterprets a bare 3-4 digit
// integer as cents ("2545" becomes "25.45").
func fixPrice(raw string) string {
	cleaned := textnorm.CleanText(raw)
	if parsed, ok := textnorm.ParsePrice(cleaned); ok {
		return parsed
	}
	if missingDecimal.MatchString(cleaned) {
		return cleaned[:len(cleaned)-2] + "." + cleaned[len(cleaned)-2:]
	}
	return cleaned
}

// fixTiers sorts the schedule ascending by quantity and drops duplicate
// quantities, keeping the row that appeared first. Descending prices over
// ascending quantities are a legitimate schedule and stay untouched.
func fixTiers(tiers []extraction.TieredPrice) []extraction.TieredPrice {
	if len(tiers) == 0 {
		return nil
	}
	sorted := append([]extraction.TieredPrice(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Quantity < sorted[j].Quantity })

	deduped := sorted[:0]
	lastQuantity := -1
	for _, tier := range sorted {
		if tier.Quantity == lastQuantity {
			continue
		}
		if parsed, ok := textnorm.ParsePrice(tier.Price); ok {
			tier.Price = parsed
		}
		deduped = append(deduped, tier)
		lastQuantity = tier.Quantity
	}
	return deduped
}
