// Package dom extracts structured product fields from a rendered page.
package dom

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// strategy is one attempt at locating a field; strategies are tried in
// order and the first non-empty hit wins.
type strategy struct {
	selector string
	attr     string // read this attribute instead of the text when set
}

var nameStrategies = []strategy{
	{selector: ".product-detail-name"},
	{selector: "h1.product-title"},
	{selector: `[itemprop="name"]`},
	{selector: "h1"},
}

var descriptionStrategies = []strategy{
	{selector: ".product-detail-description-text"},
	{selector: ".product-detail-description"},
	{selector: `[itemprop="description"]`},
	{selector: ".product-description"},
}

var articleNumberStrategies = []strategy{
	{selector: ".product-detail-ordernumber", attr: "content"},
	{selector: ".product-detail-ordernumber"},
	{selector: `[itemprop="sku"]`},
	{selector: ".article-number"},
}

var priceStrategies = []strategy{
	{selector: ".product-detail-price"},
	{selector: `[itemprop="price"]`, attr: "content"},
	{selector: ".product-price"},
	{selector: ".price"},
}

var tierTableSelectors = []string{
	".product-block-prices table",
	"table.staffelpreise",
	".block-prices table",
	"table.price-table",
}

var requestAreaSelectors = []string{
	".product-detail-buy",
	".product-detail",
	"main",
}

// headerKeywords mark schedule header rows that carry column labels
// instead of data. The ab/bis prefixes of data rows are not in this list;
// a row only counts as a header when it carries no digits at all, so
// "Ab 594 26,79 €" parses while "Menge Preis" is skipped.
var headerKeywords = []string{"menge", "stück", "stueck", "preis", "anzahl", "ab", "bis"}

var articleLabel = regexp.MustCompile(`(?i)^art(?:ikel)?\.?\s*-?\s*nr\.?:?\s*`)

// Extractor pulls product fields from a goquery document via ordered
// selector strategies. It holds no state and is safe for concurrent use.
type Extractor struct{}

// New returns a DOM extractor with the shop's selector strategies.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the fields found in the document plus a confidence map:
// 1.0 for every present field, 0 for every absent one. Price extraction is
// a four-way decision in which the price-on-request check deliberately
// runs last; a "contact us" affordance elsewhere on the page must not
// override a parsable price.
func (e *Extractor) Extract(doc *goquery.Document) (extraction.MergedProduct, extraction.FieldConfidence) {
	product := extraction.MergedProduct{PriceType: extraction.PriceTypeUnknown}
	confidence := extraction.NewFieldConfidence()

	if name, ok := firstMatch(doc, nameStrategies); ok {
		product.ProductName = name
		confidence[extraction.FieldProductName] = 1.0
	}
	if description, ok := firstMatch(doc, descriptionStrategies); ok {
		product.Description = description
		confidence[extraction.FieldDescription] = 1.0
	}
	if rawNumber, ok := firstMatch(doc, articleNumberStrategies); ok {
		product.ArticleNumber = articleLabel.ReplaceAllString(rawNumber, "")
		confidence[extraction.FieldArticleNumber] = 1.0
	}

	e.extractPrice(doc, &product, confidence)
	return product, confidence
}

// extractPrice applies the ordered decision: tiered table, then single
// price element, then request affordance, then unknown.
func (e *Extractor) extractPrice(doc *goquery.Document, product *extraction.MergedProduct, confidence extraction.FieldConfidence) {
	if tiers, text, ok := e.extractTiers(doc); ok {
		product.PriceType = extraction.PriceTypeTiered
		product.TieredPrices = tiers
		product.TieredPricesText = text
		confidence[extraction.FieldTieredPrices] = 1.0
		confidence[extraction.FieldPrice] = 1.0
		return
	}

	for _, s := range priceStrategies {
		raw, ok := readStrategy(doc.Selection, s)
		if !ok {
			continue
		}
		if price, parsed := textnorm.ParsePrice(raw); parsed {
			product.PriceType = extraction.PriceTypeNormal
			product.Price = &price
			confidence[extraction.FieldPrice] = 1.0
			return
		}
	}

	if e.hasRequestAffordance(doc) {
		product.PriceType = extraction.PriceTypeOnRequest
		confidence[extraction.FieldPrice] = 1.0
		return
	}

	product.PriceType = extraction.PriceTypeUnknown
}

func (e *Extractor) extractTiers(doc *goquery.Document) ([]extraction.TieredPrice, string, bool) {
	for _, selector := range tierTableSelectors {
		table := doc.Find(selector).First()
		if table.Length() == 0 {
			continue
		}

		var tiers []extraction.TieredPrice
		var lines []string
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			text := rowText(row)
			if text == "" || isHeaderRow(text) {
				return
			}
			if quantity, price, ok := parseTierRow(row, text); ok {
				tiers = append(tiers, extraction.TieredPrice{Quantity: quantity, Price: price})
				lines = append(lines, text)
			}
		})
		if len(tiers) == 0 {
			continue
		}

		sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Quantity < tiers[j].Quantity })
		return tiers, strings.Join(lines, "\n"), true
	}
	return nil, "", false
}

// rowText joins a row's cell texts with single spaces. goquery's Text()
// concatenates cells without a separator, which would glue a quantity cell
// onto the price cell ("Bis 593" + "28,49 €" -> "Bis 59328,49 €").
func rowText(row *goquery.Selection) string {
	cells := row.Find("td, th")
	if cells.Length() == 0 {
		return textnorm.CleanText(row.Text())
	}
	parts := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		if text := textnorm.CleanText(cell.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// parseTierRow first tries the free-text form ("Ab 594 26,79 €"), then a
// two-column layout with the quantity in the first cell. The quantity cell
// may carry its own ab/bis keyword ("Bis 593"); ParseQuantity strips it.
func parseTierRow(row *goquery.Selection, text string) (int, string, bool) {
	if quantity, price, ok := textnorm.ParseTierLine(text); ok {
		return quantity, price, ok
	}

	cells := row.Find("td")
	if cells.Length() < 2 {
		return 0, "", false
	}
	quantity, ok := textnorm.ParseQuantity(cells.First().Text())
	if !ok {
		return 0, "", false
	}
	rest := textnorm.CleanText(cells.Slice(1, cells.Length()).Text())
	price, ok := textnorm.ParsePrice(rest)
	if !ok {
		return 0, "", false
	}
	return quantity, price, true
}

func isHeaderRow(text string) bool {
	if strings.ContainsAny(text, "0123456789") {
		return false
	}
	lowered := strings.ToLower(text)
	for _, keyword := range headerKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func (e *Extractor) hasRequestAffordance(doc *goquery.Document) bool {
	for _, selector := range requestAreaSelectors {
		area := doc.Find(selector).First()
		if area.Length() == 0 {
			continue
		}
		found := false
		area.Find("a, button, span, p").EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if textnorm.IsPriceOnRequest(el.Text()) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// firstMatch walks the strategies and returns the first non-empty cleaned
// value. Absence of every strategy is not an error, it just yields zero
// confidence for the field.
func firstMatch(doc *goquery.Document, strategies []strategy) (string, bool) {
	for _, s := range strategies {
		if value, ok := readStrategy(doc.Selection, s); ok {
			return value, true
		}
	}
	return "", false
}

func readStrategy(scope *goquery.Selection, s strategy) (string, bool) {
	el := scope.Find(s.selector).First()
	if el.Length() == 0 {
		return "", false
	}
	raw := ""
	if s.attr != "" {
		raw, _ = el.Attr(s.attr)
	}
	if raw == "" {
		raw = el.Text()
	}
	cleaned := textnorm.CleanText(raw)
	return cleaned, cleaned != ""
}
