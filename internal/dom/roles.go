package dom

import "github.com/artikelwerk/hybrid-extractor/internal/extraction"

// productImageSelectors locate the primary product photo. The extractor
// never reads it, but capture clips it into the article folder.
var productImageSelectors = []string{
	".gallery-slider-item img",
	".product-detail-media img",
	`[itemprop="image"]`,
	".product-image img",
}

// RoleSelectors maps every screenshot role to the selectors the
// extractor reads the matching field from, in the same priority order,
// so a clipped image shows exactly what the DOM pass saw.
func RoleSelectors() map[extraction.ImageRole][]string {
	return map[extraction.ImageRole][]string{
		extraction.ImageTitle:        selectorsOf(nameStrategies),
		extraction.ImageDescription:  selectorsOf(descriptionStrategies),
		extraction.ImagePrice:        selectorsOf(priceStrategies),
		extraction.ImagePriceTable:   append([]string(nil), tierTableSelectors...),
		extraction.ImageIdentifier:   selectorsOf(articleNumberStrategies),
		extraction.ImageProductImage: append([]string(nil), productImageSelectors...),
	}
}

func selectorsOf(strategies []strategy) []string {
	selectors := make([]string, 0, len(strategies))
	for _, s := range strategies {
		selectors = append(selectors, s.selector)
	}
	return selectors
}
