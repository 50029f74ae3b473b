// Package reconcile merges the DOM and recognition extraction outputs for
// one article into a single product record with per-field source tags.
package reconcile

import (
	"strings"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Channel is one extraction channel's output for an article. Source tags
// every value the channel contributed: dom for live page extraction,
// dom-fallback for sidecar-adopted data, recognition for engine output.
type Channel struct {
	Product    extraction.MergedProduct
	Confidence extraction.FieldConfidence
	Source     extraction.DataSource
}

// Merge applies the precedence rule: a DOM-sourced field with any
// non-empty value wins outright with confidence forced to 1.0; a field
// absent from DOM is filled from recognition with the engine's own
// confidence; a field absent from both stays empty with confidence 0 and
// source none. This is a deliberate asymmetry rather than a weighted
// average, since DOM extraction is structurally exact whenever it fires.
// Either channel may be nil. The returned record always satisfies the
// price invariants: price non-nil only for priceType normal, tiers
// non-empty only for priceType tiered.
func Merge(dom, recognition *Channel) (extraction.MergedProduct, extraction.FieldConfidence, extraction.SourceMap) {
	product := extraction.MergedProduct{PriceType: extraction.PriceTypeUnknown}
	confidence := extraction.NewFieldConfidence()
	sources := extraction.NewSourceMap()

	mergeField(extraction.FieldProductName, dom, recognition, confidence, sources,
		func(c *Channel) string { return c.Product.ProductName },
		func(v string) { product.ProductName = v })
	mergeField(extraction.FieldDescription, dom, recognition, confidence, sources,
		func(c *Channel) string { return c.Product.Description },
		func(v string) { product.Description = v })
	mergeField(extraction.FieldArticleNumber, dom, recognition, confidence, sources,
		func(c *Channel) string { return c.Product.ArticleNumber },
		func(v string) { product.ArticleNumber = v })

	mergePriceBlock(dom, recognition, &product, confidence, sources)

	normalize(&product, confidence, sources)
	return product, confidence, sources
}

// mergeField fills one text slot from the first channel that has a
// non-empty value, DOM first.
func mergeField(
	field extraction.FieldName,
	dom, recognition *Channel,
	confidence extraction.FieldConfidence,
	sources extraction.SourceMap,
	get func(*Channel) string,
	set func(string),
) {
	if dom != nil {
		if value := strings.TrimSpace(get(dom)); value != "" {
			set(value)
			confidence[field] = 1.0
			sources[field] = dom.Source
			return
		}
	}
	if recognition != nil {
		if value := strings.TrimSpace(get(recognition)); value != "" {
			set(value)
			confidence[field] = clamp(recognition.Confidence[field])
			sources[field] = recognition.Source
		}
	}
}

// mergePriceBlock moves price, priceType, tieredPrices and the raw
// schedule text together: mixing a price type from one channel with tier
// rows from the other would fabricate a record neither channel saw.
func mergePriceBlock(
	dom, recognition *Channel,
	product *extraction.MergedProduct,
	confidence extraction.FieldConfidence,
	sources extraction.SourceMap,
) {
	switch {
	case dom != nil && dom.Product.PriceType != extraction.PriceTypeUnknown:
		copyPriceBlock(product, dom.Product)
		confidence[extraction.FieldPrice] = 1.0
		sources[extraction.FieldPrice] = dom.Source
		if len(product.TieredPrices) > 0 {
			confidence[extraction.FieldTieredPrices] = 1.0
			sources[extraction.FieldTieredPrices] = dom.Source
		}
	case recognition != nil && recognition.Product.PriceType != extraction.PriceTypeUnknown:
		copyPriceBlock(product, recognition.Product)
		confidence[extraction.FieldPrice] = clamp(recognition.Confidence[extraction.FieldPrice])
		sources[extraction.FieldPrice] = recognition.Source
		if len(product.TieredPrices) > 0 {
			confidence[extraction.FieldTieredPrices] = clamp(recognition.Confidence[extraction.FieldTieredPrices])
			sources[extraction.FieldTieredPrices] = recognition.Source
		}
	}
}

func copyPriceBlock(dst *extraction.MergedProduct, src extraction.MergedProduct) {
	dst.PriceType = src.PriceType
	dst.TieredPricesText = src.TieredPricesText
	if src.Price != nil {
		price := *src.Price
		dst.Price = &price
	}
	if len(src.TieredPrices) > 0 {
		dst.TieredPrices = append([]extraction.TieredPrice(nil), src.TieredPrices...)
	}
}

// normalize enforces the record invariants at the reconciliation boundary
// so no downstream consumer ever sees a contradictory price block.
func normalize(product *extraction.MergedProduct, confidence extraction.FieldConfidence, sources extraction.SourceMap) {
	if product.PriceType == extraction.PriceTypeNormal && product.Price == nil {
		product.PriceType = extraction.PriceTypeUnknown
	}
	if product.PriceType == extraction.PriceTypeTiered && len(product.TieredPrices) == 0 {
		product.PriceType = extraction.PriceTypeUnknown
	}
	if product.PriceType != extraction.PriceTypeNormal {
		product.Price = nil
	}
	if product.PriceType != extraction.PriceTypeTiered {
		product.TieredPrices = nil
	}
	if product.PriceType == extraction.PriceTypeUnknown {
		confidence[extraction.FieldPrice] = 0
		sources[extraction.FieldPrice] = extraction.SourceNone
	}
	if len(product.TieredPrices) == 0 {
		confidence[extraction.FieldTieredPrices] = 0
		sources[extraction.FieldTieredPrices] = extraction.SourceNone
	}
	for _, field := range extraction.Fields() {
		confidence[field] = clamp(confidence[field])
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
