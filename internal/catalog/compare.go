package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/artikelwerk/hybrid-extractor/internal/identity"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// priceTolerance is the relative deviation between the list price and
// the shop price that still counts as equal.
const priceTolerance = 0.005

// MissingArticle is a catalog entry no shop record matched.
type MissingArticle struct {
	ArticleNumber string `json:"articleNumber"`
	Matchcode     string `json:"matchcode,omitempty"`
	Row           int    `json:"row"`
}

// PriceMismatch is a matched article whose shop price strays from the
// list price.
type PriceMismatch struct {
	ArticleNumber string  `json:"articleNumber"`
	ListPrice     string  `json:"listPrice"`
	ShopPrice     string  `json:"shopPrice"`
	DeltaPercent  float64 `json:"deltaPercent"`
}

// Report is the three-way comparison between the master list and the
// extracted shop records.
type Report struct {
	TotalCatalog    int     `json:"totalInCatalog"`
	TotalShop       int     `json:"totalInShop"`
	InBoth          int     `json:"foundInBoth"`
	CoveragePercent float64 `json:"coveragePercent"`
	// MissingFromShop lists catalog articles absent from the shop.
	MissingFromShop []MissingArticle `json:"missingFromShop"`
	// ShopOnly lists shop articles with no catalog entry; those are the
	// candidates for the SHOP_ONLY category.
	ShopOnly []string `json:"shopOnly"`
	// PriceMismatches lists matched articles whose unit price deviates
	// beyond the tolerance.
	PriceMismatches []PriceMismatch `json:"priceMismatches"`
}

// Compare matches shop records against the catalog, exact article
// numbers first and base numbers second, and reports what is missing on
// either side plus the price deviations among the matches.
func Compare(catalog Catalog, records []store.ProductRecord) Report {
	numbers := catalog.Numbers()
	matched := make(map[string]bool, len(numbers))

	report := Report{
		TotalCatalog: len(catalog.Entries),
		TotalShop:    len(records),
	}

	for _, record := range records {
		match := identity.MatchExisting(record.ArticleNumber, numbers)
		if match.Kind == identity.MatchNone {
			report.ShopOnly = append(report.ShopOnly, record.ArticleNumber)
			continue
		}
		matched[match.Identifier] = true

		entry, ok := catalog.Lookup(match.Identifier)
		if !ok {
			continue
		}
		if mismatch, ok := comparePrices(entry, record); ok {
			report.PriceMismatches = append(report.PriceMismatches, mismatch)
		}
	}

	for _, entry := range catalog.Entries {
		if matched[entry.ArticleNumber] {
			continue
		}
		report.MissingFromShop = append(report.MissingFromShop, MissingArticle{
			ArticleNumber: entry.ArticleNumber,
			Matchcode:     entry.Matchcode,
			Row:           entry.Row,
		})
	}

	report.InBoth = len(matched)
	if report.TotalCatalog > 0 {
		report.CoveragePercent = float64(report.InBoth) / float64(report.TotalCatalog) * 100
	}

	sort.Slice(report.MissingFromShop, func(i, j int) bool {
		return report.MissingFromShop[i].ArticleNumber < report.MissingFromShop[j].ArticleNumber
	})
	sort.Strings(report.ShopOnly)
	sort.Slice(report.PriceMismatches, func(i, j int) bool {
		return report.PriceMismatches[i].ArticleNumber < report.PriceMismatches[j].ArticleNumber
	})
	return report
}

func comparePrices(entry Entry, record store.ProductRecord) (PriceMismatch, bool) {
	schedule := entry.PriceSchedule()
	if schedule.Price == "" || record.Price == nil {
		return PriceMismatch{}, false
	}
	listPrice, err := strconv.ParseFloat(schedule.Price, 64)
	if err != nil || listPrice <= 0 {
		return PriceMismatch{}, false
	}
	shopPrice, err := strconv.ParseFloat(*record.Price, 64)
	if err != nil {
		return PriceMismatch{}, false
	}
	delta := math.Abs(shopPrice-listPrice) / listPrice
	if delta <= priceTolerance {
		return PriceMismatch{}, false
	}
	return PriceMismatch{
		ArticleNumber: entry.ArticleNumber,
		ListPrice:     schedule.Price,
		ShopPrice:     *record.Price,
		DeltaPercent:  delta * 100,
	}, true
}

// MarkShopOnly reclassifies every shop-only article from the report and
// returns how many were flagged. Records that vanished since the listing
// are skipped.
func MarkShopOnly(ctx context.Context, repo store.RecordRepository, report Report) (int, error) {
	marked := 0
	for _, number := range report.ShopOnly {
		err := repo.SetCategory(ctx, number, store.CategoryShopOnly)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return marked, fmt.Errorf("mark %s: %w", number, err)
		}
		marked++
	}
	return marked, nil
}
