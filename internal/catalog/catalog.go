// Package catalog imports the master Excel price list and compares it
// against the extracted shop records.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// Column headers of the master price list as the ERP exports them.
const (
	colArticleNumber = "Artikelnummer"
	colMatchcode     = "Matchcode"
	colDescription   = "Beschreibung"
	colPricePer      = "Preis pro"
	colUnit          = "Einheit"
)

var priceColumns = [4]string{"Preis 1", "Preis 2", "Preis 3", "Preis 4"}

// Entry is one row of the master price list.
type Entry struct {
	ArticleNumber string
	Matchcode     string
	Description   string
	// Prices holds the four price columns normalized to dot-decimal
	// strings; a slot is empty when the cell is blank or not a price.
	Prices   [4]string
	PricePer string
	Unit     string
	// PriceOnRequest is set when a price cell carries the shop's
	// price-on-request wording instead of a number.
	PriceOnRequest bool
	// Row is the 1-based Excel row the entry came from.
	Row int
}

// Catalog is the parsed master price list.
type Catalog struct {
	Path    string
	Entries []Entry

	index map[string]int
}

// Lookup returns the entry for an article number.
func (c Catalog) Lookup(articleNumber string) (Entry, bool) {
	at, ok := c.index[articleNumber]
	if !ok {
		return Entry{}, false
	}
	return c.Entries[at], true
}

// Numbers returns the article numbers in sheet order.
func (c Catalog) Numbers() []string {
	numbers := make([]string, len(c.Entries))
	for i, entry := range c.Entries {
		numbers[i] = entry.ArticleNumber
	}
	return numbers
}

// ImportXLSX parses the master price list. The first sheet is read; the
// header row names the columns, with the article number falling back to
// column A when no Artikelnummer header is present. Rows without an
// article number are skipped and repeated article numbers keep the last
// row.
func ImportXLSX(path string) (Catalog, error) {
	file, err := xlsx.OpenFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	if len(file.Sheets) == 0 {
		return Catalog{}, fmt.Errorf("catalog %s has no sheets", path)
	}
	sheet := file.Sheets[0]
	if len(sheet.Rows) < 2 {
		return Catalog{}, fmt.Errorf("catalog sheet %q has no data rows", sheet.Name)
	}

	columns := resolveColumns(sheet.Rows[0])
	catalog := Catalog{Path: path, index: make(map[string]int)}
	for i, row := range sheet.Rows[1:] {
		entry, ok := buildEntry(row, columns, i+2)
		if !ok {
			continue
		}
		if at, seen := catalog.index[entry.ArticleNumber]; seen {
			catalog.Entries[at] = entry
			continue
		}
		catalog.index[entry.ArticleNumber] = len(catalog.Entries)
		catalog.Entries = append(catalog.Entries, entry)
	}
	if len(catalog.Entries) == 0 {
		return Catalog{}, fmt.Errorf("catalog sheet %q yielded no entries", sheet.Name)
	}
	return catalog, nil
}

type columnMap struct {
	article     int
	matchcode   int
	description int
	prices      [4]int
	pricePer    int
	unit        int
}

func resolveColumns(header *xlsx.Row) columnMap {
	columns := columnMap{
		article:     0,
		matchcode:   -1,
		description: -1,
		prices:      [4]int{-1, -1, -1, -1},
		pricePer:    -1,
		unit:        -1,
	}
	for i, cell := range header.Cells {
		name := textnorm.CollapseWhitespace(cell.String())
		switch {
		case strings.EqualFold(name, colArticleNumber):
			columns.article = i
		case strings.EqualFold(name, colMatchcode):
			columns.matchcode = i
		case strings.EqualFold(name, colDescription):
			columns.description = i
		case strings.EqualFold(name, colPricePer):
			columns.pricePer = i
		case strings.EqualFold(name, colUnit):
			columns.unit = i
		default:
			for j, price := range priceColumns {
				if strings.EqualFold(name, price) {
					columns.prices[j] = i
				}
			}
		}
	}
	return columns
}

func buildEntry(row *xlsx.Row, columns columnMap, excelRow int) (Entry, bool) {
	number := cellAt(row, columns.article)
	if number == "" {
		return Entry{}, false
	}
	entry := Entry{
		ArticleNumber: number,
		Matchcode:     cellAt(row, columns.matchcode),
		Description:   cellAt(row, columns.description),
		PricePer:      cellAt(row, columns.pricePer),
		Unit:          cellAt(row, columns.unit),
		Row:           excelRow,
	}
	for i, col := range columns.prices {
		raw := cellAt(row, col)
		if raw == "" {
			continue
		}
		if textnorm.IsPriceOnRequest(raw) {
			entry.PriceOnRequest = true
			continue
		}
		if price, ok := priceCell(raw); ok {
			entry.Prices[i] = price
		}
	}
	return entry, true
}

func cellAt(row *xlsx.Row, index int) string {
	if index < 0 || index >= len(row.Cells) {
		return ""
	}
	return textnorm.CollapseWhitespace(textnorm.CleanText(row.Cells[index].String()))
}

// priceCell normalizes one price cell. Numeric cells surface as plain
// "15" or "26.79"; typed cells can carry the German comma form or a
// currency sign.
func priceCell(raw string) (string, bool) {
	if price, ok := textnorm.ParsePrice(raw); ok {
		return price, true
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(raw, "€", ""), ",", "."))
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value <= 0 || value >= textnorm.PriceCeiling {
		return "", false
	}
	return strconv.FormatFloat(value, 'f', 2, 64), true
}

// Schedule is the price model the four price columns imply.
type Schedule struct {
	Type  extraction.PriceType
	Price string
	Tiers []extraction.TieredPrice
	Text  string
	// Verified is false for tier schedules: the export carries the tier
	// prices but not their quantity thresholds, so someone has to fill
	// those in by hand.
	Verified bool
}

// PriceSchedule classifies the entry's price columns: price-on-request
// wording or an all-empty row means on request, a later column with a
// differing positive price opens a tier schedule, anything else is a
// plain unit price.
func (e Entry) PriceSchedule() Schedule {
	if e.PriceOnRequest {
		return Schedule{Type: extraction.PriceTypeOnRequest, Text: "Auf Anfrage", Verified: true}
	}

	values := [4]float64{}
	filled := false
	for i, price := range e.Prices {
		if price == "" {
			continue
		}
		value, err := strconv.ParseFloat(price, 64)
		if err != nil || value <= 0 {
			continue
		}
		values[i] = value
		filled = true
	}
	if !filled {
		return Schedule{Type: extraction.PriceTypeOnRequest, Text: "Auf Anfrage", Verified: true}
	}

	base := e.Prices[0]
	if values[0] == 0 {
		for i, value := range values {
			if value > 0 {
				base = e.Prices[i]
				break
			}
		}
	}

	var tiers []extraction.TieredPrice
	for i := 1; i < len(values); i++ {
		if values[i] > 0 && values[i] != values[i-1] {
			tiers = append(tiers, extraction.TieredPrice{Price: e.Prices[i]})
		}
	}
	if len(tiers) > 0 {
		return Schedule{Type: extraction.PriceTypeTiered, Price: base, Tiers: tiers}
	}
	return Schedule{Type: extraction.PriceTypeNormal, Price: base, Verified: true}
}

// ToRecord converts the entry into the product record the import upserts.
// Master-list data is authoritative, so populated fields carry full
// confidence.
func (e Entry) ToRecord(now time.Time) store.ProductRecord {
	schedule := e.PriceSchedule()

	confidence := extraction.NewFieldConfidence()
	confidence[extraction.FieldArticleNumber] = 1
	if e.Matchcode != "" {
		confidence[extraction.FieldProductName] = 1
	}
	if e.Description != "" {
		confidence[extraction.FieldDescription] = 1
	}
	if schedule.Price != "" || schedule.Type == extraction.PriceTypeOnRequest {
		confidence[extraction.FieldPrice] = 1
	}
	if len(schedule.Tiers) > 0 {
		confidence[extraction.FieldTieredPrices] = 1
	}

	record := store.ProductRecord{
		ArticleNumber:    e.ArticleNumber,
		ProductName:      e.Matchcode,
		Description:      e.Description,
		PriceType:        schedule.Type,
		TieredPrices:     schedule.Tiers,
		TieredPricesText: schedule.Text,
		Currency:         "EUR",
		Category:         store.CategoryFromExcel,
		Verified:         schedule.Verified,
		Confidence:       confidence,
		ExtractedAt:      now,
		UpdatedAt:        now,
	}
	if schedule.Price != "" {
		price := schedule.Price
		record.Price = &price
	}
	return record
}

// ImportRecords upserts every catalog entry through the record repository
// and returns how many landed before the first failure.
func ImportRecords(ctx context.Context, repo store.RecordRepository, catalog Catalog, now time.Time) (int, error) {
	for i, entry := range catalog.Entries {
		if err := repo.UpsertRecord(ctx, entry.ToRecord(now)); err != nil {
			return i, fmt.Errorf("upsert %s: %w", entry.ArticleNumber, err)
		}
	}
	return len(catalog.Entries), nil
}
