package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SidecarFilename is the DOM extractor's output file inside an article folder.
const SidecarFilename = "html-data.json"

// Sidecar is the JSON document the capture service writes next to an
// article's screenshots. Its shape is the sole contract between the DOM
// extractor and the recognition extractor and must stay stable.
type Sidecar struct {
	ProductName         string          `json:"productName"`
	Description         string          `json:"description"`
	ArticleNumber       string          `json:"articleNumber"`
	Price               *string         `json:"price"`
	PriceType           PriceType       `json:"priceType"`
	TieredPrices        []TieredPrice   `json:"tieredPrices,omitempty"`
	TieredPricesText    string          `json:"tieredPricesText,omitempty"`
	Confidence          FieldConfidence `json:"confidence"`
	ExtractionTimestamp time.Time       `json:"extractionTimestamp"`
}

// NewSidecar builds a sidecar document from a DOM extraction output.
func NewSidecar(product MergedProduct, confidence FieldConfidence, extractedAt time.Time) Sidecar {
	return Sidecar{
		ProductName:         product.ProductName,
		Description:         product.Description,
		ArticleNumber:       product.ArticleNumber,
		Price:               product.Price,
		PriceType:           product.PriceType,
		TieredPrices:        product.TieredPrices,
		TieredPricesText:    product.TieredPricesText,
		Confidence:          confidence.Clone(),
		ExtractionTimestamp: extractedAt,
	}
}

// Product converts the sidecar back into a merged product plus its
// confidence map. Unknown price types and missing confidence slots are
// normalized so downstream invariants hold.
func (s Sidecar) Product() (MergedProduct, FieldConfidence) {
	product := MergedProduct{
		ArticleNumber:    s.ArticleNumber,
		ProductName:      s.ProductName,
		Description:      s.Description,
		Price:            s.Price,
		PriceType:        s.PriceType,
		TieredPrices:     s.TieredPrices,
		TieredPricesText: s.TieredPricesText,
	}
	switch product.PriceType {
	case PriceTypeNormal, PriceTypeTiered, PriceTypeOnRequest:
	default:
		product.PriceType = PriceTypeUnknown
	}
	if product.PriceType != PriceTypeNormal {
		product.Price = nil
	}
	if product.PriceType != PriceTypeTiered {
		product.TieredPrices = nil
	}
	confidence := NewFieldConfidence()
	for field, score := range s.Confidence {
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		confidence[field] = score
	}
	return product, confidence
}

// HasSidecar reports whether the article folder carries a sidecar file.
func HasSidecar(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, SidecarFilename))
	return err == nil && !info.IsDir()
}

// ReadSidecar loads and decodes the sidecar from the article folder.
// A missing file surfaces as os.ErrNotExist; undecodable content is
// wrapped with ErrSidecarCorrupt so callers can fall back to full
// recognition without retrying.
func ReadSidecar(dir string) (Sidecar, error) {
	raw, err := os.ReadFile(filepath.Join(dir, SidecarFilename))
	if err != nil {
		return Sidecar{}, fmt.Errorf("read sidecar: %w", err)
	}
	var sidecar Sidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		return Sidecar{}, fmt.Errorf("%w: %v", ErrSidecarCorrupt, err)
	}
	return sidecar, nil
}

// WriteSidecar persists the sidecar atomically (temp file plus rename) so
// a concurrent reader never observes a partially written document.
func WriteSidecar(dir string, sidecar Sidecar) error {
	raw, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	tmp, err := os.CreateTemp(dir, SidecarFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("create sidecar temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write sidecar temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close sidecar temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, SidecarFilename)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename sidecar: %w", err)
	}
	return nil
}
