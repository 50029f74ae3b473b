package recognition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/reconcile"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// Mode selects how sidecar data and image recognition combine per article.
type Mode string

const (
	// ModeGapFill adopts the sidecar and runs recognition only for the
	// fields the sidecar left empty. This is the default.
	ModeGapFill Mode = "gap-fill"
	// ModeSidecarOnly adopts the sidecar as-is and skips recognition
	// whenever a sidecar is present.
	ModeSidecarOnly Mode = "sidecar-only"
)

// ParseMode resolves a configured mode name, defaulting to gap-fill.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeGapFill):
		return ModeGapFill, nil
	case string(ModeSidecarOnly):
		return ModeSidecarOnly, nil
	default:
		return "", fmt.Errorf("unknown reconcile mode %q", s)
	}
}

// Processor assembles the extraction result for one article folder: it
// adopts the capture stage's sidecar when present, recognizes whatever
// screenshots are still needed, and merges both channels.
type Processor struct {
	recognizer *Recognizer
	logger     *zap.Logger
}

// NewProcessor builds a processor over the recognizer.
func NewProcessor(recognizer *Recognizer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		recognizer: recognizer,
		logger:     logger.Named("processor"),
	}
}

// Process extracts product data from the article folder. It never returns
// an error; everything that went wrong is recorded on the result so batch
// accounting stays uniform.
func (p *Processor) Process(ctx context.Context, articleNumber, dir string, mode Mode) extraction.ExtractionResult {
	result := extraction.NewExtractionResult(articleNumber)
	result.Directory = dir

	domChannel := p.adoptSidecar(dir, &result)

	var recognitionChannel *reconcile.Channel
	if needed := neededFields(domChannel, mode); len(needed) > 0 {
		recognitionChannel = p.recognizeFields(ctx, dir, needed, &result)
	}

	merged, confidence, sources := reconcile.Merge(domChannel, recognitionChannel)
	result.Data = merged
	result.Confidence = confidence
	result.Source = sources
	result.Success = merged.ArticleNumber != "" && merged.ProductName != "" && len(result.Errors) == 0
	if !result.Success && len(result.Errors) == 0 {
		if recoveredAnything(merged) {
			result.AddError("record incomplete: article number and product name are required")
		} else {
			result.AddError("no product data could be recovered")
		}
	}
	return result
}

// adoptSidecar loads the capture stage's html-data.json when present. A
// corrupt sidecar is downgraded to a warning and the article proceeds on
// recognition alone.
func (p *Processor) adoptSidecar(dir string, result *extraction.ExtractionResult) *reconcile.Channel {
	if !extraction.HasSidecar(dir) {
		return nil
	}
	sidecar, err := extraction.ReadSidecar(dir)
	if err != nil {
		p.logger.Warn("sidecar unreadable, falling back to recognition",
			zap.String("dir", dir),
			zap.Error(err),
		)
		result.AddWarning(fmt.Sprintf("sidecar unreadable: %v", err))
		return nil
	}
	product, confidence := sidecar.Product()
	return &reconcile.Channel{
		Product:    product,
		Confidence: confidence,
		Source:     extraction.SourceDOMFallback,
	}
}

// neededFields decides which fields recognition must still recover. With
// no sidecar everything is needed; in sidecar-only mode nothing is; in
// gap-fill mode only the sidecar's empty slots are.
func neededFields(domChannel *reconcile.Channel, mode Mode) map[extraction.FieldName]bool {
	needed := make(map[extraction.FieldName]bool, 4)
	if domChannel == nil {
		for _, field := range extraction.RecognitionRoles() {
			needed[field] = true
		}
		return needed
	}
	if mode == ModeSidecarOnly {
		return nil
	}
	product := domChannel.Product
	if strings.TrimSpace(product.ProductName) == "" {
		needed[extraction.FieldProductName] = true
	}
	if strings.TrimSpace(product.Description) == "" {
		needed[extraction.FieldDescription] = true
	}
	if strings.TrimSpace(product.ArticleNumber) == "" {
		needed[extraction.FieldArticleNumber] = true
	}
	if product.PriceType == extraction.PriceTypeUnknown {
		needed[extraction.FieldPrice] = true
	}
	return needed
}

// recognizeFields runs the needed screenshot reads concurrently. A missing
// or empty image is a warning, not a failure: capture legitimately skips
// regions the page does not have.
func (p *Processor) recognizeFields(
	ctx context.Context,
	dir string,
	needed map[extraction.FieldName]bool,
	result *extraction.ExtractionResult,
) *reconcile.Channel {
	var mu sync.Mutex
	texts := make(map[extraction.FieldName]extraction.RecognizedText, len(needed))

	g, gctx := errgroup.WithContext(ctx)
	for role, field := range extraction.RecognitionRoles() {
		if !needed[field] {
			continue
		}
		imagePath := filepath.Join(dir, role.Filename())
		g.Go(func() error {
			recognized, err := p.recognizer.Recognize(gctx, imagePath, field)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, extraction.ErrImageMissing) || errors.Is(err, extraction.ErrImageEmpty) {
					result.AddWarning(fmt.Sprintf("%s: %v", field, err))
				} else {
					result.AddError(fmt.Sprintf("%s: %v", field, err))
				}
				return nil
			}
			texts[field] = recognized
			return nil
		})
	}
	_ = g.Wait()

	if len(texts) == 0 {
		return nil
	}
	return buildRecognitionChannel(texts)
}

// buildRecognitionChannel normalizes raw engine text into product fields.
func buildRecognitionChannel(texts map[extraction.FieldName]extraction.RecognizedText) *reconcile.Channel {
	product := extraction.MergedProduct{PriceType: extraction.PriceTypeUnknown}
	confidence := extraction.NewFieldConfidence()

	if recognized, ok := texts[extraction.FieldProductName]; ok {
		product.ProductName = textnorm.CleanText(recognized.Text)
		confidence[extraction.FieldProductName] = recognized.Confidence
	}
	if recognized, ok := texts[extraction.FieldDescription]; ok {
		product.Description = textnorm.CleanText(recognized.Text)
		confidence[extraction.FieldDescription] = recognized.Confidence
	}
	if recognized, ok := texts[extraction.FieldArticleNumber]; ok {
		product.ArticleNumber = textnorm.FixDigitConfusions(textnorm.CleanText(recognized.Text))
		confidence[extraction.FieldArticleNumber] = recognized.Confidence
	}
	if recognized, ok := texts[extraction.FieldPrice]; ok {
		applyPriceText(&product, recognized.Text)
		confidence[extraction.FieldPrice] = recognized.Confidence
		if product.PriceType == extraction.PriceTypeTiered {
			confidence[extraction.FieldTieredPrices] = recognized.Confidence
		}
	}

	return &reconcile.Channel{
		Product:    product,
		Confidence: confidence,
		Source:     extraction.SourceRecognition,
	}
}

// applyPriceText interprets the price region text the same way the DOM
// extractor reads a price block: tier rows first, then a plain price,
// then a price-on-request phrase.
func applyPriceText(product *extraction.MergedProduct, raw string) {
	if tiers, text := parseTierText(raw); len(tiers) > 0 {
		product.PriceType = extraction.PriceTypeTiered
		product.TieredPrices = tiers
		product.TieredPricesText = text
		return
	}
	if price, ok := textnorm.ParsePrice(raw); ok {
		product.PriceType = extraction.PriceTypeNormal
		product.Price = &price
		return
	}
	if textnorm.IsPriceOnRequest(raw) {
		product.PriceType = extraction.PriceTypeOnRequest
		return
	}
	product.PriceType = extraction.PriceTypeUnknown
}

func parseTierText(raw string) ([]extraction.TieredPrice, string) {
	var tiers []extraction.TieredPrice
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		quantity, price, ok := textnorm.ParseTierLine(line)
		if !ok {
			continue
		}
		tiers = append(tiers, extraction.TieredPrice{Quantity: quantity, Price: price})
		lines = append(lines, textnorm.CleanText(line))
	}
	if len(tiers) == 0 {
		return nil, ""
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Quantity < tiers[j].Quantity })
	return tiers, strings.Join(lines, "\n")
}

func recoveredAnything(product extraction.MergedProduct) bool {
	return product.ProductName != "" ||
		product.Description != "" ||
		product.ArticleNumber != "" ||
		product.PriceType != extraction.PriceTypeUnknown
}
