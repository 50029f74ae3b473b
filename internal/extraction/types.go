// Package extraction defines core types shared across subsystems.
package extraction

import (
	"net/http"
	"time"
)

// FieldName identifies one of the product fields the pipeline extracts.
type FieldName string

// Product fields recovered by both extraction channels.
const (
	FieldProductName   FieldName = "productName"
	FieldDescription   FieldName = "description"
	FieldArticleNumber FieldName = "articleNumber"
	FieldPrice         FieldName = "price"
	FieldTieredPrices  FieldName = "tieredPrices"
)

// Fields returns the known product fields in canonical order.
func Fields() []FieldName {
	return []FieldName{
		FieldProductName,
		FieldDescription,
		FieldArticleNumber,
		FieldPrice,
		FieldTieredPrices,
	}
}

// DataSource tags which extraction channel produced a field value.
type DataSource string

// Source values attached to each merged field.
const (
	SourceDOM         DataSource = "dom"
	SourceRecognition DataSource = "recognition"
	SourceDOMFallback DataSource = "dom-fallback"
	SourceNone        DataSource = "none"
)

// PriceType classifies how a product is priced.
type PriceType string

// Price classifications produced by the DOM and recognition extractors.
const (
	PriceTypeNormal    PriceType = "normal"
	PriceTypeTiered    PriceType = "tiered"
	PriceTypeOnRequest PriceType = "price-on-request"
	PriceTypeUnknown   PriceType = "unknown"
)

// FieldConfidence maps each product field to a score in [0,1].
type FieldConfidence map[FieldName]float64

// NewFieldConfidence returns a confidence map with every known field at zero.
func NewFieldConfidence() FieldConfidence {
	confidence := make(FieldConfidence, len(Fields()))
	for _, field := range Fields() {
		confidence[field] = 0
	}
	return confidence
}

// Clone returns a copy with every known field present.
func (c FieldConfidence) Clone() FieldConfidence {
	clone := NewFieldConfidence()
	for field, score := range c {
		clone[field] = score
	}
	return clone
}

// SourceMap tags each product field with the channel that produced it.
type SourceMap map[FieldName]DataSource

// NewSourceMap returns a source map with every known field set to none.
func NewSourceMap() SourceMap {
	sources := make(SourceMap, len(Fields()))
	for _, field := range Fields() {
		sources[field] = SourceNone
	}
	return sources
}

// Clone returns a copy with every known field present.
func (s SourceMap) Clone() SourceMap {
	clone := NewSourceMap()
	for field, source := range s {
		clone[field] = source
	}
	return clone
}

// TieredPrice is one row of a quantity-dependent price schedule.
type TieredPrice struct {
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// MergedProduct is the reconciled product record for one article.
// Price is non-nil only when PriceType is normal; TieredPrices is
// non-empty only when PriceType is tiered.
type MergedProduct struct {
	ArticleNumber    string        `json:"articleNumber"`
	ProductName      string        `json:"productName"`
	Description      string        `json:"description,omitempty"`
	Price            *string       `json:"price"`
	PriceType        PriceType     `json:"priceType"`
	TieredPrices     []TieredPrice `json:"tieredPrices,omitempty"`
	TieredPricesText string        `json:"tieredPricesText,omitempty"`
}

// ExtractionResult aggregates everything the pipeline produced for one article.
type ExtractionResult struct {
	ArticleNumber string          `json:"articleNumber"`
	Success       bool            `json:"success"`
	Data          MergedProduct   `json:"data"`
	Confidence    FieldConfidence `json:"confidence"`
	Source        SourceMap       `json:"source"`
	Errors        []string        `json:"errors,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Directory     string          `json:"directory,omitempty"`
}

// NewExtractionResult returns an empty result for the article with all
// confidence and source slots initialized.
func NewExtractionResult(articleNumber string) ExtractionResult {
	return ExtractionResult{
		ArticleNumber: articleNumber,
		Data: MergedProduct{
			ArticleNumber: articleNumber,
			PriceType:     PriceTypeUnknown,
		},
		Confidence: NewFieldConfidence(),
		Source:     NewSourceMap(),
	}
}

// AddError appends a per-article error message.
func (r *ExtractionResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning appends a per-article warning message.
func (r *ExtractionResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// BatchStatus represents the lifecycle state of an extraction batch.
type BatchStatus string

// Batch status values persisted in the batch store.
const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCanceled  BatchStatus = "canceled"
)

// BatchParameters captures per-batch configuration knobs requested by the client.
type BatchParameters struct {
	Root          string            `json:"root"`
	Articles      []string          `json:"articles,omitempty"`
	BatchSize     int               `json:"batch_size,omitempty" mapstructure:"batch_size"`
	ReconcileMode string            `json:"reconcile_mode,omitempty" mapstructure:"reconcile_mode"`
	Profile       string            `json:"profile,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Batch represents the metadata persisted for each submitted extraction run.
type Batch struct {
	ID         string          `json:"id"`
	Status     BatchStatus     `json:"status"`
	Submitted  time.Time       `json:"submitted_at"`
	Started    *time.Time      `json:"started_at,omitempty"`
	Finished   *time.Time      `json:"finished_at,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`
	Parameters BatchParameters `json:"parameters"`
	Counters   BatchCounters   `json:"counters"`
}

// BatchCounters tracks per-article outcome totals for one batch.
type BatchCounters struct {
	Processed    int `json:"processed"`
	Successful   int `json:"successful"`
	Failed       int `json:"failed"`
	ReviewNeeded int `json:"review_needed"`
	Skipped      int `json:"skipped"`
	Duplicates   int `json:"duplicates"`
}

// ArticleRecord is persisted for each processed article.
type ArticleRecord struct {
	BatchID         string          `json:"batch_id"`
	ArticleNumber   string          `json:"article_number"`
	Success         bool            `json:"success"`
	Data            MergedProduct   `json:"data"`
	Confidence      FieldConfidence `json:"confidence"`
	Source          SourceMap       `json:"source"`
	ConfidenceScore float64         `json:"confidence_score"`
	RequiresReview  bool            `json:"requires_review"`
	ReviewReasons   []string        `json:"review_reasons,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	Directory       string          `json:"directory,omitempty"`
	ArtifactURI     string          `json:"artifact_uri,omitempty"`
	ProcessedAt     time.Time       `json:"processed_at"`
	DurationMs      int64           `json:"duration_ms"`
}

// BatchResult is returned by the API result endpoint.
type BatchResult struct {
	Batch    Batch
	Articles []ArticleRecord
}

// ImageRole names the cropped screenshot files captured per article folder.
type ImageRole string

// Image roles written by the capture service. The first four feed the
// recognition extractor; price-table and product-image are kept for
// auditing and label rendering.
const (
	ImageTitle        ImageRole = "title"
	ImageDescription  ImageRole = "description"
	ImagePrice        ImageRole = "price"
	ImagePriceTable   ImageRole = "price-table"
	ImageIdentifier   ImageRole = "identifier"
	ImageProductImage ImageRole = "product-image"
)

// Filename returns the on-disk name of the role inside an article folder.
func (r ImageRole) Filename() string {
	return string(r) + ".png"
}

// RecognitionRoles lists the image roles the recognition extractor reads,
// paired with the product field each one recovers.
func RecognitionRoles() map[ImageRole]FieldName {
	return map[ImageRole]FieldName{
		ImageTitle:       FieldProductName,
		ImageDescription: FieldDescription,
		ImagePrice:       FieldPrice,
		ImageIdentifier:  FieldArticleNumber,
	}
}

// RecognizedText is the result returned by an Engine implementation.
type RecognizedText struct {
	Text       string
	Confidence float64
	Duration   time.Duration
}

// FetchRequest captures everything needed to fetch a product page.
type FetchRequest struct {
	ArticleNumber string
	URL           string
	UseHeadless   bool
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
