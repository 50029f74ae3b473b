package extraction

import (
	"context"
	"time"
)

// BatchStore persists batch and article-result metadata.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch Batch) error
	UpdateBatchStatus(ctx context.Context, batchID string, status BatchStatus, errText string, counters BatchCounters) error
	RecordArticle(ctx context.Context, record ArticleRecord) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	ListArticles(ctx context.Context, batchID string) ([]ArticleRecord, error)
}

// ArtifactStore writes derived artifacts (sidecars, screenshots) and returns a URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Engine performs text recognition against a single cropped image.
// Implementations are stateless between calls so a pool can hand the
// same engine to different articles.
type Engine interface {
	Recognize(ctx context.Context, imagePath string, hint FieldName) (RecognizedText, error)
	Close(ctx context.Context) error
}

// Fetcher fetches a product page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless render is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for extraction batches.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for caching and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a batch ready to run.
type QueueItem struct {
	BatchID   string
	Params    BatchParameters
	Attempt   int
	Submitted int64
}
