package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// BatchStore provides an in-memory implementation for development/testing.
type BatchStore struct {
	mu       sync.RWMutex
	batches  map[string]extraction.Batch
	articles map[string][]extraction.ArticleRecord
}

// NewBatchStore constructs a BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches:  make(map[string]extraction.Batch),
		articles: make(map[string][]extraction.ArticleRecord),
	}
}

// CreateBatch stores a new batch in pending status.
func (s *BatchStore) CreateBatch(_ context.Context, batch extraction.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return extraction.ErrBatchExists
	}
	s.batches[batch.ID] = batch
	return nil
}

// UpdateBatchStatus updates the status and counters for a batch.
func (s *BatchStore) UpdateBatchStatus(
	_ context.Context,
	batchID string,
	status extraction.BatchStatus,
	errText string,
	counters extraction.BatchCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return extraction.ErrBatchNotFound
	}
	batch.Status = status
	batch.ErrorText = errText
	batch.Counters = counters
	now := time.Now().UTC()
	if status == extraction.BatchStatusRunning && batch.Started == nil {
		batch.Started = pointerTime(now)
	}
	if isTerminal(status) {
		batch.Finished = pointerTime(now)
	}
	s.batches[batchID] = batch
	return nil
}

// RecordArticle appends an article row for a batch.
func (s *BatchStore) RecordArticle(_ context.Context, record extraction.ArticleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[record.BatchID] = append(s.articles[record.BatchID], record)
	return nil
}

// GetBatch fetches a batch by ID.
func (s *BatchStore) GetBatch(_ context.Context, batchID string) (extraction.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return extraction.Batch{}, extraction.ErrBatchNotFound
	}
	return batch, nil
}

// ListArticles returns all recorded articles for a batch.
func (s *BatchStore) ListArticles(_ context.Context, batchID string) ([]extraction.ArticleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	articles := s.articles[batchID]
	out := make([]extraction.ArticleRecord, len(articles))
	copy(out, articles)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status extraction.BatchStatus) bool {
	switch status {
	case extraction.BatchStatusCompleted, extraction.BatchStatusFailed, extraction.BatchStatusCanceled:
		return true
	default:
		return false
	}
}
