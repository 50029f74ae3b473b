package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// MockQueue is a mock implementation of extraction.Queue for testing.
type MockQueue struct {
	mock.Mock
}

// Enqueue is the mock implementation of the Enqueue method.
func (m *MockQueue) Enqueue(ctx context.Context, item extraction.QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0) //nolint:wrapcheck
}

// Dequeue is the mock implementation of the Dequeue method.
func (m *MockQueue) Dequeue(ctx context.Context) (extraction.QueueItem, error) {
	args := m.Called(ctx)
	item, _ := args.Get(0).(extraction.QueueItem)
	return item, args.Error(1) //nolint:wrapcheck
}
