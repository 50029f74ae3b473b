package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockArtifactStore is a mock implementation of extraction.ArtifactStore
// for testing.
type MockArtifactStore struct {
	mock.Mock
}

// PutObject is the mock implementation of the PutObject method.
func (m *MockArtifactStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
