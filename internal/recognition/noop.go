package recognition

import (
	"context"
	"errors"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Noop implements Engine but always returns an error to indicate that
// image recognition is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop engine.
func NewNoop() *Noop {
	return &Noop{}
}

// Recognize returns an error since this is a stub implementation.
func (Noop) Recognize(_ context.Context, _ string, _ extraction.FieldName) (extraction.RecognizedText, error) {
	return extraction.RecognizedText{}, errors.New("recognition engine not configured")
}

// Close is a no-op.
func (Noop) Close(_ context.Context) error {
	return nil
}

// NoopFactory returns a factory producing Noop engines, used when
// recognition is disabled but the pipeline still expects a pool.
func NoopFactory() EngineFactory {
	return func(context.Context) (extraction.Engine, error) {
		return NewNoop(), nil
	}
}
