package headless

import (
	"context"
	"errors"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Noop stands in when headless rendering is disabled; every call reports
// that no browser is available.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ extraction.FetchRequest) (extraction.FetchResponse, error) {
	return extraction.FetchResponse{}, errors.New("headless renderer not configured")
}

// Render returns an error since this is a stub implementation.
func (Noop) Render(
	_ context.Context,
	_ extraction.FetchRequest,
	_ map[extraction.ImageRole][]string,
) (extraction.FetchResponse, map[extraction.ImageRole][]byte, error) {
	return extraction.FetchResponse{}, nil, errors.New("headless renderer not configured")
}
