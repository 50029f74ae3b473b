// Package storage selects and builds the configured artifact store backend.
// The store abstraction keeps the pipeline independent of where derived
// artifacts (result JSON, sidecars, screenshots) end up.
package storage

import (
	"context"
	"fmt"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/storage/gcs"
	"github.com/artikelwerk/hybrid-extractor/internal/storage/local"
	"github.com/artikelwerk/hybrid-extractor/internal/storage/memory"
)

// Artifact store backends selectable via artifacts.backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config selects and parameterizes the artifact store backend.
type Config struct {
	Backend string
	BaseDir string
	Bucket  string
	Prefix  string
}

// NewArtifactStore builds the configured artifact store. The returned cleanup
// releases backend resources once the store is no longer needed.
func NewArtifactStore(ctx context.Context, cfg Config, logger *zap.Logger) (extraction.ArtifactStore, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return memory.NewBlobStore(), func() {}, nil
	case BackendLocal:
		blobStore, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local artifact store: %w", err)
		}
		return blobStore, func() {}, nil
	case BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		// fail at startup when the bucket is missing or inaccessible
		if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close gcs client after failed bucket check", zap.Error(closeErr))
			}
			return nil, nil, fmt.Errorf("check gcs bucket %q: %w", cfg.Bucket, err)
		}
		blobStore, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close gcs client", zap.Error(closeErr))
			}
			return nil, nil, fmt.Errorf("gcs artifact store: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		}
		return blobStore, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}
