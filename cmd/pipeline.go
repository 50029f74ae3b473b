package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/capture"
	"github.com/artikelwerk/hybrid-extractor/internal/clock/system"
	"github.com/artikelwerk/hybrid-extractor/internal/config"
	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	collyfetcher "github.com/artikelwerk/hybrid-extractor/internal/fetcher/colly"
	headlessfetcher "github.com/artikelwerk/hybrid-extractor/internal/fetcher/headless"
	"github.com/artikelwerk/hybrid-extractor/internal/hash/sha256"
	"github.com/artikelwerk/hybrid-extractor/internal/headless/detector"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/ratelimit"
	"github.com/artikelwerk/hybrid-extractor/internal/recognition"
	"github.com/artikelwerk/hybrid-extractor/internal/robots"
)

const closeGrace = 5 * time.Second

// buildProcessor assembles the recognition stack: engine pool, recognizer,
// and the article processor the workers drive. An empty service URL yields
// noop engines, which keeps sidecar-only deployments running without a
// recognition service.
func buildProcessor(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (*recognition.Pool, *recognition.Processor, error) {
	factory := recognition.NoopFactory()
	if cfg.Recognition.ServiceURL != "" {
		factory = recognition.HTTPEngineFactory(recognition.HTTPEngineConfig{
			BaseURL:   cfg.Recognition.ServiceURL,
			Languages: cfg.Recognition.Languages,
			Logger:    logger,
		})
	}
	pool, err := recognition.NewPool(ctx, factory, cfg.Recognition.PoolSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init engine pool: %w", err)
	}

	recognizer := recognition.NewRecognizer(
		pool,
		extraction.NewBackoffRetryPolicyWith(cfg.Pipeline.MaxRetries, cfg.Pipeline.RetryBackoff),
		sha256.New(),
		recognition.RecognizerConfig{
			CallTimeout:   cfg.Recognition.Timeout,
			MaxImageBytes: cfg.Recognition.MaxImageBytes,
			CacheTTL:      cfg.Recognition.CacheTTL,
		},
		logger,
	)
	return pool, recognition.NewProcessor(recognizer, logger), nil
}

// buildCaptureService wires the probe fetcher, the optional headless
// renderer, and the per-domain gate into a capture service. With
// capture.enabled=false, or when Chrome is unavailable, pages are captured
// probe-only: sidecars without screenshots. The cleanup func releases the
// browser allocator.
func buildCaptureService(cfg config.Config, logger *zap.Logger) (*capture.Service, func()) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Capture.UserAgent,
		RespectRobots: true,
		Timeout:       cfg.Capture.NavTimeout,
	})

	var renderer capture.Renderer
	cleanup := func() {}
	if cfg.Capture.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Capture.MaxParallel,
			UserAgent:         cfg.Capture.UserAgent,
			NavigationTimeout: cfg.Capture.NavTimeout,
		})
		if err != nil {
			logger.Warn("headless renderer init failed, capturing sidecars only", zap.Error(err))
		} else {
			renderer = headless
			cleanup = headless.Close
		}
	}

	gate := ratelimit.NewGate(
		ratelimit.New(ratelimit.Config{QPS: cfg.Capture.DomainQPS}),
		robots.New(cfg.Capture.UserAgent, 0),
	)

	service := capture.New(
		probe,
		renderer,
		detector.NewHeuristic(0),
		gate,
		system.New(),
		capture.Config{
			OutputDir:   cfg.Capture.OutputDir,
			MaxParallel: cfg.Capture.MaxParallel,
		},
		logger,
	)
	return service, cleanup
}

// closePool tears the engine pool down with a bounded grace period.
func closePool(pool *recognition.Pool, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if err := pool.Close(ctx); err != nil {
		logger.Warn("engine pool close failed", zap.Error(err))
	}
}

// closeHub drains and closes the progress hub with a bounded grace period.
func closeHub(hub *progress.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
}
