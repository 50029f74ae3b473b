package recognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Recognizer defaults.
const (
	DefaultCallTimeout   = 45 * time.Second
	DefaultMaxImageBytes = 10 << 20
	DefaultCacheTTL      = 15 * time.Minute
	DefaultCacheCleanup  = 5 * time.Minute
)

// RecognizerConfig tunes the per-call envelope around the engine pool.
type RecognizerConfig struct {
	// CallTimeout bounds one engine call, not the whole retry sequence.
	CallTimeout time.Duration
	// MaxImageBytes rejects oversized screenshots before an engine is borrowed.
	MaxImageBytes int64
	// CacheTTL is how long a recognition result is reused for identical
	// image bytes. Zero disables the cache.
	CacheTTL time.Duration
	// CacheCleanup is the expired-entry sweep interval.
	CacheCleanup time.Duration
}

func (c RecognizerConfig) withDefaults() RecognizerConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.CacheCleanup <= 0 {
		c.CacheCleanup = DefaultCacheCleanup
	}
	return c
}

// Recognizer wraps the engine pool with the policies a single image pass
// needs: structural validation before a handle is borrowed, a per-call
// deadline, bounded linear-backoff retries for transient failures, and a
// TTL cache keyed by image digest so re-runs over unchanged screenshots
// skip the engine entirely.
type Recognizer struct {
	pool   *Pool
	policy *extraction.BackoffRetryPolicy
	hasher extraction.Hasher
	cache  *gocache.Cache
	cfg    RecognizerConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewRecognizer wires a recognizer over the pool. A nil policy falls back
// to the default budget; a nil hasher disables the result cache.
func NewRecognizer(
	pool *Pool,
	policy *extraction.BackoffRetryPolicy,
	hasher extraction.Hasher,
	cfg RecognizerConfig,
	logger *zap.Logger,
) *Recognizer {
	if policy == nil {
		policy = extraction.NewBackoffRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	var cache *gocache.Cache
	if cfg.CacheTTL > 0 && hasher != nil {
		cache = gocache.New(cfg.CacheTTL, cfg.CacheCleanup)
	}
	return &Recognizer{
		pool:   pool,
		policy: policy,
		hasher: hasher,
		cache:  cache,
		cfg:    cfg,
		sleep:  sleepWithContext,
		logger: logger.Named("recognizer"),
	}
}

// Recognize reads text from one screenshot. The image is validated before
// any engine handle is borrowed so structural problems cost nothing from
// the pool; transient engine failures are retried up to the policy budget.
func (r *Recognizer) Recognize(ctx context.Context, imagePath string, hint extraction.FieldName) (extraction.RecognizedText, error) {
	data, err := r.loadImage(imagePath)
	if err != nil {
		return extraction.RecognizedText{}, err
	}

	cacheKey, err := r.cacheKey(data, hint)
	if err != nil {
		return extraction.RecognizedText{}, err
	}
	if cacheKey != "" {
		if cached, found := r.cache.Get(cacheKey); found {
			result := cached.(extraction.RecognizedText)
			r.logger.Debug("recognition cache hit",
				zap.String("image", imagePath),
				zap.String("hint", string(hint)),
			)
			return result, nil
		}
	}

	attempt := 0
	for {
		result, err := r.recognizeOnce(ctx, imagePath, hint)
		if err == nil {
			result.Confidence = clampConfidence(result.Confidence)
			if cacheKey != "" {
				r.cache.Set(cacheKey, result, gocache.DefaultExpiration)
			}
			return result, nil
		}
		if !r.policy.ShouldRetry(err, attempt) {
			return extraction.RecognizedText{}, err
		}

		delay := r.policy.Backoff(attempt)
		r.logger.Warn("recognition attempt failed, retrying",
			zap.String("image", imagePath),
			zap.String("hint", string(hint)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return extraction.RecognizedText{}, fmt.Errorf("retry wait: %w", err)
		}
		attempt++
	}
}

func (r *Recognizer) recognizeOnce(ctx context.Context, imagePath string, hint extraction.FieldName) (extraction.RecognizedText, error) {
	engine, err := r.pool.Acquire(ctx)
	if err != nil {
		return extraction.RecognizedText{}, err
	}
	defer r.pool.Release(engine)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	result, err := engine.Recognize(callCtx, imagePath, hint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return extraction.RecognizedText{}, fmt.Errorf("%w: engine exceeded %s on %s",
				extraction.ErrRecognitionTimeout, r.cfg.CallTimeout, imagePath)
		}
		return extraction.RecognizedText{}, err
	}
	return result, nil
}

// loadImage validates the screenshot and returns its bytes for digesting.
func (r *Recognizer) loadImage(imagePath string) ([]byte, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", extraction.ErrImageMissing, imagePath)
		}
		return nil, fmt.Errorf("stat image %s: %w", imagePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", extraction.ErrImageMissing, imagePath)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", extraction.ErrImageEmpty, imagePath)
	}
	if info.Size() > r.cfg.MaxImageBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d",
			extraction.ErrImageTooLarge, imagePath, info.Size(), r.cfg.MaxImageBytes)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", imagePath, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", extraction.ErrImageEmpty, imagePath)
	}
	return data, nil
}

func (r *Recognizer) cacheKey(data []byte, hint extraction.FieldName) (string, error) {
	if r.cache == nil {
		return "", nil
	}
	digest, err := r.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash image: %w", err)
	}
	return digest + ":" + string(hint), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
