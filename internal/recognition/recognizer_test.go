package recognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/hash/sha256"
)

func newTestRecognizer(t *testing.T, engine extraction.Engine, policy *extraction.BackoffRetryPolicy, cfg RecognizerConfig) (*Recognizer, *[]time.Duration) {
	t.Helper()

	pool, err := NewPool(context.Background(), func(context.Context) (extraction.Engine, error) {
		return engine, nil
	}, 1, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	recognizer := NewRecognizer(pool, policy, sha256.New(), cfg, zap.NewNop())
	sleeps := &[]time.Duration{}
	recognizer.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return recognizer, sleeps
}

func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// TestRecognizeValidatesBeforeBorrowing pins that structural image problems
// are rejected without an engine call.
func TestRecognizeValidatesBeforeBorrowing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		calls.Add(1)
		return extraction.RecognizedText{Text: "x", Confidence: 1}, nil
	}}
	recognizer, _ := newTestRecognizer(t, engine, nil, RecognizerConfig{MaxImageBytes: 4})

	_, err := recognizer.Recognize(context.Background(), filepath.Join(t.TempDir(), "absent.png"), extraction.FieldPrice)
	require.ErrorIs(t, err, extraction.ErrImageMissing)

	empty := writeImage(t, "empty.png", nil)
	_, err = recognizer.Recognize(context.Background(), empty, extraction.FieldPrice)
	require.ErrorIs(t, err, extraction.ErrImageEmpty)

	big := writeImage(t, "big.png", []byte("way past limit"))
	_, err = recognizer.Recognize(context.Background(), big, extraction.FieldPrice)
	require.ErrorIs(t, err, extraction.ErrImageTooLarge)

	require.Equal(t, int32(0), calls.Load())
}

func TestRecognizeRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		if calls.Add(1) < 3 {
			return extraction.RecognizedText{}, fmt.Errorf("%w: overloaded", extraction.ErrEngineTransient)
		}
		return extraction.RecognizedText{Text: "26,79 €", Confidence: 0.88}, nil
	}}
	policy := extraction.NewBackoffRetryPolicyWith(3, 500*time.Millisecond)
	recognizer, sleeps := newTestRecognizer(t, engine, policy, RecognizerConfig{})

	image := writeImage(t, "price.png", []byte("png"))
	result, err := recognizer.Recognize(context.Background(), image, extraction.FieldPrice)

	require.NoError(t, err)
	require.Equal(t, "26,79 €", result.Text)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *sleeps)
}

// TestRecognizeExhaustsRetryBudget pins the attempt arithmetic: one initial
// try plus exactly maxRetries retries.
func TestRecognizeExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		calls.Add(1)
		return extraction.RecognizedText{}, fmt.Errorf("%w: still down", extraction.ErrEngineTransient)
	}}
	policy := extraction.NewBackoffRetryPolicyWith(2, 100*time.Millisecond)
	recognizer, sleeps := newTestRecognizer(t, engine, policy, RecognizerConfig{})

	image := writeImage(t, "title.png", []byte("png"))
	_, err := recognizer.Recognize(context.Background(), image, extraction.FieldProductName)

	require.ErrorIs(t, err, extraction.ErrEngineTransient)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestRecognizeDoesNotRetryFinalErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		calls.Add(1)
		return extraction.RecognizedText{}, errors.New("engine: region unreadable")
	}}
	recognizer, sleeps := newTestRecognizer(t, engine, nil, RecognizerConfig{})

	image := writeImage(t, "desc.png", []byte("png"))
	_, err := recognizer.Recognize(context.Background(), image, extraction.FieldDescription)

	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, *sleeps)
}

func TestRecognizeMapsDeadlineToTimeout(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{recognize: func(ctx context.Context, _ string, _ extraction.FieldName) (extraction.RecognizedText, error) {
		<-ctx.Done()
		return extraction.RecognizedText{}, ctx.Err()
	}}
	policy := extraction.NewBackoffRetryPolicyWith(0, 100*time.Millisecond)
	recognizer, _ := newTestRecognizer(t, engine, policy, RecognizerConfig{CallTimeout: 10 * time.Millisecond})

	image := writeImage(t, "slow.png", []byte("png"))
	_, err := recognizer.Recognize(context.Background(), image, extraction.FieldPrice)

	require.ErrorIs(t, err, extraction.ErrRecognitionTimeout)
}

func TestRecognizeCachesByImageDigest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		calls.Add(1)
		return extraction.RecognizedText{Text: "4711", Confidence: 0.9}, nil
	}}
	recognizer, _ := newTestRecognizer(t, engine, nil, RecognizerConfig{CacheTTL: time.Minute})

	first := writeImage(t, "a.png", []byte("same-bytes"))
	second := writeImage(t, "b.png", []byte("same-bytes"))

	result, err := recognizer.Recognize(context.Background(), first, extraction.FieldArticleNumber)
	require.NoError(t, err)
	require.Equal(t, "4711", result.Text)

	result, err = recognizer.Recognize(context.Background(), second, extraction.FieldArticleNumber)
	require.NoError(t, err)
	require.Equal(t, "4711", result.Text)
	require.Equal(t, int32(1), calls.Load(), "identical bytes should hit the cache")

	// A different hint is a different cache entry.
	_, err = recognizer.Recognize(context.Background(), first, extraction.FieldProductName)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestRecognizeCacheDisabledByZeroTTL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		calls.Add(1)
		return extraction.RecognizedText{Text: "x", Confidence: 0.5}, nil
	}}
	recognizer, _ := newTestRecognizer(t, engine, nil, RecognizerConfig{})

	image := writeImage(t, "a.png", []byte("bytes"))
	for range 2 {
		_, err := recognizer.Recognize(context.Background(), image, extraction.FieldPrice)
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestRecognizeClampsConfidence(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{recognize: func(context.Context, string, extraction.FieldName) (extraction.RecognizedText, error) {
		return extraction.RecognizedText{Text: "x", Confidence: 1.7}, nil
	}}
	recognizer, _ := newTestRecognizer(t, engine, nil, RecognizerConfig{})

	image := writeImage(t, "a.png", []byte("bytes"))
	result, err := recognizer.Recognize(context.Background(), image, extraction.FieldPrice)
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Confidence)
}
