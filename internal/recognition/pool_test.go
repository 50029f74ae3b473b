package recognition

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

func TestPoolStartsEagerly(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	factory := func(context.Context) (extraction.Engine, error) {
		started.Add(1)
		return &stubEngine{}, nil
	}

	pool, err := NewPool(context.Background(), factory, 3, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, int32(3), started.Load())
	require.Equal(t, 3, pool.Size())
	require.NoError(t, pool.Close(context.Background()))
}

// TestPoolStartupFailureClosesStartedEngines pins the fail-fast contract: a
// bad engine config surfaces at startup and nothing leaks.
func TestPoolStartupFailureClosesStartedEngines(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	var built atomic.Int32
	factory := func(context.Context) (extraction.Engine, error) {
		if built.Add(1) == 3 {
			return nil, errors.New("warmup failed")
		}
		return &stubEngine{onClose: func() { closed.Add(1) }}, nil
	}

	_, err := NewPool(context.Background(), factory, 3, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "engine 3 of 3")
	require.Equal(t, int32(2), closed.Load())
}

func TestPoolAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(context.Background(), func(context.Context) (extraction.Engine, error) {
		return &stubEngine{}, nil
	}, 1, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close(context.Background()) //nolint:errcheck

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan extraction.Engine)
	go func() {
		second, acquireErr := pool.Acquire(context.Background())
		require.NoError(t, acquireErr)
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the only handle is out")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(engine)
	select {
	case second := <-acquired:
		pool.Release(second)
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(context.Background(), func(context.Context) (extraction.Engine, error) {
		return &stubEngine{}, nil
	}, 1, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close(context.Background()) //nolint:errcheck

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(engine)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolCloseRejectsAcquire(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	pool, err := NewPool(context.Background(), func(context.Context) (extraction.Engine, error) {
		return &stubEngine{onClose: func() { closed.Add(1) }}, nil
	}, 2, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pool.Close(context.Background()))
	require.Equal(t, int32(2), closed.Load())

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, extraction.ErrPoolClosed)

	// Closing twice is fine.
	require.NoError(t, pool.Close(context.Background()))
}

func TestPoolReleaseAfterCloseShutsDownHandle(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	pool, err := NewPool(context.Background(), func(context.Context) (extraction.Engine, error) {
		return &stubEngine{onClose: func() { closed.Add(1) }}, nil
	}, 1, zap.NewNop())
	require.NoError(t, err)

	engine, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.Close(context.Background()))
	require.Equal(t, int32(0), closed.Load())

	pool.Release(engine)
	require.Equal(t, int32(1), closed.Load())
}

// stubEngine is a controllable Engine for pool and recognizer tests.
type stubEngine struct {
	recognize func(ctx context.Context, imagePath string, hint extraction.FieldName) (extraction.RecognizedText, error)
	onClose   func()
}

func (s *stubEngine) Recognize(ctx context.Context, imagePath string, hint extraction.FieldName) (extraction.RecognizedText, error) {
	if s.recognize == nil {
		return extraction.RecognizedText{Text: "stub", Confidence: 1}, nil
	}
	return s.recognize(ctx, imagePath, hint)
}

func (s *stubEngine) Close(context.Context) error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
