package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for range 50 {
		require.NoError(t, l.Wait(ctx, "https://shop.example/p/4711"))
	}
}

func TestLimiterExhaustedBucketFailsFastOnDeadline(t *testing.T) {
	t.Parallel()

	l := New(Config{QPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://shop.example/p/4711"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://shop.example/p/4712")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit wait")
}

func TestLimiterDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{QPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/p/1"))

	// The other domain still has its first token.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "https://b.example/p/1"))
}

func TestLimiterFallsBackToSharedBucketForBadURLs(t *testing.T) {
	t.Parallel()

	l := New(Config{QPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "::not a url"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "also bad"))
}
