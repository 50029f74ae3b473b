package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckerHonorsDisallow(t *testing.T) {
	t.Parallel()

	server := robotsServer(t, "User-agent: *\nDisallow: /private/\n", nil)
	checker := New("extractor", time.Second)

	allowed, err := checker.Allowed(context.Background(), server.URL+"/products/4711")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = checker.Allowed(context.Background(), server.URL+"/private/draft")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestCheckerMatchesUserAgentGroup(t *testing.T) {
	t.Parallel()

	body := "User-agent: extractor\nDisallow: /\n\nUser-agent: *\nDisallow:\n"
	server := robotsServer(t, body, nil)

	allowed, err := New("extractor", time.Second).Allowed(context.Background(), server.URL+"/products/1")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = New("someone-else", time.Second).Allowed(context.Background(), server.URL+"/products/1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCheckerFetchesRobotsOncePerHost(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	server := robotsServer(t, "User-agent: *\nDisallow:\n", &fetches)
	checker := New("extractor", time.Second)

	for range 5 {
		allowed, err := checker.Allowed(context.Background(), server.URL+"/products/4711")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	require.Equal(t, int64(1), fetches.Load())
}

func TestCheckerAllowsWhenRobotsMissing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	allowed, err := New("extractor", time.Second).Allowed(context.Background(), server.URL+"/products/4711")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCheckerAllowsWhenRobotsUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	allowed, err := New("extractor", time.Second).Allowed(context.Background(), server.URL+"/products/4711")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCheckerRejectsUnusableURLs(t *testing.T) {
	t.Parallel()

	checker := New("extractor", time.Second)

	_, err := checker.Allowed(context.Background(), "::not a url")
	require.Error(t, err)

	_, err = checker.Allowed(context.Background(), "/just/a/path")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no host")
}

func robotsServer(t *testing.T, body string, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if fetches != nil {
			fetches.Add(1)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}
