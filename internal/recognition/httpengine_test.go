package recognition

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "title.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))
	return path
}

func TestHTTPEngineSessionLifecycle(t *testing.T) {
	t.Parallel()

	var opened, recognized, deleted int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
			opened++
			require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var req sessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, []string{"deu", "eng"}, req.Languages)
			writeJSONResponse(t, w, map[string]any{"session_id": "sess-1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions/sess-1/recognize":
			recognized++
			var req recognizeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.NotEmpty(t, req.Image)
			require.Equal(t, "productName", req.Hint)
			writeJSONResponse(t, w, map[string]any{
				"success":     true,
				"text":        "Spannpratze 10mm",
				"confidence":  0.93,
				"duration_ms": 120,
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/sessions/sess-1":
			deleted++
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	engine, err := StartHTTPEngine(context.Background(), HTTPEngineConfig{
		BaseURL:   server.URL,
		APIKey:    "secret",
		Languages: []string{"deu", "eng"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, opened)

	result, err := engine.Recognize(context.Background(), writeTestImage(t), extraction.FieldProductName)
	require.NoError(t, err)
	require.Equal(t, "Spannpratze 10mm", result.Text)
	require.InDelta(t, 0.93, result.Confidence, 1e-9)
	require.Equal(t, 120*time.Millisecond, result.Duration)
	require.Equal(t, 1, recognized)

	require.NoError(t, engine.Close(context.Background()))
	require.Equal(t, 1, deleted)
}

func TestHTTPEngineStartFailsOnUnhealthyService(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := StartHTTPEngine(context.Background(), HTTPEngineConfig{BaseURL: server.URL})
	require.Error(t, err)
	require.Contains(t, err.Error(), "health check")
}

func TestHTTPEngineServerErrorsAreTransient(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		engine := startedTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/sessions/sess-1/recognize" {
				w.WriteHeader(status)
				return
			}
			serveSessionSetup(t, w, r)
		})

		_, err := engine.Recognize(context.Background(), writeTestImage(t), extraction.FieldPrice)
		require.ErrorIs(t, err, extraction.ErrEngineTransient, "status %d", status)
	}
}

func TestHTTPEngineStructuredFailureIsFinal(t *testing.T) {
	t.Parallel()

	engine := startedTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/sessions/sess-1/recognize" {
			writeJSONResponse(t, w, map[string]any{"success": false, "error": "region unreadable"})
			return
		}
		serveSessionSetup(t, w, r)
	})

	_, err := engine.Recognize(context.Background(), writeTestImage(t), extraction.FieldPrice)
	require.Error(t, err)
	require.NotErrorIs(t, err, extraction.ErrEngineTransient)
	require.Contains(t, err.Error(), "region unreadable")
}

func TestHTTPEngineRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSONResponse(t, w, map[string]any{})
	}))
	defer server.Close()

	_, err := StartHTTPEngine(context.Background(), HTTPEngineConfig{BaseURL: server.URL})
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty session id")
}

func TestHTTPEngineCloseToleratesUnknownSession(t *testing.T) {
	t.Parallel()

	engine := startedTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		serveSessionSetup(t, w, r)
	})

	require.NoError(t, engine.Close(context.Background()))
}

func TestHTTPEngineRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := StartHTTPEngine(context.Background(), HTTPEngineConfig{})
	require.Error(t, err)
}

func startedTestEngine(t *testing.T, handler http.HandlerFunc) *HTTPEngine {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	engine, err := StartHTTPEngine(context.Background(), HTTPEngineConfig{BaseURL: server.URL})
	require.NoError(t, err)
	return engine
}

func serveSessionSetup(t *testing.T, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions":
		writeJSONResponse(t, w, map[string]any{"session_id": "sess-1"})
	default:
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSONResponse(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}
