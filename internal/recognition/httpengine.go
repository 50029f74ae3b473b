package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// HTTPEngineConfig configures a session-backed engine client.
type HTTPEngineConfig struct {
	// BaseURL is the root of the recognition service, e.g. "http://localhost:8090".
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Languages are the recognition language hints sent on session open,
	// e.g. ["deu", "eng"]. Empty leaves the service default.
	Languages []string
	// Client overrides the HTTP client; a 30s-timeout client is used when nil.
	Client *http.Client
	// Logger receives engine lifecycle logs.
	Logger *zap.Logger
}

// HTTPEngine is one warmed session on a remote recognition service. The
// service keeps per-session state (loaded models, caches), so a session maps
// one-to-one onto a pool slot: started eagerly, reused for every call, torn
// down on Close.
type HTTPEngine struct {
	baseURL   string
	apiKey    string
	sessionID string
	client    *http.Client
	logger    *zap.Logger
}

type sessionRequest struct {
	Languages []string `json:"languages,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type recognizeRequest struct {
	Image string `json:"image"`
	Hint  string `json:"hint,omitempty"`
}

type recognizeResponse struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// HTTPEngineFactory adapts the config into a pool factory.
func HTTPEngineFactory(cfg HTTPEngineConfig) EngineFactory {
	return func(ctx context.Context) (extraction.Engine, error) {
		return StartHTTPEngine(ctx, cfg)
	}
}

// StartHTTPEngine checks service health and opens a fresh session.
func StartHTTPEngine(ctx context.Context, cfg HTTPEngineConfig) (*HTTPEngine, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("recognition engine: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("recognition engine: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &HTTPEngine{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger.Named("http_engine"),
	}
	if err := e.health(ctx); err != nil {
		return nil, err
	}

	sessionPayload, err := json.Marshal(sessionRequest{Languages: cfg.Languages})
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}
	body, status, err := e.roundTrip(ctx, http.MethodPost, "/v1/sessions", sessionPayload)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("open session: %s", statusError(status, body))
	}
	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if session.SessionID == "" {
		return nil, fmt.Errorf("open session: service returned an empty session id")
	}
	e.sessionID = session.SessionID
	e.logger.Debug("session opened", zap.String("session_id", session.SessionID))
	return e, nil
}

// Recognize submits the image to the engine session and returns the text it
// read. HTTP 429 and 5xx responses are reported as transient so callers can
// retry; structured engine failures are final.
func (e *HTTPEngine) Recognize(ctx context.Context, imagePath string, hint extraction.FieldName) (extraction.RecognizedText, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return extraction.RecognizedText{}, fmt.Errorf("read image %s: %w", imagePath, err)
	}

	payload, err := json.Marshal(recognizeRequest{
		Image: base64.StdEncoding.EncodeToString(data),
		Hint:  string(hint),
	})
	if err != nil {
		return extraction.RecognizedText{}, fmt.Errorf("marshal recognize request: %w", err)
	}

	started := time.Now()
	body, status, err := e.roundTrip(ctx, http.MethodPost, "/v1/sessions/"+e.sessionID+"/recognize", payload)
	if err != nil {
		return extraction.RecognizedText{}, fmt.Errorf("recognize call: %w", err)
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return extraction.RecognizedText{}, fmt.Errorf("%w: %s", extraction.ErrEngineTransient, statusError(status, body))
	}
	if status != http.StatusOK {
		return extraction.RecognizedText{}, fmt.Errorf("recognize call: %s", statusError(status, body))
	}

	var result recognizeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return extraction.RecognizedText{}, fmt.Errorf("decode recognize response: %w", err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "engine reported failure without detail"
		}
		return extraction.RecognizedText{}, fmt.Errorf("engine: %s", msg)
	}

	duration := time.Duration(result.DurationMS) * time.Millisecond
	if duration <= 0 {
		duration = time.Since(started)
	}
	return extraction.RecognizedText{
		Text:       result.Text,
		Confidence: result.Confidence,
		Duration:   duration,
	}, nil
}

// Close tears the session down. A session the service no longer knows about
// is not an error.
func (e *HTTPEngine) Close(ctx context.Context) error {
	if e.sessionID == "" {
		return nil
	}
	body, status, err := e.roundTrip(ctx, http.MethodDelete, "/v1/sessions/"+e.sessionID, nil)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("close session: %s", statusError(status, body))
	}
	e.sessionID = ""
	return nil
}

func (e *HTTPEngine) health(ctx context.Context) error {
	body, status, err := e.roundTrip(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("health check: %s", statusError(status, body))
	}
	return nil
}

func (e *HTTPEngine) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func statusError(status int, body []byte) string {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	if detail == "" {
		return fmt.Sprintf("service returned %d", status)
	}
	return fmt.Sprintf("service returned %d: %s", status, detail)
}
