// Package api exposes the HTTP interface for the extractor service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/config"
	"github.com/artikelwerk/hybrid-extractor/internal/dispatcher"
	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
	"github.com/artikelwerk/hybrid-extractor/internal/recognition"
	"github.com/artikelwerk/hybrid-extractor/internal/validate"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	batches    extraction.BatchStore
	dispatcher *dispatcher.Dispatcher
	runs       *ProgressHandler
	idGen      extraction.IDGenerator
	clock      extraction.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The progress
// handler may be nil; run endpoints then answer 503 until a repository is
// configured.
func NewServer(
	batches extraction.BatchStore,
	dispatcher *dispatcher.Dispatcher,
	runs *ProgressHandler,
	idGen extraction.IDGenerator,
	clock extraction.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runs == nil {
		runs = NewProgressHandler(nil, logger)
	}
	s := &Server{
		batches:    batches,
		dispatcher: dispatcher,
		runs:       runs,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)
	if cfg.Server.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Server.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.submitBatch)
			r.Post("/standard", s.submitStandardBatch)
			r.Route("/{batch_id}", func(r chi.Router) {
				r.Get("/status", s.getBatchStatus)
				r.Get("/results", s.getBatchResults)
				r.Get("/stats", s.getBatchStats)
				r.Post("/cancel", s.cancelBatch)
			})
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.runs.GetRun)
				r.Get("/outcomes", s.runs.ListRunOutcomes)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"workers": s.dispatcher.WorkerCount(),
	})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toBatchParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batchID, err := s.enqueueBatch(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, extraction.ErrBatchExists):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (s *Server) submitStandardBatch(w http.ResponseWriter, r *http.Request) {
	var req standardBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing run name")
		return
	}
	templateParams, ok := s.cfg.StandardRuns[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "standard run template not found")
		return
	}
	params := s.applyDefaults(cloneBatchParameters(templateParams))
	batchID, err := s.enqueueBatch(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (s *Server) getBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	batch, err := s.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		s.writeBatchError(w, batchID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

func (s *Server) getBatchResults(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	batch, err := s.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		s.writeBatchError(w, batchID, err)
		return
	}
	articles, err := s.batches.ListArticles(r.Context(), batchID)
	if err != nil {
		s.logger.Error("list articles failed", zap.String("batch_id", batchID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch batch articles")
		return
	}
	writeJSON(w, http.StatusOK, extraction.BatchResult{Batch: batch, Articles: articles})
}

func (s *Server) getBatchStats(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	batch, err := s.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		s.writeBatchError(w, batchID, err)
		return
	}
	articles, err := s.batches.ListArticles(r.Context(), batchID)
	if err != nil {
		s.logger.Error("list articles failed", zap.String("batch_id", batchID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch batch articles")
		return
	}
	writeJSON(w, http.StatusOK, buildBatchStats(batch, articles))
}

func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	batch, err := s.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		s.writeBatchError(w, batchID, err)
		return
	}
	if isTerminal(batch.Status) {
		writeError(w, http.StatusConflict, "batch already finished")
		return
	}
	if err := s.batches.UpdateBatchStatus(
		r.Context(),
		batchID,
		extraction.BatchStatusCanceled,
		"canceled via API",
		batch.Counters,
	); err != nil {
		s.writeBatchError(w, batchID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"batch_id": batchID,
		"status":   string(extraction.BatchStatusCanceled),
	})
}

func (s *Server) writeBatchError(w http.ResponseWriter, batchID string, err error) {
	if errors.Is(err, extraction.ErrBatchNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	s.logger.Error("batch lookup failed", zap.String("batch_id", batchID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load batch")
}

func (s *Server) enqueueBatch(ctx context.Context, params extraction.BatchParameters) (string, error) {
	batchID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	now := s.clock.Now()
	batch := extraction.Batch{
		ID:         batchID,
		Status:     extraction.BatchStatusPending,
		Submitted:  now,
		Parameters: params,
		Counters:   extraction.BatchCounters{},
	}
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := extraction.QueueItem{
		BatchID:   batchID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue batch: %w", err)
	}
	return batchID, nil
}

func (s *Server) toBatchParameters(req batchRequest) (extraction.BatchParameters, error) {
	if req.Root == "" {
		return extraction.BatchParameters{}, errors.New("root directory required")
	}
	if _, err := recognition.ParseMode(req.ReconcileMode); err != nil {
		return extraction.BatchParameters{}, err
	}
	if _, err := validate.ProfileByName(req.Profile); err != nil {
		return extraction.BatchParameters{}, err
	}
	params := extraction.BatchParameters{
		Root:          req.Root,
		Articles:      req.Articles,
		BatchSize:     valueOrDefault(req.BatchSize, 0),
		ReconcileMode: req.ReconcileMode,
		Profile:       req.Profile,
		Tags:          req.Tags,
	}
	return s.applyDefaults(params), nil
}

func (s *Server) applyDefaults(params extraction.BatchParameters) extraction.BatchParameters {
	if params.BatchSize <= 0 {
		params.BatchSize = s.cfg.Pipeline.BatchSize
	}
	if params.ReconcileMode == "" {
		params.ReconcileMode = s.cfg.Pipeline.ReconcileMode
	}
	if params.Profile == "" {
		params.Profile = s.cfg.Validation.Profile
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params
}

type standardBatchRequest struct {
	Name string `json:"name"`
}

type batchRequest struct {
	Root          string            `json:"root"`
	Articles      []string          `json:"articles"`
	BatchSize     *int              `json:"batch_size"`
	ReconcileMode string            `json:"reconcile_mode"`
	Profile       string            `json:"profile"`
	Tags          map[string]string `json:"tags"`
}

type batchStatsResponse struct {
	BatchID         string                   `json:"batch_id"`
	Status          string                   `json:"status"`
	Counters        extraction.BatchCounters `json:"counters"`
	Articles        int                      `json:"articles"`
	SuccessRate     float64                  `json:"success_rate"`
	AvgConfidence   float64                  `json:"avg_confidence"`
	TotalDurationMs int64                    `json:"total_duration_ms"`
}

// buildBatchStats derives live progress numbers from the per-article records.
// Terminal batches report their persisted counters instead, which also carry
// the skipped and duplicate totals the records cannot show.
func buildBatchStats(batch extraction.Batch, articles []extraction.ArticleRecord) batchStatsResponse {
	counters := batch.Counters
	if !isTerminal(batch.Status) {
		counters = countersFromArticles(articles)
	}
	resp := batchStatsResponse{
		BatchID:  batch.ID,
		Status:   string(batch.Status),
		Counters: counters,
		Articles: len(articles),
	}
	if counters.Processed > 0 {
		resp.SuccessRate = float64(counters.Successful) / float64(counters.Processed)
	}
	var confidenceSum float64
	for _, rec := range articles {
		confidenceSum += rec.ConfidenceScore
		resp.TotalDurationMs += rec.DurationMs
	}
	if len(articles) > 0 {
		resp.AvgConfidence = confidenceSum / float64(len(articles))
	}
	return resp
}

func countersFromArticles(articles []extraction.ArticleRecord) extraction.BatchCounters {
	var counters extraction.BatchCounters
	for _, rec := range articles {
		counters.Processed++
		switch {
		case !rec.Success:
			counters.Failed++
		case rec.RequiresReview:
			counters.ReviewNeeded++
		default:
			counters.Successful++
		}
	}
	return counters
}

func isTerminal(status extraction.BatchStatus) bool {
	switch status {
	case extraction.BatchStatusCompleted, extraction.BatchStatusFailed, extraction.BatchStatusCanceled:
		return true
	default:
		return false
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func cloneBatchParameters(src extraction.BatchParameters) extraction.BatchParameters {
	cp := src
	cp.Articles = cloneStringSlice(src.Articles)
	if src.Tags != nil {
		cp.Tags = make(map[string]string, len(src.Tags))
		for k, v := range src.Tags {
			cp.Tags[k] = v
		}
	}
	return cp
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestIDFrom(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON marshals before touching the response so an encoding failure can
// still produce a clean 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
