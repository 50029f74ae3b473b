// Package metrics exposes Prometheus collectors for the extractor service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractorArticlesTotal       *prometheus.CounterVec
	extractorArticleDuration     *prometheus.HistogramVec
	extractorBatchesTotal        *prometheus.CounterVec
	extractorFieldConfidence     *prometheus.HistogramVec
	extractorRecognitionCalls    *prometheus.CounterVec
	extractorRecognitionDuration *prometheus.HistogramVec
	extractorRecognitionRetries  *prometheus.CounterVec
	extractorCaptureFetches      *prometheus.CounterVec
	extractorActiveArticles      prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractorArticlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_articles_total",
				Help: "Total number of articles processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		extractorArticleDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_article_duration_seconds",
				Help:    "Histogram of per-article processing time, labeled by outcome.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		extractorBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_batches_total",
				Help: "Total number of batches processed, labeled by status.",
			},
			[]string{"status"},
		)

		extractorFieldConfidence = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_field_confidence",
				Help:    "Distribution of merged per-field confidence scores.",
				Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 1},
			},
			[]string{"field"},
		)

		extractorRecognitionCalls = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_recognition_calls_total",
				Help: "Engine recognition calls, labeled by field hint and result.",
			},
			[]string{"hint", "result"},
		)

		extractorRecognitionDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_recognition_duration_seconds",
				Help:    "Engine call latency, labeled by field hint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"hint"},
		)

		extractorRecognitionRetries = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_recognition_retries_total",
				Help: "Recognition retries after transient engine failures.",
			},
			[]string{"hint"},
		)

		extractorCaptureFetches = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_capture_fetches_total",
				Help: "Capture page fetches, labeled by fetch mode and status class.",
			},
			[]string{"mode", "status_class"},
		)

		extractorActiveArticles = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_active_articles",
				Help: "Number of articles currently being processed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveArticle records one completed article.
func ObserveArticle(outcome string, duration time.Duration) {
	extractorArticlesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		extractorArticleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// ObserveBatch increments the batch counter for the given terminal status.
func ObserveBatch(status string) {
	extractorBatchesTotal.WithLabelValues(status).Inc()
}

// ObserveFieldConfidence records one merged field confidence score.
func ObserveFieldConfidence(field string, score float64) {
	extractorFieldConfidence.WithLabelValues(field).Observe(score)
}

// ObserveRecognition records one engine call.
func ObserveRecognition(hint, result string, duration time.Duration) {
	extractorRecognitionCalls.WithLabelValues(hint, result).Inc()
	if duration > 0 {
		extractorRecognitionDuration.WithLabelValues(hint).Observe(duration.Seconds())
	}
}

// ObserveRecognitionRetry counts a retried engine call.
func ObserveRecognitionRetry(hint string) {
	extractorRecognitionRetries.WithLabelValues(hint).Inc()
}

// ObserveCaptureFetch records one capture page fetch.
func ObserveCaptureFetch(mode string, statusCode int) {
	extractorCaptureFetches.WithLabelValues(mode, statusClass(statusCode)).Inc()
}

// IncActiveArticles increments the in-flight article gauge.
func IncActiveArticles() {
	extractorActiveArticles.Inc()
}

// DecActiveArticles decrements the in-flight article gauge.
func DecActiveArticles() {
	extractorActiveArticles.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
