package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/artikelwerk/hybrid-extractor/internal/progress"
)

// PrometheusSink exports extraction progress metrics via Prometheus. It owns
// all collectors for batches started/completed/running and per-outcome
// article counters.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec

	articleOutcomes *prometheus.CounterVec
	articleRuntime  *prometheus.HistogramVec

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extractor_batches_started_total",
			Help: "Total batch runs that have started.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_batches_completed_total",
			Help: "Total batch runs completed partitioned by result.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extractor_batches_running",
			Help: "Current number of running batch runs.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_batch_runtime_seconds",
			Help:    "Wall time per completed batch run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		articleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_article_outcomes_total",
			Help: "Article completions partitioned by outcome.",
		}, []string{"outcome"}),
		articleRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_article_runtime_seconds",
			Help:    "Wall time per completed article partitioned by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.articleOutcomes,
		s.articleRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided events. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, events []progress.Event) error {
	for _, evt := range events {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart, progress.StageBatchDone, progress.StageBatchError, progress.StageBatchCanceled:
		s.handleBatchEvent(evt)
	case progress.StageArticleDone:
		s.handleArticleEvent(evt)
	}
}

func (s *PrometheusSink) handleBatchEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart:
		s.batchesStarted.Inc()
		if s.tracker.start(evt.BatchID) {
			s.batchesRunning.Inc()
		}
	case progress.StageBatchDone:
		s.batchesCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageBatchError:
		s.batchesCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case progress.StageBatchCanceled:
		s.batchesCompleted.WithLabelValues("canceled").Inc()
		s.observeRuntime(evt, "canceled")
	}
	if evt.Stage != progress.StageBatchStart && s.tracker.complete(evt.BatchID) {
		s.batchesRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.batchRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleArticleEvent(evt progress.Event) {
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeFailed)
	}
	s.articleOutcomes.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.articleRuntime.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[[16]byte]struct{})}
}

func (t *batchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
