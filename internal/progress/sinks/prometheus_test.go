package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batchID := progress.UUIDToBytes(uuid.New())
	events := []progress.Event{
		{BatchID: batchID, TS: time.Now(), Stage: progress.StageBatchStart},
		{
			BatchID: batchID,
			TS:      time.Now().Add(10 * time.Second),
			Stage:   progress.StageArticleDone,
			Article: "4711-M8",
			Outcome: progress.OutcomeSucceeded,
			Dur:     1200 * time.Millisecond,
		},
		{
			BatchID: batchID,
			TS:      time.Now().Add(11 * time.Second),
			Stage:   progress.StageArticleDone,
			Article: "8090-K2",
			Outcome: progress.OutcomeReview,
			Dur:     900 * time.Millisecond,
		},
		{BatchID: batchID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageBatchDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), events))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.articleOutcomes.WithLabelValues(string(progress.OutcomeSucceeded))),
		1e-9,
	)
	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.articleOutcomes.WithLabelValues(string(progress.OutcomeReview))),
		1e-9,
	)
	require.Equal(t, 2, testutil.CollectAndCount(sink.articleRuntime, "extractor_article_runtime_seconds"))
}

// TestPrometheusSinkCanceledBatch verifies canceled runs land in their own result bucket.
func TestPrometheusSinkCanceledBatch(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batchID := progress.UUIDToBytes(uuid.New())
	events := []progress.Event{
		{BatchID: batchID, TS: time.Now(), Stage: progress.StageBatchStart},
		{BatchID: batchID, TS: time.Now().Add(time.Second), Stage: progress.StageBatchCanceled, Dur: time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), events))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
}
