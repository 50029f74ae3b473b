package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/validate"
)

func TestRunHappyPath(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	makeArticleDirs(t, root, "4711-M8", "8090", "5555")

	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		if article == "5555" {
			// identifier violating the article-number shape forces review
			return okResult(article, "5555X", dir)
		}
		return okResult(article, article, dir)
	})
	sink := &fakeSink{}
	emitter := &fakeEmitter{}
	clock := &fakeClock{now: time.Unix(1000, 0)}

	orch := New(processor, validate.New(validate.DefaultProfile()), sink, emitter, clock, Config{
		BatchID: uuid.NewString(),
		Root:    root,
	}, zap.NewNop())

	rep, err := orch.Run(context.Background(), []string{"4711-M8", "8090", "5555"})
	require.NoError(t, err)

	require.Equal(t, extraction.BatchCounters{
		Processed:    3,
		Successful:   2,
		ReviewNeeded: 1,
	}, rep.Counters)
	require.Equal(t, extraction.BatchStatusCompleted, rep.Status())
	require.Empty(t, rep.ErrorText())
	require.False(t, rep.Canceled)

	require.Len(t, sink.byArticle(), 3)
	review := sink.byArticle()["5555"]
	require.Equal(t, progress.OutcomeReview, review.Class)
	require.True(t, review.Report.RequiresManualReview)

	require.Len(t, emitter.byStage(progress.StageBatchStart), 1)
	require.Len(t, emitter.byStage(progress.StageArticleStart), 3)
	require.Len(t, emitter.byStage(progress.StageArticleDone), 3)
	require.Len(t, emitter.byStage(progress.StageBatchHB), 1)
	require.Len(t, emitter.byStage(progress.StageBatchDone), 1)
}

func TestRunCountsDuplicates(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	makeArticleDirs(t, root, "1234", "5678")

	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		return okResult(article, article, dir)
	})
	sink := &fakeSink{}
	emitter := &fakeEmitter{}

	orch := New(processor, validate.New(validate.DefaultProfile()), sink, emitter, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID: uuid.NewString(),
		Root:    root,
	}, zap.NewNop())

	rep, err := orch.Run(context.Background(), []string{"1234", "1234-X", "5678"})
	require.NoError(t, err)

	require.Equal(t, extraction.BatchCounters{
		Processed:  2,
		Successful: 2,
		Duplicates: 1,
	}, rep.Counters)
	require.Len(t, sink.byArticle(), 2, "duplicates never reach the sink")

	done := emitter.byStage(progress.StageArticleDone)
	var duplicate *progress.Event
	for i := range done {
		if done[i].Outcome == progress.OutcomeDuplicate {
			duplicate = &done[i]
		}
	}
	require.NotNil(t, duplicate)
	require.Equal(t, "1234-X", duplicate.Article)
	require.Contains(t, duplicate.Note, "duplicate of 1234")
}

func TestRunPanicBecomesFailedArticle(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	makeArticleDirs(t, root, "4711", "8090")

	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		if article == "8090" {
			panic("recognition engine corrupted state")
		}
		return okResult(article, article, dir)
	})
	sink := &fakeSink{}

	orch := New(processor, validate.New(validate.DefaultProfile()), sink, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID: uuid.NewString(),
		Root:    root,
	}, zap.NewNop())

	rep, err := orch.Run(context.Background(), []string{"4711", "8090"})
	require.NoError(t, err)

	require.Equal(t, 1, rep.Counters.Successful)
	require.Equal(t, 1, rep.Counters.Failed)
	require.Equal(t, extraction.BatchStatusCompleted, rep.Status())

	failed := sink.byArticle()["8090"]
	require.Equal(t, progress.OutcomeFailed, failed.Class)
	require.NotEmpty(t, failed.Result.Errors)
	require.Contains(t, failed.Result.Errors[0], "processing panicked")
}

func TestRunMissingDirectoryIsFailed(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()

	var calls atomic.Int32
	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		calls.Add(1)
		return okResult(article, article, dir)
	})
	sink := &fakeSink{}

	orch := New(processor, validate.New(validate.DefaultProfile()), sink, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID: uuid.NewString(),
		Root:    root,
	}, zap.NewNop())

	rep, err := orch.Run(context.Background(), []string{"9999"})
	require.NoError(t, err)

	require.Zero(t, calls.Load(), "processor must not run without a directory")
	require.Equal(t, 1, rep.Counters.Failed)
	require.Equal(t, extraction.BatchStatusFailed, rep.Status())
	require.Equal(t, "no articles were successfully extracted", rep.ErrorText())

	failed := sink.byArticle()["9999"]
	require.Contains(t, failed.Result.Errors[0], "resolve directory")
}

func TestRunCancelSkipsRemaining(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	makeArticleDirs(t, root, "1111", "2222", "3333")

	ctx, cancel := context.WithCancel(context.Background())
	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		cancel()
		return okResult(article, article, dir)
	})
	sink := &fakeSink{}
	emitter := &fakeEmitter{}

	orch := New(processor, validate.New(validate.DefaultProfile()), sink, emitter, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID:   uuid.NewString(),
		Root:      root,
		BatchSize: 1,
	}, zap.NewNop())

	rep, err := orch.Run(ctx, []string{"1111", "2222", "3333"})
	require.ErrorIs(t, err, context.Canceled)

	require.True(t, rep.Canceled)
	require.Equal(t, extraction.BatchStatusCanceled, rep.Status())
	require.Equal(t, 1, rep.Counters.Processed)
	require.Equal(t, 2, rep.Counters.Skipped)
	require.Len(t, sink.byArticle(), 1, "skipped articles are never persisted")
	require.Len(t, emitter.byStage(progress.StageBatchCanceled), 1)

	skipped := 0
	for _, evt := range emitter.byStage(progress.StageArticleDone) {
		if evt.Outcome == progress.OutcomeSkipped {
			skipped++
		}
	}
	require.Equal(t, 2, skipped)
}

func TestRunCleanupHookCadence(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	articles := []string{"1001", "1002", "1003", "1004", "1005"}
	makeArticleDirs(t, root, articles...)

	var cleanups atomic.Int32
	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		return okResult(article, article, dir)
	})

	orch := New(processor, validate.New(validate.DefaultProfile()), nil, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID:         uuid.NewString(),
		Root:            root,
		BatchSize:       1,
		CleanupInterval: 2,
		Cleanup:         func() { cleanups.Add(1) },
	}, zap.NewNop())

	_, err := orch.Run(context.Background(), articles)
	require.NoError(t, err)
	require.Equal(t, int32(2), cleanups.Load(), "cleanup runs after sub-batches 2 and 4")
}

func TestRunPersistFailureMarksArticleFailed(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	makeArticleDirs(t, root, "4711")

	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		return okResult(article, article, dir)
	})
	sink := &fakeSink{err: errors.New("records table unavailable")}

	orch := New(processor, validate.New(validate.DefaultProfile()), sink, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID: uuid.NewString(),
		Root:    root,
	}, zap.NewNop())

	rep, err := orch.Run(context.Background(), []string{"4711"})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Counters.Failed)
	require.Zero(t, rep.Counters.Successful)
	require.Equal(t, extraction.BatchStatusFailed, rep.Status())
}

func TestRunSubBatchConcurrency(t *testing.T) {
	t.Parallel()
	metrics.Init()

	root := t.TempDir()
	makeArticleDirs(t, root, "2001", "2002", "2003")

	release := make(chan struct{})
	var arrived atomic.Int32
	var timedOut atomic.Bool
	processor := ProcessorFunc(func(_ context.Context, article, dir string) extraction.ExtractionResult {
		if arrived.Add(1) == 3 {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(500 * time.Millisecond):
			timedOut.Store(true)
		}
		return okResult(article, article, dir)
	})

	orch := New(processor, validate.New(validate.DefaultProfile()), nil, nil, &fakeClock{now: time.Unix(1000, 0)}, Config{
		BatchID:   uuid.NewString(),
		Root:      root,
		BatchSize: 3,
	}, zap.NewNop())

	rep, err := orch.Run(context.Background(), []string{"2001", "2002", "2003"})
	require.NoError(t, err)
	require.False(t, timedOut.Load(), "articles of one sub-batch must run concurrently")
	require.Equal(t, 3, rep.Counters.Successful)
}

func TestReportStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		rep    Report
		status extraction.BatchStatus
	}{
		{
			name:   "canceled wins",
			rep:    Report{Canceled: true, Counters: extraction.BatchCounters{Successful: 3}},
			status: extraction.BatchStatusCanceled,
		},
		{
			name:   "nothing extracted fails",
			rep:    Report{Counters: extraction.BatchCounters{Processed: 2, Failed: 2}},
			status: extraction.BatchStatusFailed,
		},
		{
			name:   "review-only still completes",
			rep:    Report{Counters: extraction.BatchCounters{Processed: 1, ReviewNeeded: 1}},
			status: extraction.BatchStatusCompleted,
		},
		{
			name:   "duplicates-only completes",
			rep:    Report{Counters: extraction.BatchCounters{Duplicates: 4}},
			status: extraction.BatchStatusCompleted,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.status, tc.rep.Status())
		})
	}
}

// --- fakes ---

func makeArticleDirs(t *testing.T, root string, articles ...string) {
	t.Helper()
	for _, article := range articles {
		require.NoError(t, os.MkdirAll(filepath.Join(root, article), 0o755))
	}
}

func okResult(article, extractedNumber, dir string) extraction.ExtractionResult {
	result := extraction.NewExtractionResult(article)
	result.Directory = dir
	price := "26.79"
	result.Data = extraction.MergedProduct{
		ArticleNumber: extractedNumber,
		ProductName:   "Spannpratze 10mm",
		Description:   "Stahl, verzinkt",
		Price:         &price,
		PriceType:     extraction.PriceTypeNormal,
	}
	for _, field := range extraction.Fields() {
		result.Confidence[field] = 1.0
		result.Source[field] = extraction.SourceDOMFallback
	}
	result.Success = true
	return result
}

type fakeSink struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (s *fakeSink) Persist(_ context.Context, outcome Outcome) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *fakeSink) byArticle() map[string]Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Outcome, len(s.outcomes))
	for _, outcome := range s.outcomes {
		out[outcome.ArticleNumber] = outcome
	}
	return out
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *fakeEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
