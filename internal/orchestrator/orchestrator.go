package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/identity"
	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/validate"
)

// ArticleProcessor runs the per-article extraction pipeline (sidecar
// adoption, recognition, reconciliation) against a resolved article folder.
type ArticleProcessor interface {
	Process(ctx context.Context, articleNumber, dir string) extraction.ExtractionResult
}

// ProcessorFunc adapts a plain function to the ArticleProcessor interface.
type ProcessorFunc func(ctx context.Context, articleNumber, dir string) extraction.ExtractionResult

// Process implements ArticleProcessor.
func (f ProcessorFunc) Process(ctx context.Context, articleNumber, dir string) extraction.ExtractionResult {
	return f(ctx, articleNumber, dir)
}

// ResultSink receives every finished article for persistence. A persistence
// failure downgrades the article to failed but never aborts the run.
type ResultSink interface {
	Persist(ctx context.Context, outcome Outcome) error
}

// SinkFunc adapts a plain function to the ResultSink interface.
type SinkFunc func(ctx context.Context, outcome Outcome) error

// Persist implements ResultSink.
func (f SinkFunc) Persist(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// DirectoryResolver maps an article number to its folder name below root.
type DirectoryResolver func(root, articleNumber string) (string, error)

// CleanupFunc runs between sub-batch groups to release opportunistic
// resources. The default forces a garbage collection pass.
type CleanupFunc func()

func defaultCleanup() {
	runtime.GC()
	debug.FreeOSMemory()
}

// Outcome bundles everything produced for one article.
type Outcome struct {
	BatchID       string
	ArticleNumber string
	Directory     string
	Result        extraction.ExtractionResult
	Report        validate.Report
	Class         progress.Outcome
	ProcessedAt   time.Time
	Duration      time.Duration
}

// Config controls one orchestrator run.
type Config struct {
	// BatchID identifies the run; progress events require a UUID form.
	BatchID string
	// Root is the directory holding the article folders.
	Root string
	// BatchSize caps how many articles run concurrently (default 5).
	BatchSize int
	// CleanupInterval counts sub-batches between cleanup hook runs (default 5).
	CleanupInterval int
	// Cleanup overrides the default GC cleanup hook.
	Cleanup CleanupFunc
}

// Report summarizes a finished run.
type Report struct {
	BatchID    string
	Counters   extraction.BatchCounters
	StartedAt  time.Time
	FinishedAt time.Time
	Canceled   bool
}

// Status derives the terminal batch status from the counters. A run counts
// as failed when it extracted nothing usable and skipped no duplicates.
func (r Report) Status() extraction.BatchStatus {
	extracted := r.Counters.Successful + r.Counters.ReviewNeeded
	switch {
	case r.Canceled:
		return extraction.BatchStatusCanceled
	case extracted == 0 && r.Counters.Duplicates == 0:
		return extraction.BatchStatusFailed
	default:
		return extraction.BatchStatusCompleted
	}
}

// ErrorText returns a batch-level failure summary, empty for clean runs.
func (r Report) ErrorText() string {
	switch r.Status() {
	case extraction.BatchStatusCanceled:
		return "run canceled before completion"
	case extraction.BatchStatusFailed:
		return "no articles were successfully extracted"
	default:
		return ""
	}
}

// Orchestrator coordinates one batch run. The engine pool backing the
// processor is owned by the caller and outlives every run.
type Orchestrator struct {
	processor ArticleProcessor
	validator *validate.Validator
	sink      ResultSink
	emitter   progress.Emitter
	clock     extraction.Clock
	resolve   DirectoryResolver
	cleanup   CleanupFunc
	cfg       Config
	batchUUID uuid.UUID
	logger    *zap.Logger
	stats     *Stats
}

// New constructs an Orchestrator for a single batch run.
func New(
	processor ArticleProcessor,
	validator *validate.Validator,
	sink ResultSink,
	emitter progress.Emitter,
	clock extraction.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5
	}
	cleanup := cfg.Cleanup
	if cleanup == nil {
		cleanup = defaultCleanup
	}
	batchUUID, err := uuid.Parse(cfg.BatchID)
	if err != nil {
		batchUUID = uuid.Nil
		if emitter != nil {
			logger.Warn("batch id is not a UUID, progress events disabled", zap.String("batch_id", cfg.BatchID))
		}
	}
	return &Orchestrator{
		processor: processor,
		validator: validator,
		sink:      sink,
		emitter:   emitter,
		clock:     clock,
		resolve:   identity.ResolveDirectory,
		cleanup:   cleanup,
		cfg:       cfg,
		batchUUID: batchUUID,
		logger:    logger,
		stats:     NewStats(),
	}
}

// Stats exposes the live counters so callers can poll mid-run progress.
func (o *Orchestrator) Stats() *Stats {
	return o.stats
}

// Run processes the articles in fixed-size sub-batches and returns the
// aggregate report. A canceled context stops between sub-batches, marks the
// remaining articles skipped, and surfaces the context error.
func (o *Orchestrator) Run(ctx context.Context, articles []string) (Report, error) {
	startedAt := o.clock.Now()
	o.stats.markStarted(startedAt)
	o.emitBatch(progress.StageBatchStart, startedAt, 0, "")
	o.logger.Info("batch run started",
		zap.String("batch_id", o.cfg.BatchID),
		zap.Int("articles", len(articles)),
		zap.Int("batch_size", o.cfg.BatchSize),
	)

	var known []string
	canceled := false
	subBatches := 0
	totalSubBatches := (len(articles) + o.cfg.BatchSize - 1) / o.cfg.BatchSize

	for start := 0; start < len(articles); start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			canceled = true
			o.skipRemaining(articles[start:])
			break
		}
		end := min(start+o.cfg.BatchSize, len(articles))
		chunk := o.dedupe(articles[start:end], &known)
		o.runSubBatch(ctx, chunk)
		subBatches++
		o.emitBatch(progress.StageBatchHB, o.clock.Now(), 0,
			fmt.Sprintf("sub-batch %d/%d complete", subBatches, totalSubBatches))
		if subBatches%o.cfg.CleanupInterval == 0 {
			o.cleanup()
		}
	}

	finishedAt := o.clock.Now()
	o.stats.markFinished(finishedAt)
	rep := Report{
		BatchID:    o.cfg.BatchID,
		Counters:   o.stats.Snapshot(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Canceled:   canceled,
	}
	o.finishRun(rep, finishedAt.Sub(startedAt))
	if canceled {
		return rep, ctx.Err()
	}
	return rep, nil
}

func (o *Orchestrator) finishRun(rep Report, elapsed time.Duration) {
	status := rep.Status()
	switch status {
	case extraction.BatchStatusCanceled:
		o.emitBatch(progress.StageBatchCanceled, rep.FinishedAt, elapsed, rep.ErrorText())
	case extraction.BatchStatusFailed:
		o.emitBatch(progress.StageBatchError, rep.FinishedAt, elapsed, rep.ErrorText())
	default:
		o.emitBatch(progress.StageBatchDone, rep.FinishedAt, elapsed, "")
	}
	metrics.ObserveBatch(string(status))
	o.logger.Info("batch run finished",
		zap.String("batch_id", rep.BatchID),
		zap.String("status", string(status)),
		zap.Int("processed", rep.Counters.Processed),
		zap.Int("successful", rep.Counters.Successful),
		zap.Int("failed", rep.Counters.Failed),
		zap.Int("review_needed", rep.Counters.ReviewNeeded),
		zap.Int("duplicates", rep.Counters.Duplicates),
		zap.Int("skipped", rep.Counters.Skipped),
		zap.Duration("elapsed", elapsed),
	)
}

// dedupe drops articles already seen in this run, counting them as
// duplicates. It runs sequentially before the sub-batch launches so the
// known set needs no locking.
func (o *Orchestrator) dedupe(chunk []string, known *[]string) []string {
	kept := make([]string, 0, len(chunk))
	for _, article := range chunk {
		match := identity.MatchExisting(article, *known)
		if match.Kind != identity.MatchNone {
			now := o.clock.Now()
			o.stats.recordOutcome(progress.OutcomeDuplicate)
			o.emitArticle(progress.StageArticleDone, article, progress.OutcomeDuplicate, 0, now,
				"duplicate of "+match.Identifier)
			o.logger.Info("duplicate article skipped",
				zap.String("article", article),
				zap.String("existing", match.Identifier),
				zap.String("match", string(match.Kind)),
			)
			continue
		}
		*known = append(*known, article)
		kept = append(kept, article)
	}
	return kept
}

func (o *Orchestrator) skipRemaining(articles []string) {
	now := o.clock.Now()
	for _, article := range articles {
		o.stats.recordOutcome(progress.OutcomeSkipped)
		o.emitArticle(progress.StageArticleDone, article, progress.OutcomeSkipped, 0, now, "run canceled")
	}
	o.logger.Warn("run canceled, remaining articles skipped", zap.Int("skipped", len(articles)))
}

func (o *Orchestrator) runSubBatch(ctx context.Context, chunk []string) {
	if len(chunk) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, article := range chunk {
		wg.Add(1)
		go func(article string) {
			defer wg.Done()
			o.handleArticle(ctx, article)
		}(article)
	}
	wg.Wait()
}

func (o *Orchestrator) handleArticle(ctx context.Context, article string) {
	startedAt := o.clock.Now()
	o.emitArticle(progress.StageArticleStart, article, "", 0, startedAt, "")
	metrics.IncActiveArticles()
	defer metrics.DecActiveArticles()

	outcome := o.processArticle(ctx, article)
	outcome.ProcessedAt = startedAt
	outcome.Duration = o.clock.Now().Sub(startedAt)

	if o.sink != nil {
		if err := o.sink.Persist(ctx, outcome); err != nil {
			o.logger.Error("persist article failed", zap.String("article", article), zap.Error(err))
			if outcome.Class != progress.OutcomeFailed {
				outcome.Class = progress.OutcomeFailed
				outcome.Result.Success = false
				outcome.Result.AddError(fmt.Sprintf("persist: %v", err))
			}
		}
	}

	o.stats.recordOutcome(outcome.Class)
	metrics.ObserveArticle(string(outcome.Class), outcome.Duration)
	for field, score := range outcome.Result.Confidence {
		metrics.ObserveFieldConfidence(string(field), score)
	}
	o.emitArticle(progress.StageArticleDone, article, outcome.Class, outcome.Duration, o.clock.Now(), "")
}

func (o *Orchestrator) processArticle(ctx context.Context, article string) Outcome {
	outcome := Outcome{BatchID: o.cfg.BatchID, ArticleNumber: article}

	var result extraction.ExtractionResult
	name, err := o.resolve(o.cfg.Root, article)
	if err != nil {
		result = extraction.NewExtractionResult(article)
		result.AddError(fmt.Sprintf("resolve directory: %v", err))
		o.logger.Warn("article directory not resolved", zap.String("article", article), zap.Error(err))
	} else {
		result = o.safeProcess(ctx, article, filepath.Join(o.cfg.Root, name))
	}

	report := o.validator.Validate(result.Data, result.Confidence)
	outcome.Directory = result.Directory
	outcome.Result = result
	outcome.Report = report
	outcome.Class = progress.ClassifyOutcome(result.Success && report.IsValid, report.RequiresManualReview)
	return outcome
}

// safeProcess shields the run from a panicking processor; the panic becomes
// a failed result for that article only.
func (o *Orchestrator) safeProcess(ctx context.Context, article, dir string) (result extraction.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("article processing panicked",
				zap.String("article", article),
				zap.Any("panic", r),
			)
			result = extraction.NewExtractionResult(article)
			result.Directory = dir
			result.AddError(fmt.Sprintf("processing panicked: %v", r))
		}
	}()
	return o.processor.Process(ctx, article, dir)
}

func (o *Orchestrator) emitArticle(
	stage progress.Stage,
	article string,
	class progress.Outcome,
	dur time.Duration,
	at time.Time,
	note string,
) {
	if o.emitter == nil || o.batchUUID == uuid.Nil {
		return
	}
	o.emitter.Emit(progress.Event{
		BatchID: progress.UUIDToBytes(o.batchUUID),
		TS:      at,
		Stage:   stage,
		Article: article,
		Outcome: class,
		Dur:     dur,
		Note:    note,
	})
}

func (o *Orchestrator) emitBatch(stage progress.Stage, at time.Time, dur time.Duration, note string) {
	if o.emitter == nil || o.batchUUID == uuid.Nil {
		return
	}
	o.emitter.Emit(progress.Event{
		BatchID: progress.UUIDToBytes(o.batchUUID),
		TS:      at,
		Stage:   stage,
		Dur:     dur,
		Note:    note,
	})
}
