// Package worker implements the batch execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/identity"
	"github.com/artikelwerk/hybrid-extractor/internal/orchestrator"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/recognition"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
	"github.com/artikelwerk/hybrid-extractor/internal/validate"
)

// BatchProcessor extracts one article folder under a reconcile mode.
// *recognition.Processor satisfies it.
type BatchProcessor interface {
	Process(ctx context.Context, articleNumber, dir string, mode recognition.Mode) extraction.ExtractionResult
}

// Config controls Worker behavior.
type Config struct {
	// ContentType is stamped on result artifacts.
	ContentType string
	// ArtifactPrefix is prepended to artifact object paths.
	ArtifactPrefix string
	// Topic receives the run summary after each batch, empty disables it.
	Topic string
	// BatchSize is the sub-batch size used when a batch does not set one.
	BatchSize int
	// CleanupInterval counts sub-batches between cleanup hook runs.
	CleanupInterval int
	// ReviewThreshold overrides the profile's review threshold when positive.
	ReviewThreshold float64
	// PriceCeiling overrides the profile's price sanity ceiling when positive.
	PriceCeiling float64
}

// Worker consumes queue items and executes the extraction pipeline.
type Worker struct {
	queue     extraction.Queue
	batches   extraction.BatchStore
	artifacts extraction.ArtifactStore
	records   store.RecordRepository
	publisher extraction.Publisher
	processor BatchProcessor
	emitter   progress.Emitter
	clock     extraction.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue extraction.Queue,
	batches extraction.BatchStore,
	artifacts extraction.ArtifactStore,
	records store.RecordRepository,
	publisher extraction.Publisher,
	processor BatchProcessor,
	emitter progress.Emitter,
	clock extraction.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json; charset=utf-8"
	}
	return &Worker{
		queue:     queue,
		batches:   batches,
		artifacts: artifacts,
		records:   records,
		publisher: publisher,
		processor: processor,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, extraction.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued batch",
			zap.String("batch_id", item.BatchID),
			zap.Int("attempt", item.Attempt),
		)
		w.processBatch(ctx, item)
	}
}

func (w *Worker) processBatch(ctx context.Context, item extraction.QueueItem) {
	if w.processor == nil {
		w.failBatch(ctx, item.BatchID, "no article processor configured")
		return
	}

	if batch, err := w.batches.GetBatch(ctx, item.BatchID); err == nil &&
		batch.Status == extraction.BatchStatusCanceled {
		w.logger.Info("skipping canceled batch", zap.String("batch_id", item.BatchID))
		return
	}

	mode, err := recognition.ParseMode(item.Params.ReconcileMode)
	if err != nil {
		w.failBatch(ctx, item.BatchID, err.Error())
		return
	}
	profile, err := validate.ProfileByName(item.Params.Profile)
	if err != nil {
		w.failBatch(ctx, item.BatchID, err.Error())
		return
	}
	profile = profile.WithLimits(w.cfg.ReviewThreshold, w.cfg.PriceCeiling)

	if err := w.batches.UpdateBatchStatus(
		ctx,
		item.BatchID,
		extraction.BatchStatusRunning,
		"",
		extraction.BatchCounters{},
	); err != nil {
		w.logger.Error("batch status update failed", zap.String("batch_id", item.BatchID), zap.Error(err))
		return
	}

	articles := item.Params.Articles
	if len(articles) == 0 {
		articles, err = identity.DiscoverArticles(item.Params.Root)
		if err != nil {
			w.failBatch(ctx, item.BatchID, err.Error())
			return
		}
	}
	if len(articles) == 0 {
		w.failBatch(ctx, item.BatchID, "no article folders found under root")
		return
	}

	processor := orchestrator.ProcessorFunc(func(ctx context.Context, article, dir string) extraction.ExtractionResult {
		return w.processor.Process(ctx, article, dir, mode)
	})
	orc := orchestrator.New(
		processor,
		validate.New(profile),
		orchestrator.SinkFunc(w.persistOutcome),
		w.emitter,
		w.clock,
		orchestrator.Config{
			BatchID:         item.BatchID,
			Root:            item.Params.Root,
			BatchSize:       w.subBatchSize(item.Params),
			CleanupInterval: w.cfg.CleanupInterval,
		},
		w.logger,
	)

	rep, runErr := orc.Run(ctx, articles)
	if runErr != nil {
		w.logger.Warn("batch run interrupted",
			zap.String("batch_id", item.BatchID),
			zap.Error(runErr),
		)
	}
	w.finishBatch(ctx, item.BatchID, rep)
}

func (w *Worker) subBatchSize(params extraction.BatchParameters) int {
	if params.BatchSize > 0 {
		return params.BatchSize
	}
	return w.cfg.BatchSize
}

// persistOutcome stores everything produced for one article: the result
// artifact, the per-batch article record, and for usable records the
// product row keyed by the extracted identifier.
func (w *Worker) persistOutcome(ctx context.Context, outcome orchestrator.Outcome) error {
	record := buildArticleRecord(outcome)

	if w.artifacts != nil {
		uri, err := w.writeArtifact(ctx, outcome.BatchID, record)
		if err != nil {
			return err
		}
		record.ArtifactURI = uri
	}

	if err := w.batches.RecordArticle(ctx, record); err != nil {
		return fmt.Errorf("record article: %w", err)
	}

	if w.records != nil && outcome.Class != progress.OutcomeFailed {
		if err := w.records.UpsertRecord(ctx, productRecord(outcome, w.clock.Now())); err != nil {
			return fmt.Errorf("upsert product record: %w", err)
		}
	}
	return nil
}

func (w *Worker) writeArtifact(ctx context.Context, batchID string, record extraction.ArticleRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal article record: %w", err)
	}
	uri, err := w.artifacts.PutObject(ctx, w.buildArtifactPath(batchID, record.ArticleNumber), w.cfg.ContentType, data)
	if err != nil {
		return "", fmt.Errorf("put artifact: %w", err)
	}
	return uri, nil
}

func (w *Worker) buildArtifactPath(batchID, articleNumber string) string {
	prefix := strings.Trim(w.cfg.ArtifactPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/result.json", batchID, articleNumber)
	}
	return fmt.Sprintf("%s/%s/%s/result.json", prefix, batchID, articleNumber)
}

// finishBatch persists the terminal status and publishes the run summary.
// Final writes must land even when the run context is already gone.
func (w *Worker) finishBatch(ctx context.Context, batchID string, rep orchestrator.Report) {
	ctx = context.WithoutCancel(ctx)
	status := rep.Status()
	errText := rep.ErrorText()

	if err := w.batches.UpdateBatchStatus(ctx, batchID, status, errText, rep.Counters); err != nil {
		w.logger.Error("final batch status update failed",
			zap.String("batch_id", batchID),
			zap.Error(err),
		)
	}
	w.publishSummary(ctx, batchID, status, errText, rep)
}

func (w *Worker) failBatch(ctx context.Context, batchID, errText string) {
	w.logger.Error("batch rejected", zap.String("batch_id", batchID), zap.String("error", errText))
	if err := w.batches.UpdateBatchStatus(
		context.WithoutCancel(ctx),
		batchID,
		extraction.BatchStatusFailed,
		errText,
		extraction.BatchCounters{},
	); err != nil {
		w.logger.Error("fail batch status update", zap.String("batch_id", batchID), zap.Error(err))
	}
}

func (w *Worker) publishSummary(
	ctx context.Context,
	batchID string,
	status extraction.BatchStatus,
	errText string,
	rep orchestrator.Report,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"batch_id":    batchID,
		"status":      string(status),
		"error":       errText,
		"processed":   rep.Counters.Processed,
		"successful":  rep.Counters.Successful,
		"failed":      rep.Counters.Failed,
		"review":      rep.Counters.ReviewNeeded,
		"skipped":     rep.Counters.Skipped,
		"duplicates":  rep.Counters.Duplicates,
		"started_at":  rep.StartedAt.Format(time.RFC3339),
		"finished_at": rep.FinishedAt.Format(time.RFC3339),
		"duration_ms": rep.FinishedAt.Sub(rep.StartedAt).Milliseconds(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("run summary publish failed",
			zap.String("batch_id", batchID),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.String("status", string(status)),
		zap.Int("successful", rep.Counters.Successful),
		zap.Int("failed", rep.Counters.Failed),
		zap.Int("review", rep.Counters.ReviewNeeded),
	)
}

func buildArticleRecord(outcome orchestrator.Outcome) extraction.ArticleRecord {
	result := outcome.Result
	warnings := make([]string, 0, len(result.Warnings)+len(outcome.Report.Warnings))
	warnings = append(warnings, result.Warnings...)
	warnings = append(warnings, outcome.Report.WarningMessages()...)
	if len(warnings) == 0 {
		warnings = nil
	}
	return extraction.ArticleRecord{
		BatchID:         outcome.BatchID,
		ArticleNumber:   outcome.ArticleNumber,
		Success:         result.Success,
		Data:            outcome.Report.Sanitized,
		Confidence:      result.Confidence,
		Source:          result.Source,
		ConfidenceScore: outcome.Report.ConfidenceScore,
		RequiresReview:  outcome.Report.RequiresManualReview,
		ReviewReasons:   outcome.Report.ReviewReasons,
		Errors:          result.Errors,
		Warnings:        warnings,
		Directory:       outcome.Directory,
		ProcessedAt:     outcome.ProcessedAt,
		DurationMs:      outcome.Duration.Milliseconds(),
	}
}

// productRecord maps a usable outcome onto the product row. The record is
// keyed by the extracted identifier, not the requested one, so variant
// folders land on their canonical article.
func productRecord(outcome orchestrator.Outcome, now time.Time) store.ProductRecord {
	sanitized := outcome.Report.Sanitized
	return store.ProductRecord{
		ArticleNumber:    sanitized.ArticleNumber,
		ProductName:      sanitized.ProductName,
		Description:      sanitized.Description,
		Price:            sanitized.Price,
		PriceType:        sanitized.PriceType,
		TieredPrices:     sanitized.TieredPrices,
		TieredPricesText: sanitized.TieredPricesText,
		Currency:         "EUR",
		Category:         store.CategoryShopOnly,
		Confidence:       outcome.Result.Confidence,
		Source:           outcome.Result.Source,
		RequiresReview:   outcome.Report.RequiresManualReview,
		ExtractedAt:      outcome.ProcessedAt,
		UpdatedAt:        now,
	}
}
