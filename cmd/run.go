package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/clock/system"
	"github.com/artikelwerk/hybrid-extractor/internal/config"
	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/id/uuid"
	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/progress/sinks"
	memorypublisher "github.com/artikelwerk/hybrid-extractor/internal/publisher/memory"
	queuememory "github.com/artikelwerk/hybrid-extractor/internal/queue/memory"
	"github.com/artikelwerk/hybrid-extractor/internal/storage"
	memorystorage "github.com/artikelwerk/hybrid-extractor/internal/storage/memory"
	"github.com/artikelwerk/hybrid-extractor/internal/worker"
)

// newRunCmd creates and configures the 'run' subcommand.
func newRunCmd() *cobra.Command {
	var (
		root          string
		articles      []string
		batchSize     int
		reconcileMode string
		profile       string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extracts one batch of article folders and exits",
		Long: `Processes every article folder under --root (or the subset named by
--articles) through the full extraction pipeline and persists the results
to the configured storage backend.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOneShot(cmd, extraction.BatchParameters{
				Root:          root,
				Articles:      articles,
				BatchSize:     batchSize,
				ReconcileMode: reconcileMode,
				Profile:       profile,
			})
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "directory holding the article folders")
	cmd.Flags().StringSliceVar(&articles, "articles", nil, "restrict the run to these article folders")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "sub-batch size (default pipeline.batch_size)")
	cmd.Flags().StringVar(&reconcileMode, "reconcile-mode", "", "gap-fill or sidecar-only (default pipeline.reconcile_mode)")
	cmd.Flags().StringVar(&profile, "profile", "", "validation profile: default or strict")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func runOneShot(cmd *cobra.Command, params extraction.BatchParameters) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params = applyPipelineDefaults(params, cfg)

	stores, err := buildRecordStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	artifacts, artifactsCleanup, err := storage.NewArtifactStore(ctx, storage.Config{
		Backend: cfg.Artifacts.Backend,
		BaseDir: cfg.Artifacts.BaseDir,
		Bucket:  cfg.Artifacts.Bucket,
		Prefix:  cfg.Artifacts.Prefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}
	defer artifactsCleanup()

	pool, processor, err := buildProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePool(pool, logger)

	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
	)
	defer closeHub(hub, logger)

	batches := memorystorage.NewBatchStore()
	batchQueue := queuememory.NewQueue(1)
	clk := system.New()

	oneShotWorker := worker.New(
		batchQueue,
		batches,
		artifacts,
		stores.records,
		memorypublisher.New(logger.Named("publisher")),
		processor,
		hub,
		clk,
		worker.Config{
			ContentType:     cfg.Artifacts.ContentType,
			ArtifactPrefix:  cfg.Artifacts.Prefix,
			BatchSize:       cfg.Pipeline.BatchSize,
			CleanupInterval: cfg.Pipeline.CleanupInterval,
			ReviewThreshold: cfg.Validation.ReviewThreshold,
			PriceCeiling:    cfg.Validation.PriceCeiling,
		},
		logger.Named("worker"),
	)

	batchID, err := submitBatch(ctx, batches, batchQueue, uuid.NewUUIDGenerator(), clk, params)
	if err != nil {
		return err
	}
	// Closing behind the single submission lets the worker drain the
	// queue and return instead of blocking for more batches.
	batchQueue.Close()

	logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.String("root", params.Root),
	)
	oneShotWorker.Run(ctx)

	batch, err := batches.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch result: %w", err)
	}
	logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.String("status", string(batch.Status)),
		zap.Int("processed", batch.Counters.Processed),
		zap.Int("successful", batch.Counters.Successful),
		zap.Int("failed", batch.Counters.Failed),
		zap.Int("review_needed", batch.Counters.ReviewNeeded),
		zap.Int("skipped", batch.Counters.Skipped),
		zap.Int("duplicates", batch.Counters.Duplicates),
	)
	if batch.Status != extraction.BatchStatusCompleted {
		return fmt.Errorf("batch %s finished %s: %s", batchID, batch.Status, batch.ErrorText)
	}
	return nil
}

// applyPipelineDefaults fills unset per-batch knobs from the service
// configuration.
func applyPipelineDefaults(params extraction.BatchParameters, cfg config.Config) extraction.BatchParameters {
	if params.ReconcileMode == "" {
		params.ReconcileMode = cfg.Pipeline.ReconcileMode
	}
	if params.Profile == "" {
		params.Profile = cfg.Validation.Profile
	}
	return params
}

// submitBatch creates a pending batch and enqueues it, mirroring the API
// submission path for non-HTTP triggers.
func submitBatch(
	ctx context.Context,
	batches extraction.BatchStore,
	batchQueue extraction.Queue,
	idGen extraction.IDGenerator,
	clk extraction.Clock,
	params extraction.BatchParameters,
) (string, error) {
	batchID, err := idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	now := clk.Now()
	batch := extraction.Batch{
		ID:         batchID,
		Status:     extraction.BatchStatusPending,
		Submitted:  now,
		Parameters: params,
	}
	if err := batches.CreateBatch(ctx, batch); err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	item := extraction.QueueItem{
		BatchID:   batchID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := batchQueue.Enqueue(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue batch: %w", err)
	}
	return batchID, nil
}
