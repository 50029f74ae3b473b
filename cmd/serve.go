package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/api"
	"github.com/artikelwerk/hybrid-extractor/internal/clock/system"
	"github.com/artikelwerk/hybrid-extractor/internal/config"
	"github.com/artikelwerk/hybrid-extractor/internal/dispatcher"
	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/id/uuid"
	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
	"github.com/artikelwerk/hybrid-extractor/internal/progress"
	"github.com/artikelwerk/hybrid-extractor/internal/progress/sinks"
	memorypublisher "github.com/artikelwerk/hybrid-extractor/internal/publisher/memory"
	pubsubpublisher "github.com/artikelwerk/hybrid-extractor/internal/publisher/pubsub"
	"github.com/artikelwerk/hybrid-extractor/internal/queue"
	queuememory "github.com/artikelwerk/hybrid-extractor/internal/queue/memory"
	"github.com/artikelwerk/hybrid-extractor/internal/storage"
	memorystorage "github.com/artikelwerk/hybrid-extractor/internal/storage/memory"
	"github.com/artikelwerk/hybrid-extractor/internal/telemetry"
	"github.com/artikelwerk/hybrid-extractor/internal/worker"
)

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the extraction API with its worker fleet",
		Long: `Starts the HTTP API, the batch dispatcher with its extraction workers,
and, when configured, the cron scheduler for standard runs. The process
drains gracefully on SIGINT and SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.InitTracerProvider(ctx, "hybrid-extractor", Version, 0)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tpCtx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if err := tracerProvider.Shutdown(tpCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

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

	// One Pub/Sub client serves both the queue and the summary publisher.
	var pubsubClient *pubsub.Client
	if cfg.Queue.Backend == "pubsub" || cfg.PubSub.SummaryTopicID != "" {
		if cfg.PubSub.ProjectID == "" {
			return errors.New("pubsub.project_id is required for pubsub resources")
		}
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("close pubsub client", zap.Error(err))
			}
		}()
	}

	var batchQueue extraction.Queue
	var queueClose func()
	switch cfg.Queue.Backend {
	case "pubsub":
		pubsubQueue, err := queue.NewPubSub(ctx, pubsubClient, queue.PubSubConfig{
			TopicID:        cfg.PubSub.TopicID,
			SubscriptionID: cfg.PubSub.SubscriptionID,
			Buffer:         cfg.Queue.Depth,
		}, logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("init pubsub queue: %w", err)
		}
		batchQueue = pubsubQueue
		queueClose = func() { _ = pubsubQueue.Close() }
	default:
		memoryQueue := queuememory.NewQueue(cfg.Queue.Depth)
		batchQueue = memoryQueue
		queueClose = memoryQueue.Close
	}

	var publisher extraction.Publisher
	if cfg.PubSub.SummaryTopicID != "" {
		summaryPublisher := pubsubpublisher.New(pubsubClient.Topic(cfg.PubSub.SummaryTopicID))
		defer func() { _ = summaryPublisher.Close() }()
		publisher = summaryPublisher
	} else {
		publisher = memorypublisher.New(logger.Named("publisher"))
	}

	pool, processor, err := buildProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePool(pool, logger)

	prometheusSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	progressSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		prometheusSink,
	}
	if stores.runs != nil {
		progressSinks = append(progressSinks, sinks.NewStoreSink(stores.runs, logger.Named("progress")))
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)
	defer closeHub(hub, logger)

	batches := memorystorage.NewBatchStore()
	clk := system.New()
	idGen := uuid.NewUUIDGenerator()

	workerCfg := worker.Config{
		ContentType:     cfg.Artifacts.ContentType,
		ArtifactPrefix:  cfg.Artifacts.Prefix,
		Topic:           cfg.PubSub.SummaryTopicID,
		BatchSize:       cfg.Pipeline.BatchSize,
		CleanupInterval: cfg.Pipeline.CleanupInterval,
		ReviewThreshold: cfg.Validation.ReviewThreshold,
		PriceCeiling:    cfg.Validation.PriceCeiling,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Orchestrator.WorkerCount; i++ {
		workers = append(workers, worker.New(
			batchQueue,
			batches,
			artifacts,
			stores.records,
			publisher,
			processor,
			hub,
			clk,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(batchQueue, workers)

	var progressHandler *api.ProgressHandler
	if stores.runs != nil {
		progressHandler = api.NewProgressHandler(stores.runs, logger.Named("api"))
	}
	apiServer := api.NewServer(batches, dispatch, progressHandler, idGen, clk, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := startScheduler(ctx, cfg, batches, batchQueue, idGen, clk, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		logger.Info("dispatcher started", zap.Int("workers", dispatch.WorkerCount()))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queueClose()
	<-dispatcherDone
	logger.Info("shutdown complete")
	return nil
}

// startScheduler arms the cron trigger for the configured standard run.
// It returns nil when no schedule is configured.
func startScheduler(
	ctx context.Context,
	cfg config.Config,
	batches extraction.BatchStore,
	batchQueue extraction.Queue,
	idGen extraction.IDGenerator,
	clk extraction.Clock,
	logger *zap.Logger,
) (*cron.Cron, error) {
	if cfg.Schedule.Spec == "" {
		return nil, nil
	}
	params, ok := cfg.StandardRuns[cfg.Schedule.Run]
	if !ok {
		return nil, fmt.Errorf("schedule.run %q is not a configured standard run", cfg.Schedule.Run)
	}
	params = applyPipelineDefaults(params, cfg)

	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule.Spec, func() {
		batchID, err := submitBatch(ctx, batches, batchQueue, idGen, clk, params)
		if err != nil {
			logger.Error("scheduled run submission failed",
				zap.String("run", cfg.Schedule.Run),
				zap.Error(err),
			)
			return
		}
		logger.Info("scheduled run submitted",
			zap.String("run", cfg.Schedule.Run),
			zap.String("batch_id", batchID),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("parse schedule spec %q: %w", cfg.Schedule.Spec, err)
	}
	c.Start()
	logger.Info("scheduler started",
		zap.String("spec", cfg.Schedule.Spec),
		zap.String("run", cfg.Schedule.Run),
	)
	return c, nil
}
