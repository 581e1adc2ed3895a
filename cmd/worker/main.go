/**
 * De-identification worker - main entry point.
 *
 * Queue-driven worker that redacts PHI from scanned medical documents:
 * - Asynq consumer over a Redis-backed job queue
 * - OCR and PHI detection behind provider interfaces
 * - Entity-to-geometry matching and opaque mask painting
 * - PostgreSQL job tracking, PHI/clean object buckets
 *
 * One document is processed per worker slot; there is no shared state
 * between jobs beyond the provider clients.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redactifai/deid-worker/internal/config"
	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/redactifai/deid-worker/internal/document"
	"github.com/redactifai/deid-worker/internal/logging"
	"github.com/redactifai/deid-worker/internal/providers"
	"github.com/redactifai/deid-worker/internal/queue"
	"github.com/redactifai/deid-worker/internal/storage"
)

func main() {
	// Missing .env is fine; the system environment is used as-is.
	_ = godotenv.Load()

	logger := logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Info().
		Str("redis", cfg.RedisURL).
		Str("storage", cfg.StorageBackend).
		Str("ocr_provider", cfg.OCRProvider).
		Str("phi_provider", cfg.PHIProvider).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("de-identification worker starting")

	ctx := context.Background()

	// Storage: job store plus PHI/clean buckets.
	storageManager, err := storage.NewManager(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer storageManager.Close()

	// Collaborators behind the core's interfaces.
	codec := document.NewCodec(logging.Component(logger, "document"))

	ocrProvider, err := providers.NewOCRProvider(cfg, codec, logging.Component(logger, "ocr"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize OCR provider")
	}

	phiProvider, err := providers.NewPHIProvider(cfg, logging.Component(logger, "phi"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PHI provider")
	}

	pipeline := deid.NewPipeline(ocrProvider, phiProvider, codec, deid.PipelineConfig{
		Matcher: deid.MatcherConfig{
			ConfidenceThreshold:  cfg.ConfidenceThreshold,
			PaddingPx:            float64(cfg.PaddingPx),
			FuzzyWordThreshold:   cfg.FuzzyWordThreshold,
			FuzzyEntityThreshold: cfg.FuzzyEntityThreshold,
			MinSimilarityRatio:   cfg.MinSimilarityRatio,
			MergeAdjacent:        true,
		},
		MaskColor:    cfg.MaskColor,
		DebugMode:    cfg.DebugMode,
		MaxOCRSizeMB: cfg.MaxOCRSizeMB,
		OCRLanguage:  cfg.OCRLanguage,
	}, logging.Component(logger, "pipeline"))

	// Job status event stream. A Redis connection failure here is fatal:
	// the same Redis serves the queue, so the consumer could not run either.
	events, err := queue.NewEventPublisher(cfg.RedisURL, cfg.QueueName, logging.Component(logger, "events"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer events.Close()

	worker, err := queue.NewWorker(queue.WorkerConfig{
		Pipeline: pipeline,
		Jobs:     storageManager.Jobs,
		PHI:      storageManager.PHI,
		Clean:    storageManager.Clean,
		Events:   events,
		Timeout:  time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
	}, logging.Component(logger, "worker"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize worker")
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		Worker:      worker,
	}, logging.Component(logger, "queue"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize queue consumer")
	}

	if err := consumer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start queue consumer")
	}

	logger.Info().Str("queue", cfg.QueueName).Msg("worker ready, waiting for jobs")

	// Graceful shutdown: finish in-flight jobs, then release resources.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := consumer.Stop(); err != nil {
		logger.Error().Err(err).Msg("error stopping queue consumer")
	}
	if err := storageManager.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing storage")
	}

	logger.Info().Msg("shutdown complete")
}
