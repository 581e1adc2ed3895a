/**
 * Job worker.
 *
 * Executes one de-identification job end to end: download the original
 * from the PHI bucket, run the pipeline, store the redacted copy in the
 * clean bucket, remove the original, and keep the job row and event stream
 * current throughout. Returned errors signal the queue to retry.
 */

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redactifai/deid-worker/internal/deid"
	deiderrors "github.com/redactifai/deid-worker/internal/errors"
	"github.com/redactifai/deid-worker/internal/storage"
	"github.com/rs/zerolog"
)

// Deidentifier runs the de-identification pipeline for one document.
type Deidentifier interface {
	Deidentify(ctx context.Context, documentBytes []byte, format string, level deid.MaskingLevel) *deid.DeidentificationResult
}

// JobStore persists job lifecycle updates.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessPayload is the task payload for a de-identification job.
type ProcessPayload struct {
	JobID        string `json:"jobId"`
	InputKey     string `json:"inputKey"`
	OutputKey    string `json:"outputKey"`
	Format       string `json:"format"`
	MaskingLevel string `json:"maskingLevel"`
	RetryCount   int    `json:"retryCount,omitempty"`
}

// Worker processes de-identification jobs.
type Worker struct {
	pipeline Deidentifier
	jobs     JobStore
	phi      storage.ObjectStore
	clean    storage.ObjectStore
	events   *EventPublisher
	timeout  time.Duration
	logger   zerolog.Logger
}

// WorkerConfig holds worker collaborators and settings.
type WorkerConfig struct {
	Pipeline Deidentifier
	Jobs     JobStore
	PHI      storage.ObjectStore
	Clean    storage.ObjectStore
	Events   *EventPublisher // optional
	Timeout  time.Duration   // per-job processing timeout
}

// NewWorker creates a job worker.
func NewWorker(cfg WorkerConfig, logger zerolog.Logger) (*Worker, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.PHI == nil || cfg.Clean == nil {
		return nil, fmt.Errorf("both PHI and clean stores are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Worker{
		pipeline: cfg.Pipeline,
		jobs:     cfg.Jobs,
		phi:      cfg.PHI,
		clean:    cfg.Clean,
		events:   cfg.Events,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// Process runs one job. A returned error marks the task failed so the
// queue retries it with backoff; an invalid masking level is never retried.
func (w *Worker) Process(ctx context.Context, payload *ProcessPayload) error {
	if payload.JobID == "" || payload.InputKey == "" {
		return fmt.Errorf("payload missing jobId or inputKey")
	}

	logger := w.logger.With().Str("job_id", payload.JobID).Logger()
	logger.Info().Str("input_key", payload.InputKey).Msg("processing job")

	level, err := deid.ParseMaskingLevel(payload.MaskingLevel)
	if err != nil {
		// A bad level never becomes valid; fail the job without retry noise.
		w.markFailed(ctx, payload, deiderrors.KindPHIProvider, err.Error())
		return fmt.Errorf("invalid masking level: %v: %w", err, asynq.SkipRetry)
	}

	outputKey := payload.OutputKey
	if outputKey == "" {
		outputKey = "redacted/" + payload.JobID
	}

	w.updateStatus(ctx, payload, storage.JobStatusProcessing, nil)

	documentBytes, err := w.phi.Download(ctx, payload.InputKey)
	if err != nil {
		storageErr := deiderrors.NewStorageFailedError(payload.JobID, err)
		w.markFailed(ctx, payload, storageErr.Kind, storageErr.Error())
		return storageErr
	}

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result := w.pipeline.Deidentify(runCtx, documentBytes, payload.Format, level)

	if result.Status != deid.StatusSuccess {
		msg := "pipeline failed"
		if len(result.Errors) > 0 {
			msg = result.Errors[0]
		}
		w.markFailed(ctx, payload, deiderrors.KindOCRProvider, msg)
		return fmt.Errorf("de-identification failed: %s", msg)
	}

	if err := w.clean.Upload(ctx, outputKey, result.MaskedBytes); err != nil {
		storageErr := deiderrors.NewStorageFailedError(payload.JobID, err)
		w.markFailed(ctx, payload, storageErr.Kind, storageErr.Error())
		return storageErr
	}

	// The original leaves the PHI bucket only after the redacted copy is
	// durably stored.
	if err := w.phi.Delete(ctx, payload.InputKey); err != nil {
		logger.Warn().Err(err).Msg("original not removed from PHI bucket")
	}

	w.updateStatus(ctx, payload, storage.JobStatusComplete, result)
	logger.Info().
		Int("pages", result.PagesProcessed).
		Int("entities", result.EntitiesDetected).
		Int("regions", result.RegionsProduced).
		Int("unmatched", result.EntitiesUnmatched).
		Msg("job complete")

	return nil
}

func (w *Worker) updateStatus(ctx context.Context, payload *ProcessPayload, status string, result *deid.DeidentificationResult) {
	update := &storage.JobUpdate{
		JobID:        payload.JobID,
		Status:       status,
		MaskingLevel: payload.MaskingLevel,
		InputKey:     payload.InputKey,
		OutputKey:    payload.OutputKey,
		RetryCount:   payload.RetryCount,
	}

	if result != nil {
		update.PagesProcessed = result.PagesProcessed
		update.EntitiesDetected = result.EntitiesDetected
		update.RegionsProduced = result.RegionsProduced
		update.EntitiesUnmatched = result.EntitiesUnmatched
		update.ProcessingTimeMs = result.ProcessingTime.Milliseconds()
	}

	if err := w.jobs.UpdateJobStatus(ctx, update); err != nil {
		w.logger.Warn().Err(err).Str("job_id", payload.JobID).Str("status", status).Msg("job row not updated")
	}

	if w.events != nil {
		w.events.Publish(ctx, payload.JobID, status)
	}
}

func (w *Worker) markFailed(ctx context.Context, payload *ProcessPayload, kind deiderrors.Kind, message string) {
	update := &storage.JobUpdate{
		JobID:        payload.JobID,
		Status:       storage.JobStatusFailed,
		MaskingLevel: payload.MaskingLevel,
		InputKey:     payload.InputKey,
		ErrorCode:    string(kind),
		ErrorMessage: message,
		RetryCount:   payload.RetryCount,
	}
	if err := w.jobs.UpdateJobStatus(ctx, update); err != nil {
		w.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("failed job row not updated")
	}

	if w.events != nil {
		w.events.Publish(ctx, payload.JobID, storage.JobStatusFailed)
	}
}
