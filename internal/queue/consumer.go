/**
 * Queue consumer for the de-identification worker.
 *
 * Consumes de-identification jobs from a Redis-backed queue using Asynq.
 * Failed tasks retry with capped exponential backoff; the per-job state
 * machine itself lives in the Worker.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskTypeProcess is the task type for de-identification jobs.
const TaskTypeProcess = "deid:process"

// Consumer handles job consumption from the Redis queue
type Consumer struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	worker *Worker
	config *ConsumerConfig
	logger zerolog.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Worker      *Worker
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "deid:jobs"
	}

	if cfg.Worker == nil {
		return nil, fmt.Errorf("Worker is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Client for task submission (enqueuing side of the same binary)
	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, ... capped at 60s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error().Err(err).Str("task_type", task.Type()).Msg("task processing error")
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client: client,
		server: server,
		mux:    mux,
		worker: cfg.Worker,
		config: cfg,
		logger: logger,
	}

	mux.HandleFunc(TaskTypeProcess, consumer.handleProcessTask)

	return consumer, nil
}

// Start begins processing jobs from the queue
func (c *Consumer) Start() error {
	c.logger.Info().Int("concurrency", c.config.Concurrency).Str("queue", c.config.QueueName).Msg("starting queue consumer")
	return c.server.Start(c.mux)
}

// Stop gracefully stops the consumer, letting in-flight jobs finish.
func (c *Consumer) Stop() error {
	c.logger.Info().Msg("stopping queue consumer")
	c.server.Shutdown()
	return c.client.Close()
}

// Enqueue submits a de-identification job to the queue, assigning a job ID
// when the caller did not provide one.
func (c *Consumer) Enqueue(ctx context.Context, payload *ProcessPayload, maxRetries int) error {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeProcess, data)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(maxRetries),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}

	c.logger.Info().Str("job_id", payload.JobID).Msg("job enqueued")
	return nil
}

// handleProcessTask decodes the payload and hands it to the worker.
func (c *Consumer) handleProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// Malformed payloads never deserialize on retry either.
		c.logger.Error().Err(err).Msg("malformed task payload, dropping")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if retried, ok := asynq.GetRetryCount(ctx); ok {
		payload.RetryCount = retried
	}

	return c.worker.Process(ctx, &payload)
}
