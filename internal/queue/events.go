/**
 * Redis job status bookkeeping and event stream.
 *
 * Mirrors each job's queue state into Redis sets and publishes a pub/sub
 * event per transition so API or WebSocket layers can stream progress
 * without polling the database.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventPublisher mirrors job status into Redis.
type EventPublisher struct {
	client    *redis.Client
	queueName string
	logger    zerolog.Logger
}

// JobEvent is the message published per status transition.
type JobEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	Timestamp string `json:"timestamp"`
}

// NewEventPublisher connects to Redis and verifies the connection.
func NewEventPublisher(redisURL, queueName string, logger zerolog.Logger) (*EventPublisher, error) {
	if queueName == "" {
		queueName = "deid:jobs"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &EventPublisher{client: client, queueName: queueName, logger: logger}, nil
}

// Publish updates the status sets and emits a pub/sub event. Bookkeeping is
// best-effort; a Redis hiccup must not fail the job.
func (e *EventPublisher) Publish(ctx context.Context, jobID, status string) {
	switch status {
	case "processing":
		e.client.SAdd(ctx, e.key("processing"), jobID)
	case "complete":
		e.client.SRem(ctx, e.key("processing"), jobID)
		e.client.SAdd(ctx, e.key("completed"), jobID)
	case "failed":
		e.client.SRem(ctx, e.key("processing"), jobID)
		e.client.SAdd(ctx, e.key("failed"), jobID)
	}

	event := JobEvent{
		Event:     fmt.Sprintf("job:%s", status),
		JobID:     jobID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn().Err(err).Msg("could not marshal job event")
		return
	}

	if err := e.client.Publish(ctx, e.key("events"), data).Err(); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("job event not published")
	}
}

// Stats returns queue statistics from the status sets.
func (e *EventPublisher) Stats(ctx context.Context) (map[string]int64, error) {
	processing, err := e.client.SCard(ctx, e.key("processing")).Result()
	if err != nil {
		return nil, err
	}
	completed, _ := e.client.SCard(ctx, e.key("completed")).Result()
	failed, _ := e.client.SCard(ctx, e.key("failed")).Result()

	return map[string]int64{
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

// Close releases the Redis connection.
func (e *EventPublisher) Close() error {
	return e.client.Close()
}

func (e *EventPublisher) key(suffix string) string {
	return fmt.Sprintf("%s:%s", e.queueName, suffix)
}
