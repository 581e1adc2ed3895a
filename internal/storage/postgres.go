/**
 * PostgreSQL job store for the de-identification worker.
 *
 * Persists job lifecycle and result counters. Updates use UPSERT so the
 * worker can create the job row when the enqueuing side has not written it
 * yet; when the row already exists, the latest update sets its status.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID             string
	Status            string
	MaskingLevel      string
	InputKey          string
	OutputKey         string
	PagesProcessed    int
	EntitiesDetected  int
	RegionsProduced   int
	EntitiesUnmatched int
	ProcessingTimeMs  int64
	ErrorCode         string
	ErrorMessage      string
	RetryCount        int
}

// Job is a job row as read back from the database.
type Job struct {
	ID                string
	Status            string
	MaskingLevel      string
	InputKey          string
	OutputKey         string
	PagesProcessed    int
	EntitiesDetected  int
	RegionsProduced   int
	EntitiesUnmatched int
	ProcessingTimeMs  int64
	ErrorCode         string
	ErrorMessage      string
	RetryCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Job status values.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpdateJobStatus upserts the job row with the latest lifecycle state.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO deid.jobs (
			id, status, masking_level, input_key, output_key,
			pages_processed, entities_detected, regions_produced, entities_unmatched,
			processing_time_ms, error_code, error_message, retry_count,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
			$6, $7, $8, $9,
			NULLIF($10, 0), NULLIF($11, ''), NULLIF($12, ''), $13,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			masking_level = COALESCE(EXCLUDED.masking_level, deid.jobs.masking_level),
			input_key = COALESCE(EXCLUDED.input_key, deid.jobs.input_key),
			output_key = COALESCE(EXCLUDED.output_key, deid.jobs.output_key),
			pages_processed = GREATEST(EXCLUDED.pages_processed, deid.jobs.pages_processed),
			entities_detected = GREATEST(EXCLUDED.entities_detected, deid.jobs.entities_detected),
			regions_produced = GREATEST(EXCLUDED.regions_produced, deid.jobs.regions_produced),
			entities_unmatched = GREATEST(EXCLUDED.entities_unmatched, deid.jobs.entities_unmatched),
			processing_time_ms = COALESCE(NULLIF(EXCLUDED.processing_time_ms, 0), deid.jobs.processing_time_ms),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			retry_count = GREATEST(EXCLUDED.retry_count, deid.jobs.retry_count),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err := p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,
		update.Status,
		update.MaskingLevel,
		update.InputKey,
		update.OutputKey,
		update.PagesProcessed,
		update.EntitiesDetected,
		update.RegionsProduced,
		update.EntitiesUnmatched,
		update.ProcessingTimeMs,
		update.ErrorCode,
		update.ErrorMessage,
		update.RetryCount,
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, status, masking_level, input_key, output_key,
			pages_processed, entities_detected, regions_produced, entities_unmatched,
			processing_time_ms, error_code, error_message, retry_count,
			created_at, updated_at
		FROM deid.jobs
		WHERE id = $1::uuid
	`

	var (
		job                              Job
		maskingLevel, inputKey           sql.NullString
		outputKey, errorCode, errorMsg   sql.NullString
		pages, detected, regions, unmat  sql.NullInt64
		processingTimeMs                 sql.NullInt64
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Status, &maskingLevel, &inputKey, &outputKey,
		&pages, &detected, &regions, &unmat,
		&processingTimeMs, &errorCode, &errorMsg, &job.RetryCount,
		&job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.MaskingLevel = maskingLevel.String
	job.InputKey = inputKey.String
	job.OutputKey = outputKey.String
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMsg.String
	job.PagesProcessed = int(pages.Int64)
	job.EntitiesDetected = int(detected.Int64)
	job.RegionsProduced = int(regions.Int64)
	job.EntitiesUnmatched = int(unmat.Int64)
	job.ProcessingTimeMs = processingTimeMs.Int64

	return &job, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
