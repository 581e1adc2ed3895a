/**
 * Storage manager.
 *
 * Coordinates the job store and the two document buckets for the worker:
 * originals come out of the PHI bucket, redacted output goes into the clean
 * bucket, and the original is removed only after the redacted copy is
 * durably stored.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/redactifai/deid-worker/internal/config"
)

// Manager bundles the job store with the PHI and clean buckets.
type Manager struct {
	Jobs  *PostgresClient
	PHI   ObjectStore
	Clean ObjectStore
}

// NewManager wires storage from configuration.
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	jobs, err := NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}

	phi, clean, err := newObjectStores(ctx, cfg)
	if err != nil {
		jobs.Close()
		return nil, err
	}

	return &Manager{Jobs: jobs, PHI: phi, Clean: clean}, nil
}

func newObjectStores(ctx context.Context, cfg *config.Config) (ObjectStore, ObjectStore, error) {
	switch cfg.StorageBackend {
	case "local":
		phi, err := NewLocalStore(cfg.LocalStorageDir + "/" + cfg.PHIBucket)
		if err != nil {
			return nil, nil, err
		}
		clean, err := NewLocalStore(cfg.LocalStorageDir + "/" + cfg.CleanBucket)
		if err != nil {
			return nil, nil, err
		}
		return phi, clean, nil

	case "s3":
		phi, err := NewS3Store(ctx, cfg.PHIBucket, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, nil, err
		}
		clean, err := NewS3Store(ctx, cfg.CleanBucket, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, nil, err
		}
		return phi, clean, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// StoreRedacted uploads the masked document and removes the original from
// the PHI bucket. Deletion failure is reported but does not undo the
// upload; the caller decides whether to retry cleanup.
func (m *Manager) StoreRedacted(ctx context.Context, inputKey, outputKey string, masked []byte) error {
	if err := m.Clean.Upload(ctx, outputKey, masked); err != nil {
		return fmt.Errorf("failed to store redacted document: %w", err)
	}

	if err := m.PHI.Delete(ctx, inputKey); err != nil {
		return fmt.Errorf("redacted document stored but original not removed: %w", err)
	}
	return nil
}

// Close releases the job store connection.
func (m *Manager) Close() error {
	return m.Jobs.Close()
}
