/**
 * Configuration for the de-identification worker.
 *
 * Loads configuration from environment variables. Masking defaults follow
 * the documented service defaults: Safe Harbor level, confidence threshold
 * 0.80, 5 px of padding around every mask.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Object storage. Backend is "local" or "s3". PHI and clean buckets are
	// kept separate so originals never share a namespace with redacted output.
	StorageBackend  string
	LocalStorageDir string
	S3Region        string
	S3Endpoint      string
	PHIBucket       string
	CleanBucket     string

	// Provider selection
	OCRProvider  string // "tesseract" or "remote"
	PHIProvider  string // "regex" or "remote"
	OCRLanguage  string
	RemoteOCRURL string
	RemotePHIURL string

	// Masking configuration
	MaskingLevel         string
	CustomCategories     []string
	ConfidenceThreshold  float64
	PaddingPx            int
	FuzzyWordThreshold   int
	FuzzyEntityThreshold int
	MinSimilarityRatio   float64
	MaxOCRSizeMB         float64
	MaskColor            [3]uint8
	DebugMode            bool

	// PHI provider chunking (0 disables chunking)
	PHIMaxChunkChars int

	// Worker configuration
	WorkerConcurrency int
	QueueName         string
	ProcessingTimeout int // milliseconds
	MaxFileSize       int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		StorageBackend:       getEnvOrDefault("STORAGE_BACKEND", "local"),
		LocalStorageDir:      getEnvOrDefault("LOCAL_STORAGE_DIR", "/var/lib/deid"),
		S3Region:             getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:           getEnvOrDefault("S3_ENDPOINT", ""),
		PHIBucket:            getEnvOrDefault("PHI_BUCKET", "deid-phi"),
		CleanBucket:          getEnvOrDefault("CLEAN_BUCKET", "deid-clean"),
		OCRProvider:          getEnvOrDefault("OCR_PROVIDER", "tesseract"),
		PHIProvider:          getEnvOrDefault("PHI_PROVIDER", "regex"),
		OCRLanguage:          getEnvOrDefault("OCR_LANGUAGE", "eng"),
		RemoteOCRURL:         getEnvOrDefault("REMOTE_OCR_URL", ""),
		RemotePHIURL:         getEnvOrDefault("REMOTE_PHI_URL", ""),
		MaskingLevel:         getEnvOrDefault("MASKING_LEVEL", "safe_harbor"),
		CustomCategories:     getEnvAsList("CUSTOM_CATEGORIES"),
		ConfidenceThreshold:  getEnvAsFloatOrDefault("CONFIDENCE_THRESHOLD", 0.80),
		PaddingPx:            getEnvAsIntOrDefault("PADDING_PX", 5),
		FuzzyWordThreshold:   getEnvAsIntOrDefault("FUZZY_WORD_THRESHOLD", 2),
		FuzzyEntityThreshold: getEnvAsIntOrDefault("FUZZY_ENTITY_THRESHOLD", 2),
		MinSimilarityRatio:   getEnvAsFloatOrDefault("MIN_SIMILARITY_RATIO", 0.6),
		MaxOCRSizeMB:         getEnvAsFloatOrDefault("MAX_OCR_SIZE_MB", 10),
		MaskColor:            parseMaskColor(getEnvOrDefault("MASK_COLOR", "0,0,0")),
		DebugMode:            getEnvOrDefault("DEBUG_MODE", "false") == "true",
		PHIMaxChunkChars:     getEnvAsIntOrDefault("PHI_MAX_CHUNK_CHARS", 5000),
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		QueueName:            getEnvOrDefault("QUEUE_NAME", "deid:jobs"),
		ProcessingTimeout:    getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		MaxFileSize:          getEnvAsInt64OrDefault("MAX_FILE_SIZE", 536870912), // 512MB
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.StorageBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'local' or 's3', got %q", c.StorageBackend)
	}

	switch c.MaskingLevel {
	case "safe_harbor", "limited_dataset", "custom":
	default:
		return fmt.Errorf("MASKING_LEVEL must be safe_harbor, limited_dataset or custom, got %q", c.MaskingLevel)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold)
	}

	if c.MinSimilarityRatio < 0 || c.MinSimilarityRatio > 1 {
		return fmt.Errorf("MIN_SIMILARITY_RATIO must be in [0,1], got %v", c.MinSimilarityRatio)
	}

	if c.PaddingPx < 0 || c.FuzzyWordThreshold < 0 || c.FuzzyEntityThreshold < 0 {
		return fmt.Errorf("padding and fuzzy thresholds must be non-negative")
	}

	if c.OCRProvider == "remote" && c.RemoteOCRURL == "" {
		return fmt.Errorf("REMOTE_OCR_URL is required for the remote OCR provider")
	}

	if c.PHIProvider == "remote" && c.RemotePHIURL == "" {
		return fmt.Errorf("REMOTE_PHI_URL is required for the remote PHI provider")
	}

	if c.MaxOCRSizeMB <= 0 {
		return fmt.Errorf("MAX_OCR_SIZE_MB must be positive, got %v", c.MaxOCRSizeMB)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	return nil
}

// parseMaskColor parses an "R,G,B" triple; malformed input falls back to black.
func parseMaskColor(s string) [3]uint8 {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]uint8{0, 0, 0}
	}

	var rgb [3]uint8
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return [3]uint8{0, 0, 0}
		}
		rgb[i] = uint8(v)
	}
	return rgb
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable
func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
