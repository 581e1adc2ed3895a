package providers

import (
	"fmt"

	"github.com/redactifai/deid-worker/internal/config"
	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/redactifai/deid-worker/internal/document"
	"github.com/rs/zerolog"
)

// NewOCRProvider creates the configured OCR provider.
func NewOCRProvider(cfg *config.Config, codec *document.Codec, logger zerolog.Logger) (deid.OCRProvider, error) {
	switch cfg.OCRProvider {
	case "tesseract":
		return NewTesseractOCR(codec, logger), nil
	case "remote":
		return NewRemoteOCR(cfg.RemoteOCRURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown OCR provider %q", cfg.OCRProvider)
	}
}

// NewPHIProvider creates the configured PHI detection provider, wrapped for
// chunking when a per-call size limit is configured.
func NewPHIProvider(cfg *config.Config, logger zerolog.Logger) (deid.PHIProvider, error) {
	filter := NewCategoryFilter(cfg.CustomCategories, logger)

	var provider deid.PHIProvider
	switch cfg.PHIProvider {
	case "regex":
		provider = NewRegexPHI(filter, logger)
	case "remote":
		provider = NewRemotePHI(cfg.RemotePHIURL, cfg.CustomCategories, logger)
	default:
		return nil, fmt.Errorf("unknown PHI provider %q", cfg.PHIProvider)
	}

	if cfg.PHIMaxChunkChars > 0 {
		return NewChunkingPHI(provider, cfg.PHIMaxChunkChars)
	}
	return provider, nil
}
