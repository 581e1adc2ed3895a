/**
 * De-identification pipeline.
 *
 * Orchestrates the full run for one document: load pages, OCR, PHI
 * detection, entity-to-geometry matching, mask painting, reassembly.
 * Within a document everything runs single-threaded; the only suspension
 * points are the provider calls. Cancellation is honored between phases
 * and forwarded into providers through the context.
 */

package deid

import (
	"context"
	"time"

	deiderrors "github.com/redactifai/deid-worker/internal/errors"
	"github.com/rs/zerolog"
)

// PipelineConfig collects the orchestrator's knobs. Matcher carries the
// matching thresholds; the rest configures painting and OCR upload size.
type PipelineConfig struct {
	Matcher      MatcherConfig
	MaskColor    [3]uint8
	DebugMode    bool
	MaxOCRSizeMB float64
	OCRLanguage  string
}

// DefaultPipelineConfig returns the documented service defaults.
func DefaultPipelineConfig() PipelineConfig {
	m := DefaultMatcherConfig()
	m.ConfidenceThreshold = 0.80
	return PipelineConfig{
		Matcher:      m,
		MaskColor:    [3]uint8{0, 0, 0},
		MaxOCRSizeMB: 10,
		OCRLanguage:  "eng",
	}
}

// Pipeline wires the collaborators together. Providers may be shared across
// documents; the pipeline treats them as read-only callables and keeps no
// per-document state of its own.
type Pipeline struct {
	ocr     OCRProvider
	phi     PHIProvider
	codec   DocumentCodec
	matcher *Matcher
	painter *Painter
	cfg     PipelineConfig
	logger  zerolog.Logger
}

// NewPipeline assembles a pipeline from its collaborators.
func NewPipeline(ocr OCRProvider, phi PHIProvider, codec DocumentCodec, cfg PipelineConfig, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		ocr:     ocr,
		phi:     phi,
		codec:   codec,
		matcher: NewMatcher(cfg.Matcher, logger),
		painter: NewPainter(cfg.MaskColor, cfg.DebugMode, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// Deidentify masks every detected PHI region in the document and returns
// the redacted bytes in the same format. Unmatched entities are reported in
// the result but do not fail the run; unrecoverable failures produce
// status=failure with empty masked bytes.
func (p *Pipeline) Deidentify(ctx context.Context, documentBytes []byte, format string, level MaskingLevel) *DeidentificationResult {
	start := time.Now()
	result := &DeidentificationResult{Status: StatusFailure}

	fail := func(err error) *DeidentificationResult {
		p.logger.Error().Err(err).Msg("de-identification failed")
		result.Errors = append(result.Errors, err.Error())
		result.ProcessingTime = time.Since(start)
		return result
	}

	p.logger.Info().Str("format", format).Str("masking_level", string(level)).Msg("starting de-identification pipeline")

	// Phase 1: load document pages.
	pages, meta, err := p.codec.Load(documentBytes, format)
	if err != nil {
		return fail(deiderrors.NewDocumentLoadError(format, err))
	}
	result.PagesProcessed = len(pages)
	p.logger.Info().Int("pages", len(pages)).Msg("document loaded")

	if err := p.checkCancelled(ctx); err != nil {
		return fail(err)
	}

	// Phase 2: OCR.
	ocrBytes, err := p.codec.OptimizeForOCR(pages, meta, p.cfg.MaxOCRSizeMB)
	if err != nil {
		return fail(deiderrors.NewDocumentLoadError(format, err))
	}

	ocrResult, err := p.ocr.Analyze(ctx, ocrBytes, format, p.cfg.OCRLanguage)
	if err != nil {
		if ctx.Err() != nil {
			return fail(deiderrors.NewCancelledError("", ctx.Err()))
		}
		return fail(deiderrors.NewOCRProviderError(providerName(p.ocr), err))
	}

	if err := ocrResult.ValidateGeometry(); err != nil {
		return fail(deiderrors.NewInvalidGeometryError(0, err.Error()))
	}

	wordCount := len(ocrResult.AllWords())
	p.logger.Info().Int("pages", len(ocrResult.Pages)).Int("words", wordCount).Msg("OCR complete")

	if err := p.checkCancelled(ctx); err != nil {
		return fail(err)
	}

	// Phase 3: PHI detection.
	entities, err := p.phi.Detect(ctx, ocrResult.FullText, level)
	if err != nil {
		if ctx.Err() != nil {
			return fail(deiderrors.NewCancelledError("", ctx.Err()))
		}
		return fail(deiderrors.NewPHIProviderError(providerName(p.phi), err))
	}
	result.EntitiesDetected = len(entities)
	p.logger.Info().Int("entities", len(entities)).Msg("PHI detection complete")

	if err := p.checkCancelled(ctx); err != nil {
		return fail(err)
	}

	// Phase 4: build the offset index and match entities to geometry.
	index := BuildOffsetIndex(ocrResult, p.cfg.Matcher.FuzzyWordThreshold)
	regions, stats := p.matcher.Match(ocrResult, index, entities)

	result.RegionsProduced = len(regions)
	result.EntitiesUnmatched = stats.Unmatched
	result.EntitiesFiltered = stats.Filtered
	for _, text := range stats.UnmatchedEntities {
		result.Errors = append(result.Errors,
			(&deiderrors.DeidError{
				Kind:    deiderrors.KindEntityUnmatched,
				Message: "could not match entity to OCR words: " + redactForLog(text),
			}).Error())
	}
	p.logger.Info().
		Int("regions", len(regions)).
		Int("matched", stats.Matched).
		Int("unmatched", stats.Unmatched).
		Int("filtered", stats.Filtered).
		Msg("entity matching complete")

	if err := p.checkCancelled(ctx); err != nil {
		return fail(err)
	}

	// Phase 5: paint and reassemble.
	maskedPages, err := p.painter.Apply(pages, ocrResult.Pages, regions)
	if err != nil {
		return fail(deiderrors.NewDocumentSaveError(format, err))
	}

	maskedBytes, err := p.codec.Save(maskedPages, meta, format)
	if err != nil {
		return fail(deiderrors.NewDocumentSaveError(format, err))
	}

	result.Status = StatusSuccess
	result.MaskedBytes = maskedBytes
	result.ProcessingTime = time.Since(start)

	p.logger.Info().
		Int("pages", result.PagesProcessed).
		Int("entities", result.EntitiesDetected).
		Int("regions", result.RegionsProduced).
		Int("unmatched", result.EntitiesUnmatched).
		Dur("elapsed", result.ProcessingTime).
		Msg("de-identification complete")

	return result
}

// checkCancelled releases the run between phases if the caller aborted.
func (p *Pipeline) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return deiderrors.NewCancelledError("", err)
	}
	return nil
}

// redactForLog keeps entity text out of durable logs: only a short prefix
// is ever reported.
func redactForLog(text string) string {
	runes := []rune(text)
	if len(runes) <= 2 {
		return "**"
	}
	return string(runes[:2]) + "***"
}

type named interface{ Name() string }

func providerName(v interface{}) string {
	if n, ok := v.(named); ok {
		return n.Name()
	}
	return "unknown"
}
