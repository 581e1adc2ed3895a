/**
 * Normalized OCR and PHI data model.
 *
 * Both provider interfaces emit these shapes regardless of which cloud or
 * local engine produced them. All values are request-scoped and treated as
 * immutable after construction; nothing here outlives a single document.
 */

package deid

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"
)

// OCRWord is a single recognized token with its bounding box. Words are
// atomic; the matcher never splits them.
type OCRWord struct {
	Text       string
	Confidence float64
	Box        BoundingBox
}

// OCRPage holds one page of OCR output. Words are in reading order as
// supplied by the provider; that order is authoritative.
type OCRPage struct {
	PageNumber int
	Width      float64 // pixels
	Height     float64 // pixels
	Words      []OCRWord
}

// OCRResult is the normalized output of an OCR provider. FullText is the
// concatenated document text over which PHI offsets are defined. Whitespace
// between words in FullText is informational only; providers may glue words
// with newlines, runs of spaces or punctuation.
type OCRResult struct {
	Pages    []OCRPage
	FullText string
}

// AllWords flattens the pages into a single reading-order word slice.
func (r *OCRResult) AllWords() []OCRWord {
	var words []OCRWord
	for _, page := range r.Pages {
		words = append(words, page.Words...)
	}
	return words
}

// PageByNumber returns the page with the given 1-based number, or nil.
func (r *OCRResult) PageByNumber(n int) *OCRPage {
	for i := range r.Pages {
		if r.Pages[i].PageNumber == n {
			return &r.Pages[i]
		}
	}
	return nil
}

// ValidateGeometry checks every page and word box. A negative or non-finite
// dimension anywhere is fatal for the request.
func (r *OCRResult) ValidateGeometry() error {
	for _, page := range r.Pages {
		if page.PageNumber < 1 {
			return fmt.Errorf("page number must be >= 1, got %d", page.PageNumber)
		}
		if page.Width < 0 || page.Height < 0 {
			return fmt.Errorf("page %d has negative dimensions %vx%v", page.PageNumber, page.Width, page.Height)
		}
		for _, w := range page.Words {
			if err := w.Box.Validate(); err != nil {
				return fmt.Errorf("word %q on page %d: %w", w.Text, page.PageNumber, err)
			}
		}
	}
	return nil
}

// PHIEntity is a detected PHI span. Offset and Length index into
// OCRResult.FullText in runes. When Text and the substring at Offset
// disagree (provider drift), Text is authoritative for validation and
// Offset/Length for position; the matcher reconciles the two.
type PHIEntity struct {
	Text        string
	Category    string
	Subcategory string
	Offset      int
	Length      int
	Confidence  float64
}

// EndOffset returns the exclusive end of the entity's character range.
func (e PHIEntity) EndOffset() int {
	return e.Offset + e.Length
}

// MaskingLevel selects which PHI categories the detection provider emits.
// Filtering happens in the provider, never in the core.
type MaskingLevel string

const (
	MaskingLevelSafeHarbor     MaskingLevel = "safe_harbor"
	MaskingLevelLimitedDataset MaskingLevel = "limited_dataset"
	MaskingLevelCustom         MaskingLevel = "custom"
)

// ParseMaskingLevel parses a level string. An empty string means Safe
// Harbor; an unknown level is an error.
func ParseMaskingLevel(s string) (MaskingLevel, error) {
	switch MaskingLevel(strings.ToLower(strings.TrimSpace(s))) {
	case MaskingLevelSafeHarbor, "":
		return MaskingLevelSafeHarbor, nil
	case MaskingLevelLimitedDataset:
		return MaskingLevelLimitedDataset, nil
	case MaskingLevelCustom:
		return MaskingLevelCustom, nil
	default:
		return "", fmt.Errorf("unknown masking level %q", s)
	}
}

// MaskRegion is one rectangle to paint, with the category and confidence of
// the entity that produced it. Produced only by the matcher.
type MaskRegion struct {
	Page           int
	Box            BoundingBox
	EntityCategory string
	Confidence     float64
}

// Status values for DeidentificationResult.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// DeidentificationResult is the outcome of one document's pipeline run.
// Unmatched entities do not make the run a failure; they are counted and
// reported in Errors while the masked document is still produced.
type DeidentificationResult struct {
	Status           string
	MaskedBytes      []byte
	PagesProcessed   int
	EntitiesDetected int
	RegionsProduced  int
	EntitiesUnmatched int
	EntitiesFiltered int
	ProcessingTime   time.Duration
	Errors           []string
}

// DocumentMetadata carries format details that must round-trip through
// load/save: resolution, color mode and page count.
type DocumentMetadata struct {
	Format    string
	DPIX      int
	DPIY      int
	ColorMode string
	PageCount int
}

// OCRProvider extracts text and word-level geometry from a document.
// Implementations convert polygon geometry to the enclosing axis-aligned
// box and must emit reading-order words whose FullText occurrences follow
// that order.
type OCRProvider interface {
	Analyze(ctx context.Context, document []byte, format string, language string) (*OCRResult, error)
}

// PHIProvider detects PHI spans in the concatenated document text.
// Category filtering by masking level is the provider's responsibility.
type PHIProvider interface {
	Detect(ctx context.Context, fullText string, level MaskingLevel) ([]PHIEntity, error)
}

// DocumentCodec is the document I/O collaborator: multi-page raster
// load/save with metadata round-trip, plus payload preparation for OCR
// upload limits.
type DocumentCodec interface {
	Load(data []byte, format string) ([]image.Image, *DocumentMetadata, error)
	Save(pages []image.Image, meta *DocumentMetadata, format string) ([]byte, error)
	OptimizeForOCR(pages []image.Image, meta *DocumentMetadata, maxSizeMB float64) ([]byte, error)
}
