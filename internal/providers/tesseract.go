/**
 * Tesseract OCR provider.
 *
 * Offline, free OCR through gosseract. Word geometry comes from
 * GetBoundingBoxes at word granularity; page text comes from the engine's
 * own linearization so FullText keeps realistic whitespace. Multi-page
 * documents are split by the document codec and recognized page by page.
 */

package providers

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/redactifai/deid-worker/internal/document"
	"github.com/rs/zerolog"
)

// TesseractOCR implements deid.OCRProvider using a local Tesseract engine.
type TesseractOCR struct {
	codec         *document.Codec
	clientFactory func() *gosseract.Client
	logger        zerolog.Logger
}

// NewTesseractOCR creates a Tesseract-backed OCR provider.
func NewTesseractOCR(codec *document.Codec, logger zerolog.Logger) *TesseractOCR {
	return &TesseractOCR{
		codec:         codec,
		clientFactory: gosseract.NewClient,
		logger:        logger,
	}
}

// Name identifies the provider in error reports.
func (t *TesseractOCR) Name() string { return "tesseract" }

// Analyze recognizes every page of the document and assembles the
// normalized OCR result. FullText concatenates page texts with blank
// lines; words carry absolute pixel boxes tagged with their page.
func (t *TesseractOCR) Analyze(ctx context.Context, documentBytes []byte, format string, language string) (*deid.OCRResult, error) {
	pages, _, err := t.codec.Load(documentBytes, format)
	if err != nil {
		return nil, fmt.Errorf("could not split document for OCR: %w", err)
	}

	client := t.clientFactory()
	defer client.Close()

	if language != "" {
		if err := client.SetLanguage(language); err != nil {
			return nil, fmt.Errorf("set language %q: %w", language, err)
		}
	}

	result := &deid.OCRResult{}
	var pageTexts []string

	for i, page := range pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("encode page %d for OCR: %w", i+1, err)
		}
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			return nil, fmt.Errorf("set image for page %d: %w", i+1, err)
		}

		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("recognize page %d: %w", i+1, err)
		}
		text = strings.TrimSpace(text)

		bounds := page.Bounds()
		ocrPage := deid.OCRPage{
			PageNumber: i + 1,
			Width:      float64(bounds.Dx()),
			Height:     float64(bounds.Dy()),
			Words:      t.extractWords(client, i+1),
		}

		result.Pages = append(result.Pages, ocrPage)
		pageTexts = append(pageTexts, text)

		t.logger.Debug().Int("page", i+1).Int("words", len(ocrPage.Words)).Msg("page recognized")
	}

	result.FullText = strings.Join(pageTexts, "\n\n")
	return result, nil
}

// extractWords pulls word-level boxes from the current engine state.
func (t *TesseractOCR) extractWords(client *gosseract.Client, pageNumber int) []deid.OCRWord {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		t.logger.Warn().Err(err).Int("page", pageNumber).Msg("word boxes unavailable")
		return nil
	}

	words := make([]deid.OCRWord, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, deid.OCRWord{
			Text:       text,
			Confidence: b.Confidence / 100.0,
			Box: deid.BoundingBox{
				Page:   pageNumber,
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
		})
	}
	return words
}
