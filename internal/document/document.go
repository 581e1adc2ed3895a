/**
 * Document I/O collaborator.
 *
 * Loads multi-page raster documents into per-page images, saves masked
 * pages back in the same format, and prepares payloads for OCR upload
 * limits. Supported formats: multi-page TIFF and single-page PNG. PDF is
 * accepted as a format tag but not yet implemented.
 */

package document

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/rs/zerolog"
)

// Format tags accepted by the codec.
const (
	FormatTIFF = "tiff"
	FormatPNG  = "png"
	FormatPDF  = "pdf"
)

// Codec implements deid.DocumentCodec for raster documents.
type Codec struct {
	logger zerolog.Logger
}

// NewCodec creates a document codec.
func NewCodec(logger zerolog.Logger) *Codec {
	return &Codec{logger: logger}
}

// NormalizeFormat maps common aliases onto the canonical format tags.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "tiff", "tif", "image/tiff":
		return FormatTIFF
	case "png", "image/png":
		return FormatPNG
	case "pdf", "application/pdf":
		return FormatPDF
	default:
		return strings.ToLower(strings.TrimSpace(format))
	}
}

// Load splits a document into page images plus round-trip metadata.
func (c *Codec) Load(data []byte, format string) ([]image.Image, *deid.DocumentMetadata, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty document")
	}

	switch NormalizeFormat(format) {
	case FormatTIFF:
		return c.loadTIFF(data)
	case FormatPNG:
		return c.loadPNG(data)
	case FormatPDF:
		return nil, nil, fmt.Errorf("pdf support not implemented")
	default:
		return nil, nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// Save reassembles page images into a document in the given format.
func (c *Codec) Save(pages []image.Image, meta *deid.DocumentMetadata, format string) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("cannot save empty document")
	}

	switch NormalizeFormat(format) {
	case FormatTIFF:
		return c.saveTIFF(pages, meta)
	case FormatPNG:
		return c.savePNG(pages)
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// OptimizeForOCR produces the payload handed to the OCR provider: a
// losslessly compressed TIFF. Pages are never resized; resizing would
// desynchronize OCR geometry from the originals that get painted.
func (c *Codec) OptimizeForOCR(pages []image.Image, meta *deid.DocumentMetadata, maxSizeMB float64) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("cannot optimize empty document")
	}

	rawMB := 0.0
	for _, p := range pages {
		b := p.Bounds()
		rawMB += float64(b.Dx()*b.Dy()*4) / (1024 * 1024)
	}

	out, err := c.saveTIFF(pages, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare OCR payload: %w", err)
	}

	outMB := float64(len(out)) / (1024 * 1024)
	if outMB > maxSizeMB {
		c.logger.Warn().
			Float64("payload_mb", outMB).
			Float64("limit_mb", maxSizeMB).
			Msg("OCR payload exceeds size limit even after compression")
	}
	c.logger.Debug().Float64("raw_mb", rawMB).Float64("payload_mb", outMB).Msg("prepared OCR payload")

	return out, nil
}

func (c *Codec) loadPNG(data []byte) ([]image.Image, *deid.DocumentMetadata, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("png decode failed: %w", err)
	}

	meta := &deid.DocumentMetadata{
		Format:    FormatPNG,
		ColorMode: colorMode(img),
		PageCount: 1,
	}
	return []image.Image{img}, meta, nil
}

func (c *Codec) savePNG(pages []image.Image) ([]byte, error) {
	if len(pages) != 1 {
		return nil, fmt.Errorf("png supports exactly one page, got %d", len(pages))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, pages[0]); err != nil {
		return nil, fmt.Errorf("png encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func colorMode(img image.Image) string {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "gray"
	case *image.CMYK:
		return "cmyk"
	case *image.Paletted:
		return "paletted"
	default:
		return "rgb"
	}
}
