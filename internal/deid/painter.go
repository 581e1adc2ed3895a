/**
 * Mask painter.
 *
 * Applies mask regions to page images. Production mode paints fully opaque
 * rectangles; debug mode blends semi-transparent category-colored
 * rectangles with a short label so reviewers can see what would be
 * redacted. Inputs are never mutated; every page comes back as a fresh
 * copy. Rounding to integer pixels happens only here, and always outward,
 * so the painted rectangle fully covers the mathematical box.
 */

package deid

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Painter draws mask regions onto page images.
type Painter struct {
	maskColor color.RGBA
	debugMode bool
	logger    zerolog.Logger
}

// NewPainter creates a painter with the given mask color. Debug mode must
// never be used in production: its rectangles are not opaque.
func NewPainter(rgb [3]uint8, debugMode bool, logger zerolog.Logger) *Painter {
	if debugMode {
		logger.Warn().Msg("painter initialized in DEBUG MODE; masks will be semi-transparent")
	}
	return &Painter{
		maskColor: color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255},
		debugMode: debugMode,
		logger:    logger,
	}
}

// Apply paints the regions onto copies of the page images. Page numbers are
// 1-based indexes into pages. Normalized boxes are scaled using the OCR
// page dimensions when present, otherwise the image's own pixel bounds.
func (p *Painter) Apply(pages []image.Image, ocrPages []OCRPage, regions []MaskRegion) ([]image.Image, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("cannot mask empty page list")
	}

	byPage := make(map[int][]MaskRegion)
	for _, r := range regions {
		byPage[r.Page] = append(byPage[r.Page], r)
	}

	dims := make(map[int]OCRPage, len(ocrPages))
	for _, op := range ocrPages {
		dims[op.PageNumber] = op
	}

	masked := make([]image.Image, 0, len(pages))
	for i, img := range pages {
		pageNum := i + 1
		canvas := clonePage(img)

		pageRegions := byPage[pageNum]
		for _, region := range pageRegions {
			box := region.Box
			if box.Normalized {
				w, h := float64(canvas.Rect.Dx()), float64(canvas.Rect.Dy())
				if op, ok := dims[pageNum]; ok && op.Width > 0 && op.Height > 0 {
					w, h = op.Width, op.Height
				}
				box = box.ToPixels(w, h)
			}
			p.paintRegion(canvas, box, region.EntityCategory)
		}

		if len(pageRegions) > 0 {
			p.logger.Info().Int("page", pageNum).Int("regions", len(pageRegions)).Msg("masked page")
		}
		masked = append(masked, canvas)
	}

	return masked, nil
}

// paintRegion fills one rectangle, rounding corners outward and clamping to
// the canvas bounds.
func (p *Painter) paintRegion(canvas *image.RGBA, box BoundingBox, category string) {
	rect := outwardRect(box).Intersect(canvas.Rect)
	if rect.Empty() {
		return
	}

	if p.debugMode {
		p.paintDebug(canvas, rect, category)
		return
	}

	draw.Draw(canvas, rect, image.NewUniform(p.maskColor), image.Point{}, draw.Src)
}

// paintDebug blends a semi-transparent category color over the region and
// stamps a three-letter category label in the top-left corner.
func (p *Painter) paintDebug(canvas *image.RGBA, rect image.Rectangle, category string) {
	fill := debugCategoryColor(category)
	draw.Draw(canvas, rect, image.NewUniform(fill), image.Point{}, draw.Over)

	label := strings.ToUpper(category)
	if len(label) > 3 {
		label = label[:3]
	}

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(rect.Min.X+3, rect.Min.Y+13),
	}
	drawer.DrawString(label)
}

// outwardRect converts a pixel-space box to an integer rectangle that
// covers it completely: floor on the near corner, ceil on the far corner.
func outwardRect(box BoundingBox) image.Rectangle {
	return image.Rect(
		int(math.Floor(box.X)),
		int(math.Floor(box.Y)),
		int(math.Ceil(box.X+box.Width)),
		int(math.Ceil(box.Y+box.Height)),
	)
}

// clonePage copies any image into a fresh RGBA canvas.
func clonePage(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)
	return canvas
}

// debugCategoryColor picks a stable semi-transparent color per category.
var debugColors = map[string]color.NRGBA{
	"Person":      {R: 255, A: 128},
	"Date":        {G: 255, A: 128},
	"PhoneNumber": {B: 255, A: 128},
	"Email":       {R: 255, G: 255, A: 128},
	"SSN":         {R: 255, B: 255, A: 128},
	"Address":     {G: 255, B: 255, A: 128},
}

func debugCategoryColor(category string) color.NRGBA {
	if c, ok := debugColors[category]; ok {
		return c
	}
	return color.NRGBA{R: 128, G: 128, B: 128, A: 128}
}
