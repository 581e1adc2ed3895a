package deid

import (
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned rectangle in page-local coordinates.
// Coordinates are either absolute pixels or, when Normalized is set,
// fractions of the page dimensions in [0,1]. The two conventions are never
// mixed inside a single region list; conversion to pixels happens only at
// the paint step.
type BoundingBox struct {
	Page       int
	X          float64
	Y          float64
	Width      float64
	Height     float64
	Normalized bool
}

// Validate rejects boxes with negative, NaN or infinite dimensions and
// normalized boxes outside the unit square.
func (b BoundingBox) Validate() error {
	if b.Page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", b.Page)
	}

	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite coordinate in box %+v", b)
		}
	}

	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("negative dimensions in box %+v", b)
	}

	if b.Normalized {
		if b.X < 0 || b.Y < 0 || b.X+b.Width > 1 || b.Y+b.Height > 1 {
			return fmt.Errorf("normalized box outside [0,1]: %+v", b)
		}
	}

	return nil
}

// Overlaps reports whether the two boxes share interior area. Boxes on
// different pages or touching only at an edge do not overlap.
func (b BoundingBox) Overlaps(o BoundingBox) bool {
	if b.Page != o.Page {
		return false
	}
	return b.X < o.X+o.Width && o.X < b.X+b.Width &&
		b.Y < o.Y+o.Height && o.Y < b.Y+b.Height
}

// Union returns the smallest box covering all inputs. All boxes must be on
// the same page and share the same coordinate convention.
func Union(boxes []BoundingBox) (BoundingBox, error) {
	if len(boxes) == 0 {
		return BoundingBox{}, fmt.Errorf("cannot union empty box list")
	}

	first := boxes[0]
	minX, minY := first.X, first.Y
	maxX, maxY := first.X+first.Width, first.Y+first.Height

	for _, b := range boxes[1:] {
		if b.Page != first.Page {
			return BoundingBox{}, fmt.Errorf("cannot union boxes across pages %d and %d", first.Page, b.Page)
		}
		if b.Normalized != first.Normalized {
			return BoundingBox{}, fmt.Errorf("cannot union normalized and absolute boxes")
		}
		minX = math.Min(minX, b.X)
		minY = math.Min(minY, b.Y)
		maxX = math.Max(maxX, b.X+b.Width)
		maxY = math.Max(maxY, b.Y+b.Height)
	}

	return BoundingBox{
		Page:       first.Page,
		X:          minX,
		Y:          minY,
		Width:      maxX - minX,
		Height:     maxY - minY,
		Normalized: first.Normalized,
	}, nil
}

// Inflate grows the box by px on all four sides. For normalized boxes the
// padding is converted using the page pixel dimensions. When page dimensions
// are supplied (> 0) the result is clamped to [0, dim].
func (b BoundingBox) Inflate(px float64, pageW, pageH float64) BoundingBox {
	padX, padY := px, px
	if b.Normalized {
		if pageW <= 0 || pageH <= 0 {
			return b
		}
		padX = px / pageW
		padY = px / pageH
	}

	minX := b.X - padX
	minY := b.Y - padY
	maxX := b.X + b.Width + padX
	maxY := b.Y + b.Height + padY

	limW, limH := pageW, pageH
	if b.Normalized {
		limW, limH = 1, 1
	}

	minX = math.Max(0, minX)
	minY = math.Max(0, minY)
	if limW > 0 {
		maxX = math.Min(limW, maxX)
	}
	if limH > 0 {
		maxY = math.Min(limH, maxY)
	}

	return BoundingBox{
		Page:       b.Page,
		X:          minX,
		Y:          minY,
		Width:      maxX - minX,
		Height:     maxY - minY,
		Normalized: b.Normalized,
	}
}

// ToPixels converts a normalized box to absolute pixels using the page
// dimensions. Absolute boxes are returned unchanged.
func (b BoundingBox) ToPixels(pageW, pageH float64) BoundingBox {
	if !b.Normalized {
		return b
	}
	return BoundingBox{
		Page:   b.Page,
		X:      b.X * pageW,
		Y:      b.Y * pageH,
		Width:  b.Width * pageW,
		Height: b.Height * pageH,
	}
}
