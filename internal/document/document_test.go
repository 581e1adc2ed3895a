package document

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/rs/zerolog"
)

func newTestCodec() *Codec {
	return NewCodec(zerolog.Nop())
}

func metaWithDPI(x, y int) *deid.DocumentMetadata {
	return &deid.DocumentMetadata{Format: FormatTIFF, DPIX: x, DPIY: y}
}

// testPage builds a small image with a deterministic gradient so page
// identity survives encode/decode comparisons.
func testPage(w, h int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x) + seed,
				G: uint8(y) * 2,
				B: seed,
				A: 255,
			})
		}
	}
	return img
}

func samePixels(t *testing.T, a, b image.Image) bool {
	t.Helper()
	if a.Bounds() != b.Bounds() {
		t.Errorf("bounds differ: %v vs %v", a.Bounds(), b.Bounds())
		return false
	}
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ar, ag, ab, aa := a.At(x, y).RGBA()
			br, bg, bb, ba := b.At(x, y).RGBA()
			if ar != br || ag != bg || ab != bb || aa != ba {
				t.Errorf("pixel (%d,%d) differs", x, y)
				return false
			}
		}
	}
	return true
}

func TestTIFFSinglePageRoundTrip(t *testing.T) {
	codec := newTestCodec()
	page := testPage(40, 30, 7)

	data, err := codec.Save([]image.Image{page}, nil, "tiff")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	pages, meta, err := codec.Load(data, "tiff")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(pages) != 1 || meta.PageCount != 1 {
		t.Fatalf("pages = %d, meta.PageCount = %d, want 1", len(pages), meta.PageCount)
	}
	samePixels(t, page, pages[0])
}

func TestTIFFMultiPageRoundTrip(t *testing.T) {
	codec := newTestCodec()
	originals := []image.Image{
		testPage(32, 24, 1),
		testPage(48, 16, 99),
		testPage(20, 20, 200),
	}

	data, err := codec.Save(originals, nil, "tiff")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	pages, meta, err := codec.Load(data, "tiff")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}
	if meta.PageCount != 3 {
		t.Errorf("meta.PageCount = %d, want 3", meta.PageCount)
	}
	for i, orig := range originals {
		samePixels(t, orig, pages[i])
	}
}

func TestTIFFDPIRoundTrip(t *testing.T) {
	codec := newTestCodec()
	page := testPage(10, 10, 3)

	meta := metaWithDPI(300, 300)
	data, err := codec.Save([]image.Image{page}, meta, "tiff")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	_, loaded, err := codec.Load(data, "tiff")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.DPIX != 300 || loaded.DPIY != 300 {
		t.Errorf("DPI = (%d,%d), want (300,300)", loaded.DPIX, loaded.DPIY)
	}
}

func TestPNGRoundTrip(t *testing.T) {
	codec := newTestCodec()
	page := testPage(25, 25, 42)

	var buf bytes.Buffer
	if err := png.Encode(&buf, page); err != nil {
		t.Fatal(err)
	}

	pages, meta, err := codec.Load(buf.Bytes(), "png")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(pages) != 1 || meta.Format != FormatPNG {
		t.Fatalf("pages = %d, format = %s", len(pages), meta.Format)
	}

	out, err := codec.Save(pages, meta, "png")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reloaded, _, err := codec.Load(out, "png")
	if err != nil {
		t.Fatalf("Load() of saved PNG error: %v", err)
	}
	samePixels(t, page, reloaded[0])
}

func TestPNGRejectsMultiPage(t *testing.T) {
	codec := newTestCodec()
	pages := []image.Image{testPage(4, 4, 0), testPage(4, 4, 1)}

	if _, err := codec.Save(pages, nil, "png"); err == nil {
		t.Fatal("Save() of multi-page PNG should fail")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	codec := newTestCodec()

	testCases := []struct {
		name   string
		data   []byte
		format string
	}{
		{"empty", nil, "tiff"},
		{"not tiff", []byte("definitely not an image"), "tiff"},
		{"truncated header", []byte{'I', 'I', 42}, "tiff"},
		{"unsupported format", []byte("x"), "bmp"},
		{"pdf not implemented", []byte("%PDF-1.4"), "pdf"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := codec.Load(tc.data, tc.format); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestNormalizeFormat(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"tiff", FormatTIFF},
		{"TIF", FormatTIFF},
		{"image/tiff", FormatTIFF},
		{"PNG", FormatPNG},
		{"application/pdf", FormatPDF},
		{" tiff ", FormatTIFF},
	}
	for _, tc := range testCases {
		if got := NormalizeFormat(tc.in); got != tc.want {
			t.Errorf("NormalizeFormat(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOptimizeForOCRProducesDecodableTIFF(t *testing.T) {
	codec := newTestCodec()
	pages := []image.Image{testPage(30, 30, 5), testPage(30, 30, 6)}

	payload, err := codec.OptimizeForOCR(pages, nil, 10)
	if err != nil {
		t.Fatalf("OptimizeForOCR() error: %v", err)
	}

	loaded, _, err := codec.Load(payload, "tiff")
	if err != nil {
		t.Fatalf("payload not decodable: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("payload pages = %d, want 2", len(loaded))
	}
	// Optimization must never resize; OCR geometry has to stay aligned with
	// the originals.
	if loaded[0].Bounds() != pages[0].Bounds() {
		t.Error("optimized pages were resized")
	}
}
