/**
 * Multi-page TIFF container handling.
 *
 * golang.org/x/image/tiff encodes and decodes single images only, so the
 * multi-page container is handled here at the IFD level. Loading walks the
 * IFD chain and presents each directory as a single-page view of the full
 * buffer (internal offsets stay valid). Saving encodes every page with the
 * x/image codec and stitches the buffers together, relocating offset-valued
 * IFD entries and chaining the directories.
 */

package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"

	"github.com/redactifai/deid-worker/internal/deid"
	"golang.org/x/image/tiff"
)

const (
	tagStripOffsets   = 273
	tagXResolution    = 282
	tagYResolution    = 283
	tagResolutionUnit = 296
	tagTileOffsets    = 324

	typeShort    = 3
	typeLong     = 4
	typeRational = 5

	maxTIFFPages = 10000
)

// fieldTypeSizes maps TIFF field types to their byte widths.
var fieldTypeSizes = [13]uint32{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

// tiffFile wraps a raw TIFF buffer with its byte order.
type tiffFile struct {
	data []byte
	bo   binary.ByteOrder
}

func parseTIFF(data []byte) (*tiffFile, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated TIFF header")
	}

	var bo binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		bo = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}

	if bo.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("bad TIFF magic")
	}

	return &tiffFile{data: data, bo: bo}, nil
}

func (f *tiffFile) firstIFD() uint32 {
	return f.bo.Uint32(f.data[4:8])
}

// entryCount returns the number of entries of the IFD at off, validating
// that the directory fits in the buffer.
func (f *tiffFile) entryCount(off uint32) (uint16, error) {
	if int(off)+2 > len(f.data) {
		return 0, fmt.Errorf("IFD offset %d out of bounds", off)
	}
	count := f.bo.Uint16(f.data[off : off+2])
	if int(off)+2+12*int(count)+4 > len(f.data) {
		return 0, fmt.Errorf("IFD at %d overruns buffer", off)
	}
	return count, nil
}

// nextIFDPos returns the position of the next-IFD pointer for the IFD at off.
func (f *tiffFile) nextIFDPos(off uint32) (uint32, error) {
	count, err := f.entryCount(off)
	if err != nil {
		return 0, err
	}
	return off + 2 + 12*uint32(count), nil
}

// ifdOffsets walks the directory chain and returns the offset of every IFD.
func (f *tiffFile) ifdOffsets() ([]uint32, error) {
	var offsets []uint32

	for off := f.firstIFD(); off != 0; {
		if len(offsets) >= maxTIFFPages {
			return nil, fmt.Errorf("too many TIFF pages (limit %d)", maxTIFFPages)
		}
		nextPos, err := f.nextIFDPos(off)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
		off = f.bo.Uint32(f.data[nextPos : nextPos+4])
	}

	if len(offsets) == 0 {
		return nil, fmt.Errorf("TIFF has no directories")
	}
	return offsets, nil
}

// pageView returns a copy of the buffer rewritten to present the IFD at off
// as the file's only directory. All internal offsets remain valid because
// the full buffer is retained.
func (f *tiffFile) pageView(off uint32) ([]byte, error) {
	nextPos, err := f.nextIFDPos(off)
	if err != nil {
		return nil, err
	}

	view := make([]byte, len(f.data))
	copy(view, f.data)
	f.bo.PutUint32(view[4:8], off)
	f.bo.PutUint32(view[nextPos:nextPos+4], 0)
	return view, nil
}

// findEntry locates a tag in the IFD at off, returning the entry position.
func (f *tiffFile) findEntry(off uint32, tag uint16) (uint32, bool) {
	count, err := f.entryCount(off)
	if err != nil {
		return 0, false
	}
	for i := uint32(0); i < uint32(count); i++ {
		pos := off + 2 + 12*i
		if f.bo.Uint16(f.data[pos:pos+2]) == tag {
			return pos, true
		}
	}
	return 0, false
}

// resolution reads the X/Y resolution from the IFD at off as DPI. A
// centimeter resolution unit is converted; missing tags return zeros.
func (f *tiffFile) resolution(off uint32) (dpiX, dpiY int) {
	unit := uint16(2) // inches
	if pos, ok := f.findEntry(off, tagResolutionUnit); ok {
		unit = f.bo.Uint16(f.data[pos+8 : pos+10])
	}

	read := func(tag uint16) int {
		pos, ok := f.findEntry(off, tag)
		if !ok {
			return 0
		}
		if f.bo.Uint16(f.data[pos+2:pos+4]) != typeRational {
			return 0
		}
		valOff := f.bo.Uint32(f.data[pos+8 : pos+12])
		if int(valOff)+8 > len(f.data) {
			return 0
		}
		num := f.bo.Uint32(f.data[valOff : valOff+4])
		den := f.bo.Uint32(f.data[valOff+4 : valOff+8])
		if den == 0 {
			return 0
		}
		v := float64(num) / float64(den)
		if unit == 3 { // pixels per centimeter
			v *= 2.54
		}
		return int(v + 0.5)
	}

	return read(tagXResolution), read(tagYResolution)
}

// setResolution overwrites the X/Y resolution rationals in the IFD at off.
func (f *tiffFile) setResolution(off uint32, dpiX, dpiY int) {
	write := func(tag uint16, dpi int) {
		pos, ok := f.findEntry(off, tag)
		if !ok || f.bo.Uint16(f.data[pos+2:pos+4]) != typeRational {
			return
		}
		valOff := f.bo.Uint32(f.data[pos+8 : pos+12])
		if int(valOff)+8 > len(f.data) {
			return
		}
		f.bo.PutUint32(f.data[valOff:valOff+4], uint32(dpi))
		f.bo.PutUint32(f.data[valOff+4:valOff+8], 1)
	}
	if dpiX > 0 {
		write(tagXResolution, dpiX)
	}
	if dpiY > 0 {
		write(tagYResolution, dpiY)
	}
}

// relocate shifts every offset-valued field of the IFD at off by base:
// out-of-line entry values, and the strip/tile offsets that point at pixel
// data. Used when a single-page buffer is embedded into a larger file.
func (f *tiffFile) relocate(off uint32, base uint32) error {
	count, err := f.entryCount(off)
	if err != nil {
		return err
	}

	for i := uint32(0); i < uint32(count); i++ {
		pos := off + 2 + 12*i
		tag := f.bo.Uint16(f.data[pos : pos+2])
		typ := f.bo.Uint16(f.data[pos+2 : pos+4])
		cnt := f.bo.Uint32(f.data[pos+4 : pos+8])

		var size uint32
		if int(typ) < len(fieldTypeSizes) {
			size = fieldTypeSizes[typ] * cnt
		}

		valuePos := pos + 8
		if size > 4 {
			valOff := f.bo.Uint32(f.data[pos+8 : pos+12])
			if int(valOff)+int(size) > len(f.data) {
				return fmt.Errorf("entry for tag %d overruns buffer", tag)
			}
			f.bo.PutUint32(f.data[pos+8:pos+12], valOff+base)
			valuePos = valOff
		}

		if tag != tagStripOffsets && tag != tagTileOffsets {
			continue
		}

		for j := uint32(0); j < cnt; j++ {
			switch typ {
			case typeShort:
				p := valuePos + 2*j
				v := uint32(f.bo.Uint16(f.data[p:p+2])) + base
				if v > 0xFFFF {
					return fmt.Errorf("cannot relocate 16-bit strip offsets past 64KB")
				}
				f.bo.PutUint16(f.data[p:p+2], uint16(v))
			case typeLong:
				p := valuePos + 4*j
				f.bo.PutUint32(f.data[p:p+4], f.bo.Uint32(f.data[p:p+4])+base)
			default:
				return fmt.Errorf("unexpected strip offset type %d", typ)
			}
		}
	}

	return nil
}

// loadTIFF splits a possibly multi-page TIFF into per-page images.
func (c *Codec) loadTIFF(data []byte) ([]image.Image, *deid.DocumentMetadata, error) {
	f, err := parseTIFF(data)
	if err != nil {
		return nil, nil, err
	}

	offsets, err := f.ifdOffsets()
	if err != nil {
		return nil, nil, err
	}

	pages := make([]image.Image, 0, len(offsets))
	for i, off := range offsets {
		view, err := f.pageView(off)
		if err != nil {
			return nil, nil, err
		}
		img, err := tiff.Decode(bytes.NewReader(view))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode TIFF page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}

	dpiX, dpiY := f.resolution(offsets[0])
	meta := &deid.DocumentMetadata{
		Format:    FormatTIFF,
		DPIX:      dpiX,
		DPIY:      dpiY,
		ColorMode: colorMode(pages[0]),
		PageCount: len(pages),
	}

	c.logger.Debug().Int("pages", len(pages)).Int("dpi_x", dpiX).Int("dpi_y", dpiY).Msg("loaded TIFF")
	return pages, meta, nil
}

// saveTIFF encodes pages into a multi-page TIFF with lossless deflate
// compression, preserving the document resolution.
func (c *Codec) saveTIFF(pages []image.Image, meta *deid.DocumentMetadata) ([]byte, error) {
	encoded := make([][]byte, 0, len(pages))
	for i, page := range pages {
		var buf bytes.Buffer
		if err := tiff.Encode(&buf, page, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
			return nil, fmt.Errorf("failed to encode TIFF page %d: %w", i+1, err)
		}

		raw := buf.Bytes()
		if meta != nil && (meta.DPIX > 0 || meta.DPIY > 0) {
			if f, err := parseTIFF(raw); err == nil {
				f.setResolution(f.firstIFD(), meta.DPIX, meta.DPIY)
			}
		}
		encoded = append(encoded, raw)
	}

	if len(encoded) == 1 {
		return encoded[0], nil
	}
	return mergeTIFFPages(encoded)
}

// mergeTIFFPages stitches single-page TIFF buffers into one multi-page
// file. Each buffer is embedded wholesale at an even base offset, its
// offset-valued fields shifted by the base, and the directories chained.
func mergeTIFFPages(encoded [][]byte) ([]byte, error) {
	type pagePlan struct {
		data []byte
		base uint32
		ifd  uint32
	}

	plans := make([]pagePlan, len(encoded))
	base := uint32(0)
	for i, raw := range encoded {
		f, err := parseTIFF(raw)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}

		data := make([]byte, len(raw))
		copy(data, raw)
		plans[i] = pagePlan{data: data, base: base, ifd: f.firstIFD()}

		base += uint32(len(data))
		if base%2 == 1 { // keep word alignment for the next page
			base++
		}
	}

	var out bytes.Buffer
	for i := range plans {
		plan := plans[i]
		f, err := parseTIFF(plan.data)
		if err != nil {
			return nil, err
		}

		if err := f.relocate(plan.ifd, plan.base); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}

		nextPos, err := f.nextIFDPos(plan.ifd)
		if err != nil {
			return nil, err
		}
		next := uint32(0)
		if i+1 < len(plans) {
			next = plans[i+1].base + plans[i+1].ifd
		}
		f.bo.PutUint32(plan.data[nextPos:nextPos+4], next)

		out.Write(plan.data)
		if out.Len()%2 == 1 {
			out.WriteByte(0)
		}
	}

	return out.Bytes(), nil
}
