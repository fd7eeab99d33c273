package testutil

import (
	"encoding/binary"
	"math"
	"sort"
)

// TIFF field types.
const (
	tiffByte     = 1
	tiffASCII    = 2
	tiffShort    = 3
	tiffLong     = 4
	tiffRational = 5
	tiffDouble   = 12
)

// Rational is an unsigned TIFF rational.
type Rational struct {
	Num, Den uint32
}

// Strip is pixel data referenced by a StripOffsets tag. The encoder
// places it after the directories and writes its offset.
type Strip []byte

// Tag is one directory entry. Value is one of []uint8, string, []uint16,
// []uint32, []Rational, []float64, *IFD (a sub-directory pointer) or Strip.
type Tag struct {
	ID    uint16
	Value any
}

// IFD is an image file directory.
type IFD struct {
	Tags []Tag
}

// EncodeTIFF lays out a little-endian TIFF with root as its first
// directory. Entries are sorted by tag id.
func EncodeTIFF(root *IFD) []byte {
	e := &tiffEncoder{out: []byte{'I', 'I', 42, 0, 8, 0, 0, 0}}
	e.writeIFD(root)
	return e.out
}

type tiffEncoder struct {
	out []byte
}

func (e *tiffEncoder) align() {
	if len(e.out)%2 == 1 {
		e.out = append(e.out, 0)
	}
}

func (e *tiffEncoder) appendData(data []byte) uint32 {
	e.align()
	off := uint32(len(e.out))
	e.out = append(e.out, data...)
	return off
}

func (e *tiffEncoder) writeIFD(ifd *IFD) uint32 {
	e.align()
	tags := append([]Tag(nil), ifd.Tags...)
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })

	le := binary.LittleEndian
	start := len(e.out)
	e.out = append(e.out, make([]byte, 2+12*len(tags)+4)...)
	le.PutUint16(e.out[start:], uint16(len(tags)))

	type deferred struct {
		pos  int
		sub  *IFD
		blob Strip
	}
	var later []deferred

	for i, tag := range tags {
		entry := start + 2 + 12*i
		le.PutUint16(e.out[entry:], tag.ID)
		switch v := tag.Value.(type) {
		case *IFD:
			le.PutUint16(e.out[entry+2:], tiffLong)
			le.PutUint32(e.out[entry+4:], 1)
			later = append(later, deferred{pos: entry + 8, sub: v})
		case Strip:
			le.PutUint16(e.out[entry+2:], tiffLong)
			le.PutUint32(e.out[entry+4:], 1)
			later = append(later, deferred{pos: entry + 8, blob: v})
		default:
			typ, count, data := encodeValue(tag.Value)
			le.PutUint16(e.out[entry+2:], typ)
			le.PutUint32(e.out[entry+4:], count)
			if len(data) <= 4 {
				copy(e.out[entry+8:entry+12], data)
			} else {
				off := e.appendData(data)
				le.PutUint32(e.out[entry+8:], off)
			}
		}
	}

	for _, d := range later {
		var off uint32
		if d.sub != nil {
			off = e.writeIFD(d.sub)
		} else {
			off = e.appendData(d.blob)
		}
		le.PutUint32(e.out[d.pos:], off)
	}
	return uint32(start)
}

func encodeValue(v any) (typ uint16, count uint32, data []byte) {
	le := binary.LittleEndian
	switch v := v.(type) {
	case []uint8:
		return tiffByte, uint32(len(v)), v
	case string:
		b := append([]byte(v), 0)
		return tiffASCII, uint32(len(b)), b
	case []uint16:
		data = make([]byte, 2*len(v))
		for i, x := range v {
			le.PutUint16(data[2*i:], x)
		}
		return tiffShort, uint32(len(v)), data
	case []uint32:
		data = make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(data[4*i:], x)
		}
		return tiffLong, uint32(len(v)), data
	case []Rational:
		data = make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint32(data[8*i:], x.Num)
			le.PutUint32(data[8*i+4:], x.Den)
		}
		return tiffRational, uint32(len(v)), data
	case []float64:
		data = make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(data[8*i:], math.Float64bits(x))
		}
		return tiffDouble, uint32(len(v)), data
	}
	panic("testutil: unsupported TIFF value type")
}

// GeoTIFFOptions describes a small uncompressed 8-bit GeoTIFF.
type GeoTIFFOptions struct {
	Width, Height int
	// Bands is 1 (gray) or 3 (RGB)
	Bands int
	// EPSG 0 writes a plain TIFF without georeferencing
	EPSG int
	// OriginX/OriginY is the upper-left corner in model units
	OriginX, OriginY float64
	PixelSize        float64
	// Pixel returns the samples of (x, y); nil draws a gradient
	Pixel func(x, y int) []uint8
}

// GeoTIFF encodes the georeferenced raster described by opts.
func GeoTIFF(opts GeoTIFFOptions) []byte {
	if opts.Bands == 0 {
		opts.Bands = 3
	}
	pixel := opts.Pixel
	if pixel == nil {
		pixel = func(x, y int) []uint8 {
			v := uint8((x*255/max(1, opts.Width-1) + y*255/max(1, opts.Height-1)) / 2)
			out := make([]uint8, opts.Bands)
			for i := range out {
				out[i] = v + uint8(40*i)
			}
			return out
		}
	}

	data := make([]byte, 0, opts.Width*opts.Height*opts.Bands)
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			data = append(data, pixel(x, y)[:opts.Bands]...)
		}
	}

	bits := make([]uint16, opts.Bands)
	for i := range bits {
		bits[i] = 8
	}
	photometric := uint16(1)
	if opts.Bands == 3 {
		photometric = 2
	}

	ifd := &IFD{Tags: []Tag{
		{256, []uint32{uint32(opts.Width)}},
		{257, []uint32{uint32(opts.Height)}},
		{258, bits},
		{259, []uint16{1}},
		{262, []uint16{photometric}},
		{273, Strip(data)},
		{277, []uint16{uint16(opts.Bands)}},
		{278, []uint32{uint32(opts.Height)}},
		{279, []uint32{uint32(len(data))}},
		{284, []uint16{1}},
	}}

	if opts.EPSG != 0 {
		modelType, crsKey := uint16(1), uint16(3072)
		if opts.EPSG == 4326 {
			modelType, crsKey = 2, 2048
		}
		ifd.Tags = append(ifd.Tags,
			Tag{33550, []float64{opts.PixelSize, opts.PixelSize, 0}},
			Tag{33922, []float64{0, 0, 0, opts.OriginX, opts.OriginY, 0}},
			Tag{34735, []uint16{
				1, 1, 0, 3,
				1024, 0, 1, modelType,
				1025, 0, 1, 1,
				crsKey, 0, 1, uint16(opts.EPSG),
			}},
		)
	}
	return EncodeTIFF(ifd)
}
