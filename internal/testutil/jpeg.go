package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strconv"
)

// ExifSpec describes the camera tags written into a fixture JPEG.
type ExifSpec struct {
	Make, Model string
	Orientation int
	// DateTimeOriginal uses the EXIF layout "2006:01:02 15:04:05"
	DateTimeOriginal string
	SubSecOriginal   string
	FocalLength      float64
	FocalLength35    int

	HasGPS             bool
	Lat, Lon, Altitude float64

	// XMP is a raw XMP packet written in a second APP1 segment
	XMP string
}

// DJIXMP returns an XMP packet with the drone-dji attributes read by the
// classifier.
func DJIXMP(yaw, pitch, roll, relativeAltitude float64) string {
	var b bytes.Buffer
	b.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">`)
	b.WriteString(`<rdf:Description xmlns:drone-dji="http://www.dji.com/drone-dji/1.0/"`)
	writeAttr(&b, "drone-dji:RelativeAltitude", relativeAltitude)
	writeAttr(&b, "drone-dji:GimbalYawDegree", yaw)
	writeAttr(&b, "drone-dji:GimbalPitchDegree", pitch)
	writeAttr(&b, "drone-dji:GimbalRollDegree", roll)
	b.WriteString(`/></rdf:RDF></x:xmpmeta>`)
	return b.String()
}

func writeAttr(b *bytes.Buffer, name string, v float64) {
	b.WriteString(" " + name + `="`)
	if v >= 0 {
		b.WriteByte('+')
	}
	b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	b.WriteByte('"')
}

// JPEG encodes a w x h gradient JPEG carrying spec as EXIF (and XMP when
// set) right after the SOI marker.
func JPEG(w, h int, spec ExifSpec) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / max(1, w-1)), uint8(y * 255 / max(1, h-1)), 128, 255})
		}
	}
	var base bytes.Buffer
	if err := jpeg.Encode(&base, img, &jpeg.Options{Quality: 80}); err != nil {
		panic(err)
	}
	raw := base.Bytes()

	var out bytes.Buffer
	out.Write(raw[:2]) // SOI
	writeSegment(&out, 0xE1, append([]byte("Exif\x00\x00"), EncodeTIFF(exifIFD(spec))...))
	if spec.XMP != "" {
		writeSegment(&out, 0xE1, append([]byte("http://ns.adobe.com/xap/1.0/\x00"), spec.XMP...))
	}
	out.Write(raw[2:])
	return out.Bytes()
}

func writeSegment(out *bytes.Buffer, marker byte, payload []byte) {
	var hdr [4]byte
	hdr[0], hdr[1] = 0xFF, marker
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)+2))
	out.Write(hdr[:])
	out.Write(payload)
}

func exifIFD(spec ExifSpec) *IFD {
	root := &IFD{}
	if spec.Make != "" {
		root.Tags = append(root.Tags, Tag{0x010F, spec.Make})
	}
	if spec.Model != "" {
		root.Tags = append(root.Tags, Tag{0x0110, spec.Model})
	}
	if spec.Orientation != 0 {
		root.Tags = append(root.Tags, Tag{0x0112, []uint16{uint16(spec.Orientation)}})
	}

	sub := &IFD{}
	if spec.DateTimeOriginal != "" {
		sub.Tags = append(sub.Tags, Tag{0x9003, spec.DateTimeOriginal})
	}
	if spec.SubSecOriginal != "" {
		sub.Tags = append(sub.Tags, Tag{0x9291, spec.SubSecOriginal})
	}
	if spec.FocalLength != 0 {
		sub.Tags = append(sub.Tags, Tag{0x920A, []Rational{rational(spec.FocalLength)}})
	}
	if spec.FocalLength35 != 0 {
		sub.Tags = append(sub.Tags, Tag{0xA405, []uint16{uint16(spec.FocalLength35)}})
	}
	if len(sub.Tags) > 0 {
		root.Tags = append(root.Tags, Tag{0x8769, sub})
	}

	if spec.HasGPS {
		latRef, lonRef := "N", "E"
		if spec.Lat < 0 {
			latRef = "S"
		}
		if spec.Lon < 0 {
			lonRef = "W"
		}
		altRef := uint8(0)
		if spec.Altitude < 0 {
			altRef = 1
		}
		gps := &IFD{Tags: []Tag{
			{0x0000, []uint8{2, 3, 0, 0}},
			{0x0001, latRef},
			{0x0002, dms(math.Abs(spec.Lat))},
			{0x0003, lonRef},
			{0x0004, dms(math.Abs(spec.Lon))},
			{0x0005, []uint8{altRef}},
			{0x0006, []Rational{rational(math.Abs(spec.Altitude))}},
		}}
		root.Tags = append(root.Tags, Tag{0x8825, gps})
	}
	return root
}

func rational(v float64) Rational {
	return Rational{Num: uint32(math.Round(v * 1000)), Den: 1000}
}

func dms(deg float64) []Rational {
	d := math.Floor(deg)
	m := math.Floor((deg - d) * 60)
	s := ((deg-d)*60 - m) * 60
	return []Rational{{uint32(d), 1}, {uint32(m), 1}, {uint32(math.Round(s * 10000)), 10000}}
}
