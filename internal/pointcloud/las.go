// Package pointcloud reads ASPRS LAS/LAZ public headers, their spatial
// reference records and, for uncompressed files, the point records.
package pointcloud

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"

	"github.com/Ning0612/ddb/internal/geo"
)

// ErrNotLAS is returned when the signature is not LASF.
var ErrNotLAS = errors.New("not a LAS file")

// ErrCompressed is returned when point records of a LAZ file are requested.
var ErrCompressed = errors.New("compressed point records are not readable")

const (
	headerSize12 = 227
	headerSize14 = 375
	vlrHeaderLen = 54

	recordGeoKeys = 34735
	recordWKT     = 2112
)

// Header is the public header block plus the decoded spatial reference.
type Header struct {
	VersionMajor, VersionMinor uint8
	HeaderSize                 uint16
	OffsetToPoints             uint32
	NumberOfVLRs               uint32
	// PointFormat is the format id without the compression bits
	PointFormat       uint8
	PointRecordLength uint16
	PointCount        uint64
	Compressed        bool

	Scale, Offset [3]float64
	Min, Max      [3]float64

	// EPSG is 0 when no known spatial reference is recorded
	EPSG int
	WKT  string
}

// Version returns "major.minor".
func (h *Header) Version() string {
	return fmt.Sprintf("%d.%d", h.VersionMajor, h.VersionMinor)
}

// HasRGB reports whether the point format carries color.
func (h *Header) HasRGB() bool {
	switch h.PointFormat {
	case 2, 3, 5, 7, 8, 10:
		return true
	}
	return false
}

// Projection returns the projection of the coordinates.
func (h *Header) Projection() (geo.Projection, error) {
	if h.EPSG == 0 {
		return nil, fmt.Errorf("unknown spatial reference")
	}
	return geo.FromEPSG(h.EPSG)
}

// ReadHeader decodes the public header and the variable length records.
func ReadHeader(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, headerSize14)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	buf = buf[:n]
	if len(buf) < 4 || string(buf[:4]) != "LASF" {
		return nil, ErrNotLAS
	}
	if len(buf) < headerSize12 {
		return nil, fmt.Errorf("read header: truncated (%d bytes)", len(buf))
	}

	le := binary.LittleEndian
	h := &Header{
		VersionMajor:      buf[24],
		VersionMinor:      buf[25],
		HeaderSize:        le.Uint16(buf[94:]),
		OffsetToPoints:    le.Uint32(buf[96:]),
		NumberOfVLRs:      le.Uint32(buf[100:]),
		PointRecordLength: le.Uint16(buf[105:]),
		PointCount:        uint64(le.Uint32(buf[107:])),
	}
	format := buf[104]
	h.Compressed = format&0x80 != 0
	h.PointFormat = format & 0x3f

	for i := 0; i < 3; i++ {
		h.Scale[i] = f64(buf[131+8*i:])
		h.Offset[i] = f64(buf[155+8*i:])
		h.Max[i] = f64(buf[179+16*i:])
		h.Min[i] = f64(buf[187+16*i:])
	}

	if h.VersionMajor == 1 && h.VersionMinor >= 4 && len(buf) >= headerSize14 && h.HeaderSize >= headerSize14 {
		if c := le.Uint64(buf[247:]); c > 0 {
			h.PointCount = c
		}
	}

	if err := h.readVLRs(r); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) readVLRs(r io.ReaderAt) error {
	off := int64(h.HeaderSize)
	vh := make([]byte, vlrHeaderLen)
	for i := uint32(0); i < h.NumberOfVLRs; i++ {
		if off+vlrHeaderLen > int64(h.OffsetToPoints) {
			break
		}
		if _, err := r.ReadAt(vh, off); err != nil {
			return fmt.Errorf("read vlr %d: %w", i, err)
		}
		userID := string(bytes.TrimRight(vh[2:18], "\x00"))
		recordID := binary.LittleEndian.Uint16(vh[18:])
		length := int64(binary.LittleEndian.Uint16(vh[20:]))
		off += vlrHeaderLen

		if userID == "LASF_Projection" && (recordID == recordGeoKeys || recordID == recordWKT) {
			data := make([]byte, length)
			if _, err := r.ReadAt(data, off); err != nil {
				return fmt.Errorf("read vlr %d payload: %w", i, err)
			}
			switch recordID {
			case recordGeoKeys:
				if code := epsgFromGeoKeys(data); code != 0 && h.EPSG == 0 {
					h.EPSG = code
				}
			case recordWKT:
				h.WKT = string(bytes.TrimRight(data, "\x00"))
				if code := EPSGFromWKT(h.WKT); code != 0 {
					h.EPSG = code
				}
			}
		}
		off += length
	}
	return nil
}

func epsgFromGeoKeys(data []byte) int {
	if len(data) < 8 {
		return 0
	}
	le := binary.LittleEndian
	count := int(le.Uint16(data[6:]))
	var geographic, projected int
	for k := 0; k < count; k++ {
		base := 8 + k*8
		if base+8 > len(data) {
			break
		}
		id := le.Uint16(data[base:])
		loc := le.Uint16(data[base+2:])
		val := int(le.Uint16(data[base+6:]))
		if loc != 0 {
			continue
		}
		switch id {
		case 2048:
			geographic = val
		case 3072:
			projected = val
		}
	}
	if projected != 0 && projected != 32767 {
		return projected
	}
	if geographic != 0 && geographic != 32767 {
		return geographic
	}
	return 0
}

var wktAuthority = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// EPSGFromWKT returns the EPSG code of the outermost CRS of a WKT string,
// which is the last authority clause, or 0.
func EPSGFromWKT(wkt string) int {
	m := wktAuthority.FindAllStringSubmatch(wkt, -1)
	if len(m) == 0 {
		return 0
	}
	code, err := strconv.Atoi(m[len(m)-1][1])
	if err != nil {
		return 0
	}
	return code
}

func f64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// LonLatBounds returns the header bounding box corners and center in
// EPSG:4326, with z taken from the header.
func (h *Header) LonLatBounds() (ring [][]float64, center []float64, err error) {
	proj, err := h.Projection()
	if err != nil {
		return nil, nil, err
	}
	z := h.Min[2]
	for _, c := range [4][2]float64{
		{h.Min[0], h.Max[1]}, {h.Min[0], h.Min[1]}, {h.Max[0], h.Min[1]}, {h.Max[0], h.Max[1]},
	} {
		lon, lat := proj.ToLonLat(c[0], c[1])
		ring = append(ring, []float64{lon, lat, z})
	}
	lon, lat := proj.ToLonLat((h.Min[0]+h.Max[0])/2, (h.Min[1]+h.Max[1])/2)
	return ring, []float64{lon, lat, (h.Min[2] + h.Max[2]) / 2}, nil
}
