package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

// LASPoint is one point written by LAS.
type LASPoint struct {
	X, Y, Z        float64
	Intensity      uint16
	Classification uint8
	R, G, B        uint16
}

// LASSpec describes a small LAS file. Supported formats are 0-3 with
// version 1.2 and 6-7 with version 1.4.
type LASSpec struct {
	PointFormat uint8
	Scale       [3]float64
	Offset      [3]float64
	// EPSG, when set, is written as a GeoKeyDirectory VLR
	EPSG int
	// WKT, when set, is written as an OGC WKT VLR
	WKT string
	// Compressed sets the LAZ bits of the format id; point records are
	// still written uncompressed
	Compressed bool
	Points     []LASPoint
}

// LAS encodes spec.
func LAS(spec LASSpec) []byte {
	if spec.Scale == [3]float64{} {
		spec.Scale = [3]float64{0.01, 0.01, 0.01}
	}
	v14 := spec.PointFormat >= 6
	headerSize := 227
	minor := uint8(2)
	if v14 {
		headerSize = 375
		minor = 4
	}

	recLen := map[uint8]int{0: 20, 1: 28, 2: 26, 3: 34, 6: 30, 7: 36}[spec.PointFormat]
	if recLen == 0 {
		panic("testutil: unsupported LAS point format")
	}

	var vlrs bytes.Buffer
	nvlr := 0
	if spec.EPSG != 0 {
		key := uint16(3072)
		if spec.EPSG == 4326 {
			key = 2048
		}
		payload := u16s(1, 1, 0, 1, key, 0, 1, uint16(spec.EPSG))
		writeVLR(&vlrs, 34735, payload)
		nvlr++
	}
	if spec.WKT != "" {
		writeVLR(&vlrs, 2112, append([]byte(spec.WKT), 0))
		nvlr++
	}

	le := binary.LittleEndian
	hdr := make([]byte, headerSize)
	copy(hdr, "LASF")
	hdr[24], hdr[25] = 1, minor
	copy(hdr[26:], "ddb testutil")
	le.PutUint16(hdr[94:], uint16(headerSize))
	le.PutUint32(hdr[96:], uint32(headerSize+vlrs.Len()))
	le.PutUint32(hdr[100:], uint32(nvlr))
	format := spec.PointFormat
	if spec.Compressed {
		format |= 0xC0
	}
	hdr[104] = format
	le.PutUint16(hdr[105:], uint16(recLen))
	if !v14 {
		le.PutUint32(hdr[107:], uint32(len(spec.Points)))
	}

	minB := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxB := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, p := range spec.Points {
		for i, v := range [3]float64{p.X, p.Y, p.Z} {
			minB[i] = math.Min(minB[i], v)
			maxB[i] = math.Max(maxB[i], v)
		}
	}
	if len(spec.Points) == 0 {
		minB, maxB = [3]float64{}, [3]float64{}
	}
	for i := 0; i < 3; i++ {
		le.PutUint64(hdr[131+8*i:], math.Float64bits(spec.Scale[i]))
		le.PutUint64(hdr[155+8*i:], math.Float64bits(spec.Offset[i]))
		le.PutUint64(hdr[179+16*i:], math.Float64bits(maxB[i]))
		le.PutUint64(hdr[187+16*i:], math.Float64bits(minB[i]))
	}
	if v14 {
		le.PutUint64(hdr[247:], uint64(len(spec.Points)))
	}

	var out bytes.Buffer
	out.Write(hdr)
	out.Write(vlrs.Bytes())

	rec := make([]byte, recLen)
	for _, p := range spec.Points {
		clear(rec)
		le.PutUint32(rec[0:], uint32(int32(math.Round((p.X-spec.Offset[0])/spec.Scale[0]))))
		le.PutUint32(rec[4:], uint32(int32(math.Round((p.Y-spec.Offset[1])/spec.Scale[1]))))
		le.PutUint32(rec[8:], uint32(int32(math.Round((p.Z-spec.Offset[2])/spec.Scale[2]))))
		le.PutUint16(rec[12:], p.Intensity)
		rgb := -1
		switch spec.PointFormat {
		case 0, 1:
			rec[15] = p.Classification
		case 2:
			rec[15] = p.Classification
			rgb = 20
		case 3:
			rec[15] = p.Classification
			rgb = 28
		case 6:
			rec[16] = p.Classification
		case 7:
			rec[16] = p.Classification
			rgb = 30
		}
		if rgb >= 0 {
			le.PutUint16(rec[rgb:], p.R)
			le.PutUint16(rec[rgb+2:], p.G)
			le.PutUint16(rec[rgb+4:], p.B)
		}
		out.Write(rec)
	}
	return out.Bytes()
}

func writeVLR(b *bytes.Buffer, recordID uint16, payload []byte) {
	h := make([]byte, 54)
	copy(h[2:], "LASF_Projection")
	binary.LittleEndian.PutUint16(h[18:], recordID)
	binary.LittleEndian.PutUint16(h[20:], uint16(len(payload)))
	b.Write(h)
	b.Write(payload)
}

func u16s(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// LASGrid returns n*n points on a regular grid starting at (x0, y0) with
// the given spacing, heights rising along x.
func LASGrid(x0, y0, spacing float64, n int) []LASPoint {
	pts := make([]LASPoint, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			pts = append(pts, LASPoint{
				X:              x0 + float64(i)*spacing,
				Y:              y0 + float64(j)*spacing,
				Z:              100 + float64(i),
				Intensity:      uint16(i * j),
				Classification: 2,
				R:              uint16(i * 1000),
				G:              uint16(j * 1000),
				B:              30000,
			})
		}
	}
	return pts
}
