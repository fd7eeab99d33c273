package build

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/pointcloud"
	"github.com/Ning0612/ddb/internal/progress"
)

// EPT layout below the output directory.
const (
	eptDataDir      = "ept-data"
	eptHierarchyDir = "ept-hierarchy"
	eptVersion      = "1.1.0"
	eptSpan         = 128
)

type eptDimension struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Size   int      `json:"size"`
	Scale  *float64 `json:"scale,omitempty"`
	Offset *float64 `json:"offset,omitempty"`
}

type eptSRS struct {
	Authority  string `json:"authority,omitempty"`
	Horizontal string `json:"horizontal,omitempty"`
	WKT        string `json:"wkt,omitempty"`
}

type eptMetadata struct {
	Bounds           [6]float64     `json:"bounds"`
	BoundsConforming [6]float64     `json:"boundsConforming"`
	DataType         string         `json:"dataType"`
	HierarchyType    string         `json:"hierarchyType"`
	Points           uint64         `json:"points"`
	Schema           []eptDimension `json:"schema"`
	Span             int            `json:"span"`
	SRS              *eptSRS        `json:"srs,omitempty"`
	Version          string         `json:"version"`
}

// nodeKey addresses an octree node as depth-x-y-z.
type nodeKey struct {
	D, X, Y, Z int
}

func (k nodeKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", k.D, k.X, k.Y, k.Z)
}

// octree assigns points to nodes top-down: a node keeps points until it
// is full, then passes them on to the child octant containing them.
type octree struct {
	min      [3]float64
	size     float64
	capacity int
	maxDepth int
	nodes    map[nodeKey][]pointcloud.Point
}

func newOctree(h *pointcloud.Header, capacity, maxDepth int) *octree {
	var center [3]float64
	size := 0.0
	for i := 0; i < 3; i++ {
		center[i] = (h.Min[i] + h.Max[i]) / 2
		size = math.Max(size, h.Max[i]-h.Min[i])
	}
	if size == 0 {
		size = 1
	}
	t := &octree{size: size, capacity: capacity, maxDepth: maxDepth, nodes: make(map[nodeKey][]pointcloud.Point)}
	for i := range center {
		t.min[i] = center[i] - size/2
	}
	return t
}

func (t *octree) bounds() [6]float64 {
	return [6]float64{t.min[0], t.min[1], t.min[2], t.min[0] + t.size, t.min[1] + t.size, t.min[2] + t.size}
}

func (t *octree) insert(p pointcloud.Point) {
	var k nodeKey
	for {
		if len(t.nodes[k]) < t.capacity || k.D >= t.maxDepth {
			t.nodes[k] = append(t.nodes[k], p)
			return
		}
		cell := t.size / math.Exp2(float64(k.D))
		half := cell / 2
		next := nodeKey{D: k.D + 1, X: 2 * k.X, Y: 2 * k.Y, Z: 2 * k.Z}
		if p.X >= t.min[0]+float64(k.X)*cell+half {
			next.X++
		}
		if p.Y >= t.min[1]+float64(k.Y)*cell+half {
			next.Y++
		}
		if p.Z >= t.min[2]+float64(k.Z)*cell+half {
			next.Z++
		}
		k = next
	}
}

func (t *octree) hierarchy() map[string]int {
	h := make(map[string]int, len(t.nodes))
	for k, pts := range t.nodes {
		h[k.String()] = len(pts)
	}
	return h
}

func (t *octree) keys() []nodeKey {
	keys := make([]nodeKey, 0, len(t.nodes))
	for k := range t.nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func schemaFor(h *pointcloud.Header) []eptDimension {
	dims := make([]eptDimension, 0, 8)
	for i, name := range []string{"X", "Y", "Z"} {
		scale, offset := h.Scale[i], h.Offset[i]
		dims = append(dims, eptDimension{Name: name, Type: "signed", Size: 4, Scale: &scale, Offset: &offset})
	}
	dims = append(dims,
		eptDimension{Name: "Intensity", Type: "unsigned", Size: 2},
		eptDimension{Name: "Classification", Type: "unsigned", Size: 1},
	)
	if h.HasRGB() {
		dims = append(dims,
			eptDimension{Name: "Red", Type: "unsigned", Size: 2},
			eptDimension{Name: "Green", Type: "unsigned", Size: 2},
			eptDimension{Name: "Blue", Type: "unsigned", Size: 2},
		)
	}
	return dims
}

// encodePoints packs points in schema order, little-endian.
func encodePoints(h *pointcloud.Header, pts []pointcloud.Point) []byte {
	recLen := 4*3 + 2 + 1
	if h.HasRGB() {
		recLen += 6
	}
	out := make([]byte, 0, recLen*len(pts))
	le := binary.LittleEndian
	for _, p := range pts {
		for i, v := range [3]float64{p.X, p.Y, p.Z} {
			out = le.AppendUint32(out, uint32(int32(math.Round((v-h.Offset[i])/h.Scale[i]))))
		}
		out = le.AppendUint16(out, p.Intensity)
		out = append(out, p.Classification)
		if h.HasRGB() {
			out = le.AppendUint16(out, p.R)
			out = le.AppendUint16(out, p.G)
			out = le.AppendUint16(out, p.B)
		}
	}
	return out
}

func srsFor(h *pointcloud.Header) *eptSRS {
	if h.EPSG == 0 && h.WKT == "" {
		return nil
	}
	srs := &eptSRS{WKT: h.WKT}
	if h.EPSG != 0 {
		srs.Authority = "EPSG"
		srs.Horizontal = strconv.Itoa(h.EPSG)
	}
	return srs
}

func (b *Builder) buildEPT(ctx context.Context, job Job, rep progress.Reporter) (domain.Entry, error) {
	f, err := os.Open(job.Source)
	if err != nil {
		return domain.Entry{}, domain.Wrap(domain.KindNotFound, "build", job.Entry.Path, err)
	}
	defer f.Close()

	h, err := pointcloud.ReadHeader(f)
	if err != nil {
		return domain.Entry{}, err
	}

	meta := eptMetadata{
		BoundsConforming: [6]float64{h.Min[0], h.Min[1], h.Min[2], h.Max[0], h.Max[1], h.Max[2]},
		HierarchyType:    "json",
		Points:           h.PointCount,
		Schema:           schemaFor(h),
		Span:             eptSpan,
		SRS:              srsFor(h),
		Version:          eptVersion,
	}

	var hierarchy map[string]int
	if h.Compressed {
		// laszip data cannot be split without a decoder, keep one node
		rep.Start(job.Entry.Path, job.Entry.Size)
		if err := copyFile(filepath.Join(job.Dir, eptDataDir, "0-0-0-0.laz"), progress.NewReader(f, rep)); err != nil {
			return domain.Entry{}, err
		}
		meta.DataType = "laszip"
		meta.Bounds = newOctree(h, 1, 0).bounds()
		hierarchy = map[string]int{"0-0-0-0": int(h.PointCount)}
	} else {
		rep.Start(job.Entry.Path, int64(h.PointCount))
		tree := newOctree(h, b.cfg.PointsPerNode, b.cfg.MaxDepth)
		var n int64
		err := h.ForEach(ctx, f, func(p pointcloud.Point) error {
			tree.insert(p)
			if n++; n%10000 == 0 {
				rep.Update(n)
			}
			return nil
		})
		if err != nil {
			return domain.Entry{}, err
		}
		rep.Update(n)

		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(b.cfg.ZstdLevel)))
		if err != nil {
			return domain.Entry{}, err
		}
		defer enc.Close()
		for _, k := range tree.keys() {
			if err := ctx.Err(); err != nil {
				return domain.Entry{}, err
			}
			data := enc.EncodeAll(encodePoints(h, tree.nodes[k]), nil)
			if err := writeFile(filepath.Join(job.Dir, eptDataDir, k.String()+".zst"), data); err != nil {
				return domain.Entry{}, err
			}
		}
		meta.DataType = "zstandard"
		meta.Bounds = tree.bounds()
		hierarchy = tree.hierarchy()
	}

	if _, err := writeJSON(filepath.Join(job.Dir, eptHierarchyDir, "0-0-0-0.json"), hierarchy); err != nil {
		return domain.Entry{}, err
	}
	sum, err := writeJSON(filepath.Join(job.Dir, EPTManifest), meta)
	if err != nil {
		return domain.Entry{}, err
	}

	props := map[string]domain.Value{
		"dataType": domain.String(meta.DataType),
		"nodes":    domain.Int(int64(len(hierarchy))),
		"points":   domain.Int(int64(h.PointCount)),
	}
	return domain.Entry{
		Path:       EPTManifest,
		Hash:       sum,
		Type:       domain.EntryPointCloud,
		Properties: domain.SortedProperties(props),
	}, nil
}
