package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/Ning0612/ddb/internal/config"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/logger"
	"github.com/Ning0612/ddb/internal/progress"
	"github.com/Ning0612/ddb/internal/testutil"
)

func newBuilder(pointsPerNode int) *Builder {
	cfg := config.Default().Build
	cfg.PointsPerNode = pointsPerNode
	cfg.ZoomLevels = 2
	return &Builder{cfg: cfg, log: &logger.NullLogger{}}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to decode %s: %v", path, err)
	}
}

func TestKindFor(t *testing.T) {
	for typ := domain.EntryUndefined; typ <= domain.EntryVector; typ++ {
		kind, ok := KindFor(typ)
		switch typ {
		case domain.EntryPointCloud:
			if !ok || kind != domain.BuildEPT {
				t.Errorf("%v: got %q %v", typ, kind, ok)
			}
		case domain.EntryGeoRaster:
			if !ok || kind != domain.BuildTiles {
				t.Errorf("%v: got %q %v", typ, kind, ok)
			}
		default:
			if ok || Buildable(typ) {
				t.Errorf("%v should not be buildable", typ)
			}
		}
	}
}

func TestRun_EPT(t *testing.T) {
	dir := t.TempDir()
	src := testutil.CreateTestFile(t, dir, "cloud.las", testutil.LAS(testutil.LASSpec{
		PointFormat: 2,
		Offset:      [3]float64{576000, 5188000, 0},
		EPSG:        32615,
		Points:      testutil.LASGrid(576000, 5188000, 1, 20),
	}))
	out := filepath.Join(dir, "out")

	var mu sync.Mutex
	var last progress.Update
	rep := progress.NewCallbackReporter(func(u progress.Update) {
		mu.Lock()
		last = u
		mu.Unlock()
	})

	job := Job{Source: src, Entry: domain.Entry{Path: "cloud.las", Type: domain.EntryPointCloud}, Dir: out}
	manifest, err := newBuilder(50).Run(context.Background(), job, rep)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if manifest.Path != EPTManifest || len(manifest.Hash) != 64 || manifest.Size == 0 {
		t.Errorf("manifest = %+v", manifest)
	}
	if last.Done != 400 {
		t.Errorf("progress done = %d, want 400", last.Done)
	}

	var meta eptMetadata
	readJSON(t, filepath.Join(out, EPTManifest), &meta)
	if meta.Points != 400 || meta.DataType != "zstandard" || meta.Version != eptVersion {
		t.Errorf("ept.json = %+v", meta)
	}
	if meta.SRS == nil || meta.SRS.Horizontal != "32615" {
		t.Errorf("srs = %+v", meta.SRS)
	}
	if len(meta.Schema) != 8 {
		t.Errorf("schema has %d dimensions, want 8 with color", len(meta.Schema))
	}

	var hierarchy map[string]int
	readJSON(t, filepath.Join(out, eptHierarchyDir, "0-0-0-0.json"), &hierarchy)
	total := 0
	for _, n := range hierarchy {
		total += n
	}
	if total != 400 {
		t.Errorf("hierarchy holds %d points, want 400", total)
	}
	if hierarchy["0-0-0-0"] != 50 || len(hierarchy) < 2 {
		t.Errorf("root should be full and split: %v", hierarchy)
	}

	data, err := os.ReadFile(filepath.Join(out, eptDataDir, "0-0-0-0.zst"))
	if err != nil {
		t.Fatalf("root node missing: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		t.Fatalf("root node is not zstd: %v", err)
	}
	if len(raw) != 50*21 {
		t.Errorf("root node has %d bytes, want %d", len(raw), 50*21)
	}
}

func TestRun_LAZ(t *testing.T) {
	dir := t.TempDir()
	src := testutil.CreateTestFile(t, dir, "cloud.laz", testutil.LAS(testutil.LASSpec{
		PointFormat: 3,
		Offset:      [3]float64{576000, 5188000, 0},
		EPSG:        32615,
		Compressed:  true,
		Points:      testutil.LASGrid(576000, 5188000, 1, 4),
	}))
	info, err := os.Stat(src)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")

	job := Job{Source: src, Entry: domain.Entry{Path: "cloud.laz", Type: domain.EntryPointCloud, Size: info.Size()}, Dir: out}
	manifest, err := newBuilder(10).Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v, _ := manifest.Properties.Get("dataType"); v.Interface() != "laszip" {
		t.Errorf("dataType = %v", v.Interface())
	}

	copied, err := os.Stat(filepath.Join(out, eptDataDir, "0-0-0-0.laz"))
	if err != nil {
		t.Fatalf("laz node missing: %v", err)
	}
	if copied.Size() != info.Size() {
		t.Errorf("laz node has %d bytes, want %d", copied.Size(), info.Size())
	}

	var hierarchy map[string]int
	readJSON(t, filepath.Join(out, eptHierarchyDir, "0-0-0-0.json"), &hierarchy)
	if len(hierarchy) != 1 || hierarchy["0-0-0-0"] != 16 {
		t.Errorf("hierarchy = %v", hierarchy)
	}
}

func TestRun_Tiles(t *testing.T) {
	dir := t.TempDir()
	src := testutil.CreateTestFile(t, dir, "ortho.tif", testutil.GeoTIFF(testutil.GeoTIFFOptions{
		Width: 128, Height: 128, Bands: 3,
		EPSG:    32615,
		OriginX: 576000, OriginY: 5188000,
		PixelSize: 1,
	}))
	out := filepath.Join(dir, "out")

	job := Job{Source: src, Entry: domain.Entry{Path: "ortho.tif", Type: domain.EntryGeoRaster}, Dir: out}
	manifest, err := newBuilder(1).Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if manifest.Path != TilesManifest {
		t.Errorf("manifest path = %s", manifest.Path)
	}

	var doc tileJSON
	readJSON(t, filepath.Join(out, TilesManifest), &doc)
	if doc.MaxZoom-doc.MinZoom != 1 || doc.Count == 0 {
		t.Errorf("tiles.json = %+v", doc)
	}
	if doc.Bounds[0] > -91 || doc.Bounds[2] < -93 {
		t.Errorf("bounds = %v", doc.Bounds)
	}

	pngs := 0
	filepath.WalkDir(out, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(p) == ".png" {
			pngs++
		}
		return nil
	})
	if pngs != doc.Count {
		t.Errorf("found %d tiles, tiles.json says %d", pngs, doc.Count)
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	text := testutil.CreateTestFile(t, dir, "file.txt", []byte("test"))
	b := newBuilder(10)

	_, err := b.Run(context.Background(), Job{Source: text, Entry: domain.Entry{Path: "file.txt", Type: domain.EntryGeneric}, Dir: filepath.Join(dir, "a")}, nil)
	if !errors.Is(err, domain.ErrBuild) {
		t.Errorf("generic entry: got %v, want build error", err)
	}

	_, err = b.Run(context.Background(), Job{Source: text, Entry: domain.Entry{Path: "file.txt", Type: domain.EntryPointCloud}, Dir: filepath.Join(dir, "b")}, nil)
	if !errors.Is(err, domain.ErrBuild) {
		t.Errorf("corrupt point cloud: got %v, want build error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	las := testutil.CreateTestFile(t, dir, "cloud.las", testutil.LAS(testutil.LASSpec{
		PointFormat: 0,
		EPSG:        32615,
		Offset:      [3]float64{576000, 5188000, 0},
		Points:      testutil.LASGrid(576000, 5188000, 1, 10),
	}))
	_, err = b.Run(ctx, Job{Source: las, Entry: domain.Entry{Path: "cloud.las", Type: domain.EntryPointCloud}, Dir: filepath.Join(dir, "c")}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled build: got %v, want context.Canceled", err)
	}
}
