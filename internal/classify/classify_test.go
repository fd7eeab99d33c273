package classify

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/testutil"
)

func classify(t *testing.T, dir, name string, withHash bool) domain.Entry {
	t.Helper()
	c := New(nil, nil)
	e, err := c.Classify(context.Background(), filepath.Join(dir, filepath.FromSlash(name)), name, withHash)
	if err != nil {
		t.Fatalf("Classify(%s) failed: %v", name, err)
	}
	return e
}

func TestClassify_Generic(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "file.txt", []byte("test"))

	e := classify(t, dir, "file.txt", true)
	if e.Type != domain.EntryGeneric {
		t.Errorf("Type = %v, want generic", e.Type)
	}
	if e.Hash != "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08" {
		t.Errorf("Hash = %s", e.Hash)
	}
	if e.Size != 4 || e.Depth() != 0 {
		t.Errorf("Size = %d Depth = %d", e.Size, e.Depth())
	}
	if e.Properties.Len() != 0 || e.PointGeometry != nil || e.PolygonGeometry != nil {
		t.Errorf("generic entry should carry nothing: %+v", e)
	}

	noHash := classify(t, dir, "file.txt", false)
	if noHash.Hash != "" {
		t.Errorf("withHash=false should skip hashing, got %s", noHash.Hash)
	}
}

func TestClassify_DroneImage(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "DJI_0027.JPG", testutil.JPEG(64, 36, testutil.ExifSpec{
		Make: "DJI", Model: "FC300S",
		Orientation:      1,
		DateTimeOriginal: "2016:06:23 16:33:04",
		FocalLength:      3.61,
		FocalLength35:    20,
		HasGPS:           true,
		Lat:              46.842605, Lon: -91.994083, Altitude: 198.51,
		XMP: testutil.DJIXMP(-131.3, -89.9, 0, 40),
	}))

	e := classify(t, dir, "DJI_0027.JPG", true)
	if e.Type != domain.EntryGeoImage {
		t.Fatalf("Type = %v, want geoimage", e.Type)
	}

	want := []string{
		"cameraPitch", "cameraRoll", "cameraYaw", "captureTime", "focalLength", "focalLength35",
		"height", "make", "model", "orientation", "sensor", "sensorHeight", "sensorWidth", "width",
	}
	keys := e.Properties.Keys()
	if len(keys) != len(want) {
		t.Fatalf("properties = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	if e.Properties.String("sensor") != "dji fc300s" {
		t.Errorf("sensor = %q", e.Properties.String("sensor"))
	}
	if v, _ := e.Properties.Number("sensorWidth"); v != 6.16 {
		t.Errorf("sensorWidth = %v", v)
	}
	if v, _ := e.Properties.Number("focalLength"); math.Abs(v-20*6.16/36) > 1e-12 {
		t.Errorf("focalLength = %v", v)
	}
	if v, _ := e.Properties.Number("sensorHeight"); math.Abs(v-6.16*36/64) > 1e-12 {
		t.Errorf("sensorHeight = %v", v)
	}
	if v, _ := e.Properties.Number("captureTime"); v != 1466699584000 {
		t.Errorf("captureTime = %v", v)
	}
	if v, _ := e.Properties.Number("cameraYaw"); v != -131.3 {
		t.Errorf("cameraYaw = %v", v)
	}

	if e.PointGeometry == nil {
		t.Fatal("expected point geometry")
	}
	pt := e.PointGeometry.Geometry.Point
	if math.Abs(pt[0]+91.994083) > 1e-5 || math.Abs(pt[1]-46.842605) > 1e-5 || math.Abs(pt[2]-198.51) > 1e-6 {
		t.Errorf("point = %v", pt)
	}
	if e.PolygonGeometry == nil {
		t.Fatal("expected footprint polygon")
	}
	ring := e.PolygonGeometry.Geometry.Polygon[0]
	if len(ring) != 5 {
		t.Errorf("ring has %d vertices", len(ring))
	}
	if math.Abs(ring[0][2]-158.51) > 1e-6 {
		t.Errorf("footprint altitude = %v, want 158.51", ring[0][2])
	}
}

func TestClassify_PhoneImage(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "Sub/20200610_144436.jpg", testutil.JPEG(40, 30, testutil.ExifSpec{
		Make: "samsung", Model: "SM-G950F",
		Orientation:      1,
		DateTimeOriginal: "2020:06:10 14:44:36",
		SubSecOriginal:   "0048",
		FocalLength:      4.16,
		FocalLength35:    26,
		HasGPS:           true,
		Lat:              45.50027, Lon: 10.60667, Altitude: 141,
	}))

	e := classify(t, dir, "Sub/20200610_144436.jpg", true)
	if e.Type != domain.EntryGeoImage || e.Depth() != 1 {
		t.Fatalf("Type = %v Depth = %d", e.Type, e.Depth())
	}
	if e.Properties.Len() != 11 {
		t.Errorf("got %d properties: %v", e.Properties.Len(), e.Properties.Keys())
	}
	if v, _ := e.Properties.Number("sensorWidth"); math.Abs(v-5.76) > 1e-9 {
		t.Errorf("sensorWidth = %v, want 5.76", v)
	}
	if v, _ := e.Properties.Number("captureTime"); math.Abs(v-1591800276004.8) > 1e-3 {
		t.Errorf("captureTime = %v", v)
	}
	if e.PolygonGeometry != nil {
		t.Error("no relative altitude means no footprint")
	}
}

func TestClassify_ImageWithoutGPS(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "plain.jpg", testutil.JPEG(20, 10, testutil.ExifSpec{Make: "Canon", Model: "EOS"}))

	plain := classify(t, dir, "plain.jpg", false)
	if plain.Type != domain.EntryPanorama {
		t.Errorf("20x10 image Type = %v, want panorama", plain.Type)
	}
	if plain.PointGeometry != nil || plain.PolygonGeometry != nil {
		t.Error("no GPS means no geometry")
	}

	testutil.CreateTestFile(t, dir, "square.jpg", testutil.JPEG(16, 16, testutil.ExifSpec{}))
	sq := classify(t, dir, "square.jpg", false)
	if sq.Type != domain.EntryImage {
		t.Errorf("Type = %v, want image", sq.Type)
	}
	if w, _ := sq.Properties.Number("width"); w != 16 {
		t.Errorf("width = %v", w)
	}
}

func TestClassify_GeoRaster(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "ortho.tif", testutil.GeoTIFF(testutil.GeoTIFFOptions{
		Width: 32, Height: 16, Bands: 3, EPSG: 32615,
		OriginX: 576000, OriginY: 5188000, PixelSize: 0.1,
	}))

	e := classify(t, dir, "ortho.tif", true)
	if e.Type != domain.EntryGeoRaster {
		t.Fatalf("Type = %v, want georaster", e.Type)
	}
	if e.Properties.String("projection") != "EPSG:32615" {
		t.Errorf("projection = %q", e.Properties.String("projection"))
	}
	gt, ok := e.Properties.Get("geotransform")
	if !ok || gt.Len() != 6 {
		t.Errorf("geotransform = %v", gt.Interface())
	}
	if e.PointGeometry == nil || e.PolygonGeometry == nil {
		t.Error("georaster with known projection needs geometries")
	}
}

func TestClassify_PlainTIFF(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "scan.tif", testutil.GeoTIFF(testutil.GeoTIFFOptions{Width: 8, Height: 8, Bands: 1}))
	e := classify(t, dir, "scan.tif", false)
	if e.Type != domain.EntryImage {
		t.Errorf("Type = %v, want image", e.Type)
	}
}

func TestClassify_PointCloud(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "point_cloud.las", testutil.LAS(testutil.LASSpec{
		PointFormat: 3,
		Offset:      [3]float64{576000, 5188000, 0},
		EPSG:        32615,
		Points:      testutil.LASGrid(576000, 5188000, 1, 4),
	}))

	e := classify(t, dir, "point_cloud.las", true)
	if e.Type != domain.EntryPointCloud {
		t.Fatalf("Type = %v, want pointcloud", e.Type)
	}
	if n, _ := e.Properties.Number("pointCount"); n != 16 {
		t.Errorf("pointCount = %v", n)
	}
	if e.Properties.String("projection") != "EPSG:32615" {
		t.Errorf("projection = %q", e.Properties.String("projection"))
	}
	if e.PolygonGeometry == nil {
		t.Error("expected bounds polygon")
	}
}

func TestClassify_GeoJSON(t *testing.T) {
	dir := t.TempDir()
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[10,45]},"properties":{}},
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[11,46],[12,44]]},"properties":{}}
	]}`
	testutil.CreateTestFile(t, dir, "roads.geojson", []byte(doc))

	e := classify(t, dir, "roads.geojson", false)
	if e.Type != domain.EntryVector {
		t.Fatalf("Type = %v, want vector", e.Type)
	}
	if n, _ := e.Properties.Number("featureCount"); n != 2 {
		t.Errorf("featureCount = %v", n)
	}
	b := e.PolygonGeometry.Geometry.Bounds()
	if b != [4]float64{10, 44, 12, 46} {
		t.Errorf("bbox = %v", b)
	}
}

func TestClassify_ByExtension(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		want domain.EntryType
	}{
		{"README.md", domain.EntryMarkdown},
		{"clip.mp4", domain.EntryVideo},
		{"mesh.obj", domain.EntryModel},
		{"data.bin", domain.EntryGeneric},
		{"broken.jpg", domain.EntryGeneric},
	}
	for _, tt := range tests {
		testutil.CreateTestFile(t, dir, tt.name, []byte("plain text"))
		if got := classify(t, dir, tt.name, false).Type; got != tt.want {
			t.Errorf("%s: Type = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClassify_Directories(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "plain"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested", MarkerDir), 0755); err != nil {
		t.Fatal(err)
	}

	if e := classify(t, dir, "plain", true); e.Type != domain.EntryDirectory || e.Hash != "" {
		t.Errorf("plain: %+v", e)
	}
	if e := classify(t, dir, "nested", true); e.Type != domain.EntryDroneDB {
		t.Errorf("nested catalog Type = %v, want dronedb", e.Type)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "a.jpg", testutil.JPEG(30, 20, testutil.ExifSpec{
		Make: "DJI", Model: "FC300S", HasGPS: true, Lat: 1, Lon: 2, Altitude: 3,
		FocalLength35: 20, XMP: testutil.DJIXMP(10, -90, 0, 50),
	}))

	a, _ := json.Marshal(classify(t, dir, "a.jpg", true))
	b, _ := json.Marshal(classify(t, dir, "a.jpg", true))
	if string(a) != string(b) {
		t.Errorf("classification differs:\n%s\n%s", a, b)
	}
}

func TestClassify_Missing(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Classify(context.Background(), filepath.Join(t.TempDir(), "nope"), "nope", true)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
