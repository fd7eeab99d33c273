package classify

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/geo"
)

const (
	exifTimeLayout = "2006:01:02 15:04:05"
	// xmp packets sit in the first APP segments
	xmpScanLen = 256 * 1024
)

// camera collects what the EXIF and XMP blocks tell about a photo.
type camera struct {
	make, model   string
	orientation   int
	captureTime   float64 // ms since epoch
	hasTime       bool
	focal         float64
	focal35       float64
	hasGPS        bool
	lat, lon, alt float64
	xmp           xmpInfo
}

func (c *Classifier) extractImage(f *os.File, format Format, e *domain.Entry) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decode image config: %w", err)
	}

	var cam camera
	if format == FormatJPEG {
		cam = readCamera(f)
	}
	imageProperties(e, cfg.Width, cfg.Height, cam)
	return nil
}

func (c *Classifier) extractTIFF(f *os.File, e *domain.Entry) error {
	ok, err := c.extractGeoRaster(f, e)
	if err != nil || ok {
		return err
	}
	// plain TIFF photo
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decode tiff config: %w", err)
	}
	imageProperties(e, cfg.Width, cfg.Height, readCamera(f))
	return nil
}

// imageProperties sets type, properties and geometries of a photo.
func imageProperties(e *domain.Entry, width, height int, cam camera) {
	props := map[string]domain.Value{
		"width":  domain.Int(int64(width)),
		"height": domain.Int(int64(height)),
	}

	sensor := ""
	if cam.make != "" || cam.model != "" {
		props["make"] = domain.String(cam.make)
		props["model"] = domain.String(cam.model)
		sensor = strings.ToLower(strings.TrimSpace(cam.make + " " + cam.model))
		props["sensor"] = domain.String(sensor)
	}
	if cam.orientation != 0 {
		props["orientation"] = domain.Int(int64(cam.orientation))
	}
	if cam.hasTime {
		props["captureTime"] = domain.Number(cam.captureTime)
	}

	focal := cam.focal
	sensorWidth, known := sensorWidths[sensor]
	switch {
	case known && cam.focal35 > 0:
		focal = cam.focal35 * sensorWidth / 36
	case !known && focal > 0 && cam.focal35 > 0:
		sensorWidth = focal * 36 / cam.focal35
	}
	sensorHeight := 0.0
	if sensorWidth > 0 && width > 0 {
		sensorHeight = sensorWidth * float64(height) / float64(width)
		props["sensorWidth"] = domain.Number(sensorWidth)
		props["sensorHeight"] = domain.Number(sensorHeight)
	}
	if focal > 0 {
		props["focalLength"] = domain.Number(focal)
	}
	if cam.focal35 > 0 {
		props["focalLength35"] = domain.Number(cam.focal35)
	}
	if cam.xmp.hasYaw {
		props["cameraYaw"] = domain.Number(cam.xmp.yaw)
	}
	if cam.xmp.hasPitch {
		props["cameraPitch"] = domain.Number(cam.xmp.pitch)
	}
	if cam.xmp.hasRoll {
		props["cameraRoll"] = domain.Number(cam.xmp.roll)
	}

	e.Properties = domain.SortedProperties(props)

	panorama := cam.xmp.equirectangular || (height > 0 && width == 2*height)
	if !cam.hasGPS {
		e.Type = domain.EntryImage
		if panorama {
			e.Type = domain.EntryPanorama
		}
		return
	}

	e.Type = domain.EntryGeoImage
	if panorama {
		e.Type = domain.EntryGeoPanorama
	}
	e.PointGeometry = domain.NewPoint(cam.lon, cam.lat, cam.alt)

	if panorama || !cam.xmp.hasRelAlt {
		return
	}
	pitch := -90.0
	if cam.xmp.hasPitch {
		pitch = cam.xmp.pitch
	}
	ring, ok := geo.Footprint(geo.Camera{
		Lon:              cam.lon,
		Lat:              cam.lat,
		Altitude:         cam.alt,
		RelativeAltitude: cam.xmp.relAlt,
		SensorWidth:      sensorWidth,
		SensorHeight:     sensorHeight,
		FocalLength:      focal,
		Yaw:              cam.xmp.yaw,
		Pitch:            pitch,
		Roll:             cam.xmp.roll,
	})
	if ok {
		e.PolygonGeometry = domain.NewPolygon(ring)
	}
}

// readCamera reads EXIF and XMP. Missing or broken blocks leave the
// corresponding fields empty.
func readCamera(f *os.File) camera {
	var cam camera

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if x, err := exif.Decode(f); x != nil && (err == nil || !exif.IsCriticalError(err)) {
			cam.fromExif(x)
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		buf := make([]byte, xmpScanLen)
		n, _ := io.ReadFull(f, buf)
		cam.xmp = parseXMP(buf[:n])
	}
	return cam
}

func (cam *camera) fromExif(x *exif.Exif) {
	cam.make = exifString(x, exif.Make)
	cam.model = exifString(x, exif.Model)

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			cam.orientation = v
		}
	}

	if s := exifString(x, exif.DateTimeOriginal); s != "" {
		if t, err := time.ParseInLocation(exifTimeLayout, s, time.UTC); err == nil {
			ms := float64(t.UnixMilli())
			if sub := exifString(x, exif.SubSecTimeOriginal); sub != "" {
				if frac, err := strconv.ParseFloat("0."+strings.TrimSpace(sub), 64); err == nil {
					ms += frac * 1000
				}
			}
			cam.captureTime = ms
			cam.hasTime = true
		}
	}

	cam.focal = exifRational(x, exif.FocalLength)
	if tag, err := x.Get(exif.FocalLengthIn35mmFilm); err == nil {
		if v, err := tag.Int(0); err == nil {
			cam.focal35 = float64(v)
		}
	}

	lat, lon, err := x.LatLong()
	if err == nil && !math.IsNaN(lat) && !math.IsNaN(lon) {
		cam.hasGPS = true
		cam.lat, cam.lon = lat, lon
		cam.alt = exifRational(x, exif.GPSAltitude)
		if tag, err := x.Get(exif.GPSAltitudeRef); err == nil {
			if ref, err := tag.Int(0); err == nil && ref == 1 {
				cam.alt = -cam.alt
			}
		}
	}
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func exifRational(x *exif.Exif, name exif.FieldName) float64 {
	tag, err := x.Get(name)
	if err != nil {
		return 0
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// xmpInfo holds the XMP attributes used for orientation and footprints.
type xmpInfo struct {
	yaw, pitch, roll float64
	relAlt           float64
	hasYaw, hasPitch bool
	hasRoll          bool
	hasRelAlt        bool
	equirectangular  bool
}

var (
	xmpPacket = regexp.MustCompile(`(?s)<x:xmpmeta.*?</x:xmpmeta>`)
	xmpNumber = `\s*[=>]\s*"?\s*([+-]?[0-9]*\.?[0-9]+(?:[eE][+-]?[0-9]+)?)`
	xmpYaw    = regexp.MustCompile(`drone-dji:(?:GimbalYawDegree|FlightYawDegree)` + xmpNumber)
	xmpPitch  = regexp.MustCompile(`drone-dji:GimbalPitchDegree` + xmpNumber)
	xmpRoll   = regexp.MustCompile(`drone-dji:GimbalRollDegree` + xmpNumber)
	xmpRelAlt = regexp.MustCompile(`drone-dji:RelativeAltitude` + xmpNumber)
	xmpGPano  = regexp.MustCompile(`GPano:ProjectionType\s*[=>]\s*"?equirectangular`)
)

func parseXMP(data []byte) xmpInfo {
	var info xmpInfo
	packet := xmpPacket.Find(data)
	if packet == nil {
		return info
	}
	info.yaw, info.hasYaw = xmpFloat(xmpYaw, packet)
	info.pitch, info.hasPitch = xmpFloat(xmpPitch, packet)
	info.roll, info.hasRoll = xmpFloat(xmpRoll, packet)
	info.relAlt, info.hasRelAlt = xmpFloat(xmpRelAlt, packet)
	info.equirectangular = xmpGPano.Match(packet)
	return info
}

func xmpFloat(re *regexp.Regexp, packet []byte) (float64, bool) {
	m := re.FindSubmatch(packet)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
