package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EntryType is the closed set of entry kinds. The integer values are part
// of the wire format and must not be renumbered.
type EntryType int

const (
	EntryUndefined   EntryType = 0
	EntryDirectory   EntryType = 1
	EntryGeneric     EntryType = 2
	EntryGeoImage    EntryType = 3
	EntryGeoRaster   EntryType = 4
	EntryPointCloud  EntryType = 5
	EntryImage       EntryType = 6
	EntryDroneDB     EntryType = 7
	EntryMarkdown    EntryType = 8
	EntryVideo       EntryType = 9
	EntryGeoVideo    EntryType = 10
	EntryModel       EntryType = 11
	EntryPanorama    EntryType = 12
	EntryGeoPanorama EntryType = 13
	EntryVector      EntryType = 14
)

// String returns the string representation of the entry type
func (t EntryType) String() string {
	switch t {
	case EntryUndefined:
		return "undefined"
	case EntryDirectory:
		return "directory"
	case EntryGeneric:
		return "generic"
	case EntryGeoImage:
		return "geoimage"
	case EntryGeoRaster:
		return "georaster"
	case EntryPointCloud:
		return "pointcloud"
	case EntryImage:
		return "image"
	case EntryDroneDB:
		return "dronedb"
	case EntryMarkdown:
		return "markdown"
	case EntryVideo:
		return "video"
	case EntryGeoVideo:
		return "geovideo"
	case EntryModel:
		return "model"
	case EntryPanorama:
		return "panorama"
	case EntryGeoPanorama:
		return "geopanorama"
	case EntryVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the declared entry types.
func (t EntryType) Valid() bool {
	return t >= EntryUndefined && t <= EntryVector
}

// IsGeo reports whether entries of this type usually carry a geometry.
func (t EntryType) IsGeo() bool {
	switch t {
	case EntryGeoImage, EntryGeoRaster, EntryPointCloud, EntryGeoVideo, EntryGeoPanorama, EntryVector:
		return true
	case EntryUndefined, EntryDirectory, EntryGeneric, EntryImage, EntryDroneDB,
		EntryMarkdown, EntryVideo, EntryModel, EntryPanorama:
		return false
	}
	return false
}

// Entry is one indexed file or directory of a catalog.
type Entry struct {
	// Path is relative to the catalog root, forward-slash separated
	Path string

	// Hash is the hex content digest, "" for directories
	Hash string

	Size    int64
	ModTime time.Time
	Type    EntryType

	Properties Properties

	// PointGeometry and PolygonGeometry are GeoJSON Features in EPSG:4326,
	// nil when the entry carries no spatial information
	PointGeometry   *Feature
	PolygonGeometry *Feature
}

// Depth returns the number of path separators in the entry path.
func (e Entry) Depth() int {
	return strings.Count(e.Path, "/")
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == EntryDirectory
}

type entryJSON struct {
	Path        string          `json:"path"`
	Hash        string          `json:"hash"`
	MTime       int64           `json:"mtime"`
	Size        int64           `json:"size"`
	Type        EntryType       `json:"type"`
	Depth       int             `json:"depth"`
	Properties  Properties      `json:"properties"`
	PointGeom   json.RawMessage `json:"point_geom,omitempty"`
	PolygonGeom json.RawMessage `json:"polygon_geom,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		Path:       e.Path,
		Hash:       e.Hash,
		Size:       e.Size,
		Type:       e.Type,
		Depth:      e.Depth(),
		Properties: e.Properties,
	}
	if !e.ModTime.IsZero() {
		out.MTime = e.ModTime.Unix()
	}
	var err error
	if e.PointGeometry != nil {
		if out.PointGeom, err = json.Marshal(e.PointGeometry); err != nil {
			return nil, err
		}
	}
	if e.PolygonGeometry != nil {
		if out.PolygonGeom, err = json.Marshal(e.PolygonGeometry); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Missing fields take their zero
// value; a missing or zero mtime decodes to the Unix epoch.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{
		Path:       in.Path,
		Hash:       in.Hash,
		Size:       in.Size,
		Type:       in.Type,
		ModTime:    time.Unix(in.MTime, 0).UTC(),
		Properties: in.Properties,
	}
	var err error
	if e.PointGeometry, err = decodeFeature(in.PointGeom); err != nil {
		return err
	}
	if e.PolygonGeometry, err = decodeFeature(in.PolygonGeom); err != nil {
		return err
	}
	return nil
}

func decodeFeature(raw json.RawMessage) (*Feature, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f Feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
