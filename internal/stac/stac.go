// Package stac renders catalog entries as SpatioTemporal Asset Catalog
// documents: one Item per entry, one Collection per catalog.
package stac

import (
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Ning0612/ddb/internal/domain"
)

// Version is the STAC version of produced documents.
const Version = "1.0.0"

// Options locate the documents.
type Options struct {
	// CollectionURL is the public URL of the dataset
	CollectionURL string
	// CollectionID identifies the collection, usually namespace/dataset
	CollectionID string
	// RegistryURL is the URL of the registry root catalog
	RegistryURL string
}

// Link is a STAC link object.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Asset is a STAC asset object.
type Asset struct {
	Href  string   `json:"href"`
	Title string   `json:"title,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Item is a STAC Item.
type Item struct {
	StacVersion    string           `json:"stac_version"`
	StacExtensions []string         `json:"stac_extensions"`
	Type           string           `json:"type"`
	ID             string           `json:"id"`
	Collection     string           `json:"collection,omitempty"`
	Geometry       *domain.Geometry `json:"geometry"`
	BBox           []float64        `json:"bbox,omitempty"`
	Properties     map[string]any   `json:"properties"`
	Links          []Link           `json:"links"`
	Assets         map[string]Asset `json:"assets"`
}

// Extent is the spatial and temporal extent of a collection.
type Extent struct {
	Spatial struct {
		BBox [][]float64 `json:"bbox"`
	} `json:"spatial"`
	Temporal struct {
		Interval [][]*string `json:"interval"`
	} `json:"temporal"`
}

// Collection is a STAC Collection.
type Collection struct {
	StacVersion    string   `json:"stac_version"`
	StacExtensions []string `json:"stac_extensions"`
	Type           string   `json:"type"`
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description"`
	License        string   `json:"license"`
	Extent         Extent   `json:"extent"`
	Links          []Link   `json:"links"`
}

// Info describes the collection itself.
type Info struct {
	Title       string
	Description string
	License     string
}

const jsonType = "application/json"

func stacURL(base string) string {
	return strings.TrimRight(base, "/") + "/stac"
}

func itemURL(opts Options, p string) string {
	return stacURL(opts.CollectionURL) + "/" + url.PathEscape(p)
}

func downloadURL(opts Options, p string) string {
	return strings.TrimRight(opts.CollectionURL, "/") + "/download?path=" + url.QueryEscape(p)
}

func thumbURL(opts Options, p string) string {
	return strings.TrimRight(opts.CollectionURL, "/") + "/thumb?path=" + url.QueryEscape(p)
}

// geometryOf prefers the footprint over the position.
func geometryOf(e domain.Entry) *domain.Geometry {
	switch {
	case e.PolygonGeometry != nil:
		return &e.PolygonGeometry.Geometry
	case e.PointGeometry != nil:
		return &e.PointGeometry.Geometry
	}
	return nil
}

// timeOf returns the capture time when known, the modification time
// otherwise.
func timeOf(e domain.Entry) time.Time {
	if ms, ok := e.Properties.Number("captureTime"); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return e.ModTime.UTC()
}

// NewItem describes one entry.
func NewItem(e domain.Entry, opts Options) Item {
	props := map[string]any{
		"datetime": timeOf(e).Format(time.RFC3339),
	}
	for _, k := range e.Properties.Keys() {
		v, _ := e.Properties.Get(k)
		props[k] = v
	}

	item := Item{
		StacVersion:    Version,
		StacExtensions: []string{},
		Type:           "Feature",
		ID:             e.Path,
		Collection:     opts.CollectionID,
		Geometry:       geometryOf(e),
		Properties:     props,
		Links: []Link{
			{Rel: "self", Href: itemURL(opts, e.Path), Type: jsonType},
			{Rel: "root", Href: stacURL(opts.RegistryURL), Type: jsonType},
			{Rel: "parent", Href: stacURL(opts.CollectionURL), Type: jsonType},
			{Rel: "collection", Href: stacURL(opts.CollectionURL), Type: jsonType},
		},
		Assets: map[string]Asset{
			path.Base(e.Path): {
				Href:  downloadURL(opts, e.Path),
				Title: path.Base(e.Path),
				Roles: []string{"data"},
			},
		},
	}
	if item.Geometry != nil {
		b := item.Geometry.Bounds()
		item.BBox = b[:]
	}
	switch e.Type {
	case domain.EntryImage, domain.EntryGeoImage, domain.EntryPanorama, domain.EntryGeoPanorama, domain.EntryGeoRaster:
		item.Assets["thumbnail"] = Asset{Href: thumbURL(opts, e.Path), Type: "image/jpeg", Roles: []string{"thumbnail"}}
	case domain.EntryUndefined, domain.EntryDirectory, domain.EntryGeneric, domain.EntryPointCloud,
		domain.EntryDroneDB, domain.EntryMarkdown, domain.EntryVideo, domain.EntryGeoVideo,
		domain.EntryModel, domain.EntryVector:
	}
	return item
}

// NewCollection describes the catalog. Entries with a geometry become
// item links and contribute to the extent.
func NewCollection(entries []domain.Entry, info Info, opts Options) Collection {
	c := Collection{
		StacVersion:    Version,
		StacExtensions: []string{},
		Type:           "Collection",
		ID:             opts.CollectionID,
		Title:          info.Title,
		Description:    info.Description,
		License:        info.License,
		Links: []Link{
			{Rel: "self", Href: stacURL(opts.CollectionURL), Type: jsonType},
			{Rel: "root", Href: stacURL(opts.RegistryURL), Type: jsonType},
		},
	}
	if c.Description == "" {
		c.Description = c.Title
	}
	if c.License == "" {
		c.License = "proprietary"
	}

	sorted := append([]domain.Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var bbox []float64
	var first, last time.Time
	for _, e := range sorted {
		g := geometryOf(e)
		if g == nil {
			continue
		}
		b := g.Bounds()
		if bbox == nil {
			bbox = []float64{b[0], b[1], b[2], b[3]}
		} else {
			bbox[0], bbox[1] = min(bbox[0], b[0]), min(bbox[1], b[1])
			bbox[2], bbox[3] = max(bbox[2], b[2]), max(bbox[3], b[3])
		}
		ts := timeOf(e)
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
		c.Links = append(c.Links, Link{Rel: "item", Href: itemURL(opts, e.Path), Type: jsonType, Title: e.Path})
	}

	if bbox == nil {
		bbox = []float64{-180, -90, 180, 90}
	}
	c.Extent.Spatial.BBox = [][]float64{bbox}
	var start, end *string
	if !first.IsZero() {
		s, e := first.Format(time.RFC3339), last.Format(time.RFC3339)
		start, end = &s, &e
	}
	c.Extent.Temporal.Interval = [][]*string{{start, end}}
	return c
}
