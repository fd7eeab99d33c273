// Package metrics provides Prometheus metrics for ddb
package metrics

import (
	"io"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/Ning0612/ddb/internal/domain"
)

// Metrics holds all Prometheus metrics for ddb. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Catalog operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OpenCatalogs      prometheus.Gauge

	// Indexing metrics
	EntriesIndexedTotal *prometheus.CounterVec
	BytesHashedTotal    prometheus.Counter

	// Derived asset metrics
	BuildsTotal   *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	RendersTotal  *prometheus.CounterVec
}

// New creates all metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddb_operations_total",
			Help: "Total number of catalog operations",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddb_operation_duration_seconds",
			Help:    "Duration of catalog operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	m.OpenCatalogs = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddb_open_catalogs",
			Help: "Number of catalog handles currently open",
		},
	)

	m.EntriesIndexedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddb_entries_indexed_total",
			Help: "Total number of entries written to an index, by entry type",
		},
		[]string{"type"},
	)

	m.BytesHashedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "ddb_bytes_hashed_total",
			Help: "Total number of bytes read by the hashing engine",
		},
	)

	m.BuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddb_builds_total",
			Help: "Total number of builds, by kind and status",
		},
		[]string{"kind", "status"},
	)

	m.BuildDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddb_build_duration_seconds",
			Help:    "Duration of builds in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"kind"},
	)

	m.RendersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddb_renders_total",
			Help: "Total number of thumbnails and tiles rendered",
		},
		[]string{"kind", "status"},
	)

	return m
}

// Registry returns the registry holding the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Status maps an operation error to a label value
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}

// RecordOperation records a catalog operation
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, Status(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEntries counts indexed entries by type
func (m *Metrics) RecordEntries(entries []domain.Entry) {
	if m == nil {
		return
	}
	for _, e := range entries {
		m.EntriesIndexedTotal.WithLabelValues(e.Type.String()).Inc()
	}
}

// AddBytesHashed adds n to the hashed bytes counter
func (m *Metrics) AddBytesHashed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesHashedTotal.Add(float64(n))
}

// RecordBuild records one build
func (m *Metrics) RecordBuild(kind domain.BuildKind, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.BuildsTotal.WithLabelValues(string(kind), Status(err)).Inc()
	m.BuildDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordRender records one thumbnail or tile
func (m *Metrics) RecordRender(kind string, err error) {
	if m == nil {
		return
	}
	m.RendersTotal.WithLabelValues(kind, Status(err)).Inc()
}

// CatalogOpened and CatalogClosed track open handles
func (m *Metrics) CatalogOpened() {
	if m != nil {
		m.OpenCatalogs.Inc()
	}
}

// CatalogClosed decrements the open handle gauge
func (m *Metrics) CatalogClosed() {
	if m != nil {
		m.OpenCatalogs.Dec()
	}
}

// WriteText writes every metric in the Prometheus text exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// Families gathers the current metric families
func (m *Metrics) Families() ([]*dto.MetricFamily, error) {
	if m == nil {
		return nil, nil
	}
	return m.registry.Gather()
}
