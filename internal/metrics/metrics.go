// Package metrics exposes Prometheus metrics for index builds and schema
// discovery. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/stave/internal/apperr"
)

// Metrics holds the collectors of one process on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ingestNotes     *prometheus.CounterVec
	ingestStubs     *prometheus.CounterVec
	ingestFailures  prometheus.Counter
	schemaModules   prometheus.Gauge
	schemaErrors    *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	rebuilds        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ingestNotes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stave_ingest_notes_total",
			Help: "Notes written to the index, by vault.",
		}, []string{"vault"}),
		ingestStubs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stave_ingest_stubs_total",
			Help: "Stub hierarchy nodes written to the index, by vault.",
		}, []string{"vault"}),
		ingestFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "stave_ingest_failures_total",
			Help: "Ingestion runs that returned an error.",
		}),
		schemaModules: f.NewGauge(prometheus.GaugeOpts{
			Name: "stave_schema_modules",
			Help: "Schema modules found by the last discovery.",
		}),
		schemaErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stave_schema_errors_total",
			Help: "Schema discovery problems, by severity.",
		}, []string{"severity"}),
		rebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stave_rebuild_duration_seconds",
			Help:    "Time spent building an index from scratch.",
			Buckets: prometheus.DefBuckets,
		}),
		rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stave_rebuilds_total",
			Help: "Index builds, by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveVault records what one vault ingestion wrote.
func (m *Metrics) ObserveVault(vault string, notes, stubs int) {
	if m == nil {
		return
	}
	m.ingestNotes.WithLabelValues(vault).Add(float64(notes))
	m.ingestStubs.WithLabelValues(vault).Add(float64(stubs))
}

// ObserveIngestFailure counts a failed ingestion.
func (m *Metrics) ObserveIngestFailure() {
	if m == nil {
		return
	}
	m.ingestFailures.Inc()
}

// ObserveDiscovery records the outcome of a schema discovery.
func (m *Metrics) ObserveDiscovery(modules int, err error) {
	if m == nil {
		return
	}
	m.schemaModules.Set(float64(modules))
	for _, it := range apperr.ItemsOf(err) {
		m.schemaErrors.WithLabelValues(it.Severity.String()).Inc()
	}
}

// ObserveRebuild records a full index build.
func (m *Metrics) ObserveRebuild(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.rebuildDuration.Observe(took.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rebuilds.WithLabelValues(result).Inc()
}
