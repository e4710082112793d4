// Package metrics exposes prometheus counters for both ingestion paths.
//
// Two counter families cover each path: a shared poi_jobs_total{type,status}
// family dashboards can query across job types, and a per-path family
// (poi_enrichment_jobs_total, poi_ingest_runs_total) keyed on status alone.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/enrich"
)

const (
	enrichmentJobType = "enrichment"
	ingestJobType     = "osm_ingest"
)

// Metrics holds the registered counters. It satisfies enrich.JobMetrics and
// ingest.RunMetrics so both paths record through the same instance.
type Metrics struct {
	jobsTotal           *prometheus.CounterVec
	enrichmentJobsTotal *prometheus.CounterVec
	ingestRunsTotal     *prometheus.CounterVec
}

// New registers the counter families with reg and returns the recorder.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poi_jobs_total",
			Help: "Total ingestion jobs by type and status.",
		}, []string{"type", "status"}),
		enrichmentJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poi_enrichment_jobs_total",
			Help: "Total Overpass enrichment jobs by status.",
		}, []string{"status"}),
		ingestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poi_ingest_runs_total",
			Help: "Total batch OSM ingest runs by status.",
		}, []string{"status"}),
	}
}

// ObserveJob counts one finished enrichment job in both families.
func (m *Metrics) ObserveJob(status enrich.JobStatus) {
	m.jobsTotal.WithLabelValues(enrichmentJobType, string(status)).Inc()
	m.enrichmentJobsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveRun counts one finished batch ingest run in both families.
func (m *Metrics) ObserveRun(status catalog.IngestStatus) {
	label := strings.ToLower(string(status))
	m.jobsTotal.WithLabelValues(ingestJobType, label).Inc()
	m.ingestRunsTotal.WithLabelValues(label).Inc()
}
