package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/enrich"
)

func TestNew_RegistersCounterFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveJob(enrich.StatusSuccess)
	m.ObserveRun(catalog.IngestExecuted)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["poi_jobs_total"])
	assert.True(t, names["poi_enrichment_jobs_total"])
	assert.True(t, names["poi_ingest_runs_total"])
}

func TestObserveJob_CountsBothFamilies(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveJob(enrich.StatusSuccess)
	m.ObserveJob(enrich.StatusSuccess)
	m.ObserveJob(enrich.StatusQuotaExceeded)
	m.ObserveJob(enrich.StatusCircuitOpen)
	m.ObserveJob(enrich.StatusRetryExhausted)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.enrichmentJobsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrichmentJobsTotal.WithLabelValues("quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrichmentJobsTotal.WithLabelValues("circuit_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrichmentJobsTotal.WithLabelValues("retry_exhausted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("enrichment", "success")))
}

func TestObserveRun_LowercasesStatusLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun(catalog.IngestExecuted)
	m.ObserveRun(catalog.IngestReplayed)
	m.ObserveRun(catalog.IngestReplayed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestRunsTotal.WithLabelValues("executed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestRunsTotal.WithLabelValues("replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("osm_ingest", "executed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("osm_ingest", "replayed")))
}
