package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	m, err := NewPipeline(prometheus.NewRegistry())
	require.NoError(t, err)

	m.FileAccepted(3)
	m.FileRejected("empty")
	m.FileRejected("empty")
	m.FileRejected("too_large")
	m.RenderHealed("regenerated")
	m.RecordCorrupted()
	m.CollaboratorFailed("analysis")
	m.Fallback("description_template")
	m.ObserveAnalysis(3 * time.Second)
	m.ListingSubmitted()
	m.SetTransientRefs(4)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.filesAccepted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.filesRejected.WithLabelValues("empty")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.filesRejected.WithLabelValues("too_large")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.renderHeals.WithLabelValues("regenerated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordsCorrupted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.collaboratorFailures.WithLabelValues("analysis")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.fallbacks.WithLabelValues("description_template")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.listingsSubmitted))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.transientRefs))
	assert.Equal(t, 1, testutil.CollectAndCount(m.analysisDuration))
}

func TestPipelineMetrics_DoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPipeline(registry)
	require.NoError(t, err)

	_, err = NewPipeline(registry)
	assert.Error(t, err)
}

func TestPipelineMetrics_NilIsSafe(t *testing.T) {
	var m *Pipeline
	assert.NotPanics(t, func() {
		m.FileAccepted(1)
		m.FileRejected("empty")
		m.RenderHealed("regenerated")
		m.RecordCorrupted()
		m.CollaboratorFailed("market")
		m.Fallback("extraction")
		m.ObserveAnalysis(time.Second)
		m.ListingSubmitted()
		m.SetTransientRefs(1)
	})
}

func TestHandler(t *testing.T) {
	m, err := NewPipeline(prometheus.NewRegistry())
	require.NoError(t, err)
	m.FileRejected("duplicate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `listing_pipeline_files_rejected_total{reason="duplicate"} 1`)
}
