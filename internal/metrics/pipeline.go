// Package metrics exposes Prometheus metrics for the listing pipeline.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "listing_pipeline"

// Pipeline holds the pipeline's collectors. A nil *Pipeline is valid and
// records nothing.
type Pipeline struct {
	registry *prometheus.Registry

	filesAccepted        prometheus.Counter
	filesRejected        *prometheus.CounterVec
	renderHeals          *prometheus.CounterVec
	recordsCorrupted     prometheus.Counter
	collaboratorFailures *prometheus.CounterVec
	fallbacks            *prometheus.CounterVec
	analysisDuration     prometheus.Histogram
	listingsSubmitted    prometheus.Counter
	transientRefs        prometheus.Gauge
}

// NewPipeline creates the collectors and registers them with registry.
func NewPipeline(registry *prometheus.Registry) (*Pipeline, error) {
	m := &Pipeline{
		registry: registry,
		filesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_accepted_total",
			Help:      "Photos accepted at intake.",
		}),
		filesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_rejected_total",
			Help:      "Photos rejected at intake by reason.",
		}, []string{"reason"}),
		renderHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_heals_total",
			Help:      "Render failure recoveries by action taken.",
		}, []string{"action"}),
		recordsCorrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_corrupted_total",
			Help:      "Records quarantined after exhausting render retries.",
		}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Failed calls to external services by service.",
		}, []string{"collaborator"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Local fallbacks taken by kind.",
		}, []string{"kind"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time from analysis request to result.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80},
		}),
		listingsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_submitted_total",
			Help:      "Listings persisted.",
		}),
		transientRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transient_refs",
			Help:      "Live transient photo references.",
		}),
	}

	collectors := []prometheus.Collector{
		m.filesAccepted, m.filesRejected, m.renderHeals, m.recordsCorrupted,
		m.collaboratorFailures, m.fallbacks, m.analysisDuration,
		m.listingsSubmitted, m.transientRefs,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metric: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Pipeline) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      &errorLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *Pipeline) FileAccepted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.filesAccepted.Add(float64(n))
}

func (m *Pipeline) FileRejected(reason string) {
	if m == nil {
		return
	}
	m.filesRejected.WithLabelValues(reason).Inc()
}

func (m *Pipeline) RenderHealed(action string) {
	if m == nil {
		return
	}
	m.renderHeals.WithLabelValues(action).Inc()
}

func (m *Pipeline) RecordCorrupted() {
	if m == nil {
		return
	}
	m.recordsCorrupted.Inc()
}

func (m *Pipeline) CollaboratorFailed(name string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(name).Inc()
}

func (m *Pipeline) Fallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

func (m *Pipeline) ObserveAnalysis(d time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.Observe(d.Seconds())
}

func (m *Pipeline) ListingSubmitted() {
	if m == nil {
		return
	}
	m.listingsSubmitted.Inc()
}

func (m *Pipeline) SetTransientRefs(n int) {
	if m == nil {
		return
	}
	m.transientRefs.Set(float64(n))
}

// errorLogger adapts promhttp's logger to zerolog.
type errorLogger struct{}

func (errorLogger) Println(v ...any) {
	log.Error().Msg(fmt.Sprint(v...))
}
