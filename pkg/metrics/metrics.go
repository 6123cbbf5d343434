// Package metrics exports resolver metrics in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/m-mizutani/actid/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "actid"
	subsystem = "resolver"
)

type Metrics struct {
	registry *prometheus.Registry

	resolutions     *prometheus.CounterVec
	similarity      prometheus.Histogram
	embedLatency    *prometheus.HistogramVec
	records         prometheus.Gauge
	rebuilds        *prometheus.CounterVec
	persistFailures prometheus.Counter
	cleanupDeleted  prometheus.Counter
}

// New creates metrics on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resolutions_total",
			Help:      "Resolved activities by outcome",
		}, []string{"outcome", "reason"}),
		similarity: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "match_similarity",
			Help:      "Similarity of accepted matches",
			Buckets:   []float64{0.85, 0.88, 0.9, 0.92, 0.94, 0.96, 0.98, 0.99, 1},
		}),
		embedLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "embedding_latency_seconds",
			Help:      "Embedder call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"status"}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records",
			Help:      "Number of canonical activity records",
		}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "index_rebuilds_total",
			Help:      "Full index rebuilds by trigger",
		}, []string{"trigger"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_failures_total",
			Help:      "Store commits that failed and were rolled back",
		}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cleanup_deleted_total",
			Help:      "Records removed by recency cleanup",
		}),
	}

	m.registry.MustRegister(
		m.resolutions,
		m.similarity,
		m.embedLatency,
		m.records,
		m.rebuilds,
		m.persistFailures,
		m.cleanupDeleted,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveResolution(res *model.Resolution) {
	if m == nil || res == nil {
		return
	}
	switch {
	case !res.Persisted:
		m.resolutions.WithLabelValues("fallback", string(res.Reason)).Inc()
	case res.Created:
		m.resolutions.WithLabelValues("created", "").Inc()
	default:
		m.resolutions.WithLabelValues("matched", "").Inc()
		m.similarity.Observe(res.Similarity)
	}
}

func (m *Metrics) ObserveEmbedding(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.embedLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}

func (m *Metrics) IncRebuild(trigger string) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) AddCleanupDeleted(n int) {
	if m == nil {
		return
	}
	m.cleanupDeleted.Add(float64(n))
}
