// Package metrics exposes Prometheus collectors for the HTTP surface and the
// outfit pipeline.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outfit_studio"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight       prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	recommendations    *prometheus.CounterVec
	recommendDuration  prometheus.Histogram
	saves              *prometheus.CounterVec
	captures           *prometheus.CounterVec
	indexSyncFailures  *prometheus.CounterVec
	authVerifications  *prometheus.CounterVec
	activeCompositions prometheus.Gauge
}

// New builds a Metrics instance with its own registry. Process and Go
// runtime collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommendations",
			Name:      "generations_total",
			Help:      "Recommendation generations by outcome.",
		}, []string{"outcome"}),
		recommendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recommendations",
			Name:      "upstream_duration_seconds",
			Help:      "Duration of recommendation service calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outfits",
			Name:      "saves_total",
			Help:      "Outfit saves by source and outcome.",
		}, []string{"source", "outcome"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outfits",
			Name:      "captures_total",
			Help:      "Canvas captures by outcome.",
		}, []string{"outcome"}),
		indexSyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "sync_failures_total",
			Help:      "Failed background index syncs.",
		}, []string{"mode"}),
		authVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Bearer token verifications by result.",
		}, []string{"result", "reason"}),
		activeCompositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "compositions",
			Name:      "active_sessions",
			Help:      "Composition sessions currently held in memory.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.recommendations,
		m.recommendDuration,
		m.saves,
		m.captures,
		m.indexSyncFailures,
		m.authVerifications,
		m.activeCompositions,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordRecommendation counts a generation outcome such as "ok", "ineligible" or "superseded".
func (m *Metrics) RecordRecommendation(outcome string, upstream time.Duration) {
	if m == nil {
		return
	}
	m.recommendations.WithLabelValues(outcome).Inc()
	if upstream > 0 {
		m.recommendDuration.Observe(upstream.Seconds())
	}
}

// RecordSave counts an outfit save. source is "suggestion" or "composition".
func (m *Metrics) RecordSave(source string, success bool) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(source, outcome(success)).Inc()
}

// RecordCapture counts a canvas capture outcome.
func (m *Metrics) RecordCapture(result string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(result).Inc()
}

// RecordIndexSyncFailure counts a failed background index sync.
func (m *Metrics) RecordIndexSyncFailure(mode string) {
	if m == nil {
		return
	}
	m.indexSyncFailures.WithLabelValues(mode).Inc()
}

// RecordVerification satisfies auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.authVerifications.WithLabelValues(outcome(success), reason).Inc()
}

// SetActiveCompositions reports the number of live composition sessions.
func (m *Metrics) SetActiveCompositions(n int) {
	if m == nil {
		return
	}
	m.activeCompositions.Set(float64(n))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
