// Package metrics provides Prometheus metrics for the review engine
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the collectors for review and timeline operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	reviewCreatesTotal  *prometheus.CounterVec
	reviewQueriesTotal  *prometheus.CounterVec
	reviewQueryDuration prometheus.Histogram
	timelineSamples     *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
}

// New creates metrics registered on a fresh registry
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates metrics and registers them on registry
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		reviewCreatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_creates_total",
				Help: "Total number of review create attempts",
			},
			[]string{"decision", "status"}, // status: success, invalid, transient
		),
		reviewQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_queries_total",
				Help: "Total number of review queries",
			},
			[]string{"status"},
		),
		reviewQueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "review_query_duration_seconds",
				Help:    "Time taken for review queries",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		timelineSamples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeline_samples_total",
				Help: "Telemetry samples seen before and after downsampling",
			},
			[]string{"stage"}, // raw, downsampled
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.reviewCreatesTotal,
		m.reviewQueriesTotal,
		m.reviewQueryDuration,
		m.timelineSamples,
		m.httpRequestsTotal,
		collectors.NewGoCollector(),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCreate counts a review create attempt
func (m *Metrics) RecordCreate(decision, status string) {
	if m == nil {
		return
	}
	m.reviewCreatesTotal.WithLabelValues(decision, status).Inc()
}

// RecordQuery counts a review query and observes its duration
func (m *Metrics) RecordQuery(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reviewQueriesTotal.WithLabelValues(status).Inc()
	m.reviewQueryDuration.Observe(elapsed.Seconds())
}

// RecordTimeline counts samples going into and out of the downsampler
func (m *Metrics) RecordTimeline(raw, downsampled int) {
	if m == nil {
		return
	}
	m.timelineSamples.WithLabelValues("raw").Add(float64(raw))
	m.timelineSamples.WithLabelValues("downsampled").Add(float64(downsampled))
}

// RecordRequest counts a served HTTP request
func (m *Metrics) RecordRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
