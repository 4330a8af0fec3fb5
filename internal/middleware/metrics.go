package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInProgress prometheus.Gauge
	recordsSubmitted   *prometheus.CounterVec
	submitsDegraded    prometheus.Counter

	// analysis_type is client input; only these values become label values
	knownTypes map[string]struct{}
}

// DefaultAnalysisTypes label the submission counter when none are configured
var DefaultAnalysisTypes = []string{"museum", "text", "general"}

// otherAnalysisType collects every type outside the allow-list
const otherAnalysisType = "other"

// NewMetrics registers every collector on reg. Pass a fresh registry per test.
// analysisTypes is the label allow-list of art_records_submitted_total.
func NewMetrics(reg *prometheus.Registry, analysisTypes ...string) *Metrics {
	if len(analysisTypes) == 0 {
		analysisTypes = DefaultAnalysisTypes
	}
	known := make(map[string]struct{}, len(analysisTypes))
	for _, t := range analysisTypes {
		known[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	f := promauto.With(reg)
	return &Metrics{
		registry:   reg,
		knownTypes: known,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "art_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "art_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requestsInProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "art_http_requests_in_progress",
			Help: "HTTP requests currently being served.",
		}),
		recordsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "art_records_submitted_total",
			Help: "Analysis records persisted, by analysis type (unlisted types count as other).",
		}, []string{"analysis_type"}),
		submitsDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "art_records_unpersisted_total",
			Help: "Submissions answered without reaching the store.",
		}),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsInProgress.Inc()
		defer m.requestsInProgress.Dec()

		start := time.Now()
		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		// route pattern hanya lengkap setelah chi selesai routing
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordSubmitted counts a persisted submission
func (m *Metrics) RecordSubmitted(analysisType string) {
	m.recordsSubmitted.WithLabelValues(m.typeLabel(analysisType)).Inc()
}

func (m *Metrics) typeLabel(analysisType string) string {
	t := strings.ToLower(strings.TrimSpace(analysisType))
	if _, ok := m.knownTypes[t]; ok {
		return t
	}
	return otherAnalysisType
}

// RecordDegraded counts a submission that was not persisted
func (m *Metrics) RecordDegraded() {
	m.submitsDegraded.Inc()
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
