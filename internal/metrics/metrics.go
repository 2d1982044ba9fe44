// Package metrics holds the Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	classifyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classify_requests_total",
			Help: "Successful classification requests by result source (cache, fresh).",
		},
		[]string{"source"},
	)

	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Outbound classification provider calls by result (ok, error).",
		},
		[]string{"provider", "result"},
	)

	quotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quota_rejections_total",
		Help: "Requests rejected by the daily quota.",
	})

	softFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soft_failures_total",
			Help: "Backing-store failures absorbed by fail-open or fail-soft policy.",
		},
		[]string{"component"},
	)
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			classifyRequestsTotal, providerCallsTotal, quotaRejectionsTotal, softFailuresTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ClassifyRequest counts one answered classification.
func ClassifyRequest(source string) { classifyRequestsTotal.WithLabelValues(source).Inc() }

// ProviderCall counts one provider attempt; ok reports whether it produced a verdict.
func ProviderCall(provider string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	providerCallsTotal.WithLabelValues(provider, result).Inc()
}

// QuotaRejection counts one request denied by the daily limit.
func QuotaRejection() { quotaRejectionsTotal.Inc() }

// SoftFailure counts one absorbed store failure in component.
func SoftFailure(component string) { softFailuresTotal.WithLabelValues(component).Inc() }

// Instrument records in-flight count, totals, and latency for each request.
// The path label is the matched chi route pattern so ids don't explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := RoutePath(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// RoutePath returns the chi route pattern that served r, or "unmatched".
// Only meaningful after routing has run.
func RoutePath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter captures the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
