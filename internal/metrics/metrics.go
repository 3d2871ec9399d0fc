// Package metrics exposes Prometheus collectors for HTTP traffic and the registration workflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lppm_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lppm_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReviewActions counts committed workflow actions by log action.
	ReviewActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kkn_review_actions_total",
			Help: "Committed KKN registration workflow actions.",
		},
		[]string{"action"},
	)

	// DocumentCleanupFailures counts superseded documents that could not be deleted.
	DocumentCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kkn_document_cleanup_failures_total",
			Help: "Superseded registration documents that could not be removed from storage.",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by the matched chi route
// pattern, which keeps label cardinality bounded for paths with ids.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.code)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
