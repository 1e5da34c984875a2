package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Enrollments handled per tick, by outcome (chased, completed, skipped, error)
	TickEnrollments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaser_tick_enrollments_total",
			Help: "Enrollments processed by the chase tick",
		},
		[]string{"outcome"},
	)

	// Messages leaving the dispatcher, by channel and terminal status
	DispatchMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaser_dispatch_messages_total",
			Help: "Outbound messages dispatched",
		},
		[]string{"channel", "outcome"},
	)

	OptOuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaser_optouts_total",
			Help: "Consent revocations processed",
		},
		[]string{"channel"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaser_provider_latency_seconds",
			Help:    "Channel provider call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by the matched chi
// route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "route": route, "status": strconv.Itoa(status)}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
