package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics.
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

// Engine-level metrics.
var (
	accessChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkey_access_checks_total",
			Help: "Access checks by outcome (granted, requires_approval, denied).",
		},
		[]string{"outcome"},
	)

	grantRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkey_grant_requests_total",
			Help: "Grant requests created, by initial status.",
		},
		[]string{"status"},
	)

	grantResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkey_grant_resolutions_total",
			Help: "Grant request resolutions (approved, rejected, expired).",
		},
		[]string{"status"},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardkey_violations_total",
			Help: "Policy violations recorded, by severity.",
		},
		[]string{"severity"},
	)

	riskFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wardkey_risk_predictor_fallbacks_total",
		Help: "Risk evaluations that fell back to rule-based scoring.",
	})

	sweepExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wardkey_sweep_expired_total",
		Help: "Approved grants moved to expired by the background sweep.",
	})
)

// Init registers all collectors in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessChecksTotal, grantRequestsTotal, grantResolutionsTotal,
		violationsTotal, riskFallbacksTotal, sweepExpiredTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func CountAccessCheck(outcome string)     { accessChecksTotal.WithLabelValues(outcome).Inc() }
func CountGrantRequest(status string)     { grantRequestsTotal.WithLabelValues(status).Inc() }
func CountGrantResolution(status string)  { grantResolutionsTotal.WithLabelValues(status).Inc() }
func CountViolation(severity string)      { violationsTotal.WithLabelValues(severity).Inc() }
func CountRiskFallback()                  { riskFallbacksTotal.Inc() }
func CountSweepExpired(n int)             { sweepExpiredTotal.Add(float64(n)) }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpInFlight.Dec()
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
