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

// Fault event results
const (
	ResultNotified  = "notified"
	ResultSkipped   = "skipped"
	ResultRefused   = "refused"
	ResultDuplicate = "duplicate"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarops_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	faultEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_fault_events_total",
			Help: "Fault events seen by kind and handling result",
		},
		[]string{"kind", "result"},
	)

	faultEventsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_fault_events_enqueued_total",
			Help: "Fault events accepted by the ingest endpoint, by transport",
		},
		[]string{"transport"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_notification_deliveries_total",
			Help: "Notification send attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarops_dispatch_duration_seconds",
			Help:    "Time from classification until every send settled",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"trigger"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarops_rate_limit_rejections_total",
			Help: "Ingest requests rejected by the per-tenant limiter",
		},
		[]string{"tenant_id"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarops_circuit_breaker_state",
			Help: "Circuit breaker state per channel (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarops_db_connections_active",
			Help: "Acquired database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarops_redis_connections_active",
			Help: "Open Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFaultEvent counts one handled fault event
func RecordFaultEvent(kind, result string) {
	faultEventsTotal.WithLabelValues(kind, result).Inc()
}

// RecordEventEnqueued counts an event accepted over sns, sqs or inline
func RecordEventEnqueued(transport string) {
	faultEventsEnqueued.WithLabelValues(transport).Inc()
}

// RecordDelivery counts one send attempt
func RecordDelivery(channel, outcome string) {
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveDispatch records how long a dispatch took
func ObserveDispatch(trigger string, d time.Duration) {
	dispatchDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(tenantID string) {
	rateLimitRejections.WithLabelValues(tenantID).Inc()
}

// SetBreakerState publishes a breaker state change
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// SetDBConnections sets the acquired database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets the open Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route pattern,
// so path parameters like fault ids do not explode the label space.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
