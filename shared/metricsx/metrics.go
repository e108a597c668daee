package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_emitted_total",
			Help: "Events handed to the event bus by outcome.",
		},
		[]string{"type", "outcome"},
	)
	listenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_listener_failures_total",
			Help: "In-process listener errors and panics by event type.",
		},
		[]string{"type"},
	)
	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_enqueued_total",
			Help: "Jobs produced by event translation by job type and target queue.",
		},
		[]string{"type", "queue"},
	)
	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_job_transitions_total",
			Help: "Job state transitions by job type.",
		},
		[]string{"type", "transition"},
	)
	jobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_execute_seconds",
			Help:    "Sync adapter execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "outcome"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Items per durable queue.",
		},
		[]string{"queue"},
	)
	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_store_errors_total",
			Help: "Durable queue store failures by operation.",
		},
		[]string{"op"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	recsRefreshFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recs_refresh_failures_total",
			Help: "Total recommendation service refresh failures.",
		},
	)
	recsRefreshSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recs_refresh_success_total",
			Help: "Total recommendation service refresh successes.",
		},
	)
	recsRefreshLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recs_refresh_latency_seconds",
			Help:    "Recommendation service refresh latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		eventsEmitted, listenerFailures, jobsEnqueued, jobTransitions, jobLatency, queueDepth, storeErrors,
		influxWriteFailures, recsRefreshFailures, recsRefreshSuccess, recsRefreshLatency,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncEventEmitted(eventType string, outcome string) {
	eventsEmitted.WithLabelValues(eventType, outcome).Inc()
}

func IncListenerFailure(eventType string) {
	listenerFailures.WithLabelValues(eventType).Inc()
}

func IncJobEnqueued(jobType string, queue string) {
	jobsEnqueued.WithLabelValues(jobType, queue).Inc()
}

func IncJobTransition(jobType string, transition string) {
	jobTransitions.WithLabelValues(jobType, transition).Inc()
}

func ObserveJobLatency(jobType string, outcome string, d time.Duration) {
	jobLatency.WithLabelValues(jobType, outcome).Observe(d.Seconds())
}

func SetQueueDepth(queue string, depth int64) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func IncStoreError(op string) {
	storeErrors.WithLabelValues(op).Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncRecsRefreshFailure() {
	recsRefreshFailures.Inc()
}

func IncRecsRefreshSuccess() {
	recsRefreshSuccess.Inc()
}

func ObserveRecsRefreshLatency(d time.Duration) {
	recsRefreshLatency.Observe(d.Seconds())
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
