package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HitsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osb_hits_recorded_total",
			Help: "Hits rendered and enqueued, by hit type",
		}, []string{"type"},
	)
	HitsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osb_hits_dropped_total",
			Help: "Hits dropped before enqueue, by reason",
		}, []string{"reason"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osb_deliveries_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"},
	)
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "osb_delivery_duration_seconds",
		Help:    "Collector round trip seconds",
		Buckets: prometheus.DefBuckets,
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "osb_queue_depth",
		Help: "Payloads waiting for delivery",
	})
	QueueMerges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "osb_queue_merges_total",
		Help: "Times queued payloads were merged into one",
	})

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osb_agent_requests_total",
			Help: "Total agent API requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "osb_agent_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "osb_agent_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osb_agent_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		HitsRecorded, HitsDropped, Deliveries, DeliveryLatency, QueueDepth, QueueMerges,
		RequestsTotal, Latency, InFlight, RequestErrors,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
