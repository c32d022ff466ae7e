// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds a self-contained Prometheus registry plus the gateway's
// HTTP and upload collectors.
type Collector struct {
	reg      *prometheus.Registry
	inflight prometheus.Gauge
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	uploads      *prometheus.CounterVec
	uploadBytes  prometheus.Counter
	rejectedRows prometheus.Counter
}

// New creates a Collector with a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of inflight HTTP requests.",
	})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed, partitioned by status code and method.",
	}, []string{"code", "method"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Histogram of HTTP request latencies.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code", "method"})

	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "upload",
		Name:      "attempts_total",
		Help:      "Total upload attempts, partitioned by outcome (ok, rejected, unreachable).",
	}, []string{"outcome"})
	uploadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "upload",
		Name:      "bytes_total",
		Help:      "Total bytes successfully uploaded.",
	})
	rejectedRows := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "ingest",
		Name:      "rejected_payloads_total",
		Help:      "Payloads rejected by ingest validation.",
	})

	reg.MustRegister(inflight, requests, latency, uploads, uploadBytes, rejectedRows)

	return &Collector{
		reg:          reg,
		inflight:     inflight,
		requests:     requests,
		latency:      latency,
		uploads:      uploads,
		uploadBytes:  uploadBytes,
		rejectedRows: rejectedRows,
	}
}

// Handler serves the registry at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// RecordUpload counts one upload attempt by journal outcome.
func (c *Collector) RecordUpload(outcome string, bytes int64) {
	c.uploads.WithLabelValues(outcome).Inc()
	if outcome == "ok" && bytes > 0 {
		c.uploadBytes.Add(float64(bytes))
	}
}

// RecordRejectedPayload counts one validation rejection.
func (c *Collector) RecordRejectedPayload() {
	c.rejectedRows.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments a handler with the inflight gauge, request counter
// and latency histogram.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		c.inflight.Inc()
		defer c.inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		code := strconv.Itoa(rec.status)
		c.requests.WithLabelValues(code, r.Method).Inc()
		c.latency.WithLabelValues(code, r.Method).Observe(time.Since(start).Seconds())
	})
}
