package main

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// relayMetrics lives on its own registry so several servers can coexist in
// one process (tests).
type relayMetrics struct {
	registry        *prometheus.Registry
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transfers       *prometheus.CounterVec
	uploadedBytes   prometheus.Counter
}

func newRelayMetrics() *relayMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &relayMetrics{
		registry: reg,
		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zgdrop",
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Total number of relay requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "zgdrop",
				Subsystem: "relay",
				Name:      "request_duration_seconds",
				Help:      "Relay request duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"method", "path"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zgdrop",
				Subsystem: "relay",
				Name:      "transfers_total",
				Help:      "Uploads and downloads by outcome",
			},
			[]string{"op", "result"},
		),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zgdrop",
			Subsystem: "relay",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes accepted for upload",
		}),
	}
}

func (m *relayMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *relayMetrics) transfer(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transfers.WithLabelValues(op, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ReadFrom keeps the sendfile path of the underlying writer for
// http.ServeContent.
func (r *statusRecorder) ReadFrom(src io.Reader) (int64, error) {
	if rf, ok := r.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(src)
	}
	return io.Copy(struct{ io.Writer }{r.ResponseWriter}, src)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (m *relayMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// route pattern rather than raw path, root hashes would explode the
		// label set
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.requestCounter.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
