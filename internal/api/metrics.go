package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"chat-sync/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics instruments the routes of one APIServer.
type metrics struct {
	gatherer prometheus.Gatherer
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer, q *queue.RequestQueueManager) *metrics {
	m := &metrics{
		gatherer: gatherer,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sync_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_sync_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.latency)

	if q != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chat_sync_request_queue_depth",
			Help: "Requests waiting for a queue worker.",
		}, func() float64 {
			return float64(q.Depth())
		}))
	}
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel prefers the matched mux pattern, so every session shares one
// series per route. Unmatched paths fall back to sanitizePath.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return sanitizePath(r.URL.Path)
	}
	if _, rest, ok := strings.Cut(r.Pattern, " "); ok {
		return rest
	}
	return r.Pattern
}

// sanitizePath keeps at most three segments of an unmatched path.
func sanitizePath(p string) string {
	clean := path.Clean("/" + p)
	segments := strings.Split(clean, "/")
	if len(segments) > 4 {
		segments = append(segments[:4], "...")
	}
	return strings.Join(segments, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket gateway upgrade through the instrumented mux.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot be hijacked")
	}
	sr.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
