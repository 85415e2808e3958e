// Package metrics exposes Prometheus collectors for host sessions.
//
// All recording methods are safe on a nil *Collector so components can be
// built without metrics.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a registry and the logiq metrics registered on it.
type Collector struct {
	registry *prometheus.Registry

	connects        *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	elevations      *prometheus.CounterVec
	classifications *prometheus.CounterVec
	probes          *prometheus.CounterVec
	probeDuration   prometheus.Histogram
	stateChanges    *prometheus.CounterVec
	sessions        prometheus.Gauge
	hostChecks      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates a collector with its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_connects_total",
			Help: "Host session connect attempts by result category",
		},
		[]string{"result"},
	)
	c.connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logiq_connect_duration_seconds",
			Help:    "Time from dial to ready, including elevation and classification",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"result"},
	)
	c.elevations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_elevations_total",
			Help: "Sudo elevation outcomes",
		},
		[]string{"outcome"},
	)
	c.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_classifications_total",
			Help: "Classification results by flavor key",
		},
		[]string{"flavor"},
	)
	c.probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_rule_probes_total",
			Help: "Detection rule probes by outcome",
		},
		[]string{"outcome"},
	)
	c.probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logiq_rule_probe_duration_seconds",
			Help:    "Detection rule probe duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
	)
	c.stateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_session_state_changes_total",
			Help: "Host session state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	c.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "logiq_sessions_active",
		Help: "Registered caller sessions",
	})
	c.hostChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_host_checks_total",
			Help: "Bulk connectivity checks by status",
		},
		[]string{"status"},
	)
	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logiq_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	c.registry.MustRegister(
		c.connects,
		c.connectDuration,
		c.elevations,
		c.classifications,
		c.probes,
		c.probeDuration,
		c.stateChanges,
		c.sessions,
		c.hostChecks,
		c.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordConnect records a finished connect attempt. result is "success" or
// an error category.
func (c *Collector) RecordConnect(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.connects.WithLabelValues(result).Inc()
	c.connectDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordElevation records how elevation ended.
func (c *Collector) RecordElevation(outcome string) {
	if c == nil {
		return
	}
	c.elevations.WithLabelValues(outcome).Inc()
}

// RecordClassification records the detected flavor key.
func (c *Collector) RecordClassification(flavor string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(flavor).Inc()
}

// RecordProbe records one detection rule probe.
func (c *Collector) RecordProbe(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(outcome).Inc()
	c.probeDuration.Observe(d.Seconds())
}

// RecordStateChange records a session state transition.
func (c *Collector) RecordStateChange(from, to string) {
	if c == nil {
		return
	}
	c.stateChanges.WithLabelValues(from, to).Inc()
}

// SetSessions sets the number of registered sessions.
func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.sessions.Set(float64(n))
}

// RecordHostCheck records a bulk check status.
func (c *Collector) RecordHostCheck(status string) {
	if c == nil {
		return
	}
	c.hostChecks.WithLabelValues(status).Inc()
}

// Middleware counts HTTP requests. route labels the request; pass a
// function returning the matched route pattern to keep cardinality bounded.
func (c *Collector) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			c.httpRequests.WithLabelValues(r.Method, route(r), http.StatusText(ww.status)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
