// Package metrics exposes Prometheus instrumentation for the GUI backend:
// HTTP routes, PyPNM calls, agent tasks and the live spectrum stream.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pypnmgui"

// Metrics holds every collector. All methods are safe on a nil receiver so
// callers can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	PyPNMRequests *prometheus.CounterVec
	PyPNMDuration *prometheus.HistogramVec

	AgentTasks        *prometheus.CounterVec
	AgentTaskDuration *prometheus.HistogramVec
	AgentsConnected   prometheus.Gauge
	AgentAuthFailures prometheus.Counter

	StreamFrames     prometheus.Counter
	ActiveStreams    prometheus.Gauge
	EventSubscribers prometheus.Gauge
}

// New registers all collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
		}, []string{"route"}),
		PyPNMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pypnm", Name: "requests_total",
			Help: "Calls to the PyPNM API by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		PyPNMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pypnm", Name: "request_duration_seconds",
			Help:    "PyPNM API latency by endpoint",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		AgentTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "tasks_total",
			Help: "Commands relayed to agents by command and outcome",
		}, []string{"command", "outcome"}),
		AgentTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "agent", Name: "task_duration_seconds",
			Help:    "Round trip time of agent commands",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
		}, []string{"command"}),
		AgentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "agent", Name: "connected",
			Help: "Authenticated agents currently connected",
		}),
		AgentAuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "auth_failures_total",
			Help: "Rejected agent authentication attempts",
		}),
		StreamFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "utsc", Name: "frames_total",
			Help: "Spectrum frames pushed to stream clients",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "utsc", Name: "active_streams",
			Help: "Open UTSC stream sessions",
		}),
		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "events", Name: "subscribers",
			Help: "Browser clients on the event feed",
		}),
	}
	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.PyPNMRequests, m.PyPNMDuration,
		m.AgentTasks, m.AgentTaskDuration, m.AgentsConnected, m.AgentAuthFailures,
		m.StreamFrames, m.ActiveStreams, m.EventSubscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePyPNM matches the pypnm.Observer signature.
func (m *Metrics) ObservePyPNM(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PyPNMRequests.WithLabelValues(endpoint, outcome).Inc()
	m.PyPNMDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveAgentTask records a finished agent command. An empty errText
// counts as success.
func (m *Metrics) ObserveAgentTask(command, errText string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if errText != "" {
		outcome = "error"
	}
	m.AgentTasks.WithLabelValues(command, outcome).Inc()
	m.AgentTaskDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) SetAgentsConnected(n int) {
	if m == nil {
		return
	}
	m.AgentsConnected.Set(float64(n))
}

func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.AgentAuthFailures.Inc()
}

func (m *Metrics) StreamFrame() {
	if m == nil {
		return
	}
	m.StreamFrames.Inc()
}

// StreamOpened increments the active stream gauge and returns the matching
// decrement.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveStreams.Inc()
	return m.ActiveStreams.Dec
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes WebSocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Instrument wraps next so its requests are counted under route.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
