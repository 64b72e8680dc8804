package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservers(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObservePyPNM("/docs/pnm/ds/ofdm/rxMer/getCapture", "success", 2*time.Second)
	m.ObservePyPNM("/docs/pnm/ds/ofdm/rxMer/getCapture", "unavailable", time.Millisecond)
	m.ObserveAgentTask("snmp_walk", "", time.Second)
	m.ObserveAgentTask("snmp_walk", "Request timeout", time.Second)
	m.ObserveAgentTask("snmp_walk", "", time.Second)
	m.SetAgentsConnected(3)
	m.AuthFailed()
	m.StreamFrame()
	m.StreamFrame()
	done := m.StreamOpened()

	if got := testutil.ToFloat64(m.PyPNMRequests.WithLabelValues("/docs/pnm/ds/ofdm/rxMer/getCapture", "unavailable")); got != 1 {
		t.Errorf("pypnm unavailable = %v", got)
	}
	if got := testutil.ToFloat64(m.AgentTasks.WithLabelValues("snmp_walk", "success")); got != 2 {
		t.Errorf("agent success = %v", got)
	}
	if got := testutil.ToFloat64(m.AgentTasks.WithLabelValues("snmp_walk", "error")); got != 1 {
		t.Errorf("agent error = %v", got)
	}
	if testutil.ToFloat64(m.AgentsConnected) != 3 || testutil.ToFloat64(m.AgentAuthFailures) != 1 {
		t.Error("agent gauges not updated")
	}
	if testutil.ToFloat64(m.StreamFrames) != 2 || testutil.ToFloat64(m.ActiveStreams) != 1 {
		t.Error("stream metrics not updated")
	}
	done()
	if testutil.ToFloat64(m.ActiveStreams) != 0 {
		t.Error("stream gauge should drop after close")
	}
}

func TestInstrumentAndHandler(t *testing.T) {
	t.Parallel()

	m := New()
	h := m.Instrument("/api/modem/rxmer", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/modem/rxmer", nil))
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/modem/rxmer", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/modem/rxmer", "POST", "400")); got != 2 {
		t.Errorf("http counter = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "pypnmgui_http_requests_total") {
		t.Error("exposition missing http counter")
	}
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObservePyPNM("x", "success", 0)
	m.ObserveAgentTask("x", "", 0)
	m.SetAgentsConnected(1)
	m.AuthFailed()
	m.StreamFrame()
	m.StreamOpened()()
	called := false
	m.Instrument("/", func(http.ResponseWriter, *http.Request) { called = true })(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil Instrument must pass through")
	}
}
