package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/storage"
)

type call struct {
	agentID string
	command string
	params  map[string]interface{}
	timeout time.Duration
}

// fakeRelay answers every command with result or err.
type fakeRelay struct {
	mu     sync.Mutex
	agents []agents.Info
	result map[string]interface{}
	errMsg string
	err    error
	calls  []call
}

func (f *fakeRelay) Agents() []agents.Info {
	out := append([]agents.Info(nil), f.agents...)
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (f *fakeRelay) Agent(id string) (agents.Info, bool) {
	for _, a := range f.agents {
		if a.AgentID == id {
			return a, true
		}
	}
	return agents.Info{}, false
}

func (f *fakeRelay) AgentForAny(capabilities ...string) (agents.Info, bool) {
	for _, c := range capabilities {
		for _, a := range f.Agents() {
			if a.HasCapability(c) {
				return a, true
			}
		}
	}
	return agents.Info{}, false
}

func (f *fakeRelay) Execute(ctx context.Context, agentID, command string, params map[string]interface{}, timeout time.Duration) (*agents.TaskResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{agentID, command, params, timeout})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &agents.TaskResult{AgentID: agentID, Command: command, Result: f.result, Error: f.errMsg}, nil
}

func (f *fakeRelay) lastCall(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no agent command was executed")
	}
	return f.calls[len(f.calls)-1]
}

func agentWith(id string, caps ...string) agents.Info {
	return agents.Info{AgentID: id, Capabilities: caps, Authenticated: true}
}

// memHistory keeps measurements in memory.
type memHistory struct {
	mu           sync.Mutex
	measurements []*storage.Measurement
	sessions     []*storage.AgentSession
}

func (h *memHistory) SaveMeasurement(_ context.Context, m *storage.Measurement) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m.ID = int64(len(h.measurements) + 1)
	h.measurements = append(h.measurements, m)
	return nil
}

func (h *memHistory) ListMeasurements(_ context.Context, f storage.MeasurementFilter) ([]*storage.Measurement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*storage.Measurement
	for _, m := range h.measurements {
		if (f.MACAddress == "" || m.MACAddress == f.MACAddress) && (f.Type == "" || m.Type == f.Type) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *memHistory) ListAgentSessions(_ context.Context, agentID string, _ int) ([]*storage.AgentSession, error) {
	return h.sessions, nil
}

func (h *memHistory) all() []*storage.Measurement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*storage.Measurement(nil), h.measurements...)
}

// serve runs one request through a mux built by register.
func serve(register func(*http.ServeMux), method, target string, payload interface{}) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	register(mux)
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, target, &body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) map[string]interface{} {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	out := decode(t, rec)
	if message != "" && out["message"] != message {
		t.Errorf("message = %v, want %q", out["message"], message)
	}
	return out
}
