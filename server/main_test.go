package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/svdleer/PyPNMGui/common/ws"
	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/handlers"
	"github.com/svdleer/PyPNMGui/server/metrics"
	"github.com/svdleer/PyPNMGui/server/pypnm"
	"github.com/svdleer/PyPNMGui/server/utsc"
)

func TestCaptureControllerByMode(t *testing.T) {
	t.Parallel()

	manager, err := agents.NewManager(agents.Options{Token: "t"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	client := pypnm.NewClient(pypnm.Options{BaseURL: "http://127.0.0.1:1"})

	tests := []struct {
		mode string
		want string
	}{
		{handlers.ModeAgent, "agent"},
		{handlers.ModeDirect, "snmp"},
		{handlers.ModeMock, "pypnm"},
		{"pypnm", "pypnm"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Data.Mode = tt.mode
		var got string
		switch c := captureController(cfg, client, manager).(type) {
		case *utsc.AgentController:
			got = "agent"
			if c.Agents != manager {
				t.Errorf("%s: agent controller not bound to the manager", tt.mode)
			}
		case *utsc.SNMPController:
			got = "snmp"
			if c.Client == nil || c.Version != cfg.SNMP.Version {
				t.Errorf("%s: snmp controller = %+v", tt.mode, c)
			}
		case *utsc.PyPNMController:
			got = "pypnm"
		}
		if got != tt.want {
			t.Errorf("mode %q: controller = %s, want %s", tt.mode, got, tt.want)
		}
	}
}

func TestInstrumentLabelsByPattern(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", m.Handler())
	srv := httptest.NewServer(instrument(mux, m))
	defer srv.Close()

	for _, path := range []string{"/api/agents/jump-01", "/api/agents/jump-02", "/nope"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`pypnmgui_http_requests_total{method="GET",route="GET /api/agents/{id}",status="204"} 2`,
		`pypnmgui_http_requests_total{method="GET",route="unmatched",status="404"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestConnectionCounter(t *testing.T) {
	t.Parallel()

	manager, err := agents.NewManager(agents.Options{Token: "t"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	hub := ws.NewHub()
	defer hub.Stop()

	c := connectionCounter{agents: manager, hub: hub}
	if c.AgentCount() != 0 || c.SubscriberCount() != 0 {
		t.Errorf("fresh counter = %d agents, %d subscribers", c.AgentCount(), c.SubscriberCount())
	}
}
