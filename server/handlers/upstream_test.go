package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/utsc"
)

func TestUpstreamRequiresParams(t *testing.T) {
	t.Parallel()

	api := NewUpstreamAPI(UpstreamAPIOptions{Agents: &fakeRelay{}})
	tests := []struct {
		op      string
		body    map[string]interface{}
		message string
	}{
		{"interfaces", map[string]interface{}{}, "cmts_ip required"},
		{"utsc/stop", map[string]interface{}{"cmts_ip": "10.1.1.1"}, "cmts_ip and rf_port_ifindex required"},
		{"utsc/status", map[string]interface{}{"cmts_ip": "10.1.1.1", "rf_port_ifindex": 0}, "cmts_ip and rf_port_ifindex required"},
		{"rxmer/start", map[string]interface{}{"ofdma_ifindex": 12}, "cmts_ip and ofdma_ifindex required"},
		{"rxmer/data", map[string]interface{}{"ofdma_ifindex": 12}, "cmts_ip required"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			rec := serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/"+tt.op+"/"+testMAC, tt.body)
			wantStatus(t, rec, http.StatusBadRequest, tt.message)
		})
	}
}

func TestUpstreamNoAgent(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{agents: []agents.Info{agentWith("jump-1", "snmp_get")}}
	api := NewUpstreamAPI(UpstreamAPIOptions{Agents: relay})

	rec := serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/utsc/status/"+testMAC,
		map[string]interface{}{"cmts_ip": "10.1.1.1", "rf_port_ifindex": 843071811})
	wantStatus(t, rec, http.StatusServiceUnavailable, "No agent available for UTSC")

	rec = serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/rxmer/data/"+testMAC, map[string]interface{}{"cmts_ip": "10.1.1.1"})
	wantStatus(t, rec, http.StatusServiceUnavailable, "No agent available for US RxMER data")
}

func TestUpstreamFailures(t *testing.T) {
	t.Parallel()

	body := map[string]interface{}{"cmts_ip": "10.1.1.1", "rf_port_ifindex": 843071811}
	target := "/api/pypnm/upstream/utsc/stop/" + testMAC

	timedOut := &fakeRelay{agents: []agents.Info{agentWith("jump-1", "pnm_utsc_stop")}, err: agents.ErrTaskTimeout}
	rec := serve(NewUpstreamAPI(UpstreamAPIOptions{Agents: timedOut}).RegisterRoutes, http.MethodPost, target, body)
	wantStatus(t, rec, http.StatusGatewayTimeout, "Task timed out")

	failed := &fakeRelay{agents: []agents.Info{agentWith("jump-1", "pnm_utsc_stop")}, errMsg: "SNMP set failed"}
	rec = serve(NewUpstreamAPI(UpstreamAPIOptions{Agents: failed}).RegisterRoutes, http.MethodPost, target, body)
	wantStatus(t, rec, http.StatusInternalServerError, "SNMP set failed")

	broken := &fakeRelay{agents: []agents.Info{agentWith("jump-1", "pnm_utsc_stop")}, err: errors.New("write: broken pipe")}
	rec = serve(NewUpstreamAPI(UpstreamAPIOptions{Agents: broken}).RegisterRoutes, http.MethodPost, target, body)
	wantStatus(t, rec, http.StatusInternalServerError, "write: broken pipe")
}

func TestUpstreamRxMERStart(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{
		agents: []agents.Info{agentWith("jump-1", "pnm_us_rxmer_start")},
		result: map[string]interface{}{"success": true, "filename": "usrxmer_aabbccddeeff"},
	}
	history := &memHistory{}
	api := NewUpstreamAPI(UpstreamAPIOptions{Agents: relay, History: history, Settings: Settings{CMTSCommunity: "readme", AgentTimeout: 5 * time.Second}})

	rec := serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/rxmer/start/"+testMAC,
		map[string]interface{}{"cmts_ip": "10.1.1.1", "ofdma_ifindex": 488046})
	out := wantStatus(t, rec, http.StatusOK, "")
	if out["success"] != true || out["mac_address"] != testMAC || out["filename"] != "usrxmer_aabbccddeeff" {
		t.Errorf("response = %v", out)
	}

	c := relay.lastCall(t)
	if c.command != "pnm_us_rxmer_start" || c.timeout != 5*time.Second {
		t.Errorf("call = %+v", c)
	}
	p := c.params
	if p["cm_mac_address"] != testMAC || p["pre_eq"] != true || p["filename"] != "usrxmer_aabbccddeeff" || p["community"] != "readme" || p["ofdma_ifindex"] != float64(488046) {
		t.Errorf("params = %v", p)
	}

	got := history.all()
	if len(got) != 1 || got[0].Source != "agent:jump-1" || got[0].Type != "pnm_us_rxmer_start" || got[0].MACAddress != testMAC {
		t.Errorf("history = %+v", got)
	}
}

func TestUpstreamInterfacesShape(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{
		// Only the SNMP fallback capability is present.
		agents: []agents.Info{agentWith("jump-2", "cmts_snmp_direct")},
		result: map[string]interface{}{
			"success":             true,
			"cm_index":            12,
			"rf_ports":            []interface{}{map[string]interface{}{"ifindex": 1074339840, "description": "us-conn 1/0/0"}},
			"modem_rf_port":       map[string]interface{}{"ifindex": 1074339840},
			"modem_ofdma_ifindex": 488046,
			"internal":            "not exposed",
		},
	}
	api := NewUpstreamAPI(UpstreamAPIOptions{Agents: relay})

	rec := serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/interfaces/"+testMAC, map[string]interface{}{"cmts_ip": "10.1.1.1"})
	out := wantStatus(t, rec, http.StatusOK, "")
	if out["cmts_ip"] != "10.1.1.1" || out["cm_index"] != float64(12) || out["modem_ofdma_ifindex"] != float64(488046) {
		t.Errorf("response = %v", out)
	}
	if _, ok := out["internal"]; ok {
		t.Error("interfaces response should only carry the known fields")
	}
	if all, ok := out["all_rf_ports"].([]interface{}); !ok || len(all) != 0 {
		t.Errorf("all_rf_ports = %v", out["all_rf_ports"])
	}
	if c := relay.lastCall(t); c.params["cm_mac_address"] != testMAC || c.timeout != 90*time.Second {
		t.Errorf("call = %+v", c)
	}
}

func TestUpstreamRxMERDataDecodesCapture(t *testing.T) {
	t.Parallel()

	capture := append(make([]byte, utsc.RxMERHeaderLen), 160, 0xFF, 164)
	relay := &fakeRelay{
		agents: []agents.Info{agentWith("jump-1", "pnm_us_rxmer_data")},
		result: map[string]interface{}{
			"success":     true,
			"filename":    "usrxmer_aabbccddeeff_1700000000",
			"data_base64": base64.StdEncoding.EncodeToString(capture),
		},
	}
	api := NewUpstreamAPI(UpstreamAPIOptions{Agents: relay})

	rec := serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/rxmer/data/"+testMAC,
		map[string]interface{}{"cmts_ip": "10.1.1.1", "ofdma_ifindex": 488046})
	out := wantStatus(t, rec, http.StatusOK, "")
	if out["success"] != true || out["mac_address"] != testMAC || out["subcarrier_count"] != float64(2) {
		t.Fatalf("response = %v", out)
	}
	mer, _ := out["rxmer"].(map[string]interface{})
	values, _ := mer["values"].([]interface{})
	if len(values) != 2 || values[0] != 40.0 || values[1] != 41.0 || mer["average"] != 40.5 {
		t.Errorf("rxmer = %v", mer)
	}

	relay.result = map[string]interface{}{"success": true, "data_base64": base64.StdEncoding.EncodeToString([]byte{1, 2})}
	rec = serve(api.RegisterRoutes, http.MethodPost, "/api/pypnm/upstream/rxmer/data/"+testMAC, map[string]interface{}{"cmts_ip": "10.1.1.1"})
	out = wantStatus(t, rec, http.StatusOK, "")
	if out["parse_error"] == nil || out["rxmer"] != nil {
		t.Errorf("short capture response = %v", out)
	}
}
