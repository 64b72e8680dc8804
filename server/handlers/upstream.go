package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/storage"
	"github.com/svdleer/PyPNMGui/server/utsc"
)

// dataTimeout bounds commands that fetch capture files from the TFTP host.
const dataTimeout = 120 * time.Second

// UpstreamAPI relays CMTS-side upstream PNM operations to a jump-host agent.
type UpstreamAPI struct {
	agents   AgentRelay
	settings Settings
	history  History
	log      Logger
}

type UpstreamAPIOptions struct {
	Agents   AgentRelay
	Settings Settings
	History  History
	Logger   Logger
}

func NewUpstreamAPI(opts UpstreamAPIOptions) *UpstreamAPI {
	return &UpstreamAPI{agents: opts.Agents, settings: opts.Settings, history: opts.History, log: opts.Logger}
}

// upstreamRoute describes one agent-backed upstream operation.
type upstreamRoute struct {
	command      string
	capabilities []string
	noAgent      string
	// require names the body fields that must be present and non-zero.
	require []string
	timeout time.Duration
	params  func(api *UpstreamAPI, mac string, b body) map[string]interface{}
	// omitMAC leaves mac_address out of the response.
	omitMAC bool
	shape   func(mac, cmtsIP string, res map[string]interface{}) map[string]interface{}
}

func cmtsParams(api *UpstreamAPI, b body, keys ...string) map[string]interface{} {
	p := map[string]interface{}{
		"cmts_ip":   b.str("cmts_ip", ""),
		"community": b.str("community", api.settings.CMTSCommunity),
	}
	for _, k := range keys {
		p[k] = b[k]
	}
	return p
}

var upstreamRoutes = map[string]upstreamRoute{
	"interfaces": {
		command:      "pnm_us_get_interfaces",
		capabilities: []string{"pnm_us_get_interfaces", "cmts_snmp_direct"},
		noAgent:      "No agent available for upstream interface discovery",
		require:      []string{"cmts_ip"},
		timeout:      90 * time.Second,
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			p := cmtsParams(api, b)
			p["cm_mac_address"] = mac
			return p
		},
		shape: func(mac, cmtsIP string, res map[string]interface{}) map[string]interface{} {
			out := map[string]interface{}{
				"success":             res["success"] == true,
				"mac_address":         mac,
				"cmts_ip":             cmtsIP,
				"cm_index":            res["cm_index"],
				"rf_ports":            res["rf_ports"],
				"all_rf_ports":        res["all_rf_ports"],
				"modem_rf_port":       res["modem_rf_port"],
				"modem_ofdma_ifindex": res["modem_ofdma_ifindex"],
			}
			for _, k := range []string{"rf_ports", "all_rf_ports"} {
				if out[k] == nil {
					out[k] = []interface{}{}
				}
			}
			return out
		},
	},
	"utsc/stop": {
		command:      "pnm_utsc_stop",
		capabilities: []string{"pnm_utsc_stop"},
		noAgent:      "No agent available for UTSC",
		require:      []string{"cmts_ip", "rf_port_ifindex"},
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			return cmtsParams(api, b, "rf_port_ifindex")
		},
		omitMAC: true,
	},
	"utsc/status": {
		command:      "pnm_utsc_status",
		capabilities: []string{"pnm_utsc_status"},
		noAgent:      "No agent available for UTSC",
		require:      []string{"cmts_ip", "rf_port_ifindex"},
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			return cmtsParams(api, b, "rf_port_ifindex")
		},
	},
	"utsc/data": {
		command:      "pnm_utsc_data",
		capabilities: []string{"pnm_utsc_data"},
		noAgent:      "No agent available for UTSC data",
		require:      []string{"cmts_ip"},
		timeout:      dataTimeout,
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			return cmtsParams(api, b, "rf_port_ifindex", "filename")
		},
	},
	"rxmer/start": {
		command:      "pnm_us_rxmer_start",
		capabilities: []string{"pnm_us_rxmer_start"},
		noAgent:      "No agent available for US RxMER",
		require:      []string{"cmts_ip", "ofdma_ifindex"},
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			p := cmtsParams(api, b, "ofdma_ifindex")
			p["cm_mac_address"] = mac
			p["pre_eq"] = b.boolean("pre_eq", true)
			p["filename"] = b.str("filename", "usrxmer_"+strings.ReplaceAll(mac, ":", ""))
			return p
		},
	},
	"rxmer/status": {
		command:      "pnm_us_rxmer_status",
		capabilities: []string{"pnm_us_rxmer_status"},
		noAgent:      "No agent available for US RxMER",
		require:      []string{"cmts_ip", "ofdma_ifindex"},
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			return cmtsParams(api, b, "ofdma_ifindex")
		},
	},
	"rxmer/data": {
		command:      "pnm_us_rxmer_data",
		capabilities: []string{"pnm_us_rxmer_data"},
		noAgent:      "No agent available for US RxMER data",
		require:      []string{"cmts_ip"},
		timeout:      dataTimeout,
		params: func(api *UpstreamAPI, mac string, b body) map[string]interface{} {
			return cmtsParams(api, b, "ofdma_ifindex", "filename")
		},
		shape: rxmerData,
	},
}

// rxmerData passes the agent's capture through and adds the decoded
// per-subcarrier RxMER of the newest file under "rxmer".
func rxmerData(mac, cmtsIP string, res map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"success": false, "mac_address": mac}
	for k, v := range res {
		out[k] = v
	}
	encoded, _ := res["data_base64"].(string)
	if encoded == "" {
		return out
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		out["parse_error"] = "invalid data_base64: " + err.Error()
		return out
	}
	mer, err := utsc.ParseRxMERFile(raw)
	if err != nil {
		out["parse_error"] = err.Error()
		return out
	}
	out["rxmer"] = mer
	out["subcarrier_count"] = len(mer.Values)
	return out
}

func (api *UpstreamAPI) RegisterRoutes(mux *http.ServeMux) {
	for op, route := range upstreamRoutes {
		mux.HandleFunc("POST /api/pypnm/upstream/"+op+"/{mac}", api.handler(route))
	}
}

func requiredMessage(fields []string) string {
	return strings.Join(fields, " and ") + " required"
}

func (api *UpstreamAPI) handler(route upstreamRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mac := r.PathValue("mac")
		b, err := decodeBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		for _, field := range route.require {
			if b.str(field, "") == "" || b.str(field, "") == "0" {
				writeError(w, http.StatusBadRequest, requiredMessage(route.require))
				return
			}
		}

		agent, ok := api.agents.AgentForAny(route.capabilities...)
		if !ok {
			writeError(w, http.StatusServiceUnavailable, route.noAgent)
			return
		}
		timeout := route.timeout
		if timeout == 0 {
			timeout = api.settings.agentTimeout()
		}
		res, status, msg := runAgentTask(r.Context(), api.agents, api.history, agent.AgentID, mac, route.command, route.params(api, mac, b), timeout)
		if status != http.StatusOK {
			if api.log != nil {
				api.log.Warn("Upstream agent task failed", "command", route.command, "agent_id", agent.AgentID, "status", status, "error", msg)
			}
			writeError(w, status, msg)
			return
		}

		if route.shape != nil {
			writeJSON(w, http.StatusOK, route.shape(mac, b.str("cmts_ip", ""), res.Result))
			return
		}
		out := map[string]interface{}{"success": false}
		if !route.omitMAC {
			out["mac_address"] = mac
		}
		for k, v := range res.Result {
			out[k] = v
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// runAgentTask executes one command and maps failures to an HTTP status
// and message. Every attempt is recorded in history.
func runAgentTask(ctx context.Context, relay AgentRelay, history History, agentID, mac, command string, params map[string]interface{}, timeout time.Duration) (*agents.TaskResult, int, string) {
	start := time.Now()
	res, err := relay.Execute(ctx, agentID, command, params, timeout)

	status, msg := http.StatusOK, ""
	switch {
	case errors.Is(err, agents.ErrTaskTimeout):
		status, msg = http.StatusGatewayTimeout, "Task timed out"
	case errors.Is(err, agents.ErrAgentNotFound):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case err != nil:
		status, msg = http.StatusInternalServerError, err.Error()
	case res.Error != "":
		status, msg = http.StatusInternalServerError, res.Error
	}

	if history != nil {
		m := &storage.Measurement{
			Timestamp:  start,
			MACAddress: mac,
			Type:       command,
			Source:     "agent:" + agentID,
			Status:     "success",
			DurationMs: time.Since(start).Milliseconds(),
			Error:      msg,
		}
		if status != http.StatusOK {
			m.Status = "error"
		}
		_ = history.SaveMeasurement(context.WithoutCancel(ctx), m)
	}
	if status == http.StatusOK && res.Result == nil {
		res.Result = map[string]interface{}{}
	}
	return res, status, msg
}
