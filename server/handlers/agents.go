package handlers

import (
	"net/http"
	"time"

	"github.com/svdleer/PyPNMGui/server/storage"
)

// AgentsAPI exposes connected agents and lets operators run diagnostics
// through them.
type AgentsAPI struct {
	agents   AgentRelay
	settings Settings
	history  History
	log      Logger
}

type AgentsAPIOptions struct {
	Agents   AgentRelay
	Settings Settings
	History  History
	Logger   Logger
}

func NewAgentsAPI(opts AgentsAPIOptions) *AgentsAPI {
	return &AgentsAPI{agents: opts.Agents, settings: opts.Settings, history: opts.History, log: opts.Logger}
}

func (api *AgentsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", api.handleList)
	mux.HandleFunc("GET /api/agents/{id}", api.handleGet)
	mux.HandleFunc("POST /api/agents/{id}/ping", api.handlePing)
	mux.HandleFunc("POST /api/agents/{id}/snmp/{op}", api.handleSNMP)
	mux.HandleFunc("POST /api/agents/{id}/command", api.handleCommand)
	mux.HandleFunc("POST /api/remote/ping", api.handlePing)
	mux.HandleFunc("POST /api/remote/snmp/{op}", api.handleSNMP)
	mux.HandleFunc("GET /api/history", api.handleHistory)
	mux.HandleFunc("GET /api/history/agents", api.handleSessions)
}

func (api *AgentsAPI) handleList(w http.ResponseWriter, r *http.Request) {
	list := api.agents.Agents()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "count": len(list), "agents": list})
}

func (api *AgentsAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := api.agents.Agent(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Agent not found: "+r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "agent": info})
}

// pickAgent resolves the {id} path value, or any agent advertising
// capability on the /api/remote routes.
func (api *AgentsAPI) pickAgent(w http.ResponseWriter, r *http.Request, capability string) (string, bool) {
	if id := r.PathValue("id"); id != "" {
		if _, ok := api.agents.Agent(id); !ok {
			writeError(w, http.StatusNotFound, "Agent not found: "+id)
			return "", false
		}
		return id, true
	}
	if info, ok := api.agents.AgentForAny(capability); ok {
		return info.AgentID, true
	}
	if list := api.agents.Agents(); len(list) > 0 && capability == "" {
		return list[0].AgentID, true
	}
	writeError(w, http.StatusServiceUnavailable, "No agent available")
	return "", false
}

func (api *AgentsAPI) relay(w http.ResponseWriter, r *http.Request, agentID, command string, params map[string]interface{}, timeout time.Duration) {
	res, status, msg := runAgentTask(r.Context(), api.agents, api.history, agentID, "", command, params, timeout)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	outcome := "error"
	if res.Result["success"] == true {
		outcome = "success"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": outcome, "data": res.Result})
}

func (api *AgentsAPI) handlePing(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	target := b.str("target_ip", "")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target_ip is required")
		return
	}
	agentID, ok := api.pickAgent(w, r, "")
	if !ok {
		return
	}
	api.relay(w, r, agentID, "ping", map[string]interface{}{"target": target}, api.settings.agentTimeout())
}

var snmpOps = map[string]string{
	"get":      "snmp_get",
	"walk":     "snmp_walk",
	"set":      "snmp_set",
	"bulk_get": "snmp_bulk_get",
}

func (api *AgentsAPI) handleSNMP(w http.ResponseWriter, r *http.Request) {
	command, ok := snmpOps[r.PathValue("op")]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown SNMP operation: "+r.PathValue("op"))
		return
	}
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	params := map[string]interface{}{
		"target_ip": b.str("target_ip", ""),
		"community": b.str("community", "private"),
	}
	if command == "snmp_bulk_get" {
		if params["target_ip"] == "" || !b.has("oids") {
			writeError(w, http.StatusBadRequest, "target_ip and oids are required")
			return
		}
		params["oids"] = b["oids"]
	} else {
		if params["target_ip"] == "" || b.str("oid", "") == "" {
			writeError(w, http.StatusBadRequest, "target_ip and oid are required")
			return
		}
		params["oid"] = b.str("oid", "")
	}
	if command == "snmp_set" {
		if !b.has("value") {
			writeError(w, http.StatusBadRequest, "value is required")
			return
		}
		params["value"] = b["value"]
		params["type"] = b.str("type", "s")
	}
	for _, k := range []string{"version", "timeout", "retries"} {
		if b.has(k) {
			params[k] = b[k]
		}
	}

	agentID, ok := api.pickAgent(w, r, command)
	if !ok {
		return
	}
	api.relay(w, r, agentID, command, params, api.settings.agentTimeout())
}

func (api *AgentsAPI) handleCommand(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	command := b.str("command", "")
	if command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	agentID, ok := api.pickAgent(w, r, "")
	if !ok {
		return
	}
	timeout := api.settings.agentTimeout()
	if secs := b.integer("timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	api.relay(w, r, agentID, command, b.object("params"), timeout)
}

func (api *AgentsAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not enabled")
		return
	}
	q := r.URL.Query()
	list, err := api.history.ListMeasurements(r.Context(), storage.MeasurementFilter{
		MACAddress: q.Get("mac"),
		Type:       q.Get("type"),
		Limit:      queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*storage.Measurement{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "count": len(list), "measurements": list})
}

func (api *AgentsAPI) handleSessions(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not enabled")
		return
	}
	list, err := api.history.ListAgentSessions(r.Context(), r.URL.Query().Get("agent_id"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*storage.AgentSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "count": len(list), "sessions": list})
}
