package handlers

import (
	"net/http"
	"strings"

	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/server/inventory"
	"github.com/svdleer/PyPNMGui/server/mockdata"
)

// CMTSAPI serves the CMTS inventory and the modem lists agents discover
// on each CMTS.
type CMTSAPI struct {
	inventory *inventory.Provider
	agents    AgentRelay
	settings  Settings
	history   History
	log       Logger
}

type CMTSAPIOptions struct {
	// Inventory may be nil in mock mode; the canned CMTS list is served.
	Inventory *inventory.Provider
	Agents    AgentRelay
	Settings  Settings
	History   History
	Logger    Logger
}

func NewCMTSAPI(opts CMTSAPIOptions) *CMTSAPI {
	return &CMTSAPI{inventory: opts.Inventory, agents: opts.Agents, settings: opts.Settings, history: opts.History, log: opts.Logger}
}

func (api *CMTSAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cmts", api.handleList)
	mux.HandleFunc("GET /api/cmts/summary", api.handleSummary)
	mux.HandleFunc("GET /api/cmts/cache", api.handleCacheInfo)
	mux.HandleFunc("POST /api/cmts/cache/clear", api.handleCacheClear)
	mux.HandleFunc("GET /api/cmts/{hostname}", api.handleGet)
	mux.HandleFunc("GET /api/cmts/{name}/interfaces", api.handleInterfaces)
	mux.HandleFunc("GET /api/cmts/{ip}/modems", api.handleModems)
	mux.HandleFunc("GET /api/cmts/{ip}/modems/{mac}", api.handleModemInfo)
}

func (api *CMTSAPI) mock() bool { return api.settings.DataMode == ModeMock || api.inventory == nil }

func (api *CMTSAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if api.mock() {
		list := mockdata.CMTSList()
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "source": "mock", "count": len(list), "cmts_list": list})
		return
	}

	ctx := r.Context()
	q := r.URL.Query()
	var list []inventory.CMTS
	var err error
	switch {
	case q.Get("vendor") != "":
		list = api.inventory.ByVendor(ctx, q.Get("vendor"))
	case q.Get("type") != "":
		list = api.inventory.ByType(ctx, q.Get("type"))
	case q.Get("q") != "":
		list = api.inventory.Search(ctx, q.Get("q"))
	default:
		list, err = api.inventory.All(ctx, queryBool(r, "refresh"))
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "CMTS inventory unavailable: "+err.Error())
		return
	}
	source := "appdb"
	if api.inventory.LabMode() {
		source = "lab"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "source": source, "count": len(list), "cmts_list": list})
}

func (api *CMTSAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if api.mock() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "total": len(mockdata.CMTSList()), "vendors": map[string]int{}, "types": map[string]int{}})
		return
	}
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"total":   api.inventory.Count(ctx),
		"vendors": api.inventory.VendorSummary(ctx),
		"types":   api.inventory.TypeSummary(ctx),
	})
}

func (api *CMTSAPI) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	if api.mock() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "cache": inventory.CacheInfo{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "cache": api.inventory.CacheInfo()})
}

func (api *CMTSAPI) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if !api.mock() {
		if err := api.inventory.ClearCache(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "message": "Cache cleared"})
}

func (api *CMTSAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("hostname")
	if api.mock() {
		if c, ok := mockdata.CMTSByName(name); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "cmts": c})
			return
		}
		writeError(w, http.StatusNotFound, "CMTS not found")
		return
	}
	c, ok := api.inventory.ByHostname(r.Context(), name)
	if !ok {
		c, ok = api.inventory.ByIP(r.Context(), name)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "CMTS not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "cmts": c})
}

func (api *CMTSAPI) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	c, ok := mockdata.CMTSByName(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "CMTS not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "interfaces": c.Interfaces})
}

// community picks the query override, then the inventory's per-CMTS
// community, then the configured default.
func (api *CMTSAPI) community(r *http.Request, cmtsIP string) string {
	if c := r.URL.Query().Get("community"); c != "" {
		return c
	}
	if api.inventory != nil {
		if c, ok := api.inventory.ByIP(r.Context(), cmtsIP); ok && c.SNMPCommunity != "" {
			return c.SNMPCommunity
		}
	}
	return api.settings.CMTSCommunity
}

func (api *CMTSAPI) handleModems(w http.ResponseWriter, r *http.Request) {
	cmtsIP := r.PathValue("ip")
	if api.settings.DataMode == ModeMock {
		writeJSON(w, http.StatusOK, mockdata.CMTSModems(cmtsIP))
		return
	}

	agent, ok := api.agents.AgentForAny("cmts_get_modems")
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "No agent available for CMTS modem discovery")
		return
	}
	params := map[string]interface{}{
		"cmts_ip":         cmtsIP,
		"community":       api.community(r, cmtsIP),
		"limit":           queryInt(r, "limit", 10000),
		"use_cache":       !queryBool(r, "refresh"),
		"enrich_modems":   queryBool(r, "enrich"),
		"modem_community": api.settings.ModemCommunity,
	}
	res, status, msg := runAgentTask(r.Context(), api.agents, api.history, agent.AgentID, "", "cmts_get_modems", params, dataTimeout)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res.Result)
}

func (api *CMTSAPI) handleModemInfo(w http.ResponseWriter, r *http.Request) {
	cmtsIP := r.PathValue("ip")
	mac, err := docsis.NormalizeMAC(r.PathValue("mac"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if api.settings.DataMode == ModeMock {
		modems, _ := mockdata.CMTSModems(cmtsIP)["modems"].([]map[string]interface{})
		for _, m := range modems {
			if strings.EqualFold(m["mac_address"].(string), mac) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "cmts_ip": cmtsIP, "modem": m})
				return
			}
		}
		writeError(w, http.StatusNotFound, "Modem not found")
		return
	}

	agent, ok := api.agents.AgentForAny("cmts_get_modem_info")
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "No agent available for CMTS modem lookup")
		return
	}
	params := map[string]interface{}{
		"cmts_ip":     cmtsIP,
		"mac_address": mac,
		"community":   api.community(r, cmtsIP),
	}
	if ip := r.URL.Query().Get("modem_ip"); ip != "" {
		params["modem_ip"] = ip
	}
	res, status, msg := runAgentTask(r.Context(), api.agents, api.history, agent.AgentID, mac, "cmts_get_modem_info", params, api.settings.agentTimeout())
	if status != http.StatusOK {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res.Result)
}
