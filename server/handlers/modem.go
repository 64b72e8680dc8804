package handlers

import (
	"context"
	"net/http"

	"github.com/svdleer/PyPNMGui/server/channels"
	"github.com/svdleer/PyPNMGui/server/mockdata"
	"github.com/svdleer/PyPNMGui/server/pypnm"
)

// ModemAPI serves the per-modem dashboard cards. In mock mode answers come
// from canned data, otherwise from PyPNM.
type ModemAPI struct {
	client   *pypnm.Client
	settings Settings
	log      Logger
}

type ModemAPIOptions struct {
	Client   *pypnm.Client
	Settings Settings
	Logger   Logger
}

func NewModemAPI(opts ModemAPIOptions) *ModemAPI {
	return &ModemAPI{client: opts.Client, settings: opts.Settings, log: opts.Logger}
}

func (api *ModemAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/modems", api.handleModems)
	mux.HandleFunc("GET /api/modems/{mac}", api.handleModem)
	mux.HandleFunc("/api/modem/{mac}/{op}", api.handleModemOp)
	mux.HandleFunc("POST /api/multi-rxmer/start", api.handleMultiRxMERStart)
	mux.HandleFunc("GET /api/multi-rxmer/status/{id}", api.handleMultiRxMERStatus)
}

func (api *ModemAPI) mock() bool { return api.settings.DataMode == ModeMock || api.client == nil }

func (api *ModemAPI) handleModems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := mockdata.Modems(mockdata.Filter{
		SearchType:  q.Get("search_type"),
		SearchValue: q.Get("search_value"),
		CMTS:        q.Get("cmts"),
		Interface:   q.Get("interface"),
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "count": len(list), "modems": list})
}

func (api *ModemAPI) handleModem(w http.ResponseWriter, r *http.Request) {
	m, ok := mockdata.ModemByMAC(r.PathValue("mac"))
	if !ok {
		writeError(w, http.StatusNotFound, "Modem not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "modem": m})
}

// live has the shape of a *pypnm.Client method expression.
type modemOp struct {
	mock func(mac string, b body) mockdata.Response
	live func(c *pypnm.Client, ctx context.Context, m pypnm.Modem) (pypnm.Result, error)
}

var modemOps = map[string]modemOp{
	"system-info": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.SystemInfo(mac) },
		live: (*pypnm.Client).SysDescr,
	},
	"uptime": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.Uptime(mac) },
		live: (*pypnm.Client).UpTime,
	},
	"ds-channels": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.DownstreamChannels(mac) },
		live: downstreamChannels,
	},
	"us-channels": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.UpstreamChannels(mac) },
		live: upstreamChannels,
	},
	"event-log": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.EventLog(mac) },
		live: (*pypnm.Client).EventLog,
	},
	"rxmer": {
		mock: func(mac string, b body) mockdata.Response {
			ids := b.ints("channel_ids")
			if len(ids) == 0 {
				ids = []int{159}
			}
			return mockdata.RxMER(mac, ids)
		},
		live: func(c *pypnm.Client, ctx context.Context, m pypnm.Modem) (pypnm.Result, error) {
			return c.RxMER(ctx, m, pypnm.Capture{})
		},
	},
	"spectrum": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.Spectrum(mac) },
		live: func(c *pypnm.Client, ctx context.Context, m pypnm.Modem) (pypnm.Result, error) {
			return c.Spectrum(ctx, m, pypnm.Capture{})
		},
	},
	"fec-summary": {
		mock: func(mac string, _ body) mockdata.Response { return mockdata.FECSummary(mac) },
		live: func(c *pypnm.Client, ctx context.Context, m pypnm.Modem) (pypnm.Result, error) {
			return c.FECSummary(ctx, m, pypnm.Capture{}, 2)
		},
	},
}

// downstreamChannels merges the SC-QAM and OFDM legs.
func downstreamChannels(c *pypnm.Client, ctx context.Context, m pypnm.Modem) (pypnm.Result, error) {
	res, err := fetchStats(ctx, m, c.DSSCQAMStats, c.DSOFDMStats)
	if err != nil {
		return nil, err
	}
	stats := channels.Build(m.MAC, res[0], res[1], nil, nil)
	return pypnm.Result{"status": 0, "mac_address": m.MAC, "downstream": stats.Downstream}, nil
}

// upstreamChannels merges the ATDMA and OFDMA legs.
func upstreamChannels(c *pypnm.Client, ctx context.Context, m pypnm.Modem) (pypnm.Result, error) {
	res, err := fetchStats(ctx, m, c.USATDMAStats, c.USOFDMAStats)
	if err != nil {
		return nil, err
	}
	stats := channels.Build(m.MAC, nil, nil, res[0], res[1])
	return pypnm.Result{"status": 0, "mac_address": m.MAC, "upstream": stats.Upstream}, nil
}

func (api *ModemAPI) handleModemOp(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	op, ok := modemOps[r.PathValue("op")]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown modem operation: "+r.PathValue("op"))
		return
	}
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if api.mock() {
		writeJSON(w, http.StatusOK, op.mock(mac, b))
		return
	}

	modemIP := b.str("modem_ip", r.URL.Query().Get("modem_ip"))
	if modemIP == "" {
		writeError(w, http.StatusBadRequest, "modem_ip required")
		return
	}
	m := pypnm.Modem{MAC: mac, IP: modemIP, Community: b.str("community", api.settings.ModemCommunity)}
	result, err := op.live(api.client, r.Context(), m)
	if err != nil {
		if api.log != nil {
			api.log.Error("Modem request failed", "op", r.PathValue("op"), "mac", mac, "error", err)
		}
		writeJSON(w, pnmErrorStatus(err), pypnm.ErrorResult(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *ModemAPI) handleMultiRxMERStart(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	mac := b.str("mac_address", "")
	if mac == "" {
		writeError(w, http.StatusBadRequest, "mac_address is required")
		return
	}
	config := body(b.object("config"))
	if api.mock() {
		writeJSON(w, http.StatusOK, mockdata.StartMultiRxMER(mac, config))
		return
	}

	modemIP := b.str("modem_ip", config.str("modem_ip", ""))
	if modemIP == "" {
		writeError(w, http.StatusBadRequest, "modem_ip required")
		return
	}
	m := pypnm.Modem{MAC: mac, IP: modemIP, Community: b.str("community", api.settings.ModemCommunity)}
	result, err := api.client.StartMultiRxMER(r.Context(), m,
		b.str("tftp_ip", api.settings.TFTPIPv4),
		config.integer("interval_minutes", 5),
		config.integer("duration_hours", 24))
	if err != nil {
		writeJSON(w, pnmErrorStatus(err), pypnm.ErrorResult(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *ModemAPI) handleMultiRxMERStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if api.mock() {
		writeJSON(w, http.StatusOK, mockdata.MultiRxMERStatus(id))
		return
	}
	result, err := api.client.MultiRxMERStatus(r.Context(), id)
	if err != nil {
		writeJSON(w, pnmErrorStatus(err), pypnm.ErrorResult(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
