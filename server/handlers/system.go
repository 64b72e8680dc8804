package handlers

import (
	"net/http"

	"github.com/svdleer/PyPNMGui/common/logger"
)

// SystemAPI serves the effective configuration and buffered logs.
type SystemAPI struct {
	config func() map[string]interface{}
	logs   func(minLevel logger.LogLevel) []logger.LogEntry
}

// NewSystemAPI builds the API. config must already mask secrets.
func NewSystemAPI(config func() map[string]interface{}, logs func(logger.LogLevel) []logger.LogEntry) *SystemAPI {
	return &SystemAPI{config: config, logs: logs}
}

func (api *SystemAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", api.handleConfig)
	mux.HandleFunc("GET /api/logs", api.handleLogs)
}

func (api *SystemAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := map[string]interface{}{}
	if api.config != nil {
		cfg = api.config()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "config": cfg})
}

// handleLogs returns the newest buffered entries. ?level filters by
// minimum severity and ?limit caps the count (default 200).
func (api *SystemAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	level := logger.TRACE
	if q := r.URL.Query().Get("level"); q != "" {
		level = logger.LevelFromString(q)
	}
	var entries []logger.LogEntry
	if api.logs != nil {
		entries = api.logs(level)
	}
	limit := queryInt(r, "limit", 200)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []logger.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "count": len(entries), "logs": entries})
}
