package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthAPI provides HTTP handlers for health checks and version information.
type HealthAPI struct {
	version      string
	buildTime    string
	gitCommit    string
	processStart time.Time
	dataMode     string
	pypnmURL     string
	pypnmCheck   func(ctx context.Context) bool
	agentCount   func() int
}

// HealthAPIOptions configures the health API.
type HealthAPIOptions struct {
	Version      string
	BuildTime    string
	GitCommit    string
	ProcessStart time.Time
	DataMode     string
	PyPNMURL     string
	// PyPNMCheck reports PyPNM reachability for /api/health.
	PyPNMCheck func(ctx context.Context) bool
	AgentCount func() int
}

// NewHealthAPI creates a new health API instance.
func NewHealthAPI(opts HealthAPIOptions) *HealthAPI {
	return &HealthAPI{
		version:      opts.Version,
		buildTime:    opts.BuildTime,
		gitCommit:    opts.GitCommit,
		processStart: opts.ProcessStart,
		dataMode:     opts.DataMode,
		pypnmURL:     opts.PyPNMURL,
		pypnmCheck:   opts.PyPNMCheck,
		agentCount:   opts.AgentCount,
	}
}

// RegisterRoutes registers the health and version routes.
func (api *HealthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", api.HandleHealth)
	mux.HandleFunc("GET /api/version", api.HandleVersion)
	mux.HandleFunc("GET /api/health", api.HandleAPIHealth)
}

// HandleHealth handles GET /health for load balancers and container
// health checks. It never touches dependencies.
func (api *HealthAPI) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// HandleVersion handles GET /api/version.
func (api *HealthAPI) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    api.version,
		"build_time": api.buildTime,
		"git_commit": api.gitCommit,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(api.processStart).Round(time.Second).String(),
	})
}

// HandleAPIHealth handles GET /api/health: PyPNM reachability, data mode
// and agent count. It answers 200 even when PyPNM is down so the
// dashboard can show the reason.
func (api *HealthAPI) HandleAPIHealth(w http.ResponseWriter, r *http.Request) {
	reachable := false
	if api.pypnmCheck != nil {
		reachable = api.pypnmCheck(r.Context())
	}
	agents := 0
	if api.agentCount != nil {
		agents = api.agentCount()
	}
	status := "ok"
	if !reachable && api.dataMode != ModeMock {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"service":         "PyPNM Web GUI",
		"data_mode":       api.dataMode,
		"use_mock_data":   api.dataMode == ModeMock,
		"pypnm_url":       api.pypnmURL,
		"pypnm_reachable": reachable,
		"agents":          agents,
	})
}

// RunHealthCheck probes the local /health endpoint. It backs the
// --health flag used by container health checks.
func RunHealthCheck(port int) error {
	if port <= 0 {
		port = 5050
	}
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Status != "healthy" {
		return fmt.Errorf("unhealthy status: %s", payload.Status)
	}
	return nil
}
