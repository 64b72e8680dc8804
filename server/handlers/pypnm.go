package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/server/channels"
	"github.com/svdleer/PyPNMGui/server/pypnm"
	"github.com/svdleer/PyPNMGui/server/storage"
	"github.com/svdleer/PyPNMGui/server/utsc"
)

const (
	// recentPlotAge bounds which plots count as belonging to the capture
	// that just finished.
	recentPlotAge = 120 * time.Second
	maxPlots      = 10
	// maxHousekeepingFiles caps the file list echoed back by housekeeping.
	maxHousekeepingFiles = 50
)

// PNMAPI proxies measurement requests to PyPNM and serves the plots and
// archives it leaves on shared volumes.
type PNMAPI struct {
	client   *pypnm.Client
	settings Settings
	history  History
	log      Logger
	now      func() time.Time
}

// PNMAPIOptions configures the PyPNM proxy API.
type PNMAPIOptions struct {
	Client   *pypnm.Client
	Settings Settings
	// History is optional; when set every measurement is recorded.
	History History
	Logger  Logger
	// Now is used for plot ages and archive names. Defaults to time.Now.
	Now func() time.Time
}

func NewPNMAPI(opts PNMAPIOptions) *PNMAPI {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PNMAPI{client: opts.Client, settings: opts.Settings, history: opts.History, log: opts.Logger, now: now}
}

func (api *PNMAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/pypnm/measurements/{type}/{mac}", api.handleMeasurement)
	mux.HandleFunc("GET /api/pypnm/modem/{mac}/channel-stats", api.handleChannelStats)
	mux.HandleFunc("POST /api/pypnm/channel-stats/{mac}", api.handleChannelStats)
	mux.HandleFunc("POST /api/pypnm/housekeeping", api.handleHousekeeping)
	mux.HandleFunc("GET /api/pypnm/download/{filename}", api.handleDownload)
	mux.HandleFunc("GET /api/pypnm/plots/{mac}", api.handlePlots)
	mux.HandleFunc("POST /api/pypnm/upstream/utsc/configure/{mac}", api.handleUTSCConfigure)
	mux.HandleFunc("POST /api/pypnm/upstream/utsc/start/{mac}", api.handleUTSCConfigure)
	mux.HandleFunc("POST /api/pypnm/upstream/utsc/validate", api.handleUTSCValidate)
	mux.HandleFunc("POST /api/pypnm/upstream/rf-port/{mac}", api.handleDiscoverRFPort)
}

type measurementRequest struct {
	mac     string
	modem   pypnm.Modem
	capture pypnm.Capture
	body    body
}

type measureFunc func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error)

var measurements = map[string]measureFunc{
	"rxmer": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.RxMER(ctx, req.modem, req.capture)
	},
	"spectrum": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.Spectrum(ctx, req.modem, req.capture)
	},
	"channel_estimation": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.ChannelEstimation(ctx, req.modem, req.capture)
	},
	"modulation_profile": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.ModulationProfile(ctx, req.modem, req.capture)
	},
	"fec_summary": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.FECSummary(ctx, req.modem, req.capture, req.body.integer("fec_summary_type", 2))
	},
	"histogram": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.Histogram(ctx, req.modem, req.capture, req.body.integer("sample_duration", 60))
	},
	"constellation": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.Constellation(ctx, req.modem, req.capture)
	},
	"us_pre_eq": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.USOFDMAPreEq(ctx, req.modem, req.capture)
	},
	"us_atdma_pre_eq": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.USATDMAPreEq(ctx, req.modem)
	},
	"us_spectrum": func(ctx context.Context, c *pypnm.Client, req measurementRequest) (pypnm.Result, error) {
		return c.UpstreamSpectrum(ctx, upstreamCapture(req.mac, req.body, req.modem.Community, req.capture))
	},
}

// upstreamCapture builds a UTSC request from a browser body. cm_mac is only
// honoured for CM-MAC triggered captures.
func upstreamCapture(mac string, b body, community string, co pypnm.Capture) pypnm.UpstreamCapture {
	cfg := docsis.DefaultUtscConfig()
	cfg.TriggerMode = b.integer("trigger_mode", docsis.TriggerFreeRunning)
	cfg.CenterFreqHz = b.integer("center_freq_hz", cfg.CenterFreqHz)
	cfg.SpanHz = b.integer("span_hz", cfg.SpanHz)
	cfg.NumBins = b.integer("num_bins", cfg.NumBins)
	cfg.RepeatPeriodMs = b.integer("repeat_period_ms", cfg.RepeatPeriodMs)
	cfg.FreeRunDurMs = b.integer("freerun_duration_ms", cfg.FreeRunDurMs)
	cfg.TriggerCount = b.integer("trigger_count", cfg.TriggerCount)
	cfg.LogicalChIfIndex = b.integer("logical_ch_ifindex", 0)
	cfg.Filename = b.str("filename", "utsc_"+strings.ReplaceAll(mac, ":", ""))
	if cfg.TriggerMode == docsis.TriggerCMMAC {
		cfg.CmMAC = b.str("cm_mac", mac)
	}
	cfg.RFPortIfIndex = b.integer("rf_port_ifindex", 0)
	return pypnm.UpstreamCapture{
		CMTSIP:        b.str("cmts_ip", ""),
		RFPortIfIndex: cfg.RFPortIfIndex,
		Community:     community,
		TFTPIPv4:      co.TFTPIPv4,
		OutputType:    co.OutputType,
		Config:        cfg,
	}
}

func (api *PNMAPI) handleMeasurement(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")
	mac := r.PathValue("mac")
	measure, ok := measurements[typ]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown measurement type: "+typ)
		return
	}
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	outputType := b.str("output_type", "json")
	archive := outputType == "archive"
	if typ == "spectrum" {
		// PyPNM only answers the spectrum analyzer in JSON.
		outputType = "json"
	}

	community := b.str("community", api.settings.ModemCommunity)
	req := measurementRequest{
		mac:     mac,
		modem:   pypnm.Modem{MAC: mac, IP: b.str("modem_ip", ""), Community: community},
		capture: pypnm.Capture{TFTPIPv4: b.str("tftp_ip", api.settings.TFTPIPv4), TFTPIPv6: api.settings.TFTPIPv6, OutputType: outputType},
		body:    b,
	}
	if typ == "us_spectrum" {
		req.modem.Community = b.str("community", api.settings.CMTSWriteCommunity)
		if b.str("cmts_ip", "") == "" || b.integer("rf_port_ifindex", 0) <= 0 {
			writeError(w, http.StatusBadRequest, "cmts_ip and rf_port_ifindex required for UTSC")
			return
		}
	} else if req.modem.IP == "" {
		writeError(w, http.StatusBadRequest, "modem_ip required")
		return
	}

	start := api.now()
	result, err := measure(r.Context(), api.client, req)
	if err != nil {
		api.record(r.Context(), mac, typ, start, err.Error())
		api.logError("PyPNM measurement failed", "type", typ, "mac", mac, "error", err)
		writeJSON(w, pnmErrorStatus(err), pypnm.ErrorResult(err))
		return
	}
	if status, ok := result.Status(); ok && status != 0 {
		api.record(r.Context(), mac, typ, start, fmt.Sprintf("PyPNM status %d", status))
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	api.record(r.Context(), mac, typ, start, "")

	if data, ok := result.Archive(); archive && ok {
		resp, err := api.saveArchive(typ, mac, data)
		if err != nil {
			api.logError("Saving measurement archive failed", "type", typ, "mac", mac, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	delete(result, "archive_data")
	result["plots"] = api.recentPlots(mac)
	writeJSON(w, http.StatusOK, result)
}

// pnmErrorStatus maps a PyPNM client error to the status returned to the
// browser.
func pnmErrorStatus(err error) int {
	switch {
	case errors.Is(err, pypnm.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pypnm.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pypnm.ErrHTTP):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (api *PNMAPI) record(ctx context.Context, mac, typ string, start time.Time, errText string) {
	if api.history == nil {
		return
	}
	m := &storage.Measurement{
		Timestamp:  start,
		MACAddress: mac,
		Type:       typ,
		Source:     "pypnm",
		Status:     "success",
		DurationMs: api.now().Sub(start).Milliseconds(),
		Error:      errText,
	}
	if errText != "" {
		m.Status = "error"
	}
	if err := api.history.SaveMeasurement(ctx, m); err != nil {
		api.logError("Recording measurement failed", "type", typ, "error", err)
	}
}

// plot is a base64 PNG returned to the browser.
type plot struct {
	Filename  string  `json:"filename"`
	Data      string  `json:"data"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type plotFile struct {
	name    string
	modTime time.Time
}

// listPlots returns PNGs in dir whose name starts with the modem's MAC hex
// digits, newest first.
func listPlots(dir, mac string) ([]plotFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToLower(strings.ReplaceAll(mac, ":", ""))
	var out []plotFile
	for _, e := range entries {
		name := e.Name()
		lower := strings.ToLower(name)
		if e.IsDir() || !strings.HasPrefix(lower, prefix) || !strings.HasSuffix(lower, ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, plotFile{name: name, modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].modTime.After(out[j].modTime) })
	return out, nil
}

func (api *PNMAPI) readPlots(files []plotFile, withTimestamp bool) []plot {
	plots := []plot{}
	for _, f := range files {
		if len(plots) == maxPlots {
			break
		}
		data, err := os.ReadFile(filepath.Join(api.settings.PlotDir, f.name))
		if err != nil {
			api.logError("Failed to read plot", "file", f.name, "error", err)
			continue
		}
		p := plot{Filename: f.name, Data: base64.StdEncoding.EncodeToString(data)}
		if withTimestamp {
			p.Timestamp = float64(f.modTime.UnixNano()) / 1e9
		}
		plots = append(plots, p)
	}
	return plots
}

// recentPlots returns plots written during the last two minutes.
func (api *PNMAPI) recentPlots(mac string) []plot {
	if api.settings.PlotDir == "" {
		return []plot{}
	}
	files, err := listPlots(api.settings.PlotDir, mac)
	if err != nil {
		return []plot{}
	}
	cutoff := api.now().Add(-recentPlotAge)
	recent := files[:0]
	for _, f := range files {
		if f.modTime.After(cutoff) {
			recent = append(recent, f)
		}
	}
	return api.readPlots(recent, false)
}

// saveArchive stores the ZIP PyPNM returned and extracts its PNG plots.
func (api *PNMAPI) saveArchive(typ, mac string, data []byte) (map[string]interface{}, error) {
	if err := os.MkdirAll(api.settings.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.zip", typ, docsis.MACHex(mac), api.now().Format("20060102_150405"))
	if err := os.WriteFile(filepath.Join(api.settings.DataDir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}

	plots := []plot{}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		api.logError("Archive is not a valid ZIP", "file", name, "error", err)
	} else {
		for _, f := range zr.File {
			if !strings.HasSuffix(strings.ToLower(f.Name), ".png") {
				continue
			}
			png, err := readZipEntry(f)
			if err != nil {
				api.logError("Failed to extract plot", "file", f.Name, "error", err)
				continue
			}
			plots = append(plots, plot{Filename: path.Base(f.Name), Data: base64.StdEncoding.EncodeToString(png)})
		}
	}
	api.logInfo("Saved measurement archive", "file", name, "plots", len(plots))

	return map[string]interface{}{
		"status":       0,
		"message":      fmt.Sprintf("Measurement complete - %d plots generated", len(plots)),
		"output_type":  "archive",
		"zip_file":     name,
		"download_url": "/api/pypnm/download/" + name,
		"plots":        plots,
		"mac_address":  mac,
	}, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, 32<<20))
}

func (api *PNMAPI) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	b := body{}
	if r.Method == http.MethodPost {
		var err error
		if b, err = decodeBody(r); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	q := r.URL.Query()
	modemIP := b.str("modem_ip", q.Get("modem_ip"))
	if modemIP == "" {
		writeError(w, http.StatusBadRequest, "modem_ip required")
		return
	}
	community := b.str("community", q.Get("community"))
	if community == "" {
		community = api.settings.ModemCommunity
	}
	m := pypnm.Modem{MAC: mac, IP: modemIP, Community: community}

	results, err := fetchStats(r.Context(), m,
		api.client.DSSCQAMStats, api.client.DSOFDMStats, api.client.USATDMAStats, api.client.USOFDMAStats)
	if err != nil {
		writeJSON(w, pnmErrorStatus(err), pypnm.ErrorResult(err))
		return
	}
	writeJSON(w, http.StatusOK, channels.Build(mac, results[0], results[1], results[2], results[3]))
}

type statsCall func(context.Context, pypnm.Modem) (pypnm.Result, error)

// fetchStats runs the stats calls in parallel. A failed leg leaves a nil
// result; an error is returned only when every leg failed.
func fetchStats(ctx context.Context, m pypnm.Modem, calls ...statsCall) ([]pypnm.Result, error) {
	results := make([]pypnm.Result, len(calls))
	errs := make([]error, len(calls))
	g, ctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i], errs[i] = call(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			return results, nil
		}
	}
	return nil, errs[0]
}

type cleanedFile struct {
	Path    string  `json:"path"`
	AgeDays float64 `json:"age_days"`
	SizeMB  float64 `json:"size_mb"`
}

func (api *PNMAPI) handleHousekeeping(w http.ResponseWriter, r *http.Request) {
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	maxAge := b.integer("max_age_days", 7)
	dryRun := b.boolean("dry_run", false)
	now := api.now()
	cutoff := now.Add(-time.Duration(maxAge) * 24 * time.Hour)

	var files []cleanedFile
	var totalBytes int64
	for _, dir := range api.settings.PNMDirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				return nil
			}
			if !dryRun {
				if err := os.Remove(p); err != nil {
					api.logError("Housekeeping could not delete file", "path", p, "error", err)
					return nil
				}
			}
			totalBytes += info.Size()
			files = append(files, cleanedFile{
				Path:    p,
				AgeDays: round2(now.Sub(info.ModTime()).Hours() / 24),
				SizeMB:  round2(float64(info.Size()) / (1 << 20)),
			})
			return nil
		})
		if err != nil {
			api.logError("Housekeeping walk failed", "dir", dir, "error", err)
		}
	}
	api.logInfo("Housekeeping finished", "deleted", len(files), "dry_run", dryRun, "max_age_days", maxAge)

	listed := files
	if len(listed) > maxHousekeepingFiles {
		listed = listed[:maxHousekeepingFiles]
	}
	if listed == nil {
		listed = []cleanedFile{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"dry_run":       dryRun,
		"deleted_count": len(files),
		"total_size_mb": round2(float64(totalBytes) / (1 << 20)),
		"files":         listed,
	})
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func (api *PNMAPI) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	root, err := os.OpenRoot(api.settings.DataDir)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	defer root.Close()
	f, err := root.Open(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (api *PNMAPI) handlePlots(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	if api.settings.PlotDir == "" {
		writeError(w, http.StatusInternalServerError, "PyPNM plot directory not accessible. Ensure volume is mounted.")
		return
	}
	files, err := listPlots(api.settings.PlotDir, mac)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "PyPNM plot directory not accessible. Ensure volume is mounted.")
		return
	}
	if ts := r.URL.Query().Get("timestamp"); ts != "" {
		filtered := files[:0]
		for _, f := range files {
			if strings.Contains(f.name, ts) {
				filtered = append(filtered, f)
			}
		}
		files = filtered
	}
	plots := api.readPlots(files, true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"count":  len(plots),
		"plots":  plots,
	})
}

// handleUTSCConfigure starts a UTSC capture through PyPNM. The response
// echoes the capture identity so the browser can poll for files.
func (api *PNMAPI) handleUTSCConfigure(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if b.str("cmts_ip", "") == "" || b.integer("rf_port_ifindex", 0) <= 0 {
		writeError(w, http.StatusBadRequest, "cmts_ip and rf_port_ifindex required")
		return
	}
	u := upstreamCapture(mac, b, b.str("community", api.settings.CMTSWriteCommunity),
		pypnm.Capture{TFTPIPv4: b.str("tftp_ip", api.settings.TFTPIPv4), OutputType: b.str("output_type", "json")})

	start := api.now()
	result, err := api.client.UpstreamSpectrum(r.Context(), u)
	resp := map[string]interface{}{
		"mac_address":     mac,
		"cmts_ip":         u.CMTSIP,
		"rf_port_ifindex": u.RFPortIfIndex,
		"filename":        u.Config.Filename,
	}
	if err != nil {
		api.record(r.Context(), mac, "us_spectrum", start, err.Error())
		resp["success"] = false
		resp["error"] = err.Error()
		writeJSON(w, pnmErrorStatus(err), resp)
		return
	}
	status, ok := result.Status()
	success := !ok || status == 0
	errText := ""
	if !success {
		errText, _ = result["message"].(string)
		if errText == "" {
			errText = fmt.Sprintf("PyPNM status %d", status)
		}
	}
	api.record(r.Context(), mac, "us_spectrum", start, errText)
	resp["success"] = success
	resp["data"] = result
	if errText != "" {
		resp["error"] = errText
	} else {
		resp["error"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *PNMAPI) handleUTSCValidate(w http.ResponseWriter, r *http.Request) {
	p := utsc.DefaultParams()
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	p.CenterFreqHz = b.integer("center_freq_hz", p.CenterFreqHz)
	p.SpanHz = b.integer("span_hz", p.SpanHz)
	p.NumBins = b.integer("num_bins", p.NumBins)
	p.TriggerMode = b.integer("trigger_mode", p.TriggerMode)
	p.RepeatPeriodMs = b.integer("repeat_period_ms", p.RepeatPeriodMs)
	p.FreeRunDurationMs = b.integer("freerun_duration_ms", p.FreeRunDurationMs)
	p.TriggerCount = b.integer("trigger_count", p.TriggerCount)

	v := utsc.Validate(p)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"validation": v,
		"limits":     utsc.Limits(),
	})
}

func (api *PNMAPI) handleDiscoverRFPort(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	b, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	cmtsIP := b.str("cmts_ip", "")
	if cmtsIP == "" {
		writeError(w, http.StatusBadRequest, "cmts_ip required")
		return
	}
	result, err := api.client.DiscoverRFPort(r.Context(), cmtsIP, mac, b.str("community", api.settings.CMTSCommunity))
	if err != nil {
		writeJSON(w, pnmErrorStatus(err), pypnm.ErrorResult(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *PNMAPI) logInfo(msg string, kv ...interface{}) {
	if api.log != nil {
		api.log.Info(msg, kv...)
	}
}

func (api *PNMAPI) logError(msg string, kv ...interface{}) {
	if api.log != nil {
		api.log.Error(msg, kv...)
	}
}
