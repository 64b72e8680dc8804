package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/common/pnm"
)

// maxDataFiles bounds how many captures one data request returns.
const maxDataFiles = 10

func (d *Dispatcher) cmts(p Params) (*pnm.CMTS, error) {
	t := d.target(p, "cmts_ip", "private")
	if t.Host == "" {
		return nil, errors.New("cmts_ip required")
	}
	return pnm.NewCMTS(d.opts.SNMP, t), nil
}

func (d *Dispatcher) rfPort(p Params) (int, error) {
	port := p.Int("rf_port_ifindex", 0)
	if port <= 0 {
		return 0, errors.New("rf_port_ifindex required")
	}
	return port, nil
}

// utscConfig layers the request over the dashboard defaults.
func utscConfig(p Params, rfPort int) docsis.UtscConfig {
	cfg := docsis.DefaultUtscConfig()
	cfg.RFPortIfIndex = rfPort
	cfg.TriggerMode = p.Int("trigger_mode", cfg.TriggerMode)
	cfg.CmMAC = p.Str("cm_mac_address", p.Str("cm_mac", ""))
	cfg.LogicalChIfIndex = p.Int("logical_ch_ifindex", 0)
	cfg.CenterFreqHz = p.Int("center_freq_hz", cfg.CenterFreqHz)
	cfg.SpanHz = p.Int("span_hz", cfg.SpanHz)
	cfg.NumBins = p.Int("num_bins", cfg.NumBins)
	cfg.Filename = p.Str("filename", cfg.Filename)
	cfg.Window = p.Int("window", cfg.Window)
	cfg.OutputFormat = p.Int("output_format", cfg.OutputFormat)
	cfg.RepeatPeriodMs = p.Int("repeat_period_ms", cfg.RepeatPeriodMs)
	cfg.FreeRunDurMs = p.Int("freerun_duration_ms", cfg.FreeRunDurMs)
	cfg.TriggerCount = p.Int("trigger_count", cfg.TriggerCount)
	return cfg
}

func (d *Dispatcher) handleUTSCConfigure(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	port, err := d.rfPort(p)
	if err != nil {
		return nil, err
	}
	cfg := utscConfig(p, port)
	if err := c.ConfigureUTSC(ctx, cfg); err != nil {
		return fail(err.Error(), "rf_port_ifindex", port), nil
	}
	d.log.Info("UTSC configured", "cmts", c.Target().Host, "rf_port", port, "filename", cfg.Filename)
	return ok("rf_port_ifindex", port, "config", cfg), nil
}

func (d *Dispatcher) handleUTSCStart(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	port, err := d.rfPort(p)
	if err != nil {
		return nil, err
	}
	if err := c.StartUTSC(ctx, port); err != nil {
		return fail(err.Error(), "rf_port_ifindex", port), nil
	}
	return ok("rf_port_ifindex", port, "message", "UTSC started"), nil
}

func (d *Dispatcher) handleUTSCStop(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	port, err := d.rfPort(p)
	if err != nil {
		return nil, err
	}
	if err := c.StopUTSC(ctx, port); err != nil {
		return fail(err.Error(), "rf_port_ifindex", port), nil
	}
	return ok("rf_port_ifindex", port, "message", "UTSC stopped"), nil
}

func statusResult(st docsis.MeasStatus, kv ...interface{}) Result {
	r := ok(kv...)
	r["meas_status"] = int(st)
	r["meas_status_name"] = st.String()
	r["is_ready"] = st == docsis.MeasSampleReady
	r["is_busy"] = st == docsis.MeasBusy
	return r
}

// status reads a measurement status once, or with wait=true polls until
// the sample is ready for at most wait_seconds (default 30).
func (d *Dispatcher) status(ctx context.Context, p Params, read func(context.Context) (docsis.MeasStatus, error)) (docsis.MeasStatus, error) {
	if p.Bool("wait", false) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.Int("wait_seconds", 30))*time.Second)
		defer cancel()
	}
	return read(ctx)
}

func (d *Dispatcher) handleUTSCStatus(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	port, err := d.rfPort(p)
	if err != nil {
		return nil, err
	}
	st, err := d.status(ctx, p, func(ctx context.Context) (docsis.MeasStatus, error) {
		if p.Bool("wait", false) {
			return c.WaitUTSC(ctx, port, d.opts.PollInterval)
		}
		return c.UTSCStatus(ctx, port)
	})
	if err != nil {
		return fail(err.Error(), "rf_port_ifindex", port), nil
	}
	return statusResult(st, "rf_port_ifindex", port), nil
}

func (d *Dispatcher) handleUsRxMERStart(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	req := pnm.UsRxMERRequest{
		OfdmaIfIndex: p.Int("ofdma_ifindex", 0),
		CmMAC:        p.Str("cm_mac_address", ""),
		PreEq:        p.Bool("pre_eq", true),
		NumAvgs:      p.Int("num_averages", 1),
		Filename:     p.Str("filename", ""),
	}
	if req.Filename == "" {
		req.Filename = "usrxmer_" + docsis.MACHex(req.CmMAC)
	}
	if err := c.StartUsRxMER(ctx, req); err != nil {
		return fail(err.Error(), "ofdma_ifindex", req.OfdmaIfIndex), nil
	}
	d.log.Info("US RxMER started", "cmts", c.Target().Host, "ofdma", req.OfdmaIfIndex, "cm", req.CmMAC)
	return ok("ofdma_ifindex", req.OfdmaIfIndex, "cm_mac_address", req.CmMAC, "filename", req.Filename), nil
}

func (d *Dispatcher) handleUsRxMERStatus(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	ofdma := p.Int("ofdma_ifindex", 0)
	if ofdma <= 0 {
		return nil, errors.New("ofdma_ifindex required")
	}
	st, err := d.status(ctx, p, func(ctx context.Context) (docsis.MeasStatus, error) {
		if p.Bool("wait", false) {
			return c.WaitUsRxMER(ctx, ofdma, d.opts.PollInterval)
		}
		return c.UsRxMERStatus(ctx, ofdma)
	})
	if err != nil {
		return fail(err.Error(), "ofdma_ifindex", ofdma), nil
	}
	return statusResult(st, "ofdma_ifindex", ofdma), nil
}

func (d *Dispatcher) handleUsGetInterfaces(ctx context.Context, p Params) (Result, error) {
	c, err := d.cmts(p)
	if err != nil {
		return nil, err
	}
	mac := p.Str("cm_mac_address", "")
	if mac == "" {
		return nil, errors.New("cm_mac_address required")
	}
	ifs, err := c.DiscoverUpstream(ctx, mac)
	if err != nil {
		return fail(err.Error(), "cm_mac_address", mac), nil
	}
	res, err := toResult(ifs)
	if err != nil {
		return nil, err
	}
	res["success"] = true
	return res, nil
}

func (d *Dispatcher) handleUTSCData(ctx context.Context, p Params) (Result, error) {
	return d.captureFiles(ctx, p.Str("filename", "utsc"), p.Int("count", 1), "rf_port_ifindex", p.Int("rf_port_ifindex", 0))
}

func (d *Dispatcher) handleUsRxMERData(ctx context.Context, p Params) (Result, error) {
	return d.captureFiles(ctx, p.Str("filename", "usrxmer"), p.Int("count", 1), "ofdma_ifindex", p.Int("ofdma_ifindex", 0))
}

// captureFiles returns the newest capture files whose names start with
// prefix. The CMTS appends a timestamp to the configured filename, so the
// prefix match finds every run of one measurement.
func (d *Dispatcher) captureFiles(ctx context.Context, prefix string, count int, idxKey string, idx int) (Result, error) {
	if !d.tftp() {
		return fail("TFTP server not configured"), nil
	}
	if count <= 0 {
		count = 1
	}
	if count > maxDataFiles {
		count = maxDataFiles
	}
	names, err := sshexec.NewestFiles(ctx, d.opts.SSH, d.opts.TFTP, d.opts.TFTPPath, prefix, count)
	if err != nil {
		return fail(err.Error(), idxKey, idx), nil
	}
	if len(names) == 0 {
		return fail(fmt.Sprintf("No files matching %s* in %s", prefix, d.opts.TFTPPath), idxKey, idx), nil
	}

	files := make([]map[string]interface{}, 0, len(names))
	total := 0
	for _, name := range names {
		full, err := sshexec.JoinUnder(d.opts.TFTPPath, name)
		if err != nil {
			continue
		}
		data, err := sshexec.ReadFile(ctx, d.opts.SSH, d.opts.TFTP, full)
		if err != nil {
			d.log.Warn("Capture read failed", "file", full, "error", err)
			continue
		}
		total += len(data)
		files = append(files, map[string]interface{}{
			"filename":    name,
			"size":        len(data),
			"data_base64": base64.StdEncoding.EncodeToString(data),
		})
	}
	if len(files) == 0 {
		return fail("Failed to read capture files", idxKey, idx), nil
	}
	newest := files[0]
	return ok(idxKey, idx,
		"filename", newest["filename"],
		"size", newest["size"],
		"data_base64", newest["data_base64"],
		"files", files,
		"count", len(files),
		"total_size", total,
	), nil
}
