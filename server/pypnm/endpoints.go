package pypnm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/svdleer/PyPNMGui/common/docsis"
)

// Modem identifies the cable modem a request targets.
type Modem struct {
	MAC       string
	IP        string
	Community string
}

// Capture carries the TFTP and output options of a PNM capture request.
// Empty TFTP addresses fall back to the client defaults.
type Capture struct {
	TFTPIPv4   string
	TFTPIPv6   string
	OutputType string
}

const defaultCommunity = "private"

// cableModemRequest builds the envelope every PyPNM modem endpoint expects.
// pnm_parameters is only present when a TFTP server is known.
func cableModemRequest(m Modem, tftpV4, tftpV6 string) map[string]interface{} {
	community := m.Community
	if community == "" {
		community = defaultCommunity
	}
	cm := map[string]interface{}{
		"mac_address": m.MAC,
		"ip_address":  m.IP,
		"snmp": map[string]interface{}{
			"snmpV2C": map[string]interface{}{"community": community},
		},
	}
	if tftpV4 != "" || tftpV6 != "" {
		cm["pnm_parameters"] = map[string]interface{}{
			"tftp": map[string]interface{}{"ipv4": tftpV4, "ipv6": tftpV6},
		}
	}
	return map[string]interface{}{"cable_modem": cm}
}

func (c *Client) captureRequest(m Modem, co Capture) map[string]interface{} {
	v4, v6 := co.TFTPIPv4, co.TFTPIPv6
	if v4 == "" {
		v4 = c.tftpV4
	}
	if v6 == "" {
		v6 = c.tftpV6
	}
	payload := cableModemRequest(m, v4, v6)
	if pnm, ok := payload["cable_modem"].(map[string]interface{})["pnm_parameters"].(map[string]interface{}); ok {
		out := co.OutputType
		if out == "" {
			out = "json"
		}
		pnm["output_type"] = out
	}
	return payload
}

func (c *Client) modemPost(ctx context.Context, path string, m Modem) (Result, error) {
	return c.do(ctx, http.MethodPost, path, cableModemRequest(m, "", ""))
}

func (c *Client) capturePost(ctx context.Context, path string, m Modem, co Capture) (Result, error) {
	return c.do(ctx, http.MethodPost, path, c.captureRequest(m, co))
}

func (c *Client) SysDescr(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/system/sysDescr", m)
}

func (c *Client) UpTime(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/system/upTime", m)
}

func (c *Client) EventLog(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/docs/dev/eventLog", m)
}

func (c *Client) DSSCQAMStats(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/docs/if30/ds/scqam/chan/stats", m)
}

func (c *Client) USATDMAStats(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/docs/if30/us/atdma/chan/stats", m)
}

func (c *Client) DSOFDMStats(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/docs/if31/ds/ofdm/chan/stats", m)
}

func (c *Client) USOFDMAStats(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/docs/if31/us/ofdma/channel/stats", m)
}

// USATDMAPreEq reads the ATDMA pre-equalization coefficients over SNMP.
func (c *Client) USATDMAPreEq(ctx context.Context, m Modem) (Result, error) {
	return c.modemPost(ctx, "/docs/if30/us/atdma/chan/preEqualization", m)
}

func (c *Client) RxMER(ctx context.Context, m Modem, co Capture) (Result, error) {
	return c.capturePost(ctx, "/docs/pnm/ds/ofdm/rxMer/getCapture", m, co)
}

func (c *Client) Spectrum(ctx context.Context, m Modem, co Capture) (Result, error) {
	return c.capturePost(ctx, "/docs/pnm/ds/spectrumAnalyzer/getCapture", m, co)
}

func (c *Client) Constellation(ctx context.Context, m Modem, co Capture) (Result, error) {
	return c.capturePost(ctx, "/docs/pnm/ds/ofdm/constellationDisplay/getCapture", m, co)
}

func (c *Client) ChannelEstimation(ctx context.Context, m Modem, co Capture) (Result, error) {
	return c.capturePost(ctx, "/docs/pnm/ds/ofdm/channelEstCoeff/getCapture", m, co)
}

func (c *Client) ModulationProfile(ctx context.Context, m Modem, co Capture) (Result, error) {
	return c.capturePost(ctx, "/docs/pnm/ds/ofdm/modulationProfile/getCapture", m, co)
}

func (c *Client) USOFDMAPreEq(ctx context.Context, m Modem, co Capture) (Result, error) {
	return c.capturePost(ctx, "/docs/pnm/us/ofdma/preEqualization/getCapture", m, co)
}

// FECSummary requests a FEC summary; summaryType 2 is the 10-minute
// interval, 3 the 24-hour one.
func (c *Client) FECSummary(ctx context.Context, m Modem, co Capture, summaryType int) (Result, error) {
	if summaryType == 0 {
		summaryType = 2
	}
	payload := c.captureRequest(m, co)
	payload["capture_settings"] = map[string]interface{}{"fec_summary_type": summaryType}
	return c.do(ctx, http.MethodPost, "/docs/pnm/ds/ofdm/fecSummary/getCapture", payload)
}

// Histogram captures the downstream amplitude histogram for sampleDuration seconds.
func (c *Client) Histogram(ctx context.Context, m Modem, co Capture, sampleDuration int) (Result, error) {
	if sampleDuration <= 0 {
		sampleDuration = 60
	}
	payload := c.captureRequest(m, co)
	payload["capture_settings"] = map[string]interface{}{"sample_duration": sampleDuration}
	return c.do(ctx, http.MethodPost, "/docs/pnm/ds/histogram/getCapture", payload)
}

// UpstreamCapture describes a CMTS-side UTSC request.
type UpstreamCapture struct {
	CMTSIP        string
	RFPortIfIndex int
	Community     string
	TFTPIPv4      string
	OutputType    string
	Config        docsis.UtscConfig
}

func (u UpstreamCapture) cmts() map[string]interface{} {
	community := u.Community
	if community == "" {
		community = defaultCommunity
	}
	return map[string]interface{}{
		"cmts_ip":         u.CMTSIP,
		"rf_port_ifindex": u.RFPortIfIndex,
		"community":       community,
	}
}

// UpstreamSpectrum starts an upstream triggered spectrum capture on the CMTS.
// cm_mac is only sent for CM-MAC triggered captures (trigger mode 6).
func (c *Client) UpstreamSpectrum(ctx context.Context, u UpstreamCapture) (Result, error) {
	cfg := u.Config
	tftp := u.TFTPIPv4
	if tftp == "" {
		tftp = c.tftpV4
	}
	params := map[string]interface{}{
		"trigger_mode":        cfg.TriggerMode,
		"center_freq_hz":      cfg.CenterFreqHz,
		"span_hz":             cfg.SpanHz,
		"num_bins":            cfg.NumBins,
		"filename":            cfg.Filename,
		"repeat_period_ms":    cfg.RepeatPeriodMs,
		"freerun_duration_ms": cfg.FreeRunDurMs,
		"trigger_count":       cfg.TriggerCount,
		"window":              cfg.Window,
		"output_format":       cfg.OutputFormat,
	}
	if cfg.TriggerMode == docsis.TriggerCMMAC && cfg.CmMAC != "" {
		params["cm_mac"] = cfg.CmMAC
	}
	if cfg.LogicalChIfIndex > 0 {
		params["logical_ch_ifindex"] = cfg.LogicalChIfIndex
	}
	out := u.OutputType
	if out == "" {
		out = "json"
	}
	payload := map[string]interface{}{
		"cmts":               u.cmts(),
		"tftp":               map[string]interface{}{"ipv4": tftp},
		"capture_parameters": params,
		"output_type":        out,
	}
	return c.do(ctx, http.MethodPost, "/docs/pnm/us/spectrumAnalyzer/getCapture", payload)
}

// StopUpstreamSpectrum aborts any running UTSC test on the RF port.
func (c *Client) StopUpstreamSpectrum(ctx context.Context, u UpstreamCapture) (Result, error) {
	return c.do(ctx, http.MethodPost, "/docs/pnm/us/spectrumAnalyzer/stop", map[string]interface{}{"cmts": u.cmts()})
}

// DiscoverRFPort asks PyPNM which upstream RF port serves the modem.
func (c *Client) DiscoverRFPort(ctx context.Context, cmtsIP, cmMAC, community string) (Result, error) {
	if community == "" {
		community = defaultCommunity
	}
	payload := map[string]interface{}{
		"cmts_ip":        cmtsIP,
		"cm_mac_address": cmMAC,
		"community":      community,
	}
	return c.do(ctx, http.MethodPost, "/docs/pnm/us/spectrumAnalyzer/discoverRfPort", payload)
}

// StartMultiRxMER starts long-term RxMER monitoring and returns PyPNM's
// operation descriptor.
func (c *Client) StartMultiRxMER(ctx context.Context, m Modem, tftpV4 string, intervalMinutes, durationHours int) (Result, error) {
	if tftpV4 == "" {
		tftpV4 = c.tftpV4
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 5
	}
	if durationHours <= 0 {
		durationHours = 24
	}
	payload := cableModemRequest(m, tftpV4, "")
	payload["interval_minutes"] = intervalMinutes
	payload["duration_hours"] = durationHours
	return c.do(ctx, http.MethodPost, "/advance/multi/rxmer/start", payload)
}

func (c *Client) MultiRxMERStatus(ctx context.Context, operationID string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/advance/multi/rxmer/status/"+url.PathEscape(operationID), nil)
}
