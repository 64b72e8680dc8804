package utsc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/common/pnm"
	"github.com/svdleer/PyPNMGui/common/snmp"
	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/pypnm"
)

// PyPNMController drives captures through the PyPNM upstream endpoints.
type PyPNMController struct {
	Client   *pypnm.Client
	TFTPIPv4 string
}

func (p *PyPNMController) upstream(req StreamRequest) pypnm.UpstreamCapture {
	return pypnm.UpstreamCapture{
		CMTSIP:        req.CMTSIP,
		RFPortIfIndex: req.RFPortIfIndex,
		Community:     req.Community,
		TFTPIPv4:      p.TFTPIPv4,
		OutputType:    "json",
	}
}

func (p *PyPNMController) StartCapture(ctx context.Context, req StreamRequest, cfg docsis.UtscConfig) error {
	u := p.upstream(req)
	u.Config = cfg
	res, err := p.Client.UpstreamSpectrum(ctx, u)
	if err != nil {
		return err
	}
	return resultError(res)
}

func (p *PyPNMController) StopCapture(ctx context.Context, req StreamRequest) error {
	_, err := p.Client.StopUpstreamSpectrum(ctx, p.upstream(req))
	return err
}

// resultError accepts {"success":true} or {"status":0}.
func resultError(res map[string]interface{}) error {
	if ok, present := res["success"].(bool); present {
		if ok {
			return nil
		}
		if msg, _ := res["error"].(string); msg != "" {
			return errors.New(msg)
		}
		return errors.New("capture request was rejected")
	}
	if st, ok := pypnm.Result(res).Status(); ok && st == 0 {
		return nil
	}
	if msg, _ := res["message"].(string); msg != "" {
		return errors.New(msg)
	}
	return fmt.Errorf("unexpected capture response: %v", res)
}

// AgentController drives captures through a jump-host agent that can
// reach the CMTS over SNMP.
type AgentController struct {
	Agents  *agents.Manager
	Timeout time.Duration
}

func (a *AgentController) exec(ctx context.Context, command string, params map[string]interface{}) error {
	info, ok := a.Agents.AgentForAny(command, "cmts_snmp_direct")
	if !ok {
		return agents.ErrNoAgent
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	res, err := a.Agents.Execute(ctx, info.AgentID, command, params, timeout)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return resultError(res.Result)
}

func baseParams(req StreamRequest) map[string]interface{} {
	return map[string]interface{}{
		"cmts_ip":         req.CMTSIP,
		"community":       req.Community,
		"rf_port_ifindex": req.RFPortIfIndex,
	}
}

func (a *AgentController) StartCapture(ctx context.Context, req StreamRequest, cfg docsis.UtscConfig) error {
	params := baseParams(req)
	params["trigger_mode"] = cfg.TriggerMode
	params["center_freq_hz"] = cfg.CenterFreqHz
	params["span_hz"] = cfg.SpanHz
	params["num_bins"] = cfg.NumBins
	params["output_format"] = cfg.OutputFormat
	params["window"] = cfg.Window
	params["filename"] = cfg.Filename
	params["repeat_period_ms"] = cfg.RepeatPeriodMs
	params["freerun_duration_ms"] = cfg.FreeRunDurMs
	params["trigger_count"] = cfg.TriggerCount
	if err := a.exec(ctx, "pnm_utsc_configure", params); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := a.exec(ctx, "pnm_utsc_start", baseParams(req)); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

func (a *AgentController) StopCapture(ctx context.Context, req StreamRequest) error {
	return a.exec(ctx, "pnm_utsc_stop", baseParams(req))
}

// SNMPController drives captures directly over SNMP when the backend can
// reach the CMTS itself (DATA_MODE=direct).
type SNMPController struct {
	Client  snmp.Client
	Version string
	Timeout time.Duration
	Retries int
}

func (s *SNMPController) cmts(req StreamRequest) *pnm.CMTS {
	client := s.Client
	if client == nil {
		client = snmp.NewClient()
	}
	return pnm.NewCMTS(client, snmp.Target{
		Host:      req.CMTSIP,
		Community: req.Community,
		Version:   s.Version,
		Timeout:   s.Timeout,
		Retries:   s.Retries,
	})
}

func (s *SNMPController) StartCapture(ctx context.Context, req StreamRequest, cfg docsis.UtscConfig) error {
	cfg.RFPortIfIndex = req.RFPortIfIndex
	c := s.cmts(req)
	if err := c.ConfigureUTSC(ctx, cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := c.StartUTSC(ctx, req.RFPortIfIndex); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

func (s *SNMPController) StopCapture(ctx context.Context, req StreamRequest) error {
	return s.cmts(req).StopUTSC(ctx, req.RFPortIfIndex)
}
