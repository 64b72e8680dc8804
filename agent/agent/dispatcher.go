// Package agent is the jump-host relay: it keeps an outbound WebSocket to
// the GUI backend and executes SNMP, SSH and CMTS PNM commands for it.
package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
	"github.com/svdleer/PyPNMGui/common/cache"
	"github.com/svdleer/PyPNMGui/common/snmp"
)

// Logger is the subset of the agent logger the package uses.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// HandlerFunc executes one command. A returned error becomes an "error"
// message; handler-level failures are reported as {"success": false}.
type HandlerFunc func(ctx context.Context, p Params) (Result, error)

// SNMPDefaults apply when a command does not name them.
type SNMPDefaults struct {
	Version string
	Timeout time.Duration
	Retries int
}

// DispatcherOptions wires the command executors.
type DispatcherOptions struct {
	SNMP         snmp.Client
	SNMPDefaults SNMPDefaults
	// SNMPDirect advertises that the CMTS is reachable over SNMP from here.
	SNMPDirect bool

	SSH sshexec.Runner
	// CMProxy reaches the modems; modem SNMP runs there via net-snmp.
	CMProxy sshexec.Host
	// TFTP holds PNM capture files under TFTPPath.
	TFTP     sshexec.Host
	TFTPPath string
	// CMTSSSH, when enabled, is the login template for cmts_command.
	CMTSSSH        sshexec.Host
	CMTSSSHEnabled bool

	Cache    *cache.Store
	CacheTTL time.Duration

	// PollInterval paces the CMTS measurement status polls.
	PollInterval time.Duration
	Logger       Logger
	Now          func() time.Time
	// Pinger overrides the ICMP reachability check.
	Pinger func(ctx context.Context, target string) (bool, string)
}

// Dispatcher routes server commands to their handlers.
type Dispatcher struct {
	opts     DispatcherOptions
	log      Logger
	handlers map[string]HandlerFunc
}

// NewDispatcher builds the command table from opts.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.SNMP == nil {
		opts.SNMP = snmp.NewClient()
	}
	if opts.SNMPDefaults.Version == "" {
		opts.SNMPDefaults.Version = "2c"
	}
	if opts.SNMPDefaults.Timeout <= 0 {
		opts.SNMPDefaults.Timeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 300 * time.Second
	}
	if opts.TFTPPath == "" {
		opts.TFTPPath = "/tftpboot"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pinger == nil {
		opts.Pinger = systemPing
	}
	d := &Dispatcher{opts: opts, log: opts.Logger}
	if d.log == nil {
		d.log = nopLogger{}
	}

	d.handlers = map[string]HandlerFunc{
		"ping":          d.handlePing,
		"snmp_get":      d.handleSNMPGet,
		"snmp_walk":     d.handleSNMPWalk,
		"snmp_set":      d.handleSNMPSet,
		"snmp_bulk_get": d.handleSNMPBulkGet,
		"execute_pnm":   d.handleExecutePNM,

		"cmts_get_modems":     d.handleCMTSGetModems,
		"cmts_get_modem_info": d.handleCMTSGetModemInfo,
		"enrich_modems":       d.handleEnrichModems,

		"pnm_utsc_configure":    d.handleUTSCConfigure,
		"pnm_utsc_start":        d.handleUTSCStart,
		"pnm_utsc_stop":         d.handleUTSCStop,
		"pnm_utsc_status":       d.handleUTSCStatus,
		"pnm_utsc_data":         d.handleUTSCData,
		"pnm_us_rxmer_start":    d.handleUsRxMERStart,
		"pnm_us_rxmer_status":   d.handleUsRxMERStatus,
		"pnm_us_rxmer_data":     d.handleUsRxMERData,
		"pnm_us_get_interfaces": d.handleUsGetInterfaces,

		"tftp_get":       d.handleTFTPGet,
		"pnm_fetch_file": d.handlePNMFetchFile,
		"cmts_command":   d.handleCMTSCommand,
	}
	return d
}

func (d *Dispatcher) sshReady() bool { return d.opts.SSH != nil }

func (d *Dispatcher) cmProxy() bool { return d.sshReady() && d.opts.CMProxy.Configured() }

func (d *Dispatcher) tftp() bool { return d.sshReady() && d.opts.TFTP.Configured() }

// Capabilities lists what this agent can do, sorted.
func (d *Dispatcher) Capabilities() []string {
	caps := []string{
		"snmp_get", "snmp_walk", "snmp_set", "snmp_bulk_get",
		"execute_pnm", "enrich_modems",
		"cmts_get_modems", "cmts_get_modem_info",
		"pnm_utsc_configure", "pnm_utsc_start", "pnm_utsc_stop", "pnm_utsc_status", "pnm_utsc_data",
		"pnm_us_rxmer_start", "pnm_us_rxmer_status", "pnm_us_rxmer_data",
		"pnm_us_get_interfaces",
	}
	if d.cmProxy() {
		caps = append(caps, "cm_proxy")
	}
	if d.tftp() {
		caps = append(caps, "tftp_get", "pnm_fetch_file")
	}
	if d.sshReady() && d.opts.CMTSSSHEnabled {
		caps = append(caps, "cmts_command")
	}
	if d.opts.SNMPDirect {
		caps = append(caps, "cmts_snmp_direct")
	}
	sort.Strings(caps)
	return caps
}

// Dispatch runs command. Unknown commands fail with "Unknown command: X".
func (d *Dispatcher) Dispatch(ctx context.Context, command string, params map[string]interface{}) (Result, error) {
	h, ok := d.handlers[command]
	if !ok {
		return nil, fmt.Errorf("Unknown command: %s", command)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	start := d.opts.Now()
	res, err := h(ctx, Params(params))
	elapsed := d.opts.Now().Sub(start)
	if err != nil {
		d.log.Warn("Command failed", "command", command, "elapsed", elapsed, "error", err)
		return nil, err
	}
	d.log.Debug("Command done", "command", command, "elapsed", elapsed, "success", res["success"])
	return res, nil
}

// target builds an SNMP target from the common target_ip/cmts_ip,
// community, version, timeout and retries params.
func (d *Dispatcher) target(p Params, hostKey, defCommunity string) snmp.Target {
	t := snmp.Target{
		Host:      p.Str(hostKey, ""),
		Community: p.Str("community", defCommunity),
		Version:   p.Str("version", d.opts.SNMPDefaults.Version),
		Timeout:   d.opts.SNMPDefaults.Timeout,
		Retries:   p.Int("retries", d.opts.SNMPDefaults.Retries),
	}
	if s := p.Int("timeout", 0); s > 0 {
		t.Timeout = time.Duration(s) * time.Second
	}
	return t
}
