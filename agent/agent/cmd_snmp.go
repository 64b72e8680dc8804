package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
	"github.com/svdleer/PyPNMGui/common/snmp"
)

// systemPing sends one ICMP echo with the host's ping binary.
func systemPing(ctx context.Context, target string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", target).CombinedOutput()
	return err == nil, string(out)
}

func (d *Dispatcher) handlePing(ctx context.Context, p Params) (Result, error) {
	target := p.Str("target", "")
	if target == "" {
		return nil, errors.New("target required")
	}
	reachable, output := d.opts.Pinger(ctx, target)
	return ok("reachable", reachable, "target", target, "output", output), nil
}

// netSNMPArgs renders the common net-snmp flags for a target.
func netSNMPArgs(t snmp.Target) string {
	version := strings.TrimPrefix(strings.ToLower(t.Version), "v")
	if version == "" {
		version = "2c"
	}
	timeout := int(t.Timeout / time.Second)
	if timeout <= 0 {
		timeout = 5
	}
	return fmt.Sprintf("-v%s -c %s -t %d -r %d", version, sshexec.Quote(t.Community), timeout, t.Retries)
}

// viaProxy runs a net-snmp command on the CM proxy and shapes the reply.
func (d *Dispatcher) viaProxy(ctx context.Context, cmd string) Result {
	res, err := d.opts.SSH.Run(ctx, d.opts.CMProxy, cmd)
	if err != nil {
		return fail(err.Error(), "command", cmd)
	}
	output := strings.TrimSpace(string(res.Stdout))
	if !res.OK() {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = "exit code " + strconv.Itoa(res.ExitCode)
		}
		return fail(msg, "output", output, "command", cmd)
	}
	return ok("output", output, "command", cmd)
}

func renderAll(vars []snmp.Variable) string {
	lines := make([]string, len(vars))
	for i, v := range vars {
		lines[i] = snmp.Render(v)
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) snmpTarget(p Params) (snmp.Target, error) {
	t := d.target(p, "target_ip", "private")
	if t.Host == "" {
		return t, errors.New("target_ip required")
	}
	return t, nil
}

func (d *Dispatcher) handleSNMPGet(ctx context.Context, p Params) (Result, error) {
	t, err := d.snmpTarget(p)
	if err != nil {
		return nil, err
	}
	oid := p.Str("oid", "")
	if oid == "" {
		return nil, errors.New("oid required")
	}
	if d.cmProxy() {
		return d.viaProxy(ctx, fmt.Sprintf("snmpget %s %s %s", netSNMPArgs(t), sshexec.Quote(t.Host), sshexec.Quote(oid))), nil
	}
	vars, err := d.opts.SNMP.Get(ctx, t, oid)
	if err != nil {
		return fail(err.Error(), "output", ""), nil
	}
	return ok("output", renderAll(vars), "results", vars), nil
}

func (d *Dispatcher) handleSNMPWalk(ctx context.Context, p Params) (Result, error) {
	t, err := d.snmpTarget(p)
	if err != nil {
		return nil, err
	}
	oid := p.Str("oid", "")
	if oid == "" {
		return nil, errors.New("oid required")
	}
	if d.cmProxy() {
		return d.viaProxy(ctx, fmt.Sprintf("snmpwalk %s %s %s", netSNMPArgs(t), sshexec.Quote(t.Host), sshexec.Quote(oid))), nil
	}
	walk := d.opts.SNMP.BulkWalk
	if strings.HasPrefix(t.Version, "1") {
		walk = d.opts.SNMP.Walk
	}
	vars, err := walk(ctx, t, oid)
	if err != nil {
		return fail(err.Error(), "output", ""), nil
	}
	return ok("output", renderAll(vars), "results", vars, "count", len(vars)), nil
}

func (d *Dispatcher) handleSNMPSet(ctx context.Context, p Params) (Result, error) {
	t, err := d.snmpTarget(p)
	if err != nil {
		return nil, err
	}
	oid := p.Str("oid", "")
	if oid == "" {
		return nil, errors.New("oid required")
	}
	if !p.Has("value") {
		return nil, errors.New("value required")
	}
	typ := p.Str("type", "s")
	value := p.Str("value", "")
	if d.cmProxy() {
		return d.viaProxy(ctx, fmt.Sprintf("snmpset %s %s %s %s %s", netSNMPArgs(t),
			sshexec.Quote(t.Host), sshexec.Quote(oid), sshexec.Quote(typ), sshexec.Quote(value))), nil
	}
	if err := d.opts.SNMP.Set(ctx, t, snmp.PDU{OID: oid, Type: typ, Value: value}); err != nil {
		return fail(err.Error(), "output", ""), nil
	}
	return ok("output", fmt.Sprintf("%s = %s", oid, value)), nil
}

func (d *Dispatcher) handleSNMPBulkGet(ctx context.Context, p Params) (Result, error) {
	oids := p.Strings("oids")
	if len(oids) == 0 {
		return nil, errors.New("oids required")
	}
	results := make(map[string]interface{}, len(oids))
	for _, oid := range oids {
		sub := Params{}
		for k, v := range p {
			sub[k] = v
		}
		sub["oid"] = oid
		res, err := d.handleSNMPGet(ctx, sub)
		if err != nil {
			return nil, err
		}
		results[oid] = res
	}
	return ok("results", results), nil
}

// handleExecutePNM acknowledges a modem-side PNM trigger. The measurement
// itself is driven by the backend through PyPNM.
func (d *Dispatcher) handleExecutePNM(ctx context.Context, p Params) (Result, error) {
	pnmType := p.Str("pnm_type", "")
	target := p.Str("target_ip", "")
	switch pnmType {
	case "rxmer", "spectrum", "fec":
	default:
		return nil, fmt.Errorf("Unknown PNM type: %s", pnmType)
	}
	d.log.Info("PNM triggered", "type", pnmType, "target", target)
	return ok("pnm_type", pnmType, "message", fmt.Sprintf("PNM %s triggered for %s", pnmType, target)), nil
}
