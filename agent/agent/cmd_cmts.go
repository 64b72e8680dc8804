package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/common/pnm"
	"github.com/svdleer/PyPNMGui/common/snmp"
)

const (
	maxEnrich      = 200
	enrichWorkers  = 20
	enrichTimeout  = 2 * time.Second
	modemInfoLimit = 5000
)

func modemsCacheKey(cmtsIP string) string { return "cmts_modems:" + cmtsIP }

func (d *Dispatcher) handleCMTSGetModems(ctx context.Context, p Params) (Result, error) {
	cmtsIP := p.Str("cmts_ip", "")
	if cmtsIP == "" {
		return nil, errors.New("cmts_ip required")
	}
	modems, cached, err := d.cmtsModems(ctx, p, p.Int("limit", 10000))
	if err != nil {
		d.log.Warn("Modem walk failed", "cmts", cmtsIP, "error", err)
		return fail(err.Error(), "cmts_ip", cmtsIP), nil
	}
	if p.Bool("enrich_modems", false) {
		d.enrich(ctx, modems, p.Str("modem_community", "private"))
	}
	return ok("cmts_ip", cmtsIP, "count", len(modems), "modems", modems, "cached", cached), nil
}

// cmtsModems serves the modem table from cache when allowed, and walks
// the CMTS otherwise. Only successful walks are cached.
func (d *Dispatcher) cmtsModems(ctx context.Context, p Params, limit int) ([]pnm.Modem, bool, error) {
	cmtsIP := p.Str("cmts_ip", "")
	key := modemsCacheKey(cmtsIP)
	if d.opts.Cache != nil && p.Bool("use_cache", true) {
		var modems []pnm.Modem
		found, err := d.opts.Cache.GetJSON(key, &modems)
		if err != nil {
			d.log.Warn("Modem cache read failed", "key", key, "error", err)
		}
		if found {
			if limit > 0 && len(modems) > limit {
				modems = modems[:limit]
			}
			d.log.Debug("Modem cache hit", "cmts", cmtsIP, "count", len(modems))
			return modems, true, nil
		}
	}

	cmts := pnm.NewCMTS(d.opts.SNMP, d.target(p, "cmts_ip", "public"))
	modems, err := cmts.Modems(ctx, pnm.ModemQuery{Limit: limit, Bulk: p.Bool("use_bulk", true)})
	if err != nil {
		return nil, false, err
	}
	if d.opts.Cache != nil {
		if err := d.opts.Cache.SetJSON(key, modems, d.opts.CacheTTL); err != nil {
			d.log.Warn("Modem cache write failed", "key", key, "error", err)
		}
	}
	d.log.Info("Modems walked", "cmts", cmtsIP, "count", len(modems))
	return modems, false, nil
}

// enrich fills model, software and vendor from sysDescr for up to
// maxEnrich online modems. It returns how many modems gained a model.
func (d *Dispatcher) enrich(ctx context.Context, modems []pnm.Modem, community string) int {
	var idx []int
	for i, m := range modems {
		if len(idx) >= maxEnrich {
			break
		}
		if docsis.IsOnline(m.Status) && m.IPAddress != "" && m.IPAddress != "N/A" {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return 0
	}
	ips := make([]string, len(idx))
	for i, n := range idx {
		ips[i] = modems[n].IPAddress
	}

	var descrs map[string]string
	if d.cmProxy() {
		descrs = d.sysDescrViaProxy(ctx, ips, community)
	} else {
		descrs = d.sysDescrDirect(ctx, ips, community)
	}

	enriched := 0
	for _, n := range idx {
		descr, found := descrs[modems[n].IPAddress]
		if !found || descr == "" {
			continue
		}
		info := docsis.ParseSysDescr(descr)
		if info.Model != "" {
			modems[n].Model = info.Model
			enriched++
		}
		if info.Software != "" {
			modems[n].SoftwareVersion = info.Software
		}
		if info.Vendor != "" {
			modems[n].Vendor = info.Vendor
		}
	}
	d.log.Info("Modems enriched", "candidates", len(idx), "enriched", enriched)
	return enriched
}

// sysDescrViaProxy fans snmpget out on the CM proxy with xargs. Each
// output line is "IP|<snmpget value>".
func (d *Dispatcher) sysDescrViaProxy(ctx context.Context, ips []string, community string) map[string]string {
	quoted := make([]string, len(ips))
	for i, ip := range ips {
		quoted[i] = sshexec.Quote(ip)
	}
	inner := fmt.Sprintf(`echo "$0|$(snmpget -v2c -c %s -t %d -r 0 -Ov "$0" %s 2>/dev/null)"`,
		sshexec.Quote(community), int(enrichTimeout/time.Second), docsis.OIDSysDescr)
	cmd := fmt.Sprintf("printf '%%s\\n' %s | xargs -P %d -n 1 sh -c %s",
		strings.Join(quoted, " "), enrichWorkers, sshexec.Quote(inner))

	res, err := d.opts.SSH.Run(ctx, d.opts.CMProxy, cmd)
	if err != nil {
		d.log.Warn("Batch sysDescr failed", "error", err)
		return nil
	}
	return parseSysDescrLines(string(res.Stdout))
}

func parseSysDescrLines(out string) map[string]string {
	descrs := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		ip, value, found := strings.Cut(strings.TrimSpace(line), "|")
		if !found || ip == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if _, rest, typed := strings.Cut(value, "STRING:"); typed {
			value = strings.TrimSpace(rest)
		}
		value = strings.Trim(value, `"`)
		if value != "" {
			descrs[ip] = value
		}
	}
	return descrs
}

func (d *Dispatcher) sysDescrDirect(ctx context.Context, ips []string, community string) map[string]string {
	var mu sync.Mutex
	descrs := make(map[string]string, len(ips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichWorkers)
	for _, ip := range ips {
		g.Go(func() error {
			t := snmp.Target{Host: ip, Community: community, Version: "2c", Timeout: enrichTimeout}
			vars, err := d.opts.SNMP.Get(gctx, t, docsis.OIDSysDescr)
			if err != nil || len(vars) == 0 {
				return nil
			}
			mu.Lock()
			descrs[ip] = string(vars[0].Bytes())
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return descrs
}

func (d *Dispatcher) handleEnrichModems(ctx context.Context, p Params) (Result, error) {
	raw, found := p["modems"]
	if !found {
		return nil, errors.New("modems required")
	}
	var modems []pnm.Modem
	if err := remarshal(raw, &modems); err != nil {
		return nil, fmt.Errorf("modems: %w", err)
	}
	n := d.enrich(ctx, modems, p.Str("modem_community", "private"))
	return ok("modems", modems, "enriched_count", n, "total_count", len(modems)), nil
}

func (d *Dispatcher) handleCMTSGetModemInfo(ctx context.Context, p Params) (Result, error) {
	cmtsIP := p.Str("cmts_ip", "")
	if cmtsIP == "" {
		return nil, errors.New("cmts_ip required")
	}
	mac := p.Str("mac_address", "")
	modemIP := p.Str("modem_ip", "")
	if mac == "" && modemIP == "" {
		return nil, errors.New("mac_address or modem_ip required")
	}
	if mac != "" {
		norm, err := docsis.NormalizeMAC(mac)
		if err != nil {
			return nil, fmt.Errorf("mac_address: %w", err)
		}
		mac = norm
	}

	modems, _, err := d.cmtsModems(ctx, p, modemInfoLimit)
	if err != nil {
		return fail(err.Error(), "cmts_ip", cmtsIP), nil
	}
	for _, m := range modems {
		if (mac != "" && m.MACAddress == mac) || (modemIP != "" && m.IPAddress == modemIP) {
			return ok("modem", m, "cmts_ip", cmtsIP), nil
		}
	}
	return fail(fmt.Sprintf("Modem not found on CMTS %s", cmtsIP), "search_mac", mac, "search_ip", modemIP), nil
}
