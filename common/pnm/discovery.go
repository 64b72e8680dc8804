package pnm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/common/snmp"
)

// ErrModemNotFound is returned when the CMTS has no registration for a MAC.
var ErrModemNotFound = errors.New("modem not found on CMTS")

// RFPort is one upstream RF connector (ifDescr "us-conn slot/port/...").
type RFPort struct {
	IfIndex     int    `json:"ifindex"`
	Description string `json:"description"`
}

// UpstreamInterfaces is the result of DiscoverUpstream.
type UpstreamInterfaces struct {
	CmIndex      int      `json:"cm_index"`
	RFPorts      []RFPort `json:"rf_ports"`
	AllRFPorts   []RFPort `json:"all_rf_ports"`
	ModemRFPort  *RFPort  `json:"modem_rf_port"`
	OfdmaIfIndex int      `json:"modem_ofdma_ifindex,omitempty"`
}

var slotPortRe = regexp.MustCompile(`(\d+)/(\d+)`)

func isRFPort(descr string) bool {
	d := strings.ToLower(descr)
	return strings.Contains(d, "us-conn") || strings.Contains(d, "upstream-rf-port")
}

func slotPort(descr string) string {
	if m := slotPortRe.FindStringSubmatch(descr); m != nil {
		return m[1] + "/" + m[2]
	}
	return ""
}

func walkIndex(root string, vars []snmp.Variable) map[string]snmp.Variable {
	out := make(map[string]snmp.Variable, len(vars))
	for _, v := range vars {
		out[v.Index(root)] = v
	}
	return out
}

// findCmIndex walks docsIf3CmtsCmRegStatusMacAddr for mac.
func (c *CMTS) findCmIndex(ctx context.Context, mac string) (int, error) {
	want, err := docsis.NormalizeMAC(mac)
	if err != nil {
		return 0, err
	}
	vars, err := c.client.BulkWalk(ctx, c.target, docsis.OIDD3CmMac)
	if err != nil {
		return 0, err
	}
	for _, v := range vars {
		if docsis.MACFromBytes(v.Bytes()) == want {
			idx, err := strconv.Atoi(v.Index(docsis.OIDD3CmMac))
			if err != nil {
				return 0, fmt.Errorf("unexpected cm index %q", v.OID)
			}
			return idx, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", want, ErrModemNotFound)
}

// DiscoverUpstream finds the modem's CM index, the CMTS upstream RF ports,
// the RF port the modem's upstream channels sit on and its OFDMA channel.
func (c *CMTS) DiscoverUpstream(ctx context.Context, cmMAC string) (*UpstreamInterfaces, error) {
	cmIndex, err := c.findCmIndex(ctx, cmMAC)
	if err != nil {
		return nil, err
	}

	descrs, err := c.client.BulkWalk(ctx, c.target, docsis.OIDIfDescr)
	if err != nil {
		return nil, fmt.Errorf("ifDescr walk: %w", err)
	}
	byIndex := walkIndex(docsis.OIDIfDescr, descrs)

	out := &UpstreamInterfaces{CmIndex: cmIndex, AllRFPorts: []RFPort{}}
	for idx, v := range byIndex {
		if !isRFPort(string(v.Bytes())) {
			continue
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		out.AllRFPorts = append(out.AllRFPorts, RFPort{IfIndex: n, Description: string(v.Bytes())})
	}
	sort.Slice(out.AllRFPorts, func(i, j int) bool { return out.AllRFPorts[i].IfIndex < out.AllRFPorts[j].IfIndex })

	// docsIf3CmtsCmUsStatus rows are indexed cmIndex.chIfIndex.
	prefix := docsis.OIDCmUsStatusModType + "." + strconv.Itoa(cmIndex)
	chans, err := c.client.Walk(ctx, c.target, prefix)
	if err != nil {
		return nil, fmt.Errorf("upstream status walk: %w", err)
	}
	types, err := c.client.BulkWalk(ctx, c.target, docsis.OIDIfType)
	if err != nil {
		return nil, fmt.Errorf("ifType walk: %w", err)
	}
	typeByIndex := walkIndex(docsis.OIDIfType, types)

	var modemSlotPort string
	for _, ch := range chans {
		chIdx := ch.Index(prefix)
		if t, ok := typeByIndex[chIdx]; ok {
			if n, _ := t.Int(); n == docsis.IfTypeDocsOfdmaUpstream && out.OfdmaIfIndex == 0 {
				out.OfdmaIfIndex, _ = strconv.Atoi(chIdx)
			}
		}
		if modemSlotPort == "" {
			if d, ok := byIndex[chIdx]; ok {
				modemSlotPort = slotPort(string(d.Bytes()))
			}
		}
	}

	if modemSlotPort != "" {
		for i := range out.AllRFPorts {
			if slotPort(out.AllRFPorts[i].Description) == modemSlotPort {
				p := out.AllRFPorts[i]
				out.ModemRFPort = &p
				break
			}
		}
	}
	if out.ModemRFPort != nil {
		out.RFPorts = []RFPort{*out.ModemRFPort}
	} else {
		out.RFPorts = out.AllRFPorts
	}
	return out, nil
}

// Modem is one registered cable modem as seen by the CMTS.
type Modem struct {
	MACAddress      string `json:"mac_address"`
	IPAddress       string `json:"ip_address"`
	StatusCode      int    `json:"status_code"`
	Status          string `json:"status"`
	CmtsIndex       string `json:"cmts_index"`
	Vendor          string `json:"vendor"`
	DocsisVersion   string `json:"docsis_version"`
	Model           string `json:"model,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
}

// ModemQuery tunes Modems.
type ModemQuery struct {
	Limit int
	// Bulk selects GETBULK walks.
	Bulk bool
}

// Modems walks the DOCSIS 3.0 registration table, the DOCSIS 3.1 max usable
// DS frequency and the legacy status table in parallel and correlates
// them by MAC. Only the registration table walk is required to succeed.
func (c *CMTS) Modems(ctx context.Context, q ModemQuery) ([]Modem, error) {
	walk := c.client.Walk
	if q.Bulk {
		walk = c.client.BulkWalk
	}

	tables := []string{
		docsis.OIDD3CmMac,
		docsis.OIDD31MaxUsableDsHz,
		docsis.OIDCmStatusMac,
		docsis.OIDCmStatusIP,
		docsis.OIDCmStatusValue,
	}
	results := make([][]snmp.Variable, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	for i, root := range tables {
		g.Go(func() error {
			vars, err := walk(gctx, c.target, root)
			if err != nil {
				if root == docsis.OIDD3CmMac {
					return fmt.Errorf("SNMP MAC walk failed: %w", err)
				}
				// Correlation tables are best effort.
				return nil
			}
			results[i] = vars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d3mac, d31, oldMAC, oldIP, oldStatus := results[0], results[1], results[2], results[3], results[4]

	isD31 := make(map[string]bool, len(d31))
	for _, v := range d31 {
		n, _ := v.Int()
		isD31[v.Index(docsis.OIDD31MaxUsableDsHz)] = n > 0
	}

	ipByOld := make(map[string]string, len(oldIP))
	for _, v := range oldIP {
		ipByOld[v.Index(docsis.OIDCmStatusIP)] = v.String()
	}
	statusByOld := make(map[string]int, len(oldStatus))
	for _, v := range oldStatus {
		n, _ := v.Int()
		statusByOld[v.Index(docsis.OIDCmStatusValue)] = int(n)
	}
	ipByMAC := make(map[string]string, len(oldMAC))
	statusByMAC := make(map[string]int, len(oldMAC))
	for _, v := range oldMAC {
		mac := docsis.MACFromBytes(v.Bytes())
		if mac == "" {
			continue
		}
		idx := v.Index(docsis.OIDCmStatusMac)
		if ip, ok := ipByOld[idx]; ok {
			ipByMAC[mac] = ip
		}
		if st, ok := statusByOld[idx]; ok {
			statusByMAC[mac] = st
		}
	}

	modems := make([]Modem, 0, len(d3mac))
	for _, v := range d3mac {
		if q.Limit > 0 && len(modems) >= q.Limit {
			break
		}
		mac := docsis.MACFromBytes(v.Bytes())
		if mac == "" {
			continue
		}
		idx := v.Index(docsis.OIDD3CmMac)
		m := Modem{
			MACAddress:    mac,
			IPAddress:     "N/A",
			StatusCode:    statusByMAC[mac],
			CmtsIndex:     idx,
			Vendor:        docsis.VendorFromMAC(mac),
			DocsisVersion: "DOCSIS 3.0",
		}
		if ip, ok := ipByMAC[mac]; ok && ip != "" {
			m.IPAddress = ip
		}
		m.Status = docsis.CMStatus(m.StatusCode)
		if isD31[idx] {
			m.DocsisVersion = "DOCSIS 3.1"
		}
		modems = append(modems, m)
	}
	return modems, nil
}
