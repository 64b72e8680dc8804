// Package mockdata serves canned modem and CMTS data for DATA_MODE=mock,
// shaped like the PyPNM responses the dashboard renders.
package mockdata

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Modem struct {
	MACAddress    string `json:"mac_address"`
	IPAddress     string `json:"ip_address"`
	Name          string `json:"name"`
	CMTS          string `json:"cmts"`
	CMTSInterface string `json:"cmts_interface"`
	DocsisVersion string `json:"docsis_version"`
	Vendor        string `json:"vendor"`
	Model         string `json:"model"`
	Status        string `json:"status"`
}

type CMTS struct {
	Name       string   `json:"name"`
	IP         string   `json:"ip"`
	Interfaces []string `json:"interfaces"`
	Location   string   `json:"location"`
}

var modems = []Modem{
	{"aa:bb:cc:dd:ee:01", "192.168.100.10", "CM-Residential-01", "CMTS-CORE-01", "Cable1/0/0", "3.1", "ARRIS", "CM8200", "online"},
	{"aa:bb:cc:dd:ee:02", "192.168.100.11", "CM-Residential-02", "CMTS-CORE-01", "Cable1/0/0", "3.1", "Technicolor", "TC4400", "online"},
	{"aa:bb:cc:dd:ee:03", "192.168.100.12", "CM-Business-01", "CMTS-CORE-01", "Cable1/0/1", "3.1", "Netgear", "CM1200", "online"},
	{"aa:bb:cc:dd:ee:04", "192.168.100.13", "CM-Residential-03", "CMTS-CORE-02", "Cable2/0/0", "3.0", "Motorola", "SB6183", "offline"},
	{"aa:bb:cc:dd:ee:05", "192.168.100.14", "CM-Business-02", "CMTS-CORE-02", "Cable2/0/1", "4.0", "ARRIS", "S33", "online"},
	{"aa:bb:cc:dd:ee:06", "192.168.100.15", "CM-Residential-04", "CMTS-EDGE-01", "Cable3/0/0", "3.1", "Hitron", "CODA-4582", "online"},
}

var cmtsList = []CMTS{
	{"CMTS-CORE-01", "10.0.0.1", []string{"Cable1/0/0", "Cable1/0/1", "Cable1/0/2", "Cable1/0/3"}, "Datacenter A"},
	{"CMTS-CORE-02", "10.0.0.2", []string{"Cable2/0/0", "Cable2/0/1", "Cable2/0/2"}, "Datacenter A"},
	{"CMTS-EDGE-01", "10.0.1.1", []string{"Cable3/0/0", "Cable3/0/1"}, "Hub Site B"},
}

// Filter narrows Modems. Empty fields match everything.
type Filter struct {
	SearchType  string // ip, mac or name
	SearchValue string
	CMTS        string
	Interface   string
}

// Modems returns the canned modem list after applying f.
func Modems(f Filter) []Modem {
	out := []Modem{}
	value := strings.ToLower(f.SearchValue)
	for _, m := range modems {
		if f.SearchType != "" && value != "" {
			var hay string
			switch f.SearchType {
			case "ip":
				hay = m.IPAddress
			case "mac":
				hay = strings.ReplaceAll(m.MACAddress, ":", "")
				value = strings.NewReplacer(":", "", "-", "", ".", "").Replace(value)
			case "name":
				hay = m.Name
			}
			if !strings.Contains(strings.ToLower(hay), value) {
				continue
			}
		}
		if f.CMTS != "" && m.CMTS != f.CMTS {
			continue
		}
		if f.Interface != "" && m.CMTSInterface != f.Interface {
			continue
		}
		out = append(out, m)
	}
	return out
}

func ModemByMAC(mac string) (Modem, bool) {
	mac = strings.ToLower(strings.ReplaceAll(mac, "-", ":"))
	for _, m := range modems {
		if m.MACAddress == mac {
			return m, true
		}
	}
	return Modem{}, false
}

func CMTSList() []CMTS {
	out := make([]CMTS, len(cmtsList))
	copy(out, cmtsList)
	return out
}

func CMTSByName(name string) (CMTS, bool) {
	for _, c := range cmtsList {
		if c.Name == name {
			return c, true
		}
	}
	return CMTS{}, false
}

// Response is a PyPNM-shaped reply.
type Response map[string]interface{}

// NotFound is returned for MACs outside the canned list.
func NotFound() Response {
	return Response{"status": "error", "message": "Modem not found"}
}

// rng is seeded from the MAC so repeated calls for one modem look stable
// within a minute.
func rng(mac string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(mac))
	minute := uint64(time.Now().Unix() / 60)
	return rand.New(rand.NewPCG(h.Sum64(), minute))
}

func between(r *rand.Rand, lo, hi float64) float64 {
	return round1(lo + r.Float64()*(hi-lo))
}

func round1(v float64) float64 { return float64(int64(v*10+copysign(0.5, v))) / 10 }

func copysign(a, b float64) float64 {
	if b < 0 {
		return -a
	}
	return a
}

func formatUptime(seconds int) string {
	return fmt.Sprintf("%dd %dh %dm", seconds/86400, (seconds%86400)/3600, (seconds%3600)/60)
}

func reply(m Modem, data map[string]interface{}) Response {
	return Response{"mac_address": m.MACAddress, "status": "success", "data": data}
}

func SystemInfo(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	up := 86400 + rng(mac).IntN(86400*29)
	return reply(m, map[string]interface{}{
		"sysDescr":         fmt.Sprintf("<<HW_REV: 1.0; VENDOR: %s; BOOTR: 2.5.0; SW_REV: 10.2.1.1234567; MODEL: %s>>", m.Vendor, m.Model),
		"vendor":           m.Vendor,
		"model":            m.Model,
		"hardware_version": "1.0",
		"software_version": "10.2.1.1234567",
		"boot_version":     "2.5.0",
		"docsis_version":   m.DocsisVersion,
		"uptime_seconds":   up,
		"uptime_formatted": formatUptime(up),
	})
}

func Uptime(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	up := 86400 + rng(mac).IntN(86400*29)
	return reply(m, map[string]interface{}{
		"uptime_ticks":     up * 100,
		"uptime_seconds":   up,
		"uptime_formatted": formatUptime(up),
	})
}

func DownstreamChannels(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	r := rng(mac)
	var channels []map[string]interface{}
	for i := 0; i < 1+r.IntN(2); i++ {
		channels = append(channels, map[string]interface{}{
			"channel_id":         159 + i,
			"frequency_start_hz": 258_000_000 + i*192_000_000,
			"frequency_end_hz":   450_000_000 + i*192_000_000,
			"plc_frequency_hz":   354_000_000 + i*192_000_000,
			"active_subcarriers": 3700 + r.IntN(100),
			"modulation":         "4096-QAM",
			"power_dbmv":         between(r, -5, 10),
			"snr_db":             between(r, 35, 42),
			"mer_db":             between(r, 38, 45),
		})
	}
	return reply(m, map[string]interface{}{"downstream_ofdm_channels": channels})
}

func UpstreamChannels(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	r := rng(mac)
	var channels []map[string]interface{}
	for i := 0; i < 1+r.IntN(2); i++ {
		channels = append(channels, map[string]interface{}{
			"channel_id":         33 + i,
			"frequency_start_hz": 10_400_000 + i*48_000_000,
			"frequency_end_hz":   58_400_000 + i*48_000_000,
			"active_subcarriers": 1900 + r.IntN(100),
			"modulation":         "256-QAM",
			"power_dbmv":         between(r, 35, 48),
			"timing_offset":      r.IntN(201) - 100,
		})
	}
	return reply(m, map[string]interface{}{"upstream_ofdma_channels": channels})
}

// RxMER returns per-channel summaries with every 100th subcarrier sampled.
func RxMER(mac string, channelIDs []int) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	if len(channelIDs) == 0 {
		channelIDs = []int{159}
	}
	r := rng(mac)
	const subcarriers = 3800
	var out []map[string]interface{}
	for _, id := range channelIDs {
		var samples []map[string]interface{}
		for sc := 0; sc < subcarriers; sc += 100 {
			mer := 40 + r.NormFloat64()*2
			mer = min(50, max(20, mer))
			samples = append(samples, map[string]interface{}{"subcarrier_index": sc, "mer_db": round1(mer)})
		}
		out = append(out, map[string]interface{}{
			"channel_id":         id,
			"average_mer_db":     between(r, 38, 42),
			"min_mer_db":         between(r, 32, 36),
			"max_mer_db":         between(r, 44, 48),
			"std_dev_mer_db":     between(r, 1, 3),
			"subcarrier_count":   subcarriers,
			"subcarrier_samples": samples,
		})
	}
	resp := reply(m, map[string]interface{}{"rxmer_measurements": out})
	resp["timestamp"] = time.Now().Format(time.RFC3339)
	return resp
}

// Spectrum returns 200 one-MHz points from 5 MHz with carriers in the
// upstream and downstream bands.
func Spectrum(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	r := rng(mac)
	const start, step = 5_000_000, 1_000_000
	var points []map[string]interface{}
	for f := start; len(points) < 200; f += step {
		amp := -50.0
		switch {
		case f >= 54_000_000 && f <= 860_000_000:
			if f%6_000_000 < 1_000_000 {
				amp = between(r, -10, 5)
			} else {
				amp = between(r, -45, -35)
			}
		case f <= 42_000_000:
			if f%3_200_000 < 1_000_000 {
				amp = between(r, 35, 50)
			} else {
				amp = between(r, -50, -40)
			}
		}
		points = append(points, map[string]interface{}{"frequency_hz": f, "amplitude_dbmv": amp})
	}
	resp := reply(m, map[string]interface{}{
		"start_frequency_hz": start,
		"end_frequency_hz":   1_218_000_000,
		"resolution_hz":      step,
		"spectrum_points":    points,
	})
	resp["timestamp"] = time.Now().Format(time.RFC3339)
	return resp
}

func FECSummary(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	r := rng(mac)
	return reply(m, map[string]interface{}{
		"channel_id":              159,
		"total_codewords":         1_000_000 + r.IntN(9_000_000),
		"correctable_codewords":   100 + r.IntN(900),
		"uncorrectable_codewords": r.IntN(11),
		"ber_pre_ldpc":            1e-6 + r.Float64()*(1e-4-1e-6),
		"ber_post_ldpc":           1e-10 + r.Float64()*(1e-8-1e-10),
	})
}

var eventTypes = [][2]string{
	{"notice", "DHCP RENEW SUCCESS"},
	{"notice", "Time of day set from NTP"},
	{"warning", "No Ranging Response received"},
	{"notice", "Ranging Successful"},
	{"error", "T3 timeout"},
	{"notice", "DOCSIS 3.1 Registration Complete"},
	{"warning", "MDD message lost"},
	{"notice", "REG-RSP-MP Complete"},
	{"critical", "No UCD from CMTS"},
	{"notice", "Downstream Channel Acquisition"},
}

// EventLog returns 15 events, newest first.
func EventLog(mac string) Response {
	m, ok := ModemByMAC(mac)
	if !ok {
		return NotFound()
	}
	r := rng(mac)
	now := time.Now()
	type event struct {
		at   time.Time
		data map[string]interface{}
	}
	events := make([]event, 15)
	for i := range events {
		e := eventTypes[r.IntN(len(eventTypes))]
		at := now.Add(-time.Duration(r.IntN(73)) * time.Hour)
		events[i] = event{at, map[string]interface{}{
			"event_id":  1000 + i,
			"timestamp": at.Format(time.RFC3339),
			"level":     e[0],
			"message":   e[1],
			"priority":  1 + r.IntN(7),
		}}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at.After(events[j].at) })
	list := make([]map[string]interface{}, len(events))
	for i, e := range events {
		list[i] = e.data
	}
	return reply(m, map[string]interface{}{"events": list})
}

func StartMultiRxMER(mac string, config map[string]interface{}) Response {
	return Response{
		"mac_address":  mac,
		"status":       "success",
		"operation_id": uuid.NewString()[:8],
		"message":      "Multi-RxMER capture started",
		"config":       config,
	}
}

func MultiRxMERStatus(operationID string) Response {
	r := rng(operationID)
	state := "running"
	remaining := r.IntN(301)
	if r.IntN(4) == 0 {
		state, remaining = "completed", 0
	}
	return Response{
		"operation_id":   operationID,
		"status":         "success",
		"state":          state,
		"collected":      1 + r.IntN(10),
		"time_remaining": remaining,
	}
}

// CMTSModems lists the canned modems in the shape agent discovery returns.
func CMTSModems(cmtsIP string) Response {
	var name string
	for _, c := range cmtsList {
		if c.IP == cmtsIP {
			name = c.Name
		}
	}
	list := []map[string]interface{}{}
	for _, m := range modems {
		if name != "" && m.CMTS != name {
			continue
		}
		list = append(list, map[string]interface{}{
			"mac_address":    m.MACAddress,
			"ip_address":     m.IPAddress,
			"status":         m.Status,
			"docsis_version": m.DocsisVersion,
			"vendor":         m.Vendor,
			"model":          m.Model,
			"interface":      m.CMTSInterface,
		})
	}
	return Response{"success": true, "cmts_ip": cmtsIP, "count": len(list), "modems": list, "mock": true}
}
