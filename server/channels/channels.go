// Package channels turns PyPNM channel statistics into display rows.
package channels

import (
	"math"
	"strconv"
	"strings"
)

// ncpProfile marks the OFDM NCP (next codeword pointer) pseudo profile.
const ncpProfile = 255

type SCQAM struct {
	ChannelID    interface{} `json:"channel_id"`
	Frequency    float64     `json:"frequency"`
	FrequencyMHz float64     `json:"frequency_mhz"`
	Modulation   interface{} `json:"modulation"`
	Power        interface{} `json:"power"`
	SNR          interface{} `json:"snr"`
}

type OFDM struct {
	ChannelID            interface{} `json:"channel_id"`
	Frequency            float64     `json:"frequency"`
	FrequencyMHz         *float64    `json:"frequency_mhz"`
	PLCFreqMHz           *float64    `json:"plc_freq_mhz"`
	BandwidthMHz         *float64    `json:"bandwidth_mhz"`
	NumSubcarriers       int         `json:"num_subcarriers"`
	SubcarrierSpacingKHz *float64    `json:"subcarrier_spacing_khz"`
	PowerDBmV            *float64    `json:"power_dbmv"`
	MERdB                *float64    `json:"mer_db"`
	Modulation           interface{} `json:"modulation"`
	Profiles             []int       `json:"profiles"`
	IsPartial            bool        `json:"is_partial"`
	NCPProfile           bool        `json:"ncp_profile"`
	ActiveProfiles       int         `json:"active_profiles"`
}

type ATDMA struct {
	ChannelID    interface{} `json:"channel_id"`
	Frequency    float64     `json:"frequency"`
	FrequencyMHz float64     `json:"frequency_mhz"`
	Modulation   interface{} `json:"modulation"`
	Power        interface{} `json:"power"`
}

type OFDMA struct {
	ChannelID      interface{} `json:"channel_id"`
	Frequency      float64     `json:"frequency"`
	FrequencyMHz   float64     `json:"frequency_mhz"`
	Bandwidth      *float64    `json:"bandwidth"`
	BandwidthMHz   *float64    `json:"bandwidth_mhz"`
	NumSubcarriers int         `json:"num_subcarriers"`
	TxPower        interface{} `json:"tx_power"`
	Profiles       []int       `json:"profiles"`
}

// Group is one channel family in the channel-stats response.
type Group struct {
	Type     string      `json:"type"`
	Channels interface{} `json:"channels"`
	Count    int         `json:"count"`
}

// entries returns the per-channel maps of a PyPNM stats response. Anything
// other than status 0 with a list of results yields nothing.
func entries(data map[string]interface{}) []channelEntry {
	if !statusOK(data) {
		return nil
	}
	list, ok := data["results"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]channelEntry, 0, len(list))
	for _, raw := range list {
		ch, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		entry := ch
		if e, ok := ch["entry"].(map[string]interface{}); ok {
			entry = e
		}
		out = append(out, channelEntry{outer: ch, entry: entry})
	}
	return out
}

type channelEntry struct {
	outer map[string]interface{}
	entry map[string]interface{}
}

// first returns the first present key of the entry.
func (c channelEntry) first(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := c.entry[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func (c channelEntry) number(def float64, keys ...string) float64 {
	v, ok := c.first(keys...)
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f
}

func (c channelEntry) value(keys ...string) interface{} {
	v, _ := c.first(keys...)
	return v
}

func (c channelEntry) channelID(keys ...string) interface{} {
	if v, ok := c.outer["channel_id"]; ok {
		return v
	}
	return c.value(keys...)
}

func statusOK(data map[string]interface{}) bool {
	f, ok := toFloat(data["status"])
	return ok && f == 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func ptr(v float64) *float64 { return &v }

// mhz converts Hz above 1000 to MHz; smaller values are assumed to be MHz already.
func mhz(freq float64) float64 {
	if freq > 1000 {
		return round1(freq / 1e6)
	}
	return freq
}

// tenths scales values reported in tenths of a unit.
func tenths(v float64) float64 {
	if v != 0 && math.Abs(v) > 100 {
		return v / 10
	}
	return v
}

// parseProfiles accepts "0,1,2", [0,1] or [{"profileId":0}]. When skipNCP
// is set profile 255 is left out of the list. The second return reports
// whether 255 was present.
func parseProfiles(raw interface{}, skipNCP bool) ([]int, bool) {
	profiles := []int{}
	hasNCP := false
	switch v := raw.(type) {
	case string:
		for _, p := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && n >= 0 {
				profiles = append(profiles, n)
			}
		}
	case []interface{}:
		for _, p := range v {
			var id float64
			var ok bool
			if m, isMap := p.(map[string]interface{}); isMap {
				if pid, found := m["profileId"]; found {
					id, ok = toFloat(pid)
				} else {
					id, ok = toFloat(m["profile_id"])
				}
			} else {
				id, ok = toFloat(p)
				if ok && id != math.Trunc(id) {
					ok = false
				}
			}
			if !ok {
				continue
			}
			if int(id) == ncpProfile {
				hasNCP = true
				if skipNCP {
					continue
				}
			}
			profiles = append(profiles, int(id))
		}
	}
	return profiles, hasNCP
}

// SCQAMRows normalises downstream SC-QAM statistics.
func SCQAMRows(data map[string]interface{}) []SCQAM {
	rows := []SCQAM{}
	for _, ch := range entries(data) {
		freq := ch.number(0, "docsIfDownChannelFrequency", "frequency")
		rows = append(rows, SCQAM{
			ChannelID:    ch.channelID("docsIfDownChannelId", "ifIndex"),
			Frequency:    freq,
			FrequencyMHz: mhz(freq),
			Modulation:   valueOr(ch.value("docsIfDownChannelModulation", "modulation"), ""),
			Power:        ch.value("docsIfDownChannelPower", "power"),
			SNR:          ch.value("docsIf3CmStatusUsSnr", "rxMer", "snr"),
		})
	}
	return rows
}

// OFDMRows normalises downstream OFDM statistics including profile data.
func OFDMRows(data map[string]interface{}) []OFDM {
	rows := []OFDM{}
	for _, ch := range entries(data) {
		freq := ch.number(0, "docsIf31CmDsOfdmChanSubcarrierZeroFreq", "docsIf31CmDsOfdmChannelLowerFrequency", "lowerFrequency", "frequency")
		plc := ch.number(0, "docsIf31CmDsOfdmChanPlcFreq")
		numSC := int(ch.number(0, "docsIf31CmDsOfdmChanNumActiveSubcarriers"))
		spacing := ch.number(50000, "docsIf31CmDsOfdmChanSubcarrierSpacing")
		power := tenths(ch.number(0, "docsIf31CmDsOfdmChannelPower", "power"))
		mer := tenths(ch.number(0, "docsIf31CmDsOfdmChanMer", "docsIf31CmDsOfdmChanRxMer", "mer", "rxMer"))

		profiles, hasNCP := parseProfiles(ch.value("docsIf31CmDsOfdmProfileStatsProfileList", "profiles", "activeProfiles"), true)
		partial, _ := ch.value("docsIf31CmDsOfdmChanIsPartialSvc", "isPartialService", "partialService").(bool)

		row := OFDM{
			ChannelID:      ch.channelID("docsIf31CmDsOfdmChanChannelId", "channelId"),
			Frequency:      freq,
			NumSubcarriers: numSC,
			Modulation:     ch.value("docsIf31CmDsOfdmChanModulationFormat", "modulationFormat", "modulation"),
			Profiles:       profiles,
			IsPartial:      partial,
			NCPProfile:     hasNCP,
			ActiveProfiles: len(profiles),
		}
		if freq != 0 {
			row.FrequencyMHz = ptr(round1(freq / 1e6))
		}
		if plc != 0 {
			row.PLCFreqMHz = ptr(round1(plc / 1e6))
		}
		if numSC > 0 {
			row.BandwidthMHz = ptr(round1(float64(numSC) * spacing / 1e6))
		}
		if spacing != 0 {
			row.SubcarrierSpacingKHz = ptr(spacing / 1000)
		}
		if power != 0 {
			row.PowerDBmV = ptr(round1(power))
		}
		if mer != 0 {
			row.MERdB = ptr(round1(mer))
		}
		rows = append(rows, row)
	}
	return rows
}

// ATDMARows normalises upstream ATDMA statistics.
func ATDMARows(data map[string]interface{}) []ATDMA {
	rows := []ATDMA{}
	for _, ch := range entries(data) {
		freq := ch.number(0, "docsIfUpChannelFrequency", "frequency")
		rows = append(rows, ATDMA{
			ChannelID:    ch.channelID("docsIfUpChannelId", "ifIndex"),
			Frequency:    freq,
			FrequencyMHz: mhz(freq),
			Modulation:   valueOr(ch.value("docsIfUpChannelType", "channelType", "modulation"), ""),
			Power:        ch.value("docsIf3CmStatusUsTxPower", "txPower", "power"),
		})
	}
	return rows
}

// OFDMARows normalises upstream OFDMA statistics. Subcarrier spacing is
// reported in kHz on this table.
func OFDMARows(data map[string]interface{}) []OFDMA {
	rows := []OFDMA{}
	for _, ch := range entries(data) {
		freq := ch.number(0, "docsIf31CmUsOfdmaChanSubcarrierZeroFreq", "docsIf31CmUsOfdmaChannelConfiguredCenterFrequency",
			"configuredCenterFrequency", "centerFrequency", "frequency")
		numSC := int(ch.number(0, "docsIf31CmUsOfdmaChanNumActiveSubcarriers"))
		spacingKHz := ch.number(50, "docsIf31CmUsOfdmaChanSubcarrierSpacing")
		profiles, _ := parseProfiles(ch.value("docsIf31CmUsOfdmaProfileStatsList", "activeProfiles", "profiles"), false)

		row := OFDMA{
			ChannelID:      ch.channelID("docsIf31CmUsOfdmaChanChannelId", "channelId"),
			Frequency:      freq,
			FrequencyMHz:   mhz(freq),
			NumSubcarriers: numSC,
			TxPower:        ch.value("docsIf31CmUsOfdmaChanTxPower"),
			Profiles:       profiles,
		}
		if numSC > 0 {
			bw := round1(float64(numSC) * spacingKHz * 1000 / 1e6)
			if bw != 0 {
				row.Bandwidth = ptr(bw)
				row.BandwidthMHz = ptr(bw)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func valueOr(v interface{}, def interface{}) interface{} {
	if v == nil {
		return def
	}
	return v
}

// Stats is the channel-stats response body.
type Stats struct {
	MACAddress string           `json:"mac_address"`
	Status     int              `json:"status"`
	Downstream map[string]Group `json:"downstream"`
	Upstream   map[string]Group `json:"upstream"`
}

// Build assembles the four channel families into one response.
func Build(mac string, dsSCQAM, dsOFDM, usATDMA, usOFDMA map[string]interface{}) Stats {
	scqam := SCQAMRows(dsSCQAM)
	ofdm := OFDMRows(dsOFDM)
	atdma := ATDMARows(usATDMA)
	ofdma := OFDMARows(usOFDMA)
	return Stats{
		MACAddress: mac,
		Downstream: map[string]Group{
			"scqam": {Type: "SC-QAM (DOCSIS 3.0)", Channels: scqam, Count: len(scqam)},
			"ofdm":  {Type: "OFDM (DOCSIS 3.1)", Channels: ofdm, Count: len(ofdm)},
		},
		Upstream: map[string]Group{
			"atdma": {Type: "ATDMA (DOCSIS 3.0)", Channels: atdma, Count: len(atdma)},
			"ofdma": {Type: "OFDMA (DOCSIS 3.1)", Channels: ofdma, Count: len(ofdma)},
		},
	}
}
