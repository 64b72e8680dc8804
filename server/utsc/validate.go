// Package utsc validates upstream triggered spectrum capture parameters,
// decodes capture files and drives live spectrum streams.
package utsc

import (
	"fmt"
	"strings"

	"github.com/svdleer/PyPNMGui/common/docsis"
)

// Limits of the CMTS UTSC implementation (CommScope E6000 class).
const (
	MinCenterFreqHz = 5_000_000
	MaxCenterFreqHz = 200_000_000

	MinRepeatPeriodMs = 0
	MaxRepeatPeriodMs = 1000

	MinFreeRunDurationMs = 0
	MaxFreeRunDurationMs = 600_000

	MinTriggerCount = 1
	MaxTriggerCount = 10

	narrowbandMaxCenterHz = 102_000_000
	widebandMaxCenterHz   = 204_000_000
)

// SupportedSpansHz are the spans the CMTS accepts.
var SupportedSpansHz = []int{40_000_000, 80_000_000, 160_000_000, 320_000_000}

// SupportedNumBins are the FFT sizes the CMTS accepts.
var SupportedNumBins = []int{200, 400, 800, 1600, 3200}

// standardBinCounts are common FFT sizes; supported counts outside this
// list produce a warning.
var standardBinCounts = []int{64, 128, 256, 512, 800, 1024, 1600, 2048, 3200, 4096, 6400, 8192}

// Params are the user-supplied capture parameters.
type Params struct {
	CenterFreqHz      int `json:"center_freq_hz"`
	SpanHz            int `json:"span_hz"`
	NumBins           int `json:"num_bins"`
	TriggerMode       int `json:"trigger_mode"`
	RepeatPeriodMs    int `json:"repeat_period_ms"`
	FreeRunDurationMs int `json:"freerun_duration_ms"`
	TriggerCount      int `json:"trigger_count"`
}

// DefaultParams mirrors the defaults used when a field is omitted.
func DefaultParams() Params {
	return Params{
		CenterFreqHz:      30_000_000,
		SpanHz:            80_000_000,
		NumBins:           800,
		TriggerMode:       docsis.TriggerFreeRunning,
		RepeatPeriodMs:    1000,
		FreeRunDurationMs: 60_000,
		TriggerCount:      10,
	}
}

// Derived holds values computed from validated parameters.
type Derived struct {
	CenterFreqHz      int     `json:"center_freq_hz"`
	CenterFreqMHz     float64 `json:"center_freq_mhz"`
	SpanHz            int     `json:"span_hz"`
	SpanMHz           float64 `json:"span_mhz"`
	NumBins           int     `json:"num_bins"`
	FreqResolutionHz  float64 `json:"freq_resolution_hz"`
	FreqResolutionKHz float64 `json:"freq_resolution_khz"`
	FreqStartMHz      float64 `json:"freq_start_mhz"`
	FreqEndMHz        float64 `json:"freq_end_mhz"`
	TriggerMode       int     `json:"trigger_mode"`
	RepeatPeriodMs    int     `json:"repeat_period_ms"`
	FreeRunDurationMs int     `json:"freerun_duration_ms"`
	TriggerCount      int     `json:"trigger_count"`
}

// Validation is the result of Validate.
type Validation struct {
	IsValid    bool     `json:"is_valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Parameters Derived  `json:"parameters"`
}

func mhzf(hz float64) string { return fmt.Sprintf("%.1f", hz/1e6) }

func formatSpans() string {
	parts := make([]string, len(SupportedSpansHz))
	for i, s := range SupportedSpansHz {
		parts[i] = fmt.Sprintf("%.1f", float64(s)/1e6)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func checkCenter(center int) string {
	switch {
	case center < MinCenterFreqHz:
		return fmt.Sprintf("Center frequency %s MHz is below minimum %s MHz", mhzf(float64(center)), mhzf(MinCenterFreqHz))
	case center > MaxCenterFreqHz:
		return fmt.Sprintf("Center frequency %s MHz exceeds maximum %s MHz", mhzf(float64(center)), mhzf(MaxCenterFreqHz))
	}
	return ""
}

func checkSpan(span, center int) string {
	if !contains(SupportedSpansHz, span) {
		return fmt.Sprintf("Span %s MHz not supported by E6000. Supported values: %s MHz", mhzf(float64(span)), formatSpans())
	}
	start := float64(center) - float64(span)/2
	if start < 0 {
		return fmt.Sprintf("Span extends below 0 Hz (start: %s MHz)", mhzf(start))
	}
	maxCenter := narrowbandMaxCenterHz
	if span >= 80_000_000 {
		maxCenter = widebandMaxCenterHz
	}
	if center > maxCenter {
		return fmt.Sprintf("Center frequency %s MHz exceeds max %s MHz for %s MHz span", mhzf(float64(center)), mhzf(float64(maxCenter)), mhzf(float64(span)))
	}
	return ""
}

// checkBins returns (error, warning).
func checkBins(bins int) (string, string) {
	if !contains(SupportedNumBins, bins) {
		return fmt.Sprintf("Number of bins %d not supported by E6000. Supported values: %s", bins, formatInts(SupportedNumBins)), ""
	}
	if !contains(standardBinCounts, bins) {
		closest := standardBinCounts[0]
		for _, c := range standardBinCounts[1:] {
			if absInt(c-bins) < absInt(closest-bins) {
				closest = c
			}
		}
		return "", fmt.Sprintf("Bin count %d is valid but not standard. Closest standard value: %d", bins, closest)
	}
	return "", ""
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func checkRepeat(ms int) string {
	switch {
	case ms < MinRepeatPeriodMs:
		return fmt.Sprintf("Repeat period %dms is below minimum %dms", ms, MinRepeatPeriodMs)
	case ms > MaxRepeatPeriodMs:
		return fmt.Sprintf("Repeat period %dms exceeds E6000 maximum of %dms (1 second)", ms, MaxRepeatPeriodMs)
	}
	return ""
}

func checkFreeRun(ms int) string {
	switch {
	case ms < MinFreeRunDurationMs:
		return fmt.Sprintf("Free-run duration %dms is below minimum %dms", ms, MinFreeRunDurationMs)
	case ms > MaxFreeRunDurationMs:
		return fmt.Sprintf("Free-run duration %dms exceeds maximum %dms (10 minutes)", ms, MaxFreeRunDurationMs)
	}
	return ""
}

// checkTriggerCount returns (error, warning).
func checkTriggerCount(count, mode int) (string, string) {
	if mode == docsis.TriggerFreeRunning {
		return "", "Trigger count is ignored in FreeRunning mode (uses freerun_duration instead)"
	}
	switch {
	case count < MinTriggerCount:
		return fmt.Sprintf("Trigger count %d is below minimum %d", count, MinTriggerCount), ""
	case count > MaxTriggerCount:
		return fmt.Sprintf("Trigger count %d exceeds E6000 maximum of %d", count, MaxTriggerCount), ""
	}
	return "", ""
}

// Validate checks every parameter and collects all errors and warnings.
func Validate(p Params) Validation {
	errs := []string{}
	warns := []string{}
	addErr := func(s string) {
		if s != "" {
			errs = append(errs, s)
		}
	}
	addWarn := func(s string) {
		if s != "" {
			warns = append(warns, s)
		}
	}

	addErr(checkCenter(p.CenterFreqHz))
	addErr(checkSpan(p.SpanHz, p.CenterFreqHz))
	e, w := checkBins(p.NumBins)
	addErr(e)
	addWarn(w)
	addErr(checkRepeat(p.RepeatPeriodMs))
	addErr(checkFreeRun(p.FreeRunDurationMs))
	e, w = checkTriggerCount(p.TriggerCount, p.TriggerMode)
	addErr(e)
	addWarn(w)

	d := Derived{
		CenterFreqHz:      p.CenterFreqHz,
		CenterFreqMHz:     float64(p.CenterFreqHz) / 1e6,
		SpanHz:            p.SpanHz,
		SpanMHz:           float64(p.SpanHz) / 1e6,
		NumBins:           p.NumBins,
		FreqStartMHz:      (float64(p.CenterFreqHz) - float64(p.SpanHz)/2) / 1e6,
		FreqEndMHz:        (float64(p.CenterFreqHz) + float64(p.SpanHz)/2) / 1e6,
		TriggerMode:       p.TriggerMode,
		RepeatPeriodMs:    p.RepeatPeriodMs,
		FreeRunDurationMs: p.FreeRunDurationMs,
		TriggerCount:      p.TriggerCount,
	}
	if p.NumBins > 0 {
		d.FreqResolutionHz = float64(p.SpanHz) / float64(p.NumBins)
		d.FreqResolutionKHz = d.FreqResolutionHz / 1000
	}

	if p.SpanHz > 0 && p.NumBins > 0 {
		khz := d.FreqResolutionKHz
		switch {
		case khz > 100:
			warns = append(warns, fmt.Sprintf("Frequency resolution %.1f kHz/bin may be too coarse. Consider increasing num_bins for better resolution.", khz))
		case khz < 10:
			warns = append(warns, fmt.Sprintf("Frequency resolution %.1f kHz/bin is very fine. Consider decreasing num_bins if not needed.", khz))
		}
	}

	return Validation{IsValid: len(errs) == 0, Errors: errs, Warnings: warns, Parameters: d}
}

// Limits summarises the accepted ranges for the UI.
func Limits() map[string]interface{} {
	spans := make([]float64, len(SupportedSpansHz))
	for i, s := range SupportedSpansHz {
		spans[i] = float64(s) / 1e6
	}
	return map[string]interface{}{
		"frequency": map[string]interface{}{
			"min_center_freq_mhz": float64(MinCenterFreqHz) / 1e6,
			"max_center_freq_mhz": float64(MaxCenterFreqHz) / 1e6,
		},
		"span": map[string]interface{}{"supported_spans_mhz": spans},
		"bins": map[string]interface{}{"supported_bin_counts": SupportedNumBins},
		"timing": map[string]interface{}{
			"max_repeat_period_ms":    MaxRepeatPeriodMs,
			"max_freerun_duration_ms": MaxFreeRunDurationMs,
		},
		"trigger": map[string]interface{}{
			"min_trigger_count": MinTriggerCount,
			"max_trigger_count": MaxTriggerCount,
		},
	}
}
