package utsc

import (
	"strings"
	"testing"

	"github.com/svdleer/PyPNMGui/common/docsis"
)

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func TestValidateAcceptsTypicalCapture(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.CenterFreqHz = 50_000_000
	v := Validate(p)
	if !v.IsValid {
		t.Fatalf("errors = %v", v.Errors)
	}
	if len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "ignored in FreeRunning mode") {
		t.Errorf("warnings = %v", v.Warnings)
	}
	d := v.Parameters
	if d.FreqStartMHz != 10 || d.FreqEndMHz != 90 || d.FreqResolutionKHz != 100 {
		t.Errorf("derived = %+v", d)
	}
}

func TestValidateSpanBelowZero(t *testing.T) {
	t.Parallel()

	v := Validate(DefaultParams())
	if v.IsValid {
		t.Fatal("30 MHz centre with 80 MHz span starts below 0 Hz")
	}
	if v.Errors[0] != "Span extends below 0 Hz (start: -10.0 MHz)" {
		t.Errorf("error = %q", v.Errors[0])
	}
}

func TestValidateRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Params)
		want   string
	}{
		{"centre too low", func(p *Params) { p.CenterFreqHz = 1_000_000 }, "Center frequency 1.0 MHz is below minimum 5.0 MHz"},
		{"centre too high", func(p *Params) { p.CenterFreqHz = 250_000_000 }, "Center frequency 250.0 MHz exceeds maximum 200.0 MHz"},
		{"unsupported span", func(p *Params) { p.SpanHz = 85_000_000 }, "Span 85.0 MHz not supported by E6000. Supported values: [40.0, 80.0, 160.0, 320.0] MHz"},
		{"narrowband centre", func(p *Params) { p.CenterFreqHz = 150_000_000; p.SpanHz = 40_000_000 }, "Center frequency 150.0 MHz exceeds max 102.0 MHz for 40.0 MHz span"},
		{"bins", func(p *Params) { p.NumBins = 1024 }, "Number of bins 1024 not supported by E6000. Supported values: [200, 400, 800, 1600, 3200]"},
		{"repeat", func(p *Params) { p.RepeatPeriodMs = 2000 }, "Repeat period 2000ms exceeds E6000 maximum of 1000ms (1 second)"},
		{"freerun", func(p *Params) { p.FreeRunDurationMs = 700_000 }, "Free-run duration 700000ms exceeds maximum 600000ms (10 minutes)"},
		{"trigger count", func(p *Params) { p.TriggerMode = docsis.TriggerCMMAC; p.TriggerCount = 11 }, "Trigger count 11 exceeds E6000 maximum of 10"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultParams()
			p.CenterFreqHz = 50_000_000
			tt.modify(&p)
			v := Validate(p)
			if v.IsValid {
				t.Fatal("expected invalid")
			}
			found := false
			for _, e := range v.Errors {
				if e == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %q, want %q", v.Errors, tt.want)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.CenterFreqHz = 50_000_000
	p.NumBins = 200
	v := Validate(p)
	if !v.IsValid {
		t.Fatalf("errors = %v", v.Errors)
	}
	if !hasPrefix(v.Warnings, "Bin count 200 is valid but not standard. Closest standard value: 256") {
		t.Errorf("missing bin warning: %v", v.Warnings)
	}
	if !hasPrefix(v.Warnings, "Frequency resolution 400.0 kHz/bin may be too coarse") {
		t.Errorf("missing coarse warning: %v", v.Warnings)
	}

	p.NumBins = 3200
	p.SpanHz = 40_000_000
	p.TriggerMode = docsis.TriggerCMMAC
	p.TriggerCount = 5
	v = Validate(p)
	if len(v.Warnings) != 0 {
		t.Errorf("12.5 kHz/bin should not warn: %v", v.Warnings)
	}
}
