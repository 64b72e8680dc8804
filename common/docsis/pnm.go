package docsis

// UTSC trigger modes (docsPnmCmtsUtscCfgTriggerMode).
const (
	TriggerOther       = 1
	TriggerFreeRunning = 2
	TriggerMiniSlot    = 3
	TriggerSID         = 4
	TriggerIdleSID     = 5
	TriggerCMMAC       = 6
)

// UTSC output formats.
const (
	OutputTimeIQ       = 1
	OutputFFTPower     = 2
	OutputFFTComplex   = 3
	OutputFFTIQ        = 4
	OutputFFTAmplitude = 5
)

// UTSC FFT windows.
const (
	WindowOther          = 1
	WindowRectangular    = 2
	WindowHann           = 3
	WindowBlackmanHarris = 4
	WindowHamming        = 5
)

// MeasStatus is the DOCS-PNM MeasStatusType.
type MeasStatus int

const (
	MeasOther               MeasStatus = 1
	MeasInactive            MeasStatus = 2
	MeasBusy                MeasStatus = 3
	MeasSampleReady         MeasStatus = 4
	MeasError               MeasStatus = 5
	MeasResourceUnavailable MeasStatus = 6
	MeasSampleTruncated     MeasStatus = 7
)

func (s MeasStatus) String() string {
	switch s {
	case MeasOther:
		return "other"
	case MeasInactive:
		return "inactive"
	case MeasBusy:
		return "busy"
	case MeasSampleReady:
		return "sampleReady"
	case MeasError:
		return "error"
	case MeasResourceUnavailable:
		return "resourceUnavailable"
	case MeasSampleTruncated:
		return "sampleTruncated"
	}
	return "unknown"
}

// docsPnmCmtsMib subtrees.
const (
	PnmCmtsMib = "1.3.6.1.4.1.4491.2.1.27.1"

	UtscCfgTable           = PnmCmtsMib + ".3.10.2.1"
	UtscCfgLogicalChIfIdx  = UtscCfgTable + ".2"
	UtscCfgTriggerMode     = UtscCfgTable + ".3"
	UtscCfgCmMacAddr       = UtscCfgTable + ".6"
	UtscCfgCenterFreq      = UtscCfgTable + ".8"
	UtscCfgSpan            = UtscCfgTable + ".9"
	UtscCfgNumBins         = UtscCfgTable + ".10"
	UtscCfgFilename        = UtscCfgTable + ".12"
	UtscCfgWindow          = UtscCfgTable + ".16"
	UtscCfgOutputFormat    = UtscCfgTable + ".17"
	UtscCfgRepeatPeriod    = UtscCfgTable + ".18" // microseconds
	UtscCfgFreeRunDuration = UtscCfgTable + ".19" // milliseconds
	UtscCfgTriggerCount    = UtscCfgTable + ".20"

	// UTSC rows are indexed by <rf port ifIndex>.<cfg index>.
	UtscCtrlInitiateTest = PnmCmtsMib + ".3.10.3.1.1"
	UtscStatusMeasStatus = PnmCmtsMib + ".3.10.4.1.1"

	UsRxMerTable      = PnmCmtsMib + ".3.8.1"
	UsRxMerEnable     = UsRxMerTable + ".1"
	UsRxMerPreEq      = UsRxMerTable + ".2"
	UsRxMerNumAvgs    = UsRxMerTable + ".3"
	UsRxMerMeasStatus = UsRxMerTable + ".4"
	UsRxMerFilename   = UsRxMerTable + ".5"
	UsRxMerCmMac      = UsRxMerTable + ".6"
)

// CMTS cable-modem tables walked for modem discovery.
const (
	OIDD3CmMac           = "1.3.6.1.4.1.4491.2.1.20.1.3.1.2" // docsIf3CmtsCmRegStatusMacAddr
	OIDCmStatusMac       = "1.3.6.1.2.1.10.127.1.3.3.1.2"    // docsIfCmtsCmStatusMacAddress
	OIDCmStatusIP        = "1.3.6.1.2.1.10.127.1.3.3.1.3"    // docsIfCmtsCmStatusIpAddress
	OIDCmStatusValue     = "1.3.6.1.2.1.10.127.1.3.3.1.9"    // docsIfCmtsCmStatusValue
	OIDD31MaxUsableDsHz  = "1.3.6.1.4.1.4491.2.1.28.1.3.1.7" // docsIf31CmtsCmRegStatusMaxUsableDsFreq
	OIDCmUsStatusModType = "1.3.6.1.4.1.4491.2.1.20.1.4.1.2" // docsIf3CmtsCmUsStatusModulationType, indexed cmIndex.chIfIndex

	OIDSysDescr = "1.3.6.1.2.1.1.1.0"
	OIDIfDescr  = "1.3.6.1.2.1.2.2.1.2"
	OIDIfType   = "1.3.6.1.2.1.2.2.1.3"
)

// IANA ifType values relevant to upstream port discovery.
const (
	IfTypeDocsCableUpstream = 129
	IfTypeDocsOfdmaUpstream = 278
)

// UtscConfig is a complete UTSC capture request for one RF port.
type UtscConfig struct {
	RFPortIfIndex    int    `json:"rf_port_ifindex"`
	TriggerMode      int    `json:"trigger_mode"`
	CmMAC            string `json:"cm_mac,omitempty"`
	LogicalChIfIndex int    `json:"logical_ch_ifindex,omitempty"`
	CenterFreqHz     int    `json:"center_freq_hz"`
	SpanHz           int    `json:"span_hz"`
	NumBins          int    `json:"num_bins"`
	Filename         string `json:"filename"`
	Window           int    `json:"window"`
	OutputFormat     int    `json:"output_format"`
	RepeatPeriodMs   int    `json:"repeat_period_ms"`
	FreeRunDurMs     int    `json:"freerun_duration_ms"`
	TriggerCount     int    `json:"trigger_count"`
}

// DefaultUtscConfig returns the free-running FFT power capture used by the
// dashboard.
func DefaultUtscConfig() UtscConfig {
	return UtscConfig{
		TriggerMode:    TriggerFreeRunning,
		CenterFreqHz:   30_000_000,
		SpanHz:         80_000_000,
		NumBins:        800,
		Filename:       "utsc_capture",
		Window:         WindowHann,
		OutputFormat:   OutputFFTPower,
		RepeatPeriodMs: 0,
		FreeRunDurMs:   1000,
		TriggerCount:   1,
	}
}
