// Package pnm drives CMTS-side PNM tests (UTSC and upstream OFDMA RxMER)
// and the CMTS table walks used for modem and upstream port discovery.
package pnm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/svdleer/PyPNMGui/common/docsis"
	"github.com/svdleer/PyPNMGui/common/snmp"
)

// UtscCfgDestinationIndex selects the pre-provisioned bulk data
// destination (TFTP server) on the CMTS.
const UtscCfgDestinationIndex = docsis.UtscCfgTable + ".24"

// ErrMeasurementFailed is returned by the Wait helpers when the CMTS
// reports MeasStatus error.
var ErrMeasurementFailed = errors.New("measurement failed on CMTS")

// CMTS issues PNM requests against one CMTS.
type CMTS struct {
	client snmp.Client
	target snmp.Target
}

// NewCMTS binds client to target. A zero Timeout gets 10 s.
func NewCMTS(client snmp.Client, target snmp.Target) *CMTS {
	if target.Timeout <= 0 {
		target.Timeout = 10 * time.Second
	}
	return &CMTS{client: client, target: target}
}

// Target returns the SNMP target the CMTS was bound to.
func (c *CMTS) Target() snmp.Target { return c.target }

func utscIndex(rfPort int) string {
	return strconv.Itoa(rfPort) + ".1"
}

// set writes pdus one at a time; several CMTS platforms reject
// multi-varbind SETs on the PNM tables.
func (c *CMTS) set(ctx context.Context, name string, p snmp.PDU) error {
	if err := c.client.Set(ctx, c.target, p); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// ConfigureUTSC writes the UTSC config row for cfg.RFPortIfIndex.
func (c *CMTS) ConfigureUTSC(ctx context.Context, cfg docsis.UtscConfig) error {
	if cfg.RFPortIfIndex <= 0 {
		return errors.New("rf_port_ifindex required")
	}
	idx := "." + utscIndex(cfg.RFPortIfIndex)

	type step struct {
		name string
		pdu  snmp.PDU
	}
	steps := []step{
		{"TriggerMode", snmp.PDU{OID: docsis.UtscCfgTriggerMode + idx, Type: "i", Value: cfg.TriggerMode}},
	}
	if cfg.TriggerMode == docsis.TriggerCMMAC {
		mac, err := docsis.MACBytes(cfg.CmMAC)
		if err != nil {
			return fmt.Errorf("cm_mac: %w", err)
		}
		steps = append(steps, step{"CmMacAddr", snmp.PDU{OID: docsis.UtscCfgCmMacAddr + idx, Type: "s", Value: mac}})
	}
	if cfg.LogicalChIfIndex > 0 {
		steps = append(steps, step{"LogicalChIfIndex", snmp.PDU{OID: docsis.UtscCfgLogicalChIfIdx + idx, Type: "i", Value: cfg.LogicalChIfIndex}})
	}
	steps = append(steps,
		step{"CenterFreq", snmp.PDU{OID: docsis.UtscCfgCenterFreq + idx, Type: "u", Value: cfg.CenterFreqHz}},
		step{"Span", snmp.PDU{OID: docsis.UtscCfgSpan + idx, Type: "u", Value: cfg.SpanHz}},
		step{"NumBins", snmp.PDU{OID: docsis.UtscCfgNumBins + idx, Type: "u", Value: cfg.NumBins}},
		step{"Filename", snmp.PDU{OID: docsis.UtscCfgFilename + idx, Type: "s", Value: cfg.Filename}},
		step{"Window", snmp.PDU{OID: docsis.UtscCfgWindow + idx, Type: "i", Value: cfg.Window}},
		step{"OutputFormat", snmp.PDU{OID: docsis.UtscCfgOutputFormat + idx, Type: "i", Value: cfg.OutputFormat}},
		step{"RepeatPeriod", snmp.PDU{OID: docsis.UtscCfgRepeatPeriod + idx, Type: "u", Value: cfg.RepeatPeriodMs * 1000}},
		step{"FreeRunDuration", snmp.PDU{OID: docsis.UtscCfgFreeRunDuration + idx, Type: "u", Value: cfg.FreeRunDurMs}},
	)
	// TriggerCount is notWritable in free-running mode on the E6000.
	if cfg.TriggerMode != docsis.TriggerFreeRunning && cfg.TriggerCount > 0 {
		steps = append(steps, step{"TriggerCount", snmp.PDU{OID: docsis.UtscCfgTriggerCount + idx, Type: "u", Value: cfg.TriggerCount}})
	}
	steps = append(steps, step{"DestinationIndex", snmp.PDU{OID: UtscCfgDestinationIndex + idx, Type: "u", Value: 1}})

	for _, s := range steps {
		if err := c.set(ctx, s.name, s.pdu); err != nil {
			return err
		}
	}
	return nil
}

// StartUTSC sets InitiateTest to true.
func (c *CMTS) StartUTSC(ctx context.Context, rfPort int) error {
	return c.set(ctx, "InitiateTest", snmp.PDU{OID: docsis.UtscCtrlInitiateTest + "." + utscIndex(rfPort), Type: "i", Value: true})
}

// StopUTSC sets InitiateTest to false, which aborts a free-running capture.
func (c *CMTS) StopUTSC(ctx context.Context, rfPort int) error {
	return c.set(ctx, "InitiateTest", snmp.PDU{OID: docsis.UtscCtrlInitiateTest + "." + utscIndex(rfPort), Type: "i", Value: false})
}

// UTSCStatus reads MeasStatus for the RF port.
func (c *CMTS) UTSCStatus(ctx context.Context, rfPort int) (docsis.MeasStatus, error) {
	return c.measStatus(ctx, docsis.UtscStatusMeasStatus+"."+utscIndex(rfPort))
}

func (c *CMTS) measStatus(ctx context.Context, oid string) (docsis.MeasStatus, error) {
	vars, err := c.client.Get(ctx, c.target, oid)
	if err != nil {
		return 0, err
	}
	if len(vars) == 0 {
		return 0, fmt.Errorf("%s: %w", oid, snmp.ErrNoSuchObject)
	}
	n, ok := vars[0].Int()
	if !ok {
		return 0, fmt.Errorf("%s: unexpected %s value", oid, vars[0].Type)
	}
	return docsis.MeasStatus(n), nil
}

// UsRxMERRequest starts an upstream OFDMA RxMER measurement for one modem.
type UsRxMERRequest struct {
	OfdmaIfIndex int
	CmMAC        string
	PreEq        bool
	NumAvgs      int
	Filename     string
}

// StartUsRxMER writes the US RxMER row and enables it. Filename and CM MAC
// go first since the CMTS validates them when Enable flips.
func (c *CMTS) StartUsRxMER(ctx context.Context, req UsRxMERRequest) error {
	if req.OfdmaIfIndex <= 0 {
		return errors.New("ofdma_ifindex required")
	}
	mac, err := docsis.MACBytes(req.CmMAC)
	if err != nil {
		return fmt.Errorf("cm_mac_address: %w", err)
	}
	if req.NumAvgs <= 0 {
		req.NumAvgs = 1
	}
	idx := "." + strconv.Itoa(req.OfdmaIfIndex)
	steps := []struct {
		name string
		pdu  snmp.PDU
	}{
		{"Filename", snmp.PDU{OID: docsis.UsRxMerFilename + idx, Type: "s", Value: req.Filename}},
		{"CmMac", snmp.PDU{OID: docsis.UsRxMerCmMac + idx, Type: "s", Value: mac}},
		{"PreEq", snmp.PDU{OID: docsis.UsRxMerPreEq + idx, Type: "i", Value: req.PreEq}},
		{"NumAvgs", snmp.PDU{OID: docsis.UsRxMerNumAvgs + idx, Type: "u", Value: req.NumAvgs}},
		{"Enable", snmp.PDU{OID: docsis.UsRxMerEnable + idx, Type: "i", Value: true}},
	}
	for _, s := range steps {
		if err := c.set(ctx, s.name, s.pdu); err != nil {
			return err
		}
	}
	return nil
}

// UsRxMERStatus reads MeasStatus for the OFDMA channel.
func (c *CMTS) UsRxMERStatus(ctx context.Context, ofdmaIfIndex int) (docsis.MeasStatus, error) {
	return c.measStatus(ctx, docsis.UsRxMerMeasStatus+"."+strconv.Itoa(ofdmaIfIndex))
}

// WaitUTSC polls the UTSC status until sampleReady, error or ctx ends.
func (c *CMTS) WaitUTSC(ctx context.Context, rfPort int, interval time.Duration) (docsis.MeasStatus, error) {
	return c.wait(ctx, interval, func() (docsis.MeasStatus, error) { return c.UTSCStatus(ctx, rfPort) })
}

// WaitUsRxMER polls the US RxMER status until sampleReady, error or ctx ends.
func (c *CMTS) WaitUsRxMER(ctx context.Context, ofdmaIfIndex int, interval time.Duration) (docsis.MeasStatus, error) {
	return c.wait(ctx, interval, func() (docsis.MeasStatus, error) { return c.UsRxMERStatus(ctx, ofdmaIfIndex) })
}

func (c *CMTS) wait(ctx context.Context, interval time.Duration, poll func() (docsis.MeasStatus, error)) (docsis.MeasStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := poll()
		if err != nil {
			return 0, err
		}
		switch st {
		case docsis.MeasSampleReady:
			return st, nil
		case docsis.MeasError, docsis.MeasResourceUnavailable:
			return st, fmt.Errorf("%w: %s", ErrMeasurementFailed, st)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
