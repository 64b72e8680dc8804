package utsc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SpectrumHeaderLen is the PNM file header preceding UTSC FFT samples.
	SpectrumHeaderLen = 328
	// RxMERHeaderLen is the header preceding upstream OFDMA RxMER values.
	RxMERHeaderLen = 297
)

// ErrShortFile is returned when a capture file is smaller than its header
// plus the expected payload.
var ErrShortFile = errors.New("capture file too short")

// ParseSpectrumFile decodes numBins big-endian int16 samples in tenths of
// dBmV that follow the header.
func ParseSpectrumFile(data []byte, numBins int) ([]float64, error) {
	if numBins <= 0 {
		return nil, fmt.Errorf("invalid bin count %d", numBins)
	}
	need := SpectrumHeaderLen + numBins*2
	if len(data) < need {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrShortFile, len(data), need)
	}
	payload := data[SpectrumHeaderLen:need]
	out := make([]float64, numBins)
	for i := range out {
		out[i] = float64(int16(binary.BigEndian.Uint16(payload[i*2:]))) / 10.0
	}
	return out, nil
}

// RxMER is a decoded upstream RxMER capture.
type RxMER struct {
	Values  []float64 `json:"values"`
	Average float64   `json:"average"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
}

// ParseRxMERFile decodes one unsigned byte per subcarrier in quarter-dB
// steps. 0xFF marks an excluded subcarrier and is skipped.
func ParseRxMERFile(data []byte) (*RxMER, error) {
	if len(data) < RxMERHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrShortFile, len(data), RxMERHeaderLen)
	}
	res := &RxMER{Values: []float64{}}
	var sum float64
	for _, b := range data[RxMERHeaderLen:] {
		if b == 0xFF {
			continue
		}
		v := float64(b) / 4.0
		if len(res.Values) == 0 || v < res.Min {
			res.Min = v
		}
		if len(res.Values) == 0 || v > res.Max {
			res.Max = v
		}
		res.Values = append(res.Values, v)
		sum += v
	}
	if n := len(res.Values); n > 0 {
		res.Average = sum / float64(n)
	}
	return res, nil
}
