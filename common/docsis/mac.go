// Package docsis holds the DOCSIS vocabulary shared by the GUI backend and
// the agent: MAC address forms, status and version decoders, vendor OUIs,
// sysDescr parsing and the CMTS PNM MIB.
package docsis

import (
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidMAC is returned for anything that is not 6 bytes of hex.
var ErrInvalidMAC = errors.New("invalid MAC address")

// NormalizeMAC accepts colon, dash, Cisco dotted or bare hex notation and
// returns the lowercase colon form (aa:bb:cc:dd:ee:ff).
func NormalizeMAC(s string) (string, error) {
	h := MACHex(s)
	if len(h) != 12 {
		return "", ErrInvalidMAC
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", ErrInvalidMAC
	}
	h = strings.ToLower(h)
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(h[i : i+2])
	}
	return b.String(), nil
}

// MACHex strips separators and uppercases, the form the CMTS MIB expects
// in SNMP SETs and the form PyPNM uses for capture file names.
func MACHex(s string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(s)))
}

// MACBytes returns the 6 raw bytes of a MAC address.
func MACBytes(s string) ([]byte, error) {
	h := MACHex(s)
	if len(h) != 12 {
		return nil, ErrInvalidMAC
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, ErrInvalidMAC
	}
	return b, nil
}

// MACFromBytes formats raw octets (as returned by an SNMP OctetString) as
// a lowercase colon MAC. Fewer than 6 bytes yields "".
func MACFromBytes(b []byte) string {
	if len(b) < 6 {
		return ""
	}
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i := 0; i < 6; i++ {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, digits[b[i]>>4], digits[b[i]&0x0f])
	}
	return string(out)
}
