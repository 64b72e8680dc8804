// Package snmp wraps gosnmp with a small, context-aware API shared by the
// agent and the server's direct data mode.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// ErrNoSuchObject is returned by Get when the agent has no value for an OID.
var ErrNoSuchObject = errors.New("no such object")

// Target identifies one SNMP agent and the credentials to use.
type Target struct {
	Host      string
	Port      uint16
	Community string
	// Version is "1", "2c" or "v2c". Empty means 2c.
	Version string
	Timeout time.Duration
	Retries int
}

// Variable is one decoded varbind.
type Variable struct {
	OID   string      `json:"oid"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// Int returns the value as an int64 when it is numeric.
func (v Variable) Int() (int64, bool) {
	switch n := v.Value.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// String returns the value formatted for display.
func (v Variable) String() string {
	return fmt.Sprint(v.Value)
}

// Bytes returns the raw octets of an OctetString value.
func (v Variable) Bytes() []byte {
	if b, ok := v.Value.([]byte); ok {
		return b
	}
	return nil
}

// Index returns the OID suffix after root, without a leading dot.
func (v Variable) Index(root string) string {
	return strings.TrimPrefix(strings.TrimPrefix(v.OID, strings.TrimPrefix(root, ".")), ".")
}

// PDU is one value to SET. Type follows net-snmp's snmpset letters:
// i (INTEGER), u (Unsigned32/Gauge32), s (string), x (hex string),
// a (IpAddress), t (TimeTicks), c (Counter32).
type PDU struct {
	OID   string
	Type  string
	Value interface{}
}

// Client performs SNMP operations. Tests substitute fakes.
type Client interface {
	Get(ctx context.Context, t Target, oids ...string) ([]Variable, error)
	Walk(ctx context.Context, t Target, root string) ([]Variable, error)
	BulkWalk(ctx context.Context, t Target, root string) ([]Variable, error)
	Set(ctx context.Context, t Target, pdus ...PDU) error
}

// GoSNMP is the production Client. Each call opens and closes its own
// UDP socket so one Client is safe for concurrent use.
type GoSNMP struct {
	MaxRepetitions uint32
}

// New returns a GoSNMP client with the bulk-walk defaults used for CMTS tables.
func New() *GoSNMP {
	return &GoSNMP{MaxRepetitions: 25}
}

// NewClient is the factory used by production code; tests replace it to
// inject fakes.
var NewClient = func() Client { return New() }

func (c *GoSNMP) session(ctx context.Context, t Target) (*gosnmp.GoSNMP, error) {
	if t.Host == "" {
		return nil, errors.New("target IP required")
	}
	version, err := ParseVersion(t.Version)
	if err != nil {
		return nil, err
	}
	port := t.Port
	if port == 0 {
		port = 161
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	g := &gosnmp.GoSNMP{
		Target:         t.Host,
		Port:           port,
		Community:      t.Community,
		Version:        version,
		Timeout:        timeout,
		Retries:        t.Retries,
		MaxRepetitions: c.MaxRepetitions,
		Context:        ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", t.Host, err)
	}
	return g, nil
}

func closeSession(g *gosnmp.GoSNMP) {
	if g != nil && g.Conn != nil {
		_ = g.Conn.Close()
	}
}

func (c *GoSNMP) Get(ctx context.Context, t Target, oids ...string) ([]Variable, error) {
	g, err := c.session(ctx, t)
	if err != nil {
		return nil, err
	}
	defer closeSession(g)

	pkt, err := g.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("snmp get %s: %w", t.Host, err)
	}
	if pkt.Error != gosnmp.NoError {
		return nil, fmt.Errorf("snmp get %s: %s", t.Host, pkt.Error)
	}
	out := make([]Variable, 0, len(pkt.Variables))
	for _, pdu := range pkt.Variables {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
			return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(pdu.Name, "."), ErrNoSuchObject)
		}
		out = append(out, decode(pdu))
	}
	return out, nil
}

func (c *GoSNMP) Walk(ctx context.Context, t Target, root string) ([]Variable, error) {
	return c.walk(ctx, t, root, false)
}

func (c *GoSNMP) BulkWalk(ctx context.Context, t Target, root string) ([]Variable, error) {
	return c.walk(ctx, t, root, true)
}

func (c *GoSNMP) walk(ctx context.Context, t Target, root string, bulk bool) ([]Variable, error) {
	g, err := c.session(ctx, t)
	if err != nil {
		return nil, err
	}
	defer closeSession(g)

	var out []Variable
	fn := func(pdu gosnmp.SnmpPDU) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out = append(out, decode(pdu))
		return nil
	}
	// SNMPv1 has no GETBULK.
	if bulk && g.Version != gosnmp.Version1 {
		err = g.BulkWalk(root, fn)
	} else {
		err = g.Walk(root, fn)
	}
	if err != nil {
		return out, fmt.Errorf("snmp walk %s %s: %w", t.Host, root, err)
	}
	return out, nil
}

func (c *GoSNMP) Set(ctx context.Context, t Target, pdus ...PDU) error {
	if len(pdus) == 0 {
		return nil
	}
	vars := make([]gosnmp.SnmpPDU, 0, len(pdus))
	for _, p := range pdus {
		v, err := encode(p)
		if err != nil {
			return err
		}
		vars = append(vars, v)
	}

	g, err := c.session(ctx, t)
	if err != nil {
		return err
	}
	defer closeSession(g)

	pkt, err := g.Set(vars)
	if err != nil {
		return fmt.Errorf("snmp set %s: %w", t.Host, err)
	}
	if pkt.Error != gosnmp.NoError {
		return fmt.Errorf("snmp set %s failed on %s: %s", t.Host, pdus[errorIndex(pkt, len(pdus))].OID, pkt.Error)
	}
	return nil
}

func errorIndex(pkt *gosnmp.SnmpPacket, n int) int {
	i := int(pkt.ErrorIndex) - 1
	if i < 0 || i >= n {
		return 0
	}
	return i
}

// ParseVersion maps "1", "v1", "2c", "v2c" (and empty) to gosnmp versions.
func ParseVersion(s string) (gosnmp.SnmpVersion, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v") {
	case "", "2", "2c":
		return gosnmp.Version2c, nil
	case "1":
		return gosnmp.Version1, nil
	}
	return 0, fmt.Errorf("unsupported SNMP version: %s", s)
}

func decode(pdu gosnmp.SnmpPDU) Variable {
	v := Variable{OID: strings.TrimPrefix(pdu.Name, "."), Type: pdu.Type.String()}
	switch pdu.Type {
	case gosnmp.OctetString:
		b, _ := pdu.Value.([]byte)
		v.Type = "OctetString"
		v.Value = b
	case gosnmp.Integer:
		v.Type = "Integer"
		v.Value = gosnmp.ToBigInt(pdu.Value).Int64()
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32, gosnmp.Counter64:
		v.Value = gosnmp.ToBigInt(pdu.Value).Uint64()
	case gosnmp.IPAddress:
		v.Type = "IpAddress"
		v.Value = fmt.Sprint(pdu.Value)
	case gosnmp.ObjectIdentifier:
		v.Type = "ObjectIdentifier"
		v.Value = strings.TrimPrefix(fmt.Sprint(pdu.Value), ".")
	case gosnmp.Null, gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		v.Value = nil
	default:
		v.Value = pdu.Value
	}
	return v
}

func encode(p PDU) (gosnmp.SnmpPDU, error) {
	out := gosnmp.SnmpPDU{Name: p.OID}
	switch p.Type {
	case "i", "":
		n, err := toInt64(p.Value)
		if err != nil {
			return out, fmt.Errorf("%s: %w", p.OID, err)
		}
		out.Type, out.Value = gosnmp.Integer, int(n)
	case "u":
		n, err := toInt64(p.Value)
		if err != nil || n < 0 {
			return out, fmt.Errorf("%s: invalid unsigned value %v", p.OID, p.Value)
		}
		out.Type, out.Value = gosnmp.Gauge32, uint32(n)
	case "t", "c":
		n, err := toInt64(p.Value)
		if err != nil || n < 0 {
			return out, fmt.Errorf("%s: invalid unsigned value %v", p.OID, p.Value)
		}
		out.Type, out.Value = gosnmp.TimeTicks, uint32(n)
		if p.Type == "c" {
			out.Type = gosnmp.Counter32
		}
	// OctetString values always go to gosnmp as string.
	case "s":
		switch v := p.Value.(type) {
		case []byte:
			out.Value = string(v)
		default:
			out.Value = fmt.Sprint(v)
		}
		out.Type = gosnmp.OctetString
	case "x":
		b, err := parseHex(fmt.Sprint(p.Value))
		if err != nil {
			return out, fmt.Errorf("%s: %w", p.OID, err)
		}
		out.Type, out.Value = gosnmp.OctetString, string(b)
	case "a":
		ip := net.ParseIP(fmt.Sprint(p.Value))
		if ip == nil || ip.To4() == nil {
			return out, fmt.Errorf("%s: invalid IpAddress %v", p.OID, p.Value)
		}
		out.Type, out.Value = gosnmp.IPAddress, ip.To4().String()
	default:
		return out, fmt.Errorf("%s: unsupported SET type %q", p.OID, p.Type)
	}
	return out, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 2, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case *big.Int:
		return n.Int64(), nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func parseHex(s string) ([]byte, error) {
	r := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "")
	h := r.Replace(strings.TrimSpace(s))
	if len(h)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(h)/2)
	for i := range out {
		n, err := strconv.ParseUint(h[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex string %q", s)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// Render formats a variable the way net-snmp prints it, for the text
// output the dashboard shows next to structured results.
func Render(v Variable) string {
	switch v.Type {
	case "OctetString":
		b := v.Bytes()
		if printable(b) {
			return fmt.Sprintf("%s = STRING: %q", v.OID, string(b))
		}
		parts := make([]string, len(b))
		for i, c := range b {
			parts[i] = fmt.Sprintf("%02X", c)
		}
		return fmt.Sprintf("%s = Hex-STRING: %s", v.OID, strings.Join(parts, " "))
	case "Integer":
		return fmt.Sprintf("%s = INTEGER: %v", v.OID, v.Value)
	case "IpAddress":
		return fmt.Sprintf("%s = IpAddress: %v", v.OID, v.Value)
	case "ObjectIdentifier":
		return fmt.Sprintf("%s = OID: %v", v.OID, v.Value)
	}
	return fmt.Sprintf("%s = %s: %v", v.OID, v.Type, v.Value)
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, c := range b {
		if (c < 0x20 || c > 0x7e) && c != '\n' && c != '\r' && c != '\t' {
			return false
		}
	}
	return true
}
