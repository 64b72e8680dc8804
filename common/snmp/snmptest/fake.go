// Package snmptest provides an in-memory snmp.Client for tests.
package snmptest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/svdleer/PyPNMGui/common/snmp"
)

// Fake serves Get and Walk from a flat OID table and records every Set.
type Fake struct {
	mu     sync.Mutex
	values map[string]snmp.Variable
	sets   []snmp.PDU
	// Errors forces an error for an OID (Get/Set) or a walk root.
	Errors map[string]error
	// OnSet runs after a successful Set, under no lock.
	OnSet func(pdus []snmp.PDU)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{values: make(map[string]snmp.Variable), Errors: make(map[string]error)}
}

// Put stores an Integer, Gauge32 (uint64), IpAddress-less string or raw bytes value.
func (f *Fake) Put(oid string, value interface{}) {
	oid = strings.TrimPrefix(oid, ".")
	v := snmp.Variable{OID: oid, Value: value}
	switch val := value.(type) {
	case int:
		v.Type, v.Value = "Integer", int64(val)
	case int64:
		v.Type = "Integer"
	case uint64:
		v.Type = "Gauge32"
	case uint32:
		v.Type, v.Value = "Gauge32", uint64(val)
	case string:
		v.Type, v.Value = "OctetString", []byte(val)
	case []byte:
		v.Type = "OctetString"
	default:
		v.Type = fmt.Sprintf("%T", value)
	}
	f.mu.Lock()
	f.values[oid] = v
	f.mu.Unlock()
}

// PutIP stores an IpAddress value.
func (f *Fake) PutIP(oid, ip string) {
	oid = strings.TrimPrefix(oid, ".")
	f.mu.Lock()
	f.values[oid] = snmp.Variable{OID: oid, Type: "IpAddress", Value: ip}
	f.mu.Unlock()
}

// Sets returns a copy of every PDU written so far.
func (f *Fake) Sets() []snmp.PDU {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]snmp.PDU(nil), f.sets...)
}

// SetValue returns the last value written to oid.
func (f *Fake) SetValue(oid string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sets) - 1; i >= 0; i-- {
		if f.sets[i].OID == oid {
			return f.sets[i].Value, true
		}
	}
	return nil, false
}

func (f *Fake) Get(ctx context.Context, t snmp.Target, oids ...string) ([]snmp.Variable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]snmp.Variable, 0, len(oids))
	for _, oid := range oids {
		oid = strings.TrimPrefix(oid, ".")
		if err := f.Errors[oid]; err != nil {
			return nil, err
		}
		v, ok := f.values[oid]
		if !ok {
			return nil, fmt.Errorf("%s: %w", oid, snmp.ErrNoSuchObject)
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *Fake) Walk(ctx context.Context, t snmp.Target, root string) ([]snmp.Variable, error) {
	root = strings.TrimPrefix(root, ".")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors[root]; err != nil {
		return nil, err
	}
	var out []snmp.Variable
	for oid, v := range f.values {
		if strings.HasPrefix(oid, root+".") {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return oidLess(out[i].OID, out[j].OID) })
	return out, nil
}

func (f *Fake) BulkWalk(ctx context.Context, t snmp.Target, root string) ([]snmp.Variable, error) {
	return f.Walk(ctx, t, root)
}

func (f *Fake) Set(ctx context.Context, t snmp.Target, pdus ...snmp.PDU) error {
	f.mu.Lock()
	for _, p := range pdus {
		if err := f.Errors[strings.TrimPrefix(p.OID, ".")]; err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.sets = append(f.sets, pdus...)
	hook := f.OnSet
	f.mu.Unlock()
	if hook != nil {
		hook(pdus)
	}
	return nil
}

func oidLess(a, b string) bool {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, _ := strconv.Atoi(pa[i])
		nb, _ := strconv.Atoi(pb[i])
		if na != nb {
			return na < nb
		}
	}
	return len(pa) < len(pb)
}
