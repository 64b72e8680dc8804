package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &AgentSession{AgentID: "jump-01", Version: "1.2.0", Capabilities: []string{"snmp_get", "ssh_exec"}, RemoteAddr: "10.9.0.4:51000", ConnectedAt: base}
	if err := s.RecordAgentConnect(ctx, first); err != nil {
		t.Fatalf("RecordAgentConnect: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected session ID to be set")
	}
	if err := s.RecordAgentDisconnect(ctx, "jump-01", "connection closed", base.Add(time.Minute)); err != nil {
		t.Fatalf("RecordAgentDisconnect: %v", err)
	}
	if err := s.RecordAgentDisconnect(ctx, "jump-01", "again", base.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second disconnect err = %v", err)
	}

	second := &AgentSession{AgentID: "jump-01", ConnectedAt: base.Add(time.Hour)}
	if err := s.RecordAgentConnect(ctx, second); err != nil {
		t.Fatal(err)
	}
	other := &AgentSession{AgentID: "jump-02", ConnectedAt: base.Add(2 * time.Hour)}
	if err := s.RecordAgentConnect(ctx, other); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListAgentSessions(ctx, "jump-01", 10)
	if err != nil {
		t.Fatalf("ListAgentSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}
	if list[0].ID != second.ID || list[0].DisconnectedAt != nil || len(list[0].Capabilities) != 0 {
		t.Errorf("newest session = %+v", list[0])
	}
	closed := list[1]
	if closed.DisconnectedAt == nil || closed.Reason != "connection closed" || len(closed.Capabilities) != 2 || closed.Version != "1.2.0" {
		t.Errorf("closed session = %+v", closed)
	}

	all, err := s.ListAgentSessions(ctx, "", 0)
	if err != nil || len(all) != 3 || all[0].AgentID != "jump-02" {
		t.Errorf("all sessions = %d %v", len(all), err)
	}
}

func TestMeasurements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rows := []*Measurement{
		{Timestamp: now.Add(-3 * time.Minute), MACAddress: "AA:BB:CC:00:00:01", Type: "rxmer", Source: "pypnm", Status: "success", DurationMs: 1200},
		{Timestamp: now.Add(-2 * time.Minute), MACAddress: "AA:BB:CC:00:00:01", Type: "spectrum", Source: "pypnm", Status: "error", Error: "PyPNM returned error: 500"},
		{Timestamp: now.Add(-1 * time.Minute), MACAddress: "AA:BB:CC:00:00:02", Type: "rxmer", Source: "agent:jump-01", Status: "success"},
	}
	for _, m := range rows {
		if err := s.SaveMeasurement(ctx, m); err != nil {
			t.Fatalf("SaveMeasurement: %v", err)
		}
	}

	got, err := s.ListMeasurements(ctx, MeasurementFilter{MACAddress: "AA:BB:CC:00:00:01"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Type != "spectrum" || got[0].Error == "" {
		t.Errorf("by mac = %+v", got)
	}

	got, _ = s.ListMeasurements(ctx, MeasurementFilter{Type: "rxmer", Limit: 1})
	if len(got) != 1 || got[0].MACAddress != "AA:BB:CC:00:00:02" || got[0].Source != "agent:jump-01" {
		t.Errorf("by type = %+v", got)
	}
}

func TestAuditLogAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	entries := []*AuditEntry{
		{Timestamp: old, AgentID: "jump-01", Action: "auth_failed", Details: "Invalid token", IPAddress: "10.0.0.7"},
		{AgentID: "jump-01", Action: "connected"},
		{AgentID: "jump-02", Action: "connected"},
	}
	for _, e := range entries {
		if err := s.SaveAuditEntry(ctx, e); err != nil {
			t.Fatalf("SaveAuditEntry: %v", err)
		}
	}

	recent, err := s.GetAuditLog(ctx, "", time.Now().Add(-time.Hour))
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent = %d %v", len(recent), err)
	}
	one, _ := s.GetAuditLog(ctx, "jump-01", old.Add(-time.Second))
	if len(one) != 2 || one[1].Action != "auth_failed" || one[1].IPAddress != "10.0.0.7" {
		t.Errorf("jump-01 log = %+v", one)
	}

	if err := s.SaveMeasurement(ctx, &Measurement{Timestamp: old, Type: "rxmer", Source: "pypnm", Status: "success"}); err != nil {
		t.Fatal(err)
	}
	n, err := s.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
}

func TestNewStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	st, err := NewStore(DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	st.Close()

	if _, err := NewStore(DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Error("expected unsupported driver error")
	}
}
