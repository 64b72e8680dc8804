package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// AgentSession is one authenticated agent connection.
type AgentSession struct {
	ID             int64      `json:"id"`
	AgentID        string     `json:"agent_id"`
	Version        string     `json:"version,omitempty"`
	Capabilities   []string   `json:"capabilities"`
	RemoteAddr     string     `json:"remote_addr,omitempty"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Measurement records one proxied PNM request or agent command.
type Measurement struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	MACAddress string    `json:"mac_address,omitempty"`
	Type       string    `json:"type"`   // rxmer, spectrum, us_spectrum, snmp_walk, ...
	Source     string    `json:"source"` // pypnm or agent:<id>
	Status     string    `json:"status"` // success, error
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// MeasurementFilter narrows ListMeasurements. Zero values match everything.
type MeasurementFilter struct {
	MACAddress string
	Type       string
	Limit      int
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"` // auth_failed, auth_blocked, connected, disconnected
	Details   string    `json:"details,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// Store is the server's persistent history.
type Store interface {
	RecordAgentConnect(ctx context.Context, session *AgentSession) error
	RecordAgentDisconnect(ctx context.Context, agentID, reason string, at time.Time) error
	ListAgentSessions(ctx context.Context, agentID string, limit int) ([]*AgentSession, error)

	SaveMeasurement(ctx context.Context, m *Measurement) error
	ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]*Measurement, error)

	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error
	GetAuditLog(ctx context.Context, agentID string, since time.Time) ([]*AuditEntry, error)

	// PruneBefore deletes history older than cutoff and returns the number
	// of rows removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
