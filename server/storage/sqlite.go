package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// SQLiteStore implements Store using SQLite. Times are stored in UTC so
// text comparisons order correctly.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

const schemaVersion = 1

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	connStr := dbPath
	if dbPath != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	logInfo("SQLite store ready", "path", dbPath)
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		version TEXT,
		capabilities TEXT,
		remote_addr TEXT,
		connected_at DATETIME NOT NULL,
		disconnected_at DATETIME,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent_id ON agent_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_connected_at ON agent_sessions(connected_at);

	CREATE TABLE IF NOT EXISTS measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		mac_address TEXT,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_mac ON measurements(mac_address);
	CREATE INDEX IF NOT EXISTS idx_measurements_timestamp ON measurements(timestamp);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		agent_id TEXT,
		action TEXT NOT NULL,
		details TEXT,
		ip_address TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_agent_id ON audit_log(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion)
	return err
}

// RecordAgentConnect inserts a new open session and sets session.ID.
func (s *SQLiteStore) RecordAgentConnect(ctx context.Context, session *AgentSession) error {
	if session.ConnectedAt.IsZero() {
		session.ConnectedAt = time.Now()
	}
	session.ConnectedAt = session.ConnectedAt.UTC()
	caps, err := json.Marshal(session.Capabilities)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (agent_id, version, capabilities, remote_addr, connected_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.AgentID, session.Version, string(caps), session.RemoteAddr, session.ConnectedAt)
	if err != nil {
		return err
	}
	session.ID, err = res.LastInsertId()
	return err
}

// RecordAgentDisconnect closes every open session of agentID.
func (s *SQLiteStore) RecordAgentDisconnect(ctx context.Context, agentID, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_sessions SET disconnected_at = ?, reason = ?
		WHERE agent_id = ? AND disconnected_at IS NULL
	`, at.UTC(), reason, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgentSessions returns the newest sessions first. An empty agentID
// lists every agent.
func (s *SQLiteStore) ListAgentSessions(ctx context.Context, agentID string, limit int) ([]*AgentSession, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, agent_id, version, capabilities, remote_addr, connected_at, disconnected_at, reason
		FROM agent_sessions`
	args := []interface{}{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY connected_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentSession
	for rows.Next() {
		var a AgentSession
		var version, caps, remote, reason sql.NullString
		var disconnected sql.NullTime
		if err := rows.Scan(&a.ID, &a.AgentID, &version, &caps, &remote, &a.ConnectedAt, &disconnected, &reason); err != nil {
			return nil, err
		}
		a.Version = version.String
		a.RemoteAddr = remote.String
		a.Reason = reason.String
		if disconnected.Valid {
			t := disconnected.Time
			a.DisconnectedAt = &t
		}
		a.Capabilities = []string{}
		if caps.Valid && caps.String != "" {
			if err := json.Unmarshal([]byte(caps.String), &a.Capabilities); err != nil {
				logWarn("Corrupt capabilities column", "session_id", a.ID, "error", err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMeasurement(ctx context.Context, m *Measurement) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Timestamp = m.Timestamp.UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO measurements (timestamp, mac_address, type, source, status, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.Timestamp, m.MACAddress, m.Type, m.Source, m.Status, m.DurationMs, m.Error)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

// ListMeasurements returns the newest measurements first.
func (s *SQLiteStore) ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]*Measurement, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, timestamp, mac_address, type, source, status, duration_ms, error FROM measurements WHERE 1=1`
	args := []interface{}{}
	if filter.MACAddress != "" {
		query += ` AND mac_address = ?`
		args = append(args, filter.MACAddress)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Measurement
	for rows.Next() {
		var m Measurement
		var mac, errText sql.NullString
		if err := rows.Scan(&m.ID, &m.Timestamp, &mac, &m.Type, &m.Source, &m.Status, &m.DurationMs, &errText); err != nil {
			return nil, err
		}
		m.MACAddress = mac.String
		m.Error = errText.String
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, agent_id, action, details, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Timestamp, entry.AgentID, entry.Action, entry.Details, entry.IPAddress)
	if err != nil {
		return err
	}
	entry.ID, err = res.LastInsertId()
	return err
}

// GetAuditLog retrieves audit entries since a given time, optionally for
// one agent.
func (s *SQLiteStore) GetAuditLog(ctx context.Context, agentID string, since time.Time) ([]*AuditEntry, error) {
	query := `SELECT id, timestamp, agent_id, action, details, ip_address FROM audit_log WHERE timestamp >= ?`
	args := []interface{}{since.UTC()}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var agent, details, ipAddress sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &agent, &entry.Action, &details, &ipAddress); err != nil {
			return nil, err
		}
		entry.AgentID = agent.String
		entry.Details = details.String
		entry.IPAddress = ipAddress.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM measurements WHERE timestamp < ?`,
		`DELETE FROM audit_log WHERE timestamp < ?`,
		`DELETE FROM agent_sessions WHERE disconnected_at IS NOT NULL AND disconnected_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetDefaultDBPath returns platform-specific default database path
func GetDefaultDBPath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\ProgramData\PyPNMGui\server\history.db`
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library/Application Support/PyPNMGui/server/history.db")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local/share/pypnmgui/server/history.db")
	}
}
