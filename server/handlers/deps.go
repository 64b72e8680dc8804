// Package handlers provides the HTTP and WebSocket surface of the GUI
// backend. Every API is built from Options and registers its own routes.
package handlers

import (
	"context"
	"time"

	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/storage"
)

// Logger provides logging capabilities.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// AgentRelay is the part of the agent manager the HTTP layer uses.
// *agents.Manager satisfies it.
type AgentRelay interface {
	Agents() []agents.Info
	Agent(agentID string) (agents.Info, bool)
	AgentForAny(capabilities ...string) (agents.Info, bool)
	Execute(ctx context.Context, agentID, command string, params map[string]interface{}, timeout time.Duration) (*agents.TaskResult, error)
}

// History records and lists measurements and agent sessions.
// *storage.SQLiteStore satisfies it.
type History interface {
	SaveMeasurement(ctx context.Context, m *storage.Measurement) error
	ListMeasurements(ctx context.Context, filter storage.MeasurementFilter) ([]*storage.Measurement, error)
	ListAgentSessions(ctx context.Context, agentID string, limit int) ([]*storage.AgentSession, error)
}

// Data modes select where modem data comes from.
const (
	ModeMock   = "mock"
	ModeAgent  = "agent"
	ModeDirect = "direct"
)

// Settings are the runtime values handlers need from the server config.
type Settings struct {
	DataMode string
	// ModemCommunity is the default read community for cable modems.
	ModemCommunity string
	// CMTSCommunity is used for CMTS reads through agents.
	CMTSCommunity string
	// CMTSWriteCommunity is used for UTSC configuration sets.
	CMTSWriteCommunity string
	TFTPIPv4           string
	TFTPIPv6           string
	// DataDir holds archive ZIPs served by the download route.
	DataDir string
	// PlotDir is where PyPNM writes PNG plots.
	PlotDir string
	// CaptureDir is the TFTP directory the CMTS uploads UTSC files to.
	CaptureDir string
	// PNMDirs are cleaned by housekeeping.
	PNMDirs []string
	// AgentTimeout bounds one agent command.
	AgentTimeout time.Duration
}

func (s Settings) agentTimeout() time.Duration {
	if s.AgentTimeout <= 0 {
		return 60 * time.Second
	}
	return s.AgentTimeout
}
