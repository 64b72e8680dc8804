package agents

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/svdleer/PyPNMGui/common/ws"
)

// Session is one agent WebSocket connection. The HTTP handler feeds every
// received frame to HandleRaw and calls Close when the read loop ends.
type Session struct {
	m          *Manager
	conn       Sender
	remoteAddr string

	mu       sync.Mutex
	agentID  string
	authed   bool
	detached bool
}

// AgentID returns the authenticated agent id, or "" before auth.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// Authenticated reports whether auth succeeded on this connection.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed && !s.detached
}

// HandleRaw decodes one frame and dispatches it. Invalid JSON is answered
// with an error message and is not fatal.
func (s *Session) HandleRaw(raw []byte) error {
	msg, err := ws.ParseMessage(raw)
	if err != nil {
		s.reply(&ws.Message{Type: ws.TypeError, Error: "Invalid JSON"})
		return nil
	}
	return s.HandleMessage(msg)
}

// HandleMessage processes a decoded agent message. ErrInvalidToken and
// ErrVersionTooOld mean the caller should close the connection.
func (s *Session) HandleMessage(msg *ws.Message) error {
	if msg.Type == ws.TypeAuth {
		return s.handleAuth(msg)
	}

	if !s.Authenticated() {
		s.reply(ws.NewError(msg.RequestID, "Not authenticated"))
		return ErrNotAuthenticated
	}
	agentID := s.AgentID()

	switch msg.Type {
	case ws.TypeResponse, ws.TypeError:
		if msg.RequestID == "" {
			s.m.logf("warn", "Agent reported error without request id", "agent_id", agentID, "error", msg.Error)
			return nil
		}
		s.m.touch(agentID)
		s.m.resolve(agentID, msg)
	case ws.TypePong:
		s.m.touch(agentID)
	case ws.TypePing:
		s.m.touch(agentID)
		s.reply(&ws.Message{Type: ws.TypePong})
	case ws.TypeHeartbeatAck:
	default:
		s.m.logf("debug", "Ignoring unknown agent message", "agent_id", agentID, "type", msg.Type)
	}
	return nil
}

func (s *Session) handleAuth(msg *ws.Message) error {
	if msg.AgentID == "" {
		s.reply(&ws.Message{Type: ws.TypeAuthResponse, Success: ws.Bool(false), Error: "agent_id required"})
		return ErrInvalidToken
	}
	if !s.m.checkToken(msg.Token) {
		s.m.logf("warn", "Agent authentication failed", "agent_id", msg.AgentID, "remote_addr", s.remoteAddr)
		s.reply(&ws.Message{Type: ws.TypeAuthResponse, Success: ws.Bool(false), Error: "Invalid token"})
		return ErrInvalidToken
	}
	if err := s.m.checkVersion(msg.Version); err != nil {
		s.m.logf("warn", "Agent version rejected", "agent_id", msg.AgentID, "version", msg.Version, "error", err)
		s.reply(&ws.Message{Type: ws.TypeAuthResponse, Success: ws.Bool(false),
			Error: fmt.Sprintf("Agent version %s below minimum %s", msg.Version, s.m.minVersion)})
		return err
	}

	s.mu.Lock()
	if s.authed && s.agentID != msg.AgentID {
		s.mu.Unlock()
		s.reply(&ws.Message{Type: ws.TypeAuthResponse, Success: ws.Bool(false), Error: "agent_id cannot change on an open connection"})
		return ErrInvalidToken
	}
	s.agentID = msg.AgentID
	s.authed = true
	s.mu.Unlock()

	s.m.register(s, msg)
	s.m.logf("info", "Agent authenticated", "agent_id", msg.AgentID, "capabilities", len(msg.Capabilities), "version", msg.Version, "remote_addr", s.remoteAddr)

	s.reply(&ws.Message{Type: ws.TypeAuthSuccess, AgentID: msg.AgentID, Message: "Authenticated successfully"})
	return nil
}

// detach marks the session as superseded by a newer connection.
func (s *Session) detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
	if c, ok := s.conn.(interface{ Close() error }); ok {
		c.Close()
	}
}

// Close unregisters the agent if this session still owns it.
func (s *Session) Close() {
	s.mu.Lock()
	id, authed := s.agentID, s.authed
	s.mu.Unlock()
	if authed && id != "" {
		s.m.removeSession(id, s)
	}
}

func (s *Session) reply(msg *ws.Message) {
	if err := s.conn.WriteMessage(msg, writeTimeout); err != nil && !errors.Is(err, ws.ErrClosed) {
		s.m.logf("debug", "Write to agent failed", "agent_id", s.AgentID(), "type", msg.Type, "error", err)
	}
}

// IsFatal reports whether an error returned by HandleMessage should end
// the connection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrVersionTooOld)
}

// StaleAfter is how long without any traffic before an agent is considered
// gone by the ping loop.
const StaleAfter = 90 * time.Second

// PruneStale removes agents that have not been seen within StaleAfter and
// closes their connections.
func (m *Manager) PruneStale(now time.Time) []string {
	m.mu.RLock()
	var stale []string
	sessions := make(map[string]*Session)
	for id, e := range m.agents {
		if now.Sub(e.info.LastSeen) > StaleAfter {
			stale = append(stale, id)
			sessions[id] = e.session
		}
	}
	m.mu.RUnlock()
	for _, id := range stale {
		m.logf("warn", "Removing stale agent", "agent_id", id)
		s := sessions[id]
		m.removeSession(id, s)
		if s != nil {
			s.detach()
		}
	}
	return stale
}
