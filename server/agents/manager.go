// Package agents tracks remote jump-host agents connected over /ws/agent
// and correlates the commands sent to them with their responses.
package agents

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/svdleer/PyPNMGui/common/ws"
)

var (
	ErrNoAgent          = errors.New("no agent available")
	ErrAgentNotFound    = errors.New("agent not connected")
	ErrTaskTimeout      = errors.New("task timed out")
	ErrUnknownTask      = errors.New("unknown task")
	ErrInvalidToken     = errors.New("invalid token")
	ErrVersionTooOld    = errors.New("agent version below minimum")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAgentGone        = errors.New("agent disconnected")
)

const writeTimeout = 10 * time.Second

// Logger provides logging capabilities.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Sender is the write side of an agent connection. *ws.Conn satisfies it.
type Sender interface {
	WriteMessage(msg *ws.Message, timeout time.Duration) error
}

// Info is the public view of a connected agent.
type Info struct {
	AgentID       string    `json:"agent_id"`
	Capabilities  []string  `json:"capabilities"`
	Version       string    `json:"version,omitempty"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastSeen      time.Time `json:"last_seen"`
	Authenticated bool      `json:"authenticated"`
}

// HasCapability reports whether the agent advertised c.
func (i Info) HasCapability(c string) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// TaskResult is the outcome of one command sent to an agent.
type TaskResult struct {
	RequestID   string                 `json:"request_id"`
	AgentID     string                 `json:"agent_id"`
	Command     string                 `json:"command"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Duration    time.Duration          `json:"-"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Hooks lets the server attach events, metrics and history without this
// package depending on them. Any hook may be nil.
type Hooks struct {
	OnConnect    func(Info)
	OnDisconnect func(Info)
	OnTaskDone   func(r *TaskResult)
}

// Options configures a Manager.
type Options struct {
	Token      string
	MinVersion string
	Logger     Logger
	Hooks      Hooks
}

type agentEntry struct {
	info    Info
	session *Session
}

type pendingTask struct {
	agentID string
	session *Session
	command string
	sentAt  time.Time
	done    chan *TaskResult
}

// Manager is the server-side agent registry.
type Manager struct {
	mu         sync.RWMutex
	token      string
	minVersion *semver.Version
	agents     map[string]*agentEntry
	pending    map[string]*pendingTask
	logger     Logger
	hooks      Hooks
}

// NewManager validates opts and returns an empty registry.
func NewManager(opts Options) (*Manager, error) {
	m := &Manager{
		token:   opts.Token,
		agents:  make(map[string]*agentEntry),
		pending: make(map[string]*pendingTask),
		logger:  opts.Logger,
		hooks:   opts.Hooks,
	}
	if opts.MinVersion != "" {
		v, err := semver.NewVersion(opts.MinVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum agent version %q: %w", opts.MinVersion, err)
		}
		m.minVersion = v
	}
	return m, nil
}

// Attach starts a session for a freshly upgraded connection. The session
// is unauthenticated until the agent sends a valid auth message.
func (m *Manager) Attach(conn Sender, remoteAddr string) *Session {
	return &Session{m: m, conn: conn, remoteAddr: remoteAddr}
}

func (m *Manager) checkToken(token string) bool {
	if m.token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(m.token), []byte(token)) == 1
}

func (m *Manager) checkVersion(version string) error {
	if m.minVersion == nil {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: unparseable version %q", ErrVersionTooOld, version)
	}
	if v.LessThan(m.minVersion) {
		return fmt.Errorf("%w: %s < %s", ErrVersionTooOld, v, m.minVersion)
	}
	return nil
}

func (m *Manager) register(s *Session, msg *ws.Message) {
	now := time.Now()
	caps := append([]string(nil), msg.Capabilities...)
	sort.Strings(caps)
	info := Info{
		AgentID:       msg.AgentID,
		Capabilities:  caps,
		Version:       msg.Version,
		RemoteAddr:    s.remoteAddr,
		ConnectedAt:   now,
		LastSeen:      now,
		Authenticated: true,
	}

	m.mu.Lock()
	prev := m.agents[info.AgentID]
	m.agents[info.AgentID] = &agentEntry{info: info, session: s}
	m.mu.Unlock()

	if prev != nil && prev.session != s {
		m.logf("warn", "Agent reconnected, replacing previous session", "agent_id", info.AgentID, "previous_addr", prev.info.RemoteAddr)
		prev.session.detach()
		m.failPending(info.AgentID, prev.session)
	}
	if m.hooks.OnConnect != nil {
		m.hooks.OnConnect(info)
	}
}

// RemoveAgent drops an agent and fails its in-flight tasks.
func (m *Manager) RemoveAgent(agentID string) {
	m.mu.Lock()
	entry, ok := m.agents[agentID]
	if ok {
		delete(m.agents, agentID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.failPending(agentID, nil)
	if m.hooks.OnDisconnect != nil {
		m.hooks.OnDisconnect(entry.info)
	}
}

// removeSession removes agentID only if it is still bound to s, so a stale
// connection closing after a reconnect does not evict the new one.
func (m *Manager) removeSession(agentID string, s *Session) {
	m.mu.RLock()
	entry, ok := m.agents[agentID]
	m.mu.RUnlock()
	if ok && entry.session == s {
		m.RemoveAgent(agentID)
	}
}

// failPending fails tasks sent to agentID. A non-nil session limits it to
// tasks sent over that connection. Entries stay in the map until their
// waiter collects them.
func (m *Manager) failPending(agentID string, session *Session) {
	m.mu.RLock()
	var failed []*pendingTask
	var ids []string
	for id, p := range m.pending {
		if p.agentID == agentID && (session == nil || p.session == session) {
			failed = append(failed, p)
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for i, p := range failed {
		p.complete(&TaskResult{
			RequestID:   ids[i],
			AgentID:     agentID,
			Command:     p.command,
			Error:       ErrAgentGone.Error(),
			Duration:    time.Since(p.sentAt),
			CompletedAt: time.Now(),
		})
	}
}

// complete delivers the first result for a task; later ones are dropped.
func (p *pendingTask) complete(res *TaskResult) bool {
	select {
	case p.done <- res:
		return true
	default:
		return false
	}
}

func (m *Manager) touch(agentID string) {
	m.mu.Lock()
	if e, ok := m.agents[agentID]; ok {
		e.info.LastSeen = time.Now()
	}
	m.mu.Unlock()
}

// Agents returns a snapshot of connected agents ordered by id.
func (m *Manager) Agents() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.agents))
	for _, e := range m.agents {
		out = append(out, e.info)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Agent returns one agent by id.
func (m *Manager) Agent(agentID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.agents[agentID]; ok {
		return e.info, true
	}
	return Info{}, false
}

// AgentForCapability returns the first authenticated agent (by id) that
// advertises capability.
func (m *Manager) AgentForCapability(capability string) (Info, bool) {
	for _, info := range m.Agents() {
		if info.Authenticated && info.HasCapability(capability) {
			return info, true
		}
	}
	return Info{}, false
}

// AgentForAny tries each capability in order.
func (m *Manager) AgentForAny(capabilities ...string) (Info, bool) {
	for _, c := range capabilities {
		if info, ok := m.AgentForCapability(c); ok {
			return info, true
		}
	}
	return Info{}, false
}

// SendTask sends a command to an agent and returns its request id.
func (m *Manager) SendTask(agentID, command string, params map[string]interface{}) (string, error) {
	m.mu.Lock()
	entry, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	requestID := uuid.NewString()
	m.pending[requestID] = &pendingTask{
		agentID: agentID,
		session: entry.session,
		command: command,
		sentAt:  time.Now(),
		done:    make(chan *TaskResult, 1),
	}
	conn := entry.session.conn
	m.mu.Unlock()

	msg := &ws.Message{Type: ws.TypeCommand, RequestID: requestID, Command: command, Params: params}
	if err := conn.WriteMessage(msg, writeTimeout); err != nil {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
		return "", fmt.Errorf("send %s to agent %s: %w", command, agentID, err)
	}
	m.logf("debug", "Sent task to agent", "agent_id", agentID, "command", command, "request_id", requestID)
	return requestID, nil
}

// WaitForTask blocks until the task completes, timeout elapses or ctx is
// done. Timeouts return ErrTaskTimeout; the task is forgotten either way.
func (m *Manager) WaitForTask(ctx context.Context, requestID string, timeout time.Duration) (*TaskResult, error) {
	m.mu.RLock()
	p, ok := m.pending[requestID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, requestID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	defer func() {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
	}()

	select {
	case res := <-p.done:
		m.finish(res)
		return res, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// The response may have raced the timer.
	select {
	case res := <-p.done:
		m.finish(res)
		return res, nil
	default:
	}

	res := &TaskResult{RequestID: requestID, AgentID: p.agentID, Command: p.command, Error: ErrTaskTimeout.Error(), Duration: time.Since(p.sentAt), CompletedAt: time.Now()}
	m.finish(res)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.logf("warn", "Agent task timed out", "agent_id", p.agentID, "command", p.command, "request_id", requestID, "timeout", timeout)
	return nil, ErrTaskTimeout
}

func (m *Manager) finish(res *TaskResult) {
	if m.hooks.OnTaskDone != nil {
		m.hooks.OnTaskDone(res)
	}
}

// Execute sends a command and waits for its result.
func (m *Manager) Execute(ctx context.Context, agentID, command string, params map[string]interface{}, timeout time.Duration) (*TaskResult, error) {
	id, err := m.SendTask(agentID, command, params)
	if err != nil {
		return nil, err
	}
	return m.WaitForTask(ctx, id, timeout)
}

func (m *Manager) resolve(agentID string, msg *ws.Message) {
	m.mu.RLock()
	p, ok := m.pending[msg.RequestID]
	m.mu.RUnlock()

	if !ok || p.agentID != agentID {
		m.logf("debug", "Dropping response for unknown request", "agent_id", agentID, "request_id", msg.RequestID)
		return
	}
	p.complete(&TaskResult{
		RequestID:   msg.RequestID,
		AgentID:     agentID,
		Command:     p.command,
		Result:      msg.Result,
		Error:       msg.Error,
		Duration:    time.Since(p.sentAt),
		CompletedAt: time.Now(),
	})
}

// PingAll sends an application-level ping to every agent. Agents answer
// with pong, which refreshes last_seen.
func (m *Manager) PingAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.agents))
	for _, e := range m.agents {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if err := s.conn.WriteMessage(&ws.Message{Type: ws.TypePing}, writeTimeout); err != nil {
			m.logf("debug", "Ping to agent failed", "agent_id", s.AgentID(), "error", err)
		}
	}
}

// PendingCount returns the number of in-flight tasks.
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *Manager) logf(level, msg string, kv ...interface{}) {
	if m.logger == nil {
		return
	}
	switch level {
	case "debug":
		m.logger.Debug(msg, kv...)
	case "warn":
		m.logger.Warn(msg, kv...)
	case "error":
		m.logger.Error(msg, kv...)
	default:
		m.logger.Info(msg, kv...)
	}
}
