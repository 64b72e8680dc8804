package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/svdleer/PyPNMGui/common/ws"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []*ws.Message
	closed bool
	notify chan *ws.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan *ws.Message, 16)}
}

func (f *fakeConn) WriteMessage(msg *ws.Message, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ws.ErrClosed
	}
	f.sent = append(f.sent, msg)
	select {
	case f.notify <- msg:
	default:
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) last() *ws.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Token == "" {
		opts.Token = "s3cret"
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func authSession(t *testing.T, m *Manager, id string, caps ...string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := m.Attach(conn, "192.0.2.10:5000")
	err := s.HandleMessage(&ws.Message{Type: ws.TypeAuth, AgentID: id, Token: "s3cret", Version: "1.2.0", Capabilities: caps})
	if err != nil {
		t.Fatalf("auth %s: %v", id, err)
	}
	if reply := conn.last(); reply.Type != ws.TypeAuthSuccess || reply.Message != "Authenticated successfully" {
		t.Fatalf("auth reply = %+v", reply)
	}
	return s, conn
}

func TestAuthRejectsBadToken(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	conn := newFakeConn()
	s := m.Attach(conn, "192.0.2.1:1")

	err := s.HandleMessage(&ws.Message{Type: ws.TypeAuth, AgentID: "jump-1", Token: "wrong"})
	if !errors.Is(err, ErrInvalidToken) || !IsFatal(err) {
		t.Fatalf("err = %v", err)
	}
	reply := conn.last()
	if reply.Type != ws.TypeAuthResponse || reply.Success == nil || *reply.Success || reply.Error != "Invalid token" {
		t.Errorf("reply = %+v", reply)
	}
	if len(m.Agents()) != 0 {
		t.Error("agent must not be registered")
	}
}

func TestEmptyServerTokenRejectsEveryone(t *testing.T) {
	t.Parallel()

	m, _ := NewManager(Options{})
	s := m.Attach(newFakeConn(), "")
	if err := s.HandleMessage(&ws.Message{Type: ws.TypeAuth, AgentID: "a", Token: ""}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestMinimumVersion(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(Options{Token: "x", MinVersion: "not-semver"}); err == nil {
		t.Fatal("expected invalid min version error")
	}

	m := newTestManager(t, Options{MinVersion: "1.1.0"})
	conn := newFakeConn()
	s := m.Attach(conn, "")
	err := s.HandleMessage(&ws.Message{Type: ws.TypeAuth, AgentID: "old", Token: "s3cret", Version: "1.0.9"})
	if !errors.Is(err, ErrVersionTooOld) {
		t.Fatalf("err = %v", err)
	}
	if conn.last().Success == nil || *conn.last().Success {
		t.Error("expected auth_response failure")
	}

	authSession(t, m, "new") // 1.2.0 passes
}

func TestUnauthenticatedMessagesRejected(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	conn := newFakeConn()
	s := m.Attach(conn, "")
	if err := s.HandleMessage(&ws.Message{Type: ws.TypeResponse, RequestID: "r"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}
	if conn.last().Type != ws.TypeError {
		t.Errorf("expected error reply, got %+v", conn.last())
	}
}

func TestInvalidJSONReply(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	conn := newFakeConn()
	s := m.Attach(conn, "")
	if err := s.HandleRaw([]byte("{not json")); err != nil {
		t.Fatalf("invalid JSON must not be fatal: %v", err)
	}
	if r := conn.last(); r.Type != ws.TypeError || r.Error != "Invalid JSON" {
		t.Errorf("reply = %+v", r)
	}
}

func TestCapabilityLookup(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	authSession(t, m, "b-agent", "snmp_get", "cmts_snmp_direct")
	authSession(t, m, "a-agent", "snmp_get")

	info, ok := m.AgentForCapability("snmp_get")
	if !ok || info.AgentID != "a-agent" {
		t.Errorf("AgentForCapability(snmp_get) = %v %v", info.AgentID, ok)
	}
	info, ok = m.AgentForAny("pnm_us_get_interfaces", "cmts_snmp_direct")
	if !ok || info.AgentID != "b-agent" {
		t.Errorf("fallback lookup = %v %v", info.AgentID, ok)
	}
	if _, ok := m.AgentForCapability("tftp_get"); ok {
		t.Error("no agent has tftp_get")
	}

	list := m.Agents()
	if len(list) != 2 || list[0].AgentID != "a-agent" || !list[0].Authenticated || list[0].ConnectedAt.IsZero() {
		t.Errorf("Agents() = %+v", list)
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	t.Parallel()

	var done []*TaskResult
	var mu sync.Mutex
	m := newTestManager(t, Options{Hooks: Hooks{OnTaskDone: func(r *TaskResult) {
		mu.Lock()
		done = append(done, r)
		mu.Unlock()
	}}})
	s, conn := authSession(t, m, "jump-1", "snmp_get")

	go func() {
		for msg := range conn.notify {
			if msg.Type == ws.TypeCommand {
				s.HandleMessage(&ws.Message{Type: ws.TypeResponse, RequestID: msg.RequestID, Result: map[string]interface{}{"success": true, "output": "Linux"}})
				return
			}
		}
	}()

	res, err := m.Execute(context.Background(), "jump-1", "snmp_get", map[string]interface{}{"oid": "1.3.6.1.2.1.1.1.0"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Result["output"] != "Linux" || res.Command != "snmp_get" || res.AgentID != "jump-1" {
		t.Errorf("result = %+v", res)
	}
	if m.PendingCount() != 0 {
		t.Errorf("pending = %d", m.PendingCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(done) != 1 {
		t.Errorf("OnTaskDone calls = %d", len(done))
	}
}

func TestResponseBeforeWait(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	s, _ := authSession(t, m, "jump-1")

	id, err := m.SendTask("jump-1", "ping", map[string]interface{}{"target": "10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	s.HandleMessage(&ws.Message{Type: ws.TypeError, RequestID: id, Error: "Unknown command: ping"})

	res, err := m.WaitForTask(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if res.Error != "Unknown command: ping" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestWaitForTaskTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	authSession(t, m, "jump-1")

	id, _ := m.SendTask("jump-1", "snmp_walk", nil)
	start := time.Now()
	res, err := m.WaitForTask(context.Background(), id, 50*time.Millisecond)
	if !errors.Is(err, ErrTaskTimeout) || res != nil {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("returned before timeout")
	}
	if _, err := m.WaitForTask(context.Background(), id, time.Millisecond); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("second wait err = %v", err)
	}
}

func TestSendTaskUnknownAgent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	if _, err := m.SendTask("ghost", "ping", nil); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	t.Parallel()

	var disconnected []string
	m := newTestManager(t, Options{Hooks: Hooks{OnDisconnect: func(i Info) { disconnected = append(disconnected, i.AgentID) }}})
	s, _ := authSession(t, m, "jump-1")

	id, _ := m.SendTask("jump-1", "cmts_get_modems", nil)
	s.Close()

	res, err := m.WaitForTask(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if res.Error != ErrAgentGone.Error() {
		t.Errorf("error = %q", res.Error)
	}
	if len(disconnected) != 1 || len(m.Agents()) != 0 {
		t.Errorf("disconnected=%v agents=%v", disconnected, m.Agents())
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	old, oldConn := authSession(t, m, "jump-1")
	_, newConn := authSession(t, m, "jump-1")

	if !oldConn.isClosed() {
		t.Error("previous connection should be closed")
	}
	// The stale session closing must not evict the new one.
	old.Close()
	if _, ok := m.Agent("jump-1"); !ok {
		t.Fatal("new session was evicted")
	}

	m.PingAll()
	if newConn.last().Type != ws.TypePing {
		t.Errorf("expected ping on new conn, got %+v", newConn.last())
	}
}

func TestPongUpdatesLastSeenAndPrune(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, Options{})
	s, conn := authSession(t, m, "jump-1")
	before, _ := m.Agent("jump-1")

	time.Sleep(5 * time.Millisecond)
	s.HandleMessage(&ws.Message{Type: ws.TypePong})
	s.HandleMessage(&ws.Message{Type: ws.TypeHeartbeatAck})
	after, _ := m.Agent("jump-1")
	if !after.LastSeen.After(before.LastSeen) {
		t.Error("pong should refresh last_seen")
	}

	if stale := m.PruneStale(time.Now()); len(stale) != 0 {
		t.Errorf("fresh agent pruned: %v", stale)
	}
	if stale := m.PruneStale(time.Now().Add(StaleAfter + time.Second)); len(stale) != 1 {
		t.Errorf("expected stale agent removed, got %v", stale)
	}
	if !conn.isClosed() {
		t.Error("stale agent connection should be closed")
	}
	if s.Authenticated() {
		t.Error("pruned session still reports authenticated")
	}
	if _, ok := m.Agent("jump-1"); ok {
		t.Error("stale agent still registered")
	}
}
