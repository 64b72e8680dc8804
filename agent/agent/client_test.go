package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/svdleer/PyPNMGui/common/ws"
)

type fakeExecutor struct{}

func (fakeExecutor) Capabilities() []string { return []string{"echo", "snmp_get"} }

func (fakeExecutor) Dispatch(ctx context.Context, command string, params map[string]interface{}) (Result, error) {
	switch command {
	case "echo":
		return ok("echo", params["value"]), nil
	case "panic":
		panic("handler bug")
	}
	return nil, fmt.Errorf("Unknown command: %s", command)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agent"
}

func readMsg(conn *ws.Conn) (*ws.Message, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ws.ParseMessage(raw)
}

// backendScript authenticates the agent, pings it and runs three
// commands, reporting every reply on replies.
func backendScript(conn *ws.Conn, replies chan<- *ws.Message) error {
	auth, err := readMsg(conn)
	if err != nil {
		return err
	}
	if auth.Type != ws.TypeAuth || auth.AgentID != "agent-01" || auth.Token != "tok" || auth.Version != "1.2.0" {
		return fmt.Errorf("auth = %+v", auth)
	}
	if len(auth.Capabilities) != 2 {
		return fmt.Errorf("capabilities = %v", auth.Capabilities)
	}
	conn.WriteMessage(&ws.Message{Type: ws.TypeAuthSuccess, AgentID: auth.AgentID, Message: "Authenticated successfully"}, time.Second)

	conn.WriteMessage(&ws.Message{Type: ws.TypePing}, time.Second)
	pong, err := readMsg(conn)
	if err != nil {
		return err
	}
	replies <- pong

	for i, cmd := range []string{"echo", "nope", "panic"} {
		conn.WriteMessage(&ws.Message{
			Type:      ws.TypeCommand,
			RequestID: fmt.Sprintf("r%d", i),
			Command:   cmd,
			Params:    map[string]interface{}{"value": "hi"},
		}, time.Second)
		reply, err := readMsg(conn)
		if err != nil {
			return err
		}
		replies <- reply
	}
	return nil
}

func TestClientServesCommands(t *testing.T) {
	t.Parallel()

	replies := make(chan *ws.Message, 8)
	scriptErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		conn, err := ws.UpgradeHTTP(w, r)
		if err != nil {
			scriptErr <- err
			return
		}
		defer conn.Close()
		scriptErr <- backendScript(conn, replies)
		// Hold the session open until the client leaves.
		conn.ReadMessage()
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{
		AgentID:   "agent-01",
		ServerURL: wsURL(srv),
		Token:     "tok",
		Version:   "1.2.0",
		Executor:  fakeExecutor{},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-scriptErr:
		if err != nil {
			t.Fatalf("backend: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("backend script did not finish")
	}

	if pong := <-replies; pong.Type != ws.TypePong {
		t.Errorf("ping reply = %+v", pong)
	}
	echo := <-replies
	if echo.Type != ws.TypeResponse || echo.RequestID != "r0" || echo.Result["echo"] != "hi" || echo.Result["success"] != true {
		t.Errorf("echo reply = %+v", echo)
	}
	unknown := <-replies
	if unknown.Type != ws.TypeError || unknown.RequestID != "r1" || unknown.Error != "Unknown command: nope" {
		t.Errorf("unknown reply = %+v", unknown)
	}
	panicked := <-replies
	if panicked.Type != ws.TypeError || panicked.Error != "internal error in panic" {
		t.Errorf("panic reply = %+v", panicked)
	}
	if !c.Connected() || c.Sessions() != 1 {
		t.Errorf("connected=%v sessions=%d", c.Connected(), c.Sessions())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if c.Connected() {
		t.Error("still connected after Run returned")
	}
}

func TestClientRetriesRejectedAuth(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.UpgradeHTTP(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := readMsg(conn); err != nil {
			return
		}
		attempts.Add(1)
		conn.WriteMessage(&ws.Message{Type: ws.TypeAuthResponse, Success: ws.Bool(false), Error: "Invalid token"}, time.Second)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{
		AgentID:           "agent-01",
		ServerURL:         wsURL(srv),
		Token:             "wrong",
		Executor:          fakeExecutor{},
		ReconnectInterval: 10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for attempts.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d auth attempts", attempts.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if c.Sessions() != 0 || c.Connected() {
		t.Errorf("sessions=%d connected=%v", c.Sessions(), c.Connected())
	}
}

func TestNewClientValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ClientOptions{AgentID: "a", Executor: fakeExecutor{}}); err == nil {
		t.Error("missing url accepted")
	}
	if _, err := NewClient(ClientOptions{ServerURL: "ws://x", Executor: fakeExecutor{}}); err == nil {
		t.Error("missing agent id accepted")
	}
	if _, err := NewClient(ClientOptions{ServerURL: "ws://x", AgentID: "a"}); err == nil {
		t.Error("missing executor accepted")
	}
}
