package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConnNilSafety(t *testing.T) {
	t.Parallel()

	for name, conn := range map[string]*Conn{"nil": nil, "empty": {}} {
		conn := conn
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := conn.ReadMessage(); !errors.Is(err, ErrClosed) {
				t.Errorf("ReadMessage err = %v", err)
			}
			if err := conn.WriteMessage(&Message{Type: TypePing}, time.Second); !errors.Is(err, ErrClosed) {
				t.Errorf("WriteMessage err = %v", err)
			}
			if err := conn.WriteJSON(map[string]int{"a": 1}, time.Second); !errors.Is(err, ErrClosed) {
				t.Errorf("WriteJSON err = %v", err)
			}
			if err := conn.WritePing(time.Second); err == nil {
				t.Error("WritePing should fail")
			}
			if err := conn.SetReadDeadline(time.Now()); err == nil {
				t.Error("SetReadDeadline should fail")
			}
			if err := conn.Close(); err != nil {
				t.Errorf("Close err = %v", err)
			}
			if err := conn.CloseWithReason(CloseNormalClosure, "bye", time.Second); err != nil {
				t.Errorf("CloseWithReason err = %v", err)
			}
			if conn.RemoteAddr() != "" {
				t.Error("RemoteAddr should be empty")
			}
			conn.SetPongHandler(func(string) error { return nil })
		})
	}
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	t.Parallel()

	if _, _, err := Dial("ftp://example.com/ws/agent", nil, nil, time.Second); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestDialUpgradeRoundTrip(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := UpgradeHTTP(w, r)
		if err != nil {
			return
		}
		defer conn.Close()
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseMessage(raw)
		if err != nil {
			return
		}
		conn.WriteMessage(&Message{Type: TypeAuthSuccess, AgentID: msg.AgentID, Message: "Authenticated successfully"}, time.Second)
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer s3cret")
	// http:// must be rewritten to ws:// by Dial.
	conn, _, err := Dial(srv.URL+"/ws/agent", header, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(&Message{Type: TypeAuth, AgentID: "jump-1", Token: "s3cret"}, time.Second); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	reply, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if reply.Type != TypeAuthSuccess || reply.AgentID != "jump-1" || reply.Timestamp.IsZero() {
		t.Errorf("unexpected reply %+v", reply)
	}
	if auth := <-gotAuth; auth != "Bearer s3cret" {
		t.Errorf("Authorization header = %q", auth)
	}
	if conn.RemoteAddr() == "" {
		t.Error("RemoteAddr should be set on a live conn")
	}
}

func TestCloseConstants(t *testing.T) {
	t.Parallel()

	if CloseNormalClosure != 1000 || ClosePolicyViolation != 1008 {
		t.Errorf("close codes = %d/%d", CloseNormalClosure, ClosePolicyViolation)
	}
	if len(FormatCloseMessage(CloseNormalClosure, "goodbye")) == 0 {
		t.Error("FormatCloseMessage returned empty slice")
	}
}
