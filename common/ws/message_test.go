package ws

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageMarshalSetsTimestamp(t *testing.T) {
	t.Parallel()

	msg := Message{Type: TypePing}
	before := time.Now()
	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp not set: %v", decoded.Timestamp)
	}
}

func TestAuthFailureKeepsSuccessFalse(t *testing.T) {
	t.Parallel()

	msg := Message{Type: TypeAuthResponse, Success: Bool(false), Error: "Invalid token"}
	data, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"success":false`) {
		t.Errorf("success:false must be serialized, got %s", data)
	}
	if strings.Contains(string(data), "request_id") || strings.Contains(string(data), "params") {
		t.Errorf("empty fields should be omitted, got %s", data)
	}
}

func TestParseMessage(t *testing.T) {
	t.Parallel()

	raw := `{"type":"command","request_id":"r-1","command":"snmp_get","params":{"target_ip":"10.0.0.1","oid":"1.3.6.1.2.1.1.1.0"}}`
	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Command != "snmp_get" || msg.Params["target_ip"] != "10.0.0.1" || msg.RequestID != "r-1" {
		t.Errorf("decoded %+v", msg)
	}

	if _, err := ParseMessage([]byte(`{"request_id":"x"}`)); err == nil {
		t.Error("missing type must be rejected")
	}
	if _, err := ParseMessage([]byte(`not json`)); err == nil {
		t.Error("invalid JSON must be rejected")
	}
}

func TestNewError(t *testing.T) {
	t.Parallel()

	msg := NewError("r-9", "Unknown command: reboot")
	if msg.Type != TypeError || msg.RequestID != "r-9" || msg.Error != "Unknown command: reboot" {
		t.Errorf("NewError = %+v", msg)
	}
}
