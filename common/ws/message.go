package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the flat JSON envelope exchanged between the GUI backend and
// remote agents. Only the fields relevant to a given Type are populated.
type Message struct {
	Type         string                 `json:"type"`
	RequestID    string                 `json:"request_id,omitempty"`
	Command      string                 `json:"command,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	AgentID      string                 `json:"agent_id,omitempty"`
	Token        string                 `json:"token,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Success      *bool                  `json:"success,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Timestamp    time.Time              `json:"timestamp,omitempty"`
}

// Agent protocol message types.
const (
	TypeAuth         = "auth"
	TypeAuthSuccess  = "auth_success"
	TypeAuthResponse = "auth_response"
	TypeCommand      = "command"
	TypeResponse     = "response"
	TypeError        = "error"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeHeartbeatAck = "heartbeat_ack"
)

// Browser event feed types.
const (
	TypeAgentConnected    = "agent_connected"
	TypeAgentDisconnected = "agent_disconnected"
	TypeLog               = "log"
)

// Marshal marshals the message to JSON bytes, stamping it if needed.
func (m *Message) Marshal() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}

// ParseMessage decodes raw bytes into a Message. A message without a type
// is rejected.
func ParseMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &m, nil
}

// Bool returns a pointer to b, for the Success field.
func Bool(b bool) *bool { return &b }

// NewError builds an error reply, optionally bound to a request.
func NewError(requestID, text string) *Message {
	return &Message{Type: TypeError, RequestID: requestID, Error: text}
}
