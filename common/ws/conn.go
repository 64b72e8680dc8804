package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by every Conn method once the connection is gone.
var ErrClosed = errors.New("websocket: connection is closed")

// Conn wraps *websocket.Conn so that agent, stream and event handlers can
// share one connection from several goroutines.
type Conn struct {
	c *websocket.Conn
	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// Dial connects to a ws:// or wss:// URL. http(s) URLs are rewritten to
// their websocket scheme. tlsCfg may be nil.
func Dial(urlStr string, reqHeader http.Header, tlsCfg *tls.Config, handshakeTimeout time.Duration) (*Conn, *http.Response, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return nil, nil, fmt.Errorf("URL scheme must be ws or wss, got %q", parsed.Scheme)
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  tlsCfg,
		Proxy:            http.ProxyFromEnvironment,
	}
	c, resp, err := dialer.Dial(parsed.String(), reqHeader)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeHTTP upgrades an incoming HTTP request to a websocket Conn. The
// dashboard is served from other origins in lab setups, so any origin is
// accepted.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// ReadMessage reads a text message and returns the raw bytes.
func (cw *Conn) ReadMessage() ([]byte, error) {
	if cw == nil || cw.c == nil {
		return nil, ErrClosed
	}
	_, msg, err := cw.c.ReadMessage()
	return msg, err
}

// WriteMessage writes a protocol Message as JSON with a write deadline.
func (cw *Conn) WriteMessage(msg *Message, timeout time.Duration) error {
	if msg != nil && msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return cw.WriteJSON(msg, timeout)
}

// WriteJSON writes any JSON-encodable value as a text frame.
func (cw *Conn) WriteJSON(v interface{}, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return ErrClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()

	if timeout > 0 {
		cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteJSON(v)
}

// WriteRaw writes raw bytes as a text message.
func (cw *Conn) WriteRaw(b []byte, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return ErrClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()

	if timeout > 0 {
		cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.TextMessage, b)
}

// SetWriteDeadline sets write deadline on underlying conn.
func (cw *Conn) SetWriteDeadline(t time.Time) error {
	if cw == nil || cw.c == nil {
		return ErrClosed
	}
	return cw.c.SetWriteDeadline(t)
}

// WritePing sends a ping control message.
func (cw *Conn) WritePing(timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return ErrClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()

	if timeout > 0 {
		cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.PingMessage, nil)
}

// CloseWithReason sends a close frame before closing the connection.
func (cw *Conn) CloseWithReason(code int, reason string, timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return nil
	}
	cw.writeMu.Lock()
	cw.c.WriteControl(websocket.CloseMessage, FormatCloseMessage(code, reason), time.Now().Add(timeout))
	cw.writeMu.Unlock()
	return cw.c.Close()
}

// Close closes the underlying websocket connection.
func (cw *Conn) Close() error {
	if cw == nil || cw.c == nil {
		return nil
	}
	return cw.c.Close()
}

// SetReadDeadline sets read deadline on underlying conn.
func (cw *Conn) SetReadDeadline(t time.Time) error {
	if cw == nil || cw.c == nil {
		return ErrClosed
	}
	return cw.c.SetReadDeadline(t)
}

// SetPongHandler sets the pong handler.
func (cw *Conn) SetPongHandler(h func(string) error) {
	if cw == nil || cw.c == nil {
		return
	}
	cw.c.SetPongHandler(h)
}

// RemoteAddr returns the remote address if available.
func (cw *Conn) RemoteAddr() string {
	if cw == nil || cw.c == nil || cw.c.RemoteAddr() == nil {
		return ""
	}
	return cw.c.RemoteAddr().String()
}

// FormatCloseMessage returns a close control message.
func FormatCloseMessage(code int, text string) []byte {
	return websocket.FormatCloseMessage(code, text)
}

// Close codes used by the agent and stream endpoints.
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation
)

// IsUnexpectedCloseError reports whether err is a close error with a code
// not in codes.
func IsUnexpectedCloseError(err error, codes ...int) bool {
	return websocket.IsUnexpectedCloseError(err, codes...)
}
