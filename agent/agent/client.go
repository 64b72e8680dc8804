package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/svdleer/PyPNMGui/common/ws"
)

// ErrAuthRejected is returned by a session the server refused to admit.
var ErrAuthRejected = errors.New("authentication rejected")

// Executor runs server commands. *Dispatcher is the production Executor.
type Executor interface {
	Capabilities() []string
	Dispatch(ctx context.Context, command string, params map[string]interface{}) (Result, error)
}

// ClientOptions configures the backend connection.
type ClientOptions struct {
	AgentID   string
	ServerURL string
	Token     string
	Version   string
	TLSConfig *tls.Config

	// ReconnectInterval is the first retry delay. Failed attempts double
	// it up to MaxReconnectDelay.
	ReconnectInterval time.Duration
	MaxReconnectDelay time.Duration
	// ReadTimeout drops a silent connection. The backend pings every 30s.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration

	Executor Executor
	Logger   Logger
}

// Client keeps one authenticated WebSocket session to the backend alive.
type Client struct {
	opts      ClientOptions
	log       Logger
	connected atomic.Bool
	sessions  atomic.Int64
}

// NewClient validates opts and fills in timing defaults.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("server url required")
	}
	if opts.AgentID == "" {
		return nil, errors.New("agent id required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor required")
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 5 * time.Minute
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 90 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	c := &Client{opts: opts, log: opts.Logger}
	if c.log == nil {
		c.log = nopLogger{}
	}
	return c, nil
}

// Connected reports whether a session is currently authenticated.
func (c *Client) Connected() bool { return c.connected.Load() }

// Sessions counts authenticated sessions since start.
func (c *Client) Sessions() int64 { return c.sessions.Load() }

// Run connects and serves commands until ctx ends, reconnecting with
// exponential backoff. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.ReconnectInterval
	for {
		authenticated, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if authenticated {
			delay = c.opts.ReconnectInterval
		}
		if err != nil {
			c.log.Warn("Backend session ended", "error", err, "retry_in", delay)
		} else {
			c.log.Info("Backend session closed", "retry_in", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if !authenticated {
			delay *= 2
			if delay > c.opts.MaxReconnectDelay {
				delay = c.opts.MaxReconnectDelay
			}
		}
	}
}

func (c *Client) dial() (*ws.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	header.Set("X-Agent-ID", c.opts.AgentID)

	conn, resp, err := ws.Dial(c.opts.ServerURL, header, c.opts.TLSConfig, c.opts.HandshakeTimeout)
	if err != nil {
		if resp != nil {
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(resp.Body, 512))
				resp.Body.Close()
			}
			return nil, fmt.Errorf("connect %s (status %d %s): %w", c.opts.ServerURL, resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return nil, fmt.Errorf("connect %s: %w", c.opts.ServerURL, err)
	}
	return conn, nil
}

// session runs one connection from dial to disconnect.
func (c *Client) session(ctx context.Context) (authenticated bool, err error) {
	conn, err := c.dial()
	if err != nil {
		return false, err
	}

	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		c.connected.Store(false)
		cancel()
		conn.Close()
		wg.Wait()
	}()

	go func() {
		<-sctx.Done()
		conn.Close()
	}()

	auth := &ws.Message{
		Type:         ws.TypeAuth,
		AgentID:      c.opts.AgentID,
		Token:        c.opts.Token,
		Version:      c.opts.Version,
		Capabilities: c.opts.Executor.Capabilities(),
	}
	if err := conn.WriteMessage(auth, c.opts.WriteTimeout); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}
	c.log.Info("Connected, authenticating", "url", c.opts.ServerURL, "agent_id", c.opts.AgentID)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(sctx, conn)
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return authenticated, err
		}
		raw, err := conn.ReadMessage()
		if err != nil {
			if sctx.Err() != nil {
				return authenticated, nil
			}
			return authenticated, fmt.Errorf("read: %w", err)
		}
		msg, err := ws.ParseMessage(raw)
		if err != nil {
			c.log.Warn("Dropping malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case ws.TypeAuthSuccess:
			authenticated = true
			c.connected.Store(true)
			c.sessions.Add(1)
			c.log.Info("Authenticated with backend", "agent_id", c.opts.AgentID, "message", msg.Message)
		case ws.TypeAuthResponse:
			if msg.Success != nil && *msg.Success {
				continue
			}
			return false, fmt.Errorf("%w: %s", ErrAuthRejected, msg.Error)
		case ws.TypePing:
			if err := conn.WriteMessage(&ws.Message{Type: ws.TypePong}, c.opts.WriteTimeout); err != nil {
				return authenticated, fmt.Errorf("send pong: %w", err)
			}
		case ws.TypeCommand:
			if !authenticated {
				c.log.Warn("Command before auth_success ignored", "command", msg.Command)
				continue
			}
			wg.Add(1)
			go func(m *ws.Message) {
				defer wg.Done()
				c.handleCommand(sctx, conn, m)
			}(msg)
		case ws.TypeError:
			c.log.Warn("Backend error", "error", msg.Error, "request_id", msg.RequestID)
		case ws.TypePong, ws.TypeHeartbeatAck:
		default:
			c.log.Debug("Ignoring message", "type", msg.Type)
		}
	}
}

func (c *Client) keepalive(ctx context.Context, conn *ws.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WritePing(c.opts.WriteTimeout); err != nil {
				c.log.Debug("Keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, conn *ws.Conn, msg *ws.Message) {
	c.log.Info("Command received", "command", msg.Command, "request_id", msg.RequestID)
	res, err := c.dispatch(ctx, msg)

	var reply *ws.Message
	if err != nil {
		reply = ws.NewError(msg.RequestID, err.Error())
	} else {
		reply = &ws.Message{Type: ws.TypeResponse, RequestID: msg.RequestID, Result: map[string]interface{}(res)}
	}
	if err := conn.WriteMessage(reply, c.opts.WriteTimeout); err != nil {
		c.log.Warn("Reply failed", "command", msg.Command, "request_id", msg.RequestID, "error", err)
	}
}

// dispatch isolates handler panics so one bad command does not drop the
// session.
func (c *Client) dispatch(ctx context.Context, msg *ws.Message) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Command panicked", "command", msg.Command, "panic", r)
			err = fmt.Errorf("internal error in %s", msg.Command)
		}
	}()
	res, err = c.opts.Executor.Dispatch(ctx, msg.Command, msg.Params)
	if err == nil && res == nil {
		res = Result{"success": true}
	}
	return res, err
}
