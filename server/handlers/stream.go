package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/svdleer/PyPNMGui/common/ws"
	"github.com/svdleer/PyPNMGui/server/utsc"
)

const (
	streamWriteTimeout = 10 * time.Second
	// configReadTimeout bounds the wait for the browser's first message.
	configReadTimeout = 30 * time.Second
	eventPingInterval = 30 * time.Second
)

// StreamMetrics counts live spectrum sessions. *metrics.Metrics satisfies it.
type StreamMetrics interface {
	StreamOpened() func()
	StreamFrame()
}

// StreamAPI serves the browser WebSockets: the live UTSC spectrum stream
// and the dashboard event feed.
type StreamAPI struct {
	opts StreamAPIOptions
}

type StreamAPIOptions struct {
	Controller utsc.Controller
	Files      utsc.Files
	Settings   Settings
	Hub        *ws.Hub
	// Agents, when set, seeds new event subscribers with the agent list.
	Agents  AgentRelay
	Metrics StreamMetrics
	Logger  Logger

	// Streamer timings. Zero keeps the production defaults.
	Window       time.Duration
	Grace        time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
}

func NewStreamAPI(opts StreamAPIOptions) *StreamAPI {
	return &StreamAPI{opts: opts}
}

func (api *StreamAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/utsc/stream", api.handleUTSCStream)
	mux.HandleFunc("GET /ws/events", api.handleEvents)
}

func (api *StreamAPI) newStreamer() *utsc.Streamer {
	var log utsc.Logger
	if api.opts.Logger != nil {
		log = api.opts.Logger
	}
	s := utsc.NewStreamer(api.opts.Controller, api.opts.Files, log)
	if api.opts.Window > 0 {
		s.Window = api.opts.Window
	}
	if api.opts.Grace > 0 {
		s.Grace = api.opts.Grace
	}
	if api.opts.PollInterval > 0 {
		s.PollInterval = api.opts.PollInterval
	}
	if api.opts.SettleDelay > 0 {
		s.SettleDelay = api.opts.SettleDelay
	}
	if api.opts.Metrics != nil {
		s.OnFrame = api.opts.Metrics.StreamFrame
	}
	return s
}

// watchClose cancels the returned context once the browser goes away. The
// browser sends nothing after its first message, so any read error means
// the socket is gone.
func watchClose(parent context.Context, conn *ws.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer cancel()
		for {
			if _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return ctx, cancel
}

func (api *StreamAPI) handleUTSCStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.UpgradeHTTP(w, r)
	if err != nil {
		api.logWarn("UTSC stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	fail := func(msg string) {
		_ = conn.WriteJSON(utsc.MessageFrame{Type: utsc.FrameError, Message: msg}, streamWriteTimeout)
		_ = conn.CloseWithReason(ws.ClosePolicyViolation, msg, time.Second)
	}

	_ = conn.SetReadDeadline(time.Now().Add(configReadTimeout))
	raw, err := conn.ReadMessage()
	if err != nil {
		api.logDebug("UTSC stream closed before config", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var req utsc.StreamRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		fail("Invalid JSON")
		return
	}
	req.ApplyDefaults(api.opts.Settings.CMTSWriteCommunity)
	if err := req.Check(); err != nil {
		fail(err.Error())
		return
	}
	if api.opts.Controller == nil {
		fail("UTSC streaming is not available")
		return
	}

	if api.opts.Metrics != nil {
		defer api.opts.Metrics.StreamOpened()()
	}
	ctx, cancel := watchClose(r.Context(), conn)
	defer cancel()

	send := func(frame interface{}) error {
		return conn.WriteJSON(frame, streamWriteTimeout)
	}
	if err := api.newStreamer().Run(ctx, req, send); err != nil {
		if ctx.Err() == nil {
			api.logWarn("UTSC stream ended with error", "cmts_ip", req.CMTSIP, "error", err)
		}
		return
	}
	_ = conn.CloseWithReason(ws.CloseNormalClosure, "complete", time.Second)
}

func (api *StreamAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if api.opts.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Event feed is not enabled")
		return
	}
	conn, err := ws.UpgradeHTTP(w, r)
	if err != nil {
		api.logWarn("Event feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	events := make(chan ws.Event, 32)
	api.opts.Hub.Register(id, events)
	defer api.opts.Hub.Unregister(id)

	ctx, cancel := watchClose(r.Context(), conn)
	defer cancel()

	if api.opts.Agents != nil {
		snapshot := ws.Event{Type: "snapshot", Data: map[string]interface{}{"agents": api.opts.Agents.Agents()}, Timestamp: time.Now()}
		if err := conn.WriteJSON(snapshot, streamWriteTimeout); err != nil {
			return
		}
	}

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.CloseWithReason(ws.CloseGoingAway, "server shutting down", time.Second)
				return
			}
			if err := conn.WriteJSON(ev, streamWriteTimeout); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WritePing(streamWriteTimeout); err != nil {
				return
			}
		}
	}
}

func (api *StreamAPI) logDebug(msg string, kv ...interface{}) {
	if api.opts.Logger != nil {
		api.opts.Logger.Debug(msg, kv...)
	}
}

func (api *StreamAPI) logWarn(msg string, kv ...interface{}) {
	if api.opts.Logger != nil {
		api.opts.Logger.Warn(msg, kv...)
	}
}
