package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/common/ws"
	"github.com/svdleer/PyPNMGui/server/agents"
	"github.com/svdleer/PyPNMGui/server/metrics"
	"github.com/svdleer/PyPNMGui/server/storage"
)

const (
	agentPingInterval = 25 * time.Second
	agentReadTimeout  = 60 * time.Second
)

// agentSocket serves /ws/agent. Authentication happens in-band: the agent
// sends an auth message after the upgrade and the manager checks it.
type agentSocket struct {
	manager *agents.Manager
	limiter *AuthRateLimiter
	store   storage.Store
	metrics *metrics.Metrics
}

func (a *agentSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := getRealIP(r)

	if blocked, until := a.limiter.Blocked(clientIP); blocked {
		logWarn("Blocked agent connection attempt", "ip", clientIP, "blocked_until", until.Format(time.RFC3339))
		http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
		return
	}

	conn, err := ws.UpgradeHTTP(w, r)
	if err != nil {
		logError("Agent WebSocket upgrade failed", "ip", clientIP, "error", err)
		return
	}
	logInfo("Agent WebSocket connected", "ip", clientIP, "user_agent", r.Header.Get("User-Agent"))

	session := a.manager.Attach(conn, clientIP)

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(agentPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WritePing(10 * time.Second); err != nil {
					logWarn("Agent ping failed, closing connection", "agent_id", session.AgentID(), "error", err)
					conn.Close()
					return
				}
			case <-pingDone:
				return
			}
		}
	}()

	defer func() {
		close(pingDone)
		session.Close()
		conn.Close()
		if id := session.AgentID(); id != "" {
			logInfo("Agent WebSocket disconnected", "agent_id", id)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(agentReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(agentReadTimeout))
	})

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				logWarn("Agent WebSocket error", "agent_id", session.AgentID(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(agentReadTimeout))

		wasAuthed := session.Authenticated()
		err = session.HandleRaw(raw)
		if err == nil {
			if !wasAuthed && session.Authenticated() {
				a.limiter.Succeed(clientIP)
			}
			continue
		}
		if !agents.IsFatal(err) {
			continue
		}
		if errors.Is(err, agents.ErrInvalidToken) {
			a.authFailed(r.Context(), clientIP, r.Header.Get("User-Agent"))
		}
		_ = conn.CloseWithReason(ws.ClosePolicyViolation, "authentication failed", time.Second)
		return
	}
}

func (a *agentSocket) authFailed(ctx context.Context, ip, userAgent string) {
	a.metrics.AuthFailed()
	count, blocked := a.limiter.Fail(ip)

	fields := []interface{}{"ip", ip, "attempt_count", count, "user_agent", userAgent}
	switch {
	case blocked:
		logError("Agent auth failed, host blocked", fields...)
		a.audit(ctx, &storage.AuditEntry{
			Action:    "auth_blocked",
			Details:   fmt.Sprintf("blocked after %d failed agent auth attempts", count),
			IPAddress: ip,
		})
	case count >= 3:
		logWarn("Repeated agent auth failures", fields...)
	default:
		logWarn("Invalid agent token", fields...)
		a.audit(ctx, &storage.AuditEntry{Action: "auth_failed", IPAddress: ip})
	}
}

func (a *agentSocket) audit(ctx context.Context, entry *storage.AuditEntry) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.SaveAuditEntry(ctx, entry); err != nil {
		logWarn("Failed to write audit entry", "action", entry.Action, "error", err)
	}
}

// agentHooks records agent lifecycle in history, publishes it to browser
// subscribers and feeds the task metrics.
func agentHooks(store storage.Store, hub *ws.Hub, m *metrics.Metrics) agents.Hooks {
	background := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	return agents.Hooks{
		OnConnect: func(info agents.Info) {
			if store != nil {
				ctx, cancel := background()
				err := store.RecordAgentConnect(ctx, &storage.AgentSession{
					AgentID:      info.AgentID,
					Version:      info.Version,
					Capabilities: info.Capabilities,
					RemoteAddr:   info.RemoteAddr,
					ConnectedAt:  info.ConnectedAt,
				})
				cancel()
				if err != nil {
					logWarn("Failed to record agent connect", "agent_id", info.AgentID, "error", err)
				}
			}
			if hub != nil {
				hub.Publish("agent_connected", map[string]interface{}{
					"agent_id":     info.AgentID,
					"version":      info.Version,
					"capabilities": info.Capabilities,
				})
			}
		},
		OnDisconnect: func(info agents.Info) {
			if store != nil {
				ctx, cancel := background()
				if err := store.RecordAgentDisconnect(ctx, info.AgentID, "disconnected", time.Now()); err != nil {
					logWarn("Failed to record agent disconnect", "agent_id", info.AgentID, "error", err)
				}
				cancel()
			}
			if hub != nil {
				hub.Publish("agent_disconnected", map[string]interface{}{"agent_id": info.AgentID})
			}
		},
		OnTaskDone: func(r *agents.TaskResult) {
			m.ObserveAgentTask(r.Command, r.Error, r.Duration)
			if store == nil {
				return
			}
			status := "success"
			if r.Error != "" {
				status = "error"
			}
			ctx, cancel := background()
			defer cancel()
			_ = store.SaveMeasurement(ctx, &storage.Measurement{
				Timestamp:  r.CompletedAt,
				Type:       r.Command,
				Source:     "agent:" + r.AgentID,
				Status:     status,
				DurationMs: r.Duration.Milliseconds(),
				Error:      r.Error,
			})
		},
	}
}

// runAgentKeepalive pings agents and drops the ones that went silent.
func runAgentKeepalive(ctx context.Context, manager *agents.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			manager.PingAll()
			if stale := manager.PruneStale(now); len(stale) > 0 {
				logInfo("Pruned stale agents", "agents", strings.Join(stale, ","))
			}
		}
	}
}

// getRealIP prefers X-Forwarded-For when the server sits behind a proxy.
func getRealIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return remoteIP(r.RemoteAddr)
}
