package main

import (
	"context"
	"net"
	"sync"
	"time"
)

// AuthRateLimiter blocks agent hosts that keep presenting a bad token.
type AuthRateLimiter struct {
	mu       sync.Mutex
	failures map[string]*authFailures // key: remote IP
	max      int
	block    time.Duration
	window   time.Duration
	now      func() time.Time
}

type authFailures struct {
	first        time.Time
	last         time.Time
	count        int
	blockedUntil time.Time
}

// NewAuthRateLimiter blocks an IP for block after max failures within window.
func NewAuthRateLimiter(max int, block, window time.Duration) *AuthRateLimiter {
	if max <= 0 {
		max = 5
	}
	return &AuthRateLimiter{
		failures: make(map[string]*authFailures),
		max:      max,
		block:    block,
		window:   window,
		now:      time.Now,
	}
}

// Blocked reports whether ip is currently blocked and until when.
func (rl *AuthRateLimiter) Blocked(ip string) (bool, time.Time) {
	if rl == nil {
		return false, time.Time{}
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	f, ok := rl.failures[ip]
	if !ok || !rl.now().Before(f.blockedUntil) {
		return false, time.Time{}
	}
	return true, f.blockedUntil
}

// Fail records a rejected auth from ip. It returns the failure count in the
// current window and whether this failure started a block.
func (rl *AuthRateLimiter) Fail(ip string) (count int, blocked bool) {
	if rl == nil {
		return 1, false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	f, ok := rl.failures[ip]
	if !ok || (now.Sub(f.first) > rl.window && !now.Before(f.blockedUntil)) {
		f = &authFailures{first: now}
		rl.failures[ip] = f
	}
	f.last = now
	f.count++
	if now.Before(f.blockedUntil) {
		return f.count, false
	}
	if f.count >= rl.max {
		f.blockedUntil = now.Add(rl.block)
		return f.count, true
	}
	return f.count, false
}

// Succeed forgets earlier failures from ip.
func (rl *AuthRateLimiter) Succeed(ip string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.failures, ip)
	rl.mu.Unlock()
}

// Run drops expired records every interval until ctx ends.
func (rl *AuthRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *AuthRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip, f := range rl.failures {
		if now.After(f.blockedUntil) && now.Sub(f.last) > rl.window {
			delete(rl.failures, ip)
		}
	}
}

// Stats is served on /api/agents/auth-stats.
func (rl *AuthRateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	blocked := 0
	now := rl.now()
	for _, f := range rl.failures {
		if now.Before(f.blockedUntil) {
			blocked++
		}
	}
	return map[string]interface{}{"tracked_hosts": len(rl.failures), "blocked_hosts": blocked}
}

// remoteIP strips the port from an http.Request RemoteAddr.
func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
