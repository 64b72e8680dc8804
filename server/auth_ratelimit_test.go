package main

import (
	"testing"
	"time"
)

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestAuthRateLimiterBlocksAfterMax(t *testing.T) {
	t.Parallel()

	rl := NewAuthRateLimiter(3, time.Minute, 30*time.Second)
	now, clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl.now = clock
	ip := "192.168.1.100"

	for i := 1; i <= 2; i++ {
		count, blocked := rl.Fail(ip)
		if blocked || count != i {
			t.Fatalf("attempt %d: count=%d blocked=%v", i, count, blocked)
		}
	}
	if count, blocked := rl.Fail(ip); !blocked || count != 3 {
		t.Fatalf("third attempt should start a block, count=%d blocked=%v", count, blocked)
	}
	if blocked, until := rl.Blocked(ip); !blocked || !until.Equal(now.Add(time.Minute)) {
		t.Errorf("Blocked() = %v %v", blocked, until)
	}
	// A failure while blocked does not restart the block.
	if _, blocked := rl.Fail(ip); blocked {
		t.Error("failure during a block should not report a new block")
	}
	if blocked, _ := rl.Blocked("10.0.0.1"); blocked {
		t.Error("other hosts must not be blocked")
	}

	*now = now.Add(2 * time.Minute)
	if blocked, _ := rl.Blocked(ip); blocked {
		t.Error("block should expire")
	}
	if count, _ := rl.Fail(ip); count != 1 {
		t.Errorf("count after expiry = %d, want 1", count)
	}
}

func TestAuthRateLimiterSuccessResets(t *testing.T) {
	t.Parallel()

	rl := NewAuthRateLimiter(3, time.Minute, 30*time.Second)
	ip := "192.168.1.100"
	rl.Fail(ip)
	rl.Fail(ip)
	rl.Succeed(ip)
	if count, blocked := rl.Fail(ip); blocked || count != 1 {
		t.Errorf("count=%d blocked=%v, want a fresh record", count, blocked)
	}
}

func TestAuthRateLimiterWindowExpiry(t *testing.T) {
	t.Parallel()

	rl := NewAuthRateLimiter(3, time.Minute, 30*time.Second)
	now, clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl.now = clock
	ip := "192.168.1.100"
	rl.Fail(ip)
	rl.Fail(ip)

	*now = now.Add(45 * time.Second)
	if count, _ := rl.Fail(ip); count != 1 {
		t.Errorf("count = %d, old failures should fall out of the window", count)
	}

	*now = now.Add(2 * time.Minute)
	rl.sweep()
	if stats := rl.Stats(); stats["tracked_hosts"] != 0 {
		t.Errorf("stats after sweep = %v", stats)
	}
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"192.168.1.5:53211": "192.168.1.5",
		"[::1]:8080":        "::1",
		"10.0.0.1":          "10.0.0.1",
	}
	for in, want := range tests {
		if got := remoteIP(in); got != want {
			t.Errorf("remoteIP(%q) = %q, want %q", in, got, want)
		}
	}
}
