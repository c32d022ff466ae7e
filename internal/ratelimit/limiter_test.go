package ratelimit

import (
	"strings"
	"testing"
)

func TestLimiter_AllowsWithinBurst(t *testing.T) {
	l := NewLimiter(10, 5, 10, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("1.2.3.4", "alice") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
}

func TestLimiter_RejectsOverBurst(t *testing.T) {
	l := NewLimiter(1, 2, 1, 2)
	defer l.Stop()

	// Consume burst
	l.Allow("1.2.3.4", "alice")
	l.Allow("1.2.3.4", "alice")

	// Should be rejected now
	if l.Allow("1.2.3.4", "alice") {
		t.Error("expected rejection after burst exhausted")
	}
}

func TestLimiter_DifferentIPsIndependent(t *testing.T) {
	l := NewLimiter(1, 1, 100, 100)
	defer l.Stop()

	if !l.Allow("1.1.1.1", "") {
		t.Error("first IP should be allowed")
	}
	if !l.Allow("2.2.2.2", "") {
		t.Error("second IP should be allowed independently")
	}
}

func TestLimiter_PerUserLimiting(t *testing.T) {
	l := NewLimiter(100, 100, 1, 1)
	defer l.Stop()

	if !l.Allow("1.1.1.1", "alice") {
		t.Error("first request for alice should be allowed")
	}
	if l.Allow("2.2.2.2", "alice") {
		t.Error("second request for alice (different IP) should be rejected by per-user limit")
	}
}

func TestLimiter_NoUserSkipsUserCheck(t *testing.T) {
	l := NewLimiter(100, 100, 1, 1)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("1.1.1.1", "") {
			t.Fatalf("request %d with empty user should skip per-user check", i+1)
		}
	}
}

func TestLimiter_Status(t *testing.T) {
	l := NewLimiter(10, 20, 5, 10)
	defer l.Stop()

	l.Allow("1.1.1.1", "alice")
	status := l.Status()

	if status["ip_rps"] != 10.0 {
		t.Errorf("expected ip_rps=10, got %v", status["ip_rps"])
	}
	if status["per_user_burst"] != 10 {
		t.Errorf("expected per_user_burst=10, got %v", status["per_user_burst"])
	}
	if status["active_ip_limiters"].(int) < 1 {
		t.Error("expected at least 1 active IP limiter")
	}
}

func TestBandwidthLimiter_DisabledPassthrough(t *testing.T) {
	bl := NewBandwidthLimiter(0)
	r := strings.NewReader("payload")
	if got := bl.ThrottledReader("1.1.1.1", r); got != r {
		t.Error("disabled limiter should return the reader unchanged")
	}
}

func TestBandwidthLimiter_ReadsAll(t *testing.T) {
	bl := NewBandwidthLimiter(1 << 20)
	r := bl.ThrottledReader("1.1.1.1", strings.NewReader("telemetry payload"))

	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "telemetry payload" {
		t.Errorf("read %q", buf[:n])
	}
}
