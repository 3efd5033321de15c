package gateway

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientLimiterDisabled(t *testing.T) {
	rl := NewClientLimiter(0, 0)
	defer rl.Stop()
	for range 100 {
		if !rl.Allow("1.2.3.4") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	if rl.Enabled() {
		t.Error("Enabled() with rpm 0")
	}
}

func TestClientLimiterBurstPerKey(t *testing.T) {
	rl := NewClientLimiter(60, 2)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst rejected")
	}
	if rl.Allow("a") {
		t.Error("third request within burst window allowed")
	}
	if !rl.Allow("b") {
		t.Error("other key throttled by a's traffic")
	}
}

func TestClientLimiterCleanup(t *testing.T) {
	rl := NewClientLimiter(60, 1)
	defer rl.Stop()
	rl.Allow("stale")
	rl.sweep(time.Now().Add(time.Minute))

	if _, ok := rl.buckets.Load("stale"); ok {
		t.Error("stale entry survived cleanup")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:51234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := ClientIP(r, false); got != "10.0.0.5" {
		t.Errorf("untrusted ClientIP = %q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.9" {
		t.Errorf("trusted ClientIP = %q", got)
	}
}
