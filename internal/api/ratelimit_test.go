package api

import (
	"net/http/httptest"
	"testing"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	for i := 0; i < 2; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d rejected inside burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("burst exceeded but allowed")
	}
	if rl.RetryAfter("10.0.0.1") < 1 {
		t.Fatal("retry-after should be positive")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("other IP limited")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("disabled limiter rejected")
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	if got := clientIP(r); got != "192.0.2.7" {
		t.Fatalf("remote = %s", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded = %s", got)
	}
}
