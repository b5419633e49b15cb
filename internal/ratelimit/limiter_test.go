package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCheck_Cooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(&Config{Cooldown: 10 * time.Second, MaxPerHour: 5, Clock: clock})
	defer limiter.Close()

	ip := "203.0.113.7"
	if result := limiter.Check(ip); !result.Allowed {
		t.Fatalf("first request blocked: %s", result.Reason)
	}
	limiter.Record(ip)

	clock.Advance(4 * time.Second)
	result := limiter.Check(ip)
	if result.Allowed || result.Reason != "cooldown" {
		t.Fatalf("Check() within cooldown = %+v, want cooldown block", result)
	}
	if result.RetryAfter != 6*time.Second {
		t.Fatalf("RetryAfter = %v, want 6s", result.RetryAfter)
	}

	clock.Advance(6 * time.Second)
	if result := limiter.Check(ip); !result.Allowed {
		t.Fatalf("request after cooldown blocked: %s", result.Reason)
	}
}

func TestCheck_HourlyLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(&Config{Cooldown: time.Second, MaxPerHour: 3, Clock: clock})
	defer limiter.Close()

	ip := "203.0.113.7"
	for i := 0; i < 3; i++ {
		if result := limiter.Check(ip); !result.Allowed {
			t.Fatalf("request %d blocked: %s", i+1, result.Reason)
		}
		limiter.Record(ip)
		clock.Advance(2 * time.Second)
	}

	result := limiter.Check(ip)
	if result.Allowed || result.Reason != "hourly_limit" {
		t.Fatalf("Check() after limit = %+v, want hourly_limit", result)
	}
	if other := limiter.Check("198.51.100.1"); !other.Allowed {
		t.Fatalf("other client blocked: %s", other.Reason)
	}

	clock.Advance(time.Hour)
	if result := limiter.Check(ip); !result.Allowed {
		t.Fatalf("request after window blocked: %s", result.Reason)
	}
}

func TestCleanupDropsStaleEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(&Config{Cooldown: time.Second, MaxPerHour: 3, Clock: clock})
	defer limiter.Close()

	limiter.Record("203.0.113.7")
	clock.Advance(2 * time.Hour)
	limiter.cleanup()
	if got := limiter.Len(); got != 0 {
		t.Fatalf("Len() after cleanup = %d, want 0", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{name: "remote_addr", remoteAddr: "203.0.113.7:1234", want: "203.0.113.7"},
		{name: "untrusted_xff_ignored", remoteAddr: "10.0.0.1:1234", xff: "203.0.113.7", want: "10.0.0.1"},
		{name: "trusted_xff_rightmost_public", remoteAddr: "10.0.0.1:1234", xff: "198.51.100.1, 203.0.113.7, 10.0.0.2", trustProxy: true, want: "203.0.113.7"},
		{name: "trusted_xff_all_private", remoteAddr: "10.0.0.1:1234", xff: "10.0.0.3, 192.168.1.1", trustProxy: true, want: "192.168.1.1"},
		{name: "trusted_real_ip", remoteAddr: "10.0.0.1:1234", xri: "203.0.113.9", trustProxy: true, want: "203.0.113.9"},
		{name: "no_port", remoteAddr: "203.0.113.7", want: "203.0.113.7"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = test.remoteAddr
			if test.xff != "" {
				r.Header.Set("X-Forwarded-For", test.xff)
			}
			if test.xri != "" {
				r.Header.Set("X-Real-IP", test.xri)
			}
			if got := GetClientIP(r, test.trustProxy); got != test.want {
				t.Fatalf("GetClientIP() = %q, want %q", got, test.want)
			}
		})
	}
}
