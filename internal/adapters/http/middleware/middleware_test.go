package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// TestRateLimiter_Allow drains a bucket and refills it after an interval.
func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	t.Cleanup(rl.Close)
	now := time.Date(2024, 1, 7, 19, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if got := rl.Allow("10.0.0.1"); got != want {
			t.Errorf("request %d: Allow = %v, want %v", i+1, got, want)
		}
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other client should have its own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("bucket should refill after one interval")
	}
}

// TestRateLimit_Middleware answers 429 once the client is over the limit.
func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	t.Cleanup(rl.Close)
	handler := RateLimit(rl)(okHandler)

	codes := make([]int, 0, 2)
	for range 2 {
		req := httptest.NewRequest("GET", "/api/members", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}

// TestSecurityHeaders sets no-store only on API paths.
func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler)
	tests := []struct {
		path      string
		wantCache string
	}{
		{"/api/members", "no-store"},
		{"/healthz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest("GET", tt.path, nil))
			if got := rr.Header().Get("Cache-Control"); got != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
			if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Errorf("X-Frame-Options = %q", got)
			}
			if !strings.Contains(rr.Header().Get("Content-Security-Policy"), "default-src 'none'") {
				t.Errorf("CSP = %q", rr.Header().Get("Content-Security-Policy"))
			}
		})
	}
}

// TestCSRF exempts JSON and safe methods and blocks token-less form posts.
func TestCSRF(t *testing.T) {
	handler := CSRF(bytes.Repeat([]byte{1}, 32), false, nil)(okHandler)
	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"get", "GET", "", http.StatusOK},
		{"json post", "POST", "application/json", http.StatusOK},
		{"json post with charset", "POST", "application/json; charset=utf-8", http.StatusOK},
		{"form post", "POST", "application/x-www-form-urlencoded", http.StatusForbidden},
		{"bare post", "POST", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/attendance/toggle", strings.NewReader(""))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

// TestChain runs the last middleware first.
func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	handler := Chain(okHandler, tag("inner"), tag("outer"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}
