package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter(t *testing.T, maxAttempts int, window time.Duration) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(maxAttempts, window, testLogger())
	t.Cleanup(rl.Close)
	return rl
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// =============================================================================
// RateLimiter Tests
// =============================================================================

func TestNewRateLimiter(t *testing.T) {
	rl := newTestLimiter(t, 5, time.Minute)

	if rl.maxAttempts != 5 {
		t.Errorf("expected maxAttempts=5, got %d", rl.maxAttempts)
	}
	if rl.window != time.Minute {
		t.Errorf("expected window=1m, got %v", rl.window)
	}
}

func TestRateLimiter_Allow_UnderLimit(t *testing.T) {
	rl := newTestLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
}

func TestRateLimiter_Allow_AtLimit(t *testing.T) {
	rl := newTestLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		rl.Allow("192.168.1.1")
	}

	if rl.Allow("192.168.1.1") {
		t.Error("6th request should be denied")
	}
}

func TestRateLimiter_Allow_DifferentIPs(t *testing.T) {
	rl := newTestLimiter(t, 2, time.Minute)

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("IP 1 should be rate limited")
	}

	// IP 2 has its own budget
	if !rl.Allow("192.168.1.2") {
		t.Error("IP 2 should not be rate limited")
	}
	if !rl.Allow("192.168.1.2") {
		t.Error("IP 2 should still not be rate limited")
	}
	if rl.Allow("192.168.1.2") {
		t.Error("IP 2 should now be rate limited")
	}
}

func TestRateLimiter_Allow_WindowExpiry(t *testing.T) {
	rl := newTestLimiter(t, 2, 50*time.Millisecond)

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("should be rate limited")
	}

	time.Sleep(60 * time.Millisecond)

	if !rl.Allow("192.168.1.1") {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := newTestLimiter(t, 2, time.Minute)

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("should be rate limited")
	}

	rl.Reset("192.168.1.1")

	if !rl.Allow("192.168.1.1") {
		t.Error("should be allowed after reset")
	}
	if d := rl.TimeUntilReset("unknown"); d != 0 {
		t.Errorf("expected 0 for unknown key, got %v", d)
	}
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, testLogger())
	rl.Close()
	rl.Close()
}

// =============================================================================
// RateLimitMiddleware Tests
// =============================================================================

func TestRateLimitMiddleware_BlocksAfterLimit(t *testing.T) {
	mw := NewRateLimitMiddleware(newTestLimiter(t, 2, time.Minute), testLogger())
	wrapped := mw.Limit(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/reports/abc/export?format=pdf", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		if i < 2 && rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if i == 2 && rec.Code != http.StatusTooManyRequests {
			t.Errorf("request %d: expected 429, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_JSONResponse(t *testing.T) {
	mw := NewRateLimitMiddleware(newTestLimiter(t, 1, time.Minute), testLogger())
	wrapped := mw.Limit(okHandler)

	req := httptest.NewRequest("POST", "/reports/abc/restore", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %s", ct)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header to be set")
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "rate_limit" {
		t.Errorf("expected code rate_limit, got %q", body.Error.Code)
	}
}

func TestRateLimitMiddleware_PlainTextForBrowsers(t *testing.T) {
	mw := NewRateLimitMiddleware(newTestLimiter(t, 1, time.Minute), testLogger())
	wrapped := mw.Limit(okHandler)

	req := httptest.NewRequest("GET", "/reports/abc/export", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("expected text/plain content type, got %s", ct)
	}
}

func TestRateLimitMiddleware_ClientIPHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"x-forwarded-for", "X-Forwarded-For", "203.0.113.195, 70.41.3.18, 150.172.238.178"},
		{"x-real-ip", "X-Real-IP", "203.0.113.195"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewRateLimitMiddleware(newTestLimiter(t, 2, time.Minute), testLogger())
			wrapped := mw.Limit(okHandler)

			for i := 0; i < 3; i++ {
				req := httptest.NewRequest("GET", "/reports/abc/export", nil)
				// Different proxy ports, same client
				req.RemoteAddr = "10.0.0.1:1234" + string(rune('0'+i))
				req.Header.Set(tt.header, tt.value)
				rec := httptest.NewRecorder()

				wrapped.ServeHTTP(rec, req)

				if i < 2 && rec.Code != http.StatusOK {
					t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
				}
				if i == 2 && rec.Code != http.StatusTooManyRequests {
					t.Errorf("request %d: expected 429, got %d", i+1, rec.Code)
				}
			}
		})
	}
}

func TestGetClientIP_RemoteAddrWithoutPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.7"

	if got := getClientIP(req); got != "192.168.1.7" {
		t.Errorf("expected 192.168.1.7, got %s", got)
	}
}

// =============================================================================
// ExportRateLimiter Tests
// =============================================================================

func TestExportRateLimiter_SeparateBudgets(t *testing.T) {
	erl := NewExportRateLimiter(1, 2, testLogger())
	t.Cleanup(erl.Close)

	export := erl.LimitExport(okHandler)
	restore := erl.LimitRestore(okHandler)

	send := func(h http.Handler) int {
		req := httptest.NewRequest("POST", "/reports/abc/restore", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(export); code != http.StatusOK {
		t.Errorf("first export: expected 200, got %d", code)
	}
	if code := send(export); code != http.StatusTooManyRequests {
		t.Errorf("second export: expected 429, got %d", code)
	}

	// Exhausting exports leaves the restore budget untouched
	if code := send(restore); code != http.StatusOK {
		t.Errorf("first restore: expected 200, got %d", code)
	}
	if code := send(restore); code != http.StatusOK {
		t.Errorf("second restore: expected 200, got %d", code)
	}
	if code := send(restore); code != http.StatusTooManyRequests {
		t.Errorf("third restore: expected 429, got %d", code)
	}
}
