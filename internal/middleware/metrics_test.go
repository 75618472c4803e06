package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBasicAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		realm  string
		target string
		auth   func(r *http.Request)
		want   int
	}{
		{"metrics scrape", "metrics", "/metrics", func(r *http.Request) { r.SetBasicAuth("admin", "secret123") }, http.StatusOK},
		{"no credentials", "metrics", "/metrics", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong password", "metrics", "/metrics", func(r *http.Request) { r.SetBasicAuth("admin", "nope") }, http.StatusUnauthorized},
		{"wrong user", "metrics", "/metrics", func(r *http.Request) { r.SetBasicAuth("root", "secret123") }, http.StatusUnauthorized},
		{"malformed header", "metrics", "/metrics", func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!") }, http.StatusUnauthorized},
		{"archive listing", "archive", "/reports/" + testSession + "/archive", func(r *http.Request) {}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewBasicAuthMiddleware(tt.realm, "admin", "secret123")
			req := httptest.NewRequest("GET", tt.target, nil)
			tt.auth(req)
			rec := httptest.NewRecorder()

			mw.Handler(okHandler).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusUnauthorized {
				if got, want := rec.Header().Get("WWW-Authenticate"), `Basic realm="`+tt.realm+`"`; got != want {
					t.Errorf("WWW-Authenticate = %q, want %q", got, want)
				}
			}
		})
	}
}

func TestMetricsAuthMiddleware_DisabledWithoutCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "")
	if mw.Enabled() {
		t.Fatal("expected auth to be disabled")
	}

	rec := httptest.NewRecorder()
	mw.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 when auth is disabled, got %d", rec.Code)
	}
}
