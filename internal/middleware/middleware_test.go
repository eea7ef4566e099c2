package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fl2m/platform/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.fl2m.fr/", " http://localhost:3000"}).Handler(okHandler())

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed bool
	}{
		{"allowed get", http.MethodGet, "https://app.fl2m.fr", false, http.StatusOK, true},
		{"localhost", http.MethodGet, "http://localhost:3000", false, http.StatusOK, true},
		{"suffix is not enough", http.MethodGet, "https://evil-app.fl2m.fr", false, http.StatusOK, false},
		{"preflight allowed", http.MethodOptions, "https://app.fl2m.fr", true, http.StatusNoContent, true},
		{"preflight denied", http.MethodOptions, "https://evil.example", true, http.StatusForbidden, false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/practitioners", nil)
		req.Header.Set("Origin", tt.origin)
		if tt.preflight {
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.wantAllowed {
			t.Errorf("%s: allowed = %t, want %t", tt.name, got, tt.wantAllowed)
		}
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	handler := NewCORSMiddleware([]string{"*"}).Handler(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://anything.example" {
		t.Fatal("wildcard should echo the origin")
	}
}

func TestRateLimiter_PerUser(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.NewNop())
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	handler := rl.Handler(okHandler())

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req = req.WithContext(logger.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("a") != http.StatusOK || do("a") != http.StatusOK {
		t.Fatal("burst should be allowed")
	}
	if code := do("a"); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
	if do("b") != http.StatusOK {
		t.Fatal("other users have their own bucket")
	}

	clock = clock.Add(time.Second)
	if do("a") != http.StatusOK {
		t.Fatal("bucket should refill")
	}
}

func TestRateLimiter_AnonymousByIP(t *testing.T) {
	rl := NewRateLimiter(1, 1, logger.NewNop())
	handler := rl.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/practitioners", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	req = httptest.NewRequest(http.MethodGet, "/practitioners", nil)
	req.RemoteAddr = "203.0.113.7:6666"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP on another port = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(5, 5, logger.NewNop())
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.allow("user:old")
	clock = clock.Add(9 * time.Minute)
	rl.allow("user:new")
	clock = clock.Add(2 * time.Minute)

	if removed := rl.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := rl.visitors["user:new"]; !ok {
		t.Fatal("recent visitor dropped")
	}
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	handler := NewTracingMiddleware(logger.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceHeader, "trace-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "trace-abc" || rec.Header().Get(TraceHeader) != "trace-abc" {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if seen == "" || seen == "trace-abc" {
		t.Fatal("expected a generated trace id")
	}
}
