package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediagate/internal/observability/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddlewareRejectsOverBudget(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Limit: 1, Window: 2 * time.Hour})
	recorder := metrics.New()
	handler := rateLimitMiddleware(rl, recorder, okHandler())

	first := httptest.NewRequest(http.MethodPost, "/whatsapp/media", nil)
	first.RemoteAddr = "192.0.2.10:4444"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/whatsapp/media", nil)
	second.RemoteAddr = "192.0.2.10:4445"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rejection")
	}

	var body struct {
		Error   string                 `json:"error"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "Too many requests" {
		t.Fatalf("unexpected error label %q", body.Error)
	}
	if body.Details["client_key"] != "192.0.2.10" {
		t.Fatalf("unexpected client key %v", body.Details["client_key"])
	}
}

func TestRateLimitMiddlewareBypassesProbes(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Limit: 1, Window: time.Hour})
	handler := rateLimitMiddleware(rl, metrics.New(), okHandler())

	for i := 0; i < 5; i++ {
		for _, path := range []string{"/healthz", "/metrics"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.RemoteAddr = "192.0.2.10:4444"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("%s must bypass the limiter, got %d", path, rec.Code)
			}
		}
	}
}

func TestClientIPFromRequest(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.9:51000",
			want:       "203.0.113.9",
		},
		{
			name:       "forwarded-for wins",
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"},
			want:       "198.51.100.7",
		},
		{
			name:       "real-ip fallback",
			remoteAddr: "10.0.0.1:443",
			headers:    map[string]string{"X-Real-IP": "198.51.100.8"},
			want:       "198.51.100.8",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			if got := clientIPFromRequest(req); got != tc.want {
				t.Fatalf("clientIPFromRequest = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestIDMiddlewareEchoesHeader(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get("X-Request-Id")
	})
	handler := requestIDMiddleware(nil, next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-42" {
		t.Fatalf("expected supplied request id echoed, got %q", seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id on response")
	}
}
