package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORSMiddlewareAllowsConfiguredOrigins(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{DashboardOrigins: []string{"https://studio.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Host = "api.streamforge.example"
	req.Header.Set("Origin", "https://studio.example.com")
	rec := httptest.NewRecorder()

	corsMiddleware(policy, nil, next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to run for allowed origin")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("unexpected allow credentials %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("unexpected vary header %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Segment-Index") {
		t.Fatalf("expected streaming headers to be exposed, got %q", got)
	}
}

func TestCORSMiddlewareHandlesPreflight(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{PlayerOrigins: []string{"https://player.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/videos/vid_1/segments/720p/0", nil)
	req.Host = "api.streamforge.example"
	req.Header.Set("Origin", "https://player.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Range")
	rec := httptest.NewRecorder()

	corsMiddleware(policy, nil, next).ServeHTTP(rec, req)

	if called {
		t.Fatal("expected preflight to short-circuit before the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight response, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE, OPTIONS" {
		t.Fatalf("unexpected allow methods %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Range" {
		t.Fatalf("expected requested headers to be echoed, got %q", got)
	}
}

func TestCORSMiddlewarePreflightDefaultsAllowHeaders(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{DashboardOrigins: []string{"https://studio.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/videos", nil)
	req.Host = "api.streamforge.example"
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	corsMiddleware(policy, nil, http.NotFoundHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight response, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization, Range" {
		t.Fatalf("unexpected default allow headers %q", got)
	}
}

func TestCORSMiddlewareRejectsUnknownOrigin(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{DashboardOrigins: []string{"https://studio.example.com"}})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Host = "api.streamforge.example"
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()

	corsMiddleware(policy, nil, next).ServeHTTP(rec, req)

	if called {
		t.Fatal("expected handler to be skipped for blocked origin")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked origin, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin header, got %q", got)
	}
}

func TestCORSMiddlewareAllowsSameOriginRequests(t *testing.T) {
	policy, err := newCORSPolicy(CORSConfig{})
	if err != nil {
		t.Fatalf("newCORSPolicy error: %v", err)
	}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Host = "videos.example.com"
	req.Header.Set("Origin", "http://videos.example.com")
	rec := httptest.NewRecorder()

	corsMiddleware(policy, nil, next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected same-origin request to pass")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://videos.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestServerAppliesCORSConfig(t *testing.T) {
	handler, _ := newTestHandler(t)
	srv, err := New(handler, Config{
		Addr: "127.0.0.1:0",
		CORS: CORSConfig{
			DashboardOrigins: []string{"https://studio.example.com"},
			PlayerOrigins:    []string{"https://player.example.com"},
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for _, origin := range []string{"https://studio.example.com", "https://player.example.com"} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Host = "api.streamforge.example"
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()

		srv.httpServer.Handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", origin, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Fatalf("expected allow origin %q, got %q", origin, got)
		}
	}

	blocked := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	blocked.Host = "api.streamforge.example"
	blocked.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, blocked)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rec.Code)
	}
}
