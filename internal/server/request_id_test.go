package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"streamforge/internal/observability/logging"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDMiddlewareGeneratesIdentifier(t *testing.T) {
	t.Parallel()

	var gotRequestID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID, _ = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requestIDMiddlewareWithGenerator(discardLogger(), func() string { return "generated-id" }, inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos", nil))

	if gotRequestID != "generated-id" {
		t.Fatalf("expected generated request id in context, got %q", gotRequestID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("expected generated request id header, got %q", got)
	}
}

func TestRequestIDMiddlewareHonorsInboundHeaders(t *testing.T) {
	t.Parallel()

	var gotRequestID, gotVideoID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID, _ = logging.RequestIDFromContext(r.Context())
		gotVideoID, _ = logging.VideoIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requestIDMiddleware(discardLogger(), inner)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/vid_7/status", nil)
	req.Header.Set("X-Request-Id", "req-inbound")
	req.Header.Set("X-Video-Id", "vid_7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotRequestID != "req-inbound" {
		t.Fatalf("expected inbound request id in context, got %q", gotRequestID)
	}
	if gotVideoID != "vid_7" {
		t.Fatalf("expected inbound video id in context, got %q", gotVideoID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "req-inbound" {
		t.Fatalf("expected inbound request id to echo, got %q", got)
	}
}

func TestLoggingMiddlewareEmitsRequestMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	handler := requestIDMiddlewareWithGenerator(logger, func() string { return "req-123" },
		loggingMiddleware(logger, nil, inner))

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader("{}"))
	req.RemoteAddr = "198.51.100.44:51000"
	req.Header.Set("X-Video-Id", "vid_42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if payload["msg"] != "request completed" {
		t.Fatalf("unexpected log message %v", payload["msg"])
	}
	if payload["request_id"] != "req-123" {
		t.Fatalf("expected request id in log entry, got %v", payload["request_id"])
	}
	if payload["video_id"] != "vid_42" {
		t.Fatalf("expected video id in log entry, got %v", payload["video_id"])
	}
	if payload["method"] != http.MethodPost {
		t.Fatalf("expected POST method, got %v", payload["method"])
	}
	if payload["path"] != "/api/videos" {
		t.Fatalf("expected request path, got %v", payload["path"])
	}
	if status, ok := payload["status"].(float64); !ok || int(status) != http.StatusCreated {
		t.Fatalf("expected status 201, got %v", payload["status"])
	}
	if payload["remote_ip"] != "198.51.100.44" {
		t.Fatalf("expected remote ip, got %v", payload["remote_ip"])
	}
	if payload["ip_source"] != ipSourceRemoteAddr {
		t.Fatalf("expected ip source %q, got %v", ipSourceRemoteAddr, payload["ip_source"])
	}
	if _, ok := payload["duration_ms"]; !ok {
		t.Fatal("expected duration in log entry")
	}
}
