package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// logRequest はロギングミドルウェアを通してリクエストを処理し、出力されたログ1行を返す。
func logRequest(t *testing.T, req *http.Request, next http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	NewLoggingMiddleware(logger)(next).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/token", nil)
	entry := logRequest(t, req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/v1/auth/token" {
		t.Errorf("path = %v, want /api/v1/auth/token", entry["path"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want non-negative number", entry["duration_ms"])
	}
	for _, absent := range []string{"user_id", "session_id", "grant_type"} {
		if _, ok := entry[absent]; ok {
			t.Errorf("unexpected %q in anonymous request log", absent)
		}
	}
}

func TestLoggingMiddleware_StatusAndLevel(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status float64
		level  string
	}{
		{"implicit 200 on Write", func(w http.ResponseWriter) { w.Write([]byte("ok")) }, 200, "INFO"},
		{"no write", func(w http.ResponseWriter) {}, 200, "INFO"},
		{"204", func(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }, 204, "INFO"},
		{"401", func(w http.ResponseWriter) { w.WriteHeader(http.StatusUnauthorized) }, 401, "WARN"},
		{"409", func(w http.ResponseWriter) { w.WriteHeader(http.StatusConflict) }, 409, "WARN"},
		{"503", func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) }, 503, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
			entry := logRequest(t, req, func(w http.ResponseWriter, r *http.Request) { tt.write(w) })

			if entry["status"] != tt.status {
				t.Errorf("status = %v, want %v", entry["status"], tt.status)
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %v", entry["level"], tt.level)
			}
		})
	}
}

func TestLoggingMiddleware_UserIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/token", nil)
	req = req.WithContext(context.WithValue(req.Context(), userIDContextKey, "user-123"))

	entry := logRequest(t, req, func(w http.ResponseWriter, r *http.Request) {})

	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-123")
	}
}

// TestLoggingMiddleware_IncludesGrantTypeAndRequestID はグラント種別とリクエストIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesGrantTypeAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := chimw.RequestID(NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token?grant_type=password", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if entry["grant_type"] != "password" {
		t.Errorf("grant_type = %v, want %q", entry["grant_type"], "password")
	}
	if id, _ := entry["request_id"].(string); id == "" {
		t.Error("expected 'request_id' field in log entry")
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for 4xx", entry["level"])
	}
}

// TestLoggingMiddleware_IncludesAuthenticatedUser は内側の認証ミドルウェアが判明させたユーザーが記録されることを検証する。
func TestLoggingMiddleware_IncludesAuthenticatedUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	inner := NewBearerAuthMiddleware(validDescriber())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler := NewLoggingMiddleware(logger)(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-123")
	}
	if entry["session_id"] != "session-456" {
		t.Errorf("session_id = %v, want %q", entry["session_id"], "session-456")
	}
	if bytes.Contains(buf.Bytes(), []byte("valid-token")) {
		t.Error("access token must not be logged")
	}
}
