package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authcare/internal/model"
)

// errorEnvelope はテスト用のエラーレスポンス形式。
type errorEnvelope struct {
	Status string            `json:"status"`
	Data   ErrorResponseBody `json:"data"`
}

func decodeErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(w.Result().Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return env
}

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	apiErr := &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "テストエラーです。",
		Category: "validation",
		Action:   "正しい値を入力してください。",
	}

	WriteErrorResponse(w, http.StatusBadRequest, apiErr)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	env := decodeErrorEnvelope(t, w)
	if env.Status != StatusFailure {
		t.Errorf("status field = %q, want %q", env.Status, StatusFailure)
	}
	body := env.Data
	if body.Code != "TEST_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "TEST_ERROR")
	}
	if body.Message != "テストエラーです。" {
		t.Errorf("message = %q, want %q", body.Message, "テストエラーです。")
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want %q", body.Category, "validation")
	}
	if body.Action != "正しい値を入力してください。" {
		t.Errorf("action = %q, want %q", body.Action, "正しい値を入力してください。")
	}
}

// TestWriteErrorResponse_DifferentStatusCodes は異なるステータスコードで正しく動作することを検証する。
func TestWriteErrorResponse_DifferentStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
	}{
		{"Unauthorized", http.StatusUnauthorized, model.NewInvalidCredentialsError()},
		{"BadRequest", http.StatusBadRequest, model.NewUnsupportedGrantError("client_credentials")},
		{"Conflict", http.StatusConflict, model.NewUserExistsError()},
		{"Unavailable", http.StatusServiceUnavailable, model.NewProviderUnavailableError()},
		{"Internal", http.StatusInternalServerError, model.NewInternalError()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			if w.Result().StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.statusCode)
			}
			env := decodeErrorEnvelope(t, w)
			if env.Data.Code != tt.apiErr.Code {
				t.Errorf("code = %q, want %q", env.Data.Code, tt.apiErr.Code)
			}
			if env.Data.Category != tt.apiErr.Category {
				t.Errorf("category = %q, want %q", env.Data.Category, tt.apiErr.Category)
			}
		})
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
	env := decodeErrorEnvelope(t, w)
	if env.Data.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", env.Data.Code, model.ErrCodeInternal)
	}
	if env.Data.Category != "system" {
		t.Errorf("category = %q, want %q", env.Data.Category, "system")
	}
	if env.Data.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestWriteJSON_WrapsSuccessEnvelope は成功レスポンスがstatus=successで包まれることを検証する。
func TestWriteJSON_WrapsSuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusOK, map[string]string{"id": "user-1"})

	var raw map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if raw["status"] != StatusSuccess {
		t.Errorf("status = %v, want %q", raw["status"], StatusSuccess)
	}
	data, ok := raw["data"].(map[string]any)
	if !ok || data["id"] != "user-1" {
		t.Errorf("data = %v", raw["data"])
	}
}
