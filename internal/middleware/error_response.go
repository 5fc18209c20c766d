package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/authcare/internal/model"
)

const (
	// StatusSuccess は成功レスポンスのstatus値。
	StatusSuccess = "success"
	// StatusFailure は失敗レスポンスのstatus値。
	StatusFailure = "failure"
)

// Envelope はAPIレスポンスの共通形式 {"status": ..., "data": ...}。
type Envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ErrorResponseBody はAPIエラーレスポンスのdata部分。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteJSON は成功レスポンスをEnvelope形式で書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Envelope{Status: StatusSuccess, Data: data})
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Envelope{
		Status: StatusFailure,
		Data: ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
