package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// requestAnnotations は内側のミドルウェアが判明させた認証情報を
// 外側のロギングミドルウェアへ渡すための入れ物。
type requestAnnotations struct {
	mu        sync.Mutex
	userID    string
	sessionID string
}

type annotationsKey struct{}

// annotateRequest はロギング対象のリクエストに認証済みユーザーとセッションを記録する。
// ロギングミドルウェアを通っていないリクエストでは何もしない。
func annotateRequest(ctx context.Context, userID, sessionID string) {
	a, ok := ctx.Value(annotationsKey{}).(*requestAnnotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.userID, a.sessionID = userID, sessionID
	a.mu.Unlock()
}

func (a *requestAnnotations) attrs(ctx context.Context) []any {
	a.mu.Lock()
	userID, sessionID := a.userID, a.sessionID
	a.mu.Unlock()

	if userID == "" {
		userID, _ = UserIDFromContext(ctx)
	}
	var out []any
	if userID != "" {
		out = append(out, slog.String("user_id", userID))
	}
	if sessionID != "" {
		out = append(out, slog.String("session_id", sessionID))
	}
	return out
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_msに加え、
// 存在すればrequest_id、grant_type、user_id、session_idを含む。
// トークンやパスワードなどの資格情報は出力しない。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ann := &requestAnnotations{}
			r = r.WithContext(context.WithValue(r.Context(), annotationsKey{}, ann))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Float64("duration_ms", durationMs),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			if grantType := r.URL.Query().Get("grant_type"); grantType != "" {
				args = append(args, slog.String("grant_type", grantType))
			}
			args = append(args, ann.attrs(r.Context())...)

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
