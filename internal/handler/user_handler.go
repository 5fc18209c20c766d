package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authcare/internal/middleware"
	"github.com/hitoshi/authcare/internal/model"
	"github.com/hitoshi/authcare/internal/repository"
	"github.com/hitoshi/authcare/internal/user"
)

// SessionRevoker はセッション失効のインターフェース。
type SessionRevoker interface {
	RevokeSession(ctx context.Context, sessionID string) error
}

// UserDeleter は退会処理のインターフェース。
type UserDeleter interface {
	// DeleteUser はユーザーを削除する。
	// sessionsを削除した後にuserを削除し、identities、refresh_tokensはCASCADEで消える。
	DeleteUser(ctx context.Context, userID string) error
}

// UserHandler はサインアウトと退会のHTTPハンドラー。
// いずれもBearer認証ミドルウェアの内側に配置する。
type UserHandler struct {
	sessions SessionRevoker
	users    UserDeleter
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(sessions SessionRevoker, users UserDeleter) *UserHandler {
	return &UserHandler{
		sessions: sessions,
		users:    users,
	}
}

// SignOut はアクセストークンのセッションを失効させる。
// POST /api/v1/auth/signout
func (h *UserHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.sessions.RevokeSession(r.Context(), sessionID); err != nil {
		// 同時にサインアウトされた場合は成功扱い
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to revoke session",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser はアクセストークンの所有ユーザーを退会させる。
// DELETE /api/v1/auth/user
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.users.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
			return
		}
		slog.Error("failed to delete user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
