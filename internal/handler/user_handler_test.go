package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authcare/internal/middleware"
	"github.com/hitoshi/authcare/internal/repository"
	"github.com/hitoshi/authcare/internal/user"
)

// withAuth はミドルウェアが注入する認証情報をリクエストに付与する。
func withAuth(r *http.Request, userID, sessionID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	ctx = middleware.ContextWithSessionID(ctx, sessionID)
	return r.WithContext(ctx)
}

// --- POST /api/v1/auth/signout ---

func TestUserHandler_SignOut_Success(t *testing.T) {
	revoked := ""
	sessions := &mockSessionService{
		revokeSessionFn: func(ctx context.Context, sessionID string) error {
			revoked = sessionID
			return nil
		},
	}
	h := NewUserHandler(sessions, &mockUserService{})

	req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil), "user-1", "sess-1")
	w := httptest.NewRecorder()

	h.SignOut(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if revoked != "sess-1" {
		t.Errorf("revoked session = %q, want %q", revoked, "sess-1")
	}
}

func TestUserHandler_SignOut_AlreadyRevoked_Succeeds(t *testing.T) {
	sessions := &mockSessionService{
		revokeSessionFn: func(ctx context.Context, sessionID string) error {
			return repository.ErrNotFound
		},
	}
	h := NewUserHandler(sessions, &mockUserService{})

	req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil), "user-1", "sess-1")
	w := httptest.NewRecorder()

	h.SignOut(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestUserHandler_SignOut_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockSessionService{}, &mockUserService{})

	w := httptest.NewRecorder()
	h.SignOut(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_SignOut_InternalError(t *testing.T) {
	sessions := &mockSessionService{
		revokeSessionFn: func(ctx context.Context, sessionID string) error {
			return errors.New("connection reset")
		},
	}
	h := NewUserHandler(sessions, &mockUserService{})

	req := withAuth(httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil), "user-1", "sess-1")
	w := httptest.NewRecorder()

	h.SignOut(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// --- DELETE /api/v1/auth/user ---

func TestUserHandler_DeleteUser_Success(t *testing.T) {
	deleted := ""
	users := &mockUserService{
		deleteUserFn: func(ctx context.Context, userID string) error {
			deleted = userID
			return nil
		},
	}
	h := NewUserHandler(&mockSessionService{}, users)

	req := withAuth(httptest.NewRequest(http.MethodDelete, "/api/v1/auth/user", nil), "user-123", "sess-1")
	w := httptest.NewRecorder()

	h.DeleteUser(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != "user-123" {
		t.Errorf("deleted user = %q, want %q", deleted, "user-123")
	}
}

func TestUserHandler_DeleteUser_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", user.ErrUserNotFound, http.StatusNotFound},
		{"internal", errors.New("transaction failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &mockUserService{
				deleteUserFn: func(ctx context.Context, userID string) error {
					return tt.err
				},
			}
			h := NewUserHandler(&mockSessionService{}, users)

			req := withAuth(httptest.NewRequest(http.MethodDelete, "/api/v1/auth/user", nil), "user-123", "sess-1")
			w := httptest.NewRecorder()

			h.DeleteUser(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestUserHandler_DeleteUser_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockSessionService{}, &mockUserService{})

	w := httptest.NewRecorder()
	h.DeleteUser(w, httptest.NewRequest(http.MethodDelete, "/api/v1/auth/user", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
