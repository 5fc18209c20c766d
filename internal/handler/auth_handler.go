package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/authcare/internal/auth"
	"github.com/hitoshi/authcare/internal/middleware"
	"github.com/hitoshi/authcare/internal/model"
	"github.com/hitoshi/authcare/internal/oidc"
	"github.com/hitoshi/authcare/internal/session"
	"github.com/hitoshi/authcare/internal/token"
	"github.com/hitoshi/authcare/internal/user"
)

// グラント種別。クエリパラメータgrant_typeの値。
const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
	GrantIDToken      = "id_token"
	grantSignup       = "signup"
)

// グラント結果。メトリクスのラベルに使う。
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Authenticator はメールアドレスとパスワードの認証インターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// SessionService はトークンのライフサイクル管理インターフェース。
type SessionService interface {
	Begin(ctx context.Context, user *model.User) (*session.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*session.Grant, error)
	Describe(ctx context.Context, accessToken string) (*session.TokenInfo, error)
	RevokeSession(ctx context.Context, sessionID string) error
}

// IdentityVerifier は外部IDプロバイダのIDトークン検証インターフェース。
type IdentityVerifier interface {
	Verify(ctx context.Context, provider, issuer, rawIDToken, nonce string) (string, *oidc.UserProvidedData, error)
}

// UserService はユーザー管理インターフェース。
type UserService interface {
	CreateUser(ctx context.Context, email, password string) (*model.User, error)
	ResolveExternalIdentity(ctx context.Context, provider string, data *oidc.UserProvidedData) (*model.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// GrantObserver はグラント処理の結果を記録する。
type GrantObserver interface {
	ObserveGrant(grantType, outcome string)
}

// AuthHandler はサインアップとトークン発行のHTTPハンドラー。
type AuthHandler struct {
	auth     Authenticator
	sessions SessionService
	verifier IdentityVerifier
	users    UserService
	observer GrantObserver
}

// NewAuthHandler はAuthHandlerを生成する。verifierとobserverはnilでもよい。
func NewAuthHandler(authenticator Authenticator, sessions SessionService, verifier IdentityVerifier, users UserService, observer GrantObserver) *AuthHandler {
	return &AuthHandler{
		auth:     authenticator,
		sessions: sessions,
		verifier: verifier,
		users:    users,
		observer: observer,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshTokenGrantRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type idTokenGrantRequest struct {
	Token    string `json:"token"`
	Provider string `json:"provider"`
	Issuer   string `json:"issuer"`
	Nonce    string `json:"nonce"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	IsSuperUser bool   `json:"isSuperUser"`
}

type grantResponse struct {
	Token        string       `json:"token"`
	TokenType    string       `json:"tokenType"`
	IssuedAt     time.Time    `json:"issuedAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	ExpiresIn    int64        `json:"expiresIn"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
}

type tokenInfoResponse struct {
	Claims *token.Claims `json:"claims"`
	User   userResponse  `json:"user"`
}

// Signup はメールアドレスとパスワードでユーザーを作成し、トークンを発行する。
// POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.users.CreateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrValidation):
			h.reject(w, grantSignup, http.StatusBadRequest, model.NewValidationError(err.Error()))
		case errors.Is(err, user.ErrUserExists):
			h.reject(w, grantSignup, http.StatusConflict, model.NewUserExistsError())
		default:
			h.fail(w, grantSignup, "failed to create user", err)
		}
		return
	}

	h.begin(w, r, grantSignup, u)
}

// Token はgrant_typeに応じてトークンを発行する。
// POST /api/v1/auth/token?grant_type=password|refresh_token|id_token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	grantType := normalizeGrantType(r.URL.Query().Get("grant_type"))
	switch grantType {
	case GrantPassword:
		h.passwordGrant(w, r)
	case GrantRefreshToken:
		h.refreshTokenGrant(w, r)
	case GrantIDToken:
		h.idTokenGrant(w, r)
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedGrantError(r.URL.Query().Get("grant_type")))
	}
}

// normalizeGrantType はcamelCase表記（refreshToken, idToken）も受け付ける。
func normalizeGrantType(v string) string {
	switch v {
	case "refreshToken":
		return GrantRefreshToken
	case "idToken":
		return GrantIDToken
	default:
		return v
	}
}

func (h *AuthHandler) passwordGrant(w http.ResponseWriter, r *http.Request) {
	var req passwordGrantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.reject(w, GrantPassword, http.StatusBadRequest, model.NewValidationError("email and password are required"))
		return
	}

	u, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		// 未登録とパスワード不一致はレスポンスで区別しない
		if errors.Is(err, auth.ErrAccountNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
			h.reject(w, GrantPassword, http.StatusUnauthorized, model.NewInvalidCredentialsError())
			return
		}
		h.fail(w, GrantPassword, "failed to authenticate", err)
		return
	}

	h.begin(w, r, GrantPassword, u)
}

func (h *AuthHandler) refreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenGrantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		h.reject(w, GrantRefreshToken, http.StatusBadRequest, model.NewValidationError("refreshToken is required"))
		return
	}

	grant, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshTokenNotFound),
			errors.Is(err, session.ErrTokenReused),
			errors.Is(err, session.ErrSessionMissing),
			errors.Is(err, session.ErrUserNotFound),
			errors.Is(err, session.ErrUserBanned):
			slog.Info("refresh token rejected", slog.String("reason", err.Error()))
			h.reject(w, GrantRefreshToken, http.StatusUnauthorized, model.NewInvalidRefreshTokenError())
		default:
			h.fail(w, GrantRefreshToken, "failed to rotate refresh token", err)
		}
		return
	}

	h.grant(w, GrantRefreshToken, grant)
}

func (h *AuthHandler) idTokenGrant(w http.ResponseWriter, r *http.Request) {
	var req idTokenGrantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		h.reject(w, GrantIDToken, http.StatusBadRequest, model.NewValidationError("token is required"))
		return
	}
	if req.Provider == "" && req.Issuer == "" {
		h.reject(w, GrantIDToken, http.StatusBadRequest, model.NewValidationError("provider or issuer is required"))
		return
	}
	if h.verifier == nil {
		h.reject(w, GrantIDToken, http.StatusBadRequest, model.NewUnsupportedProviderError(req.Provider))
		return
	}

	provider, data, err := h.verifier.Verify(r.Context(), req.Provider, req.Issuer, req.Token, req.Nonce)
	if err != nil {
		switch {
		case errors.Is(err, oidc.ErrUnknownProvider):
			h.reject(w, GrantIDToken, http.StatusBadRequest, model.NewUnsupportedProviderError(req.Provider))
		case oidc.IsOperational(err):
			slog.Error("identity provider unavailable", slog.String("error", err.Error()))
			h.observe(GrantIDToken, outcomeError)
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderUnavailableError())
		case errors.Is(err, oidc.ErrVerification):
			slog.Info("id token rejected", slog.String("reason", err.Error()))
			h.reject(w, GrantIDToken, http.StatusUnauthorized, model.NewIdentityRejectedError())
		default:
			h.fail(w, GrantIDToken, "failed to verify id token", err)
		}
		return
	}

	u, err := h.users.ResolveExternalIdentity(r.Context(), provider, data)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrMultipleAccounts):
			h.reject(w, GrantIDToken, http.StatusUnauthorized, model.NewAccountConflictError())
		case errors.Is(err, user.ErrInvalidExternalIdentity):
			h.reject(w, GrantIDToken, http.StatusUnauthorized, model.NewIdentityRejectedError())
		default:
			h.fail(w, GrantIDToken, "failed to resolve external identity", err)
		}
		return
	}

	h.begin(w, r, GrantIDToken, u)
}

// TokenInfo はアクセストークンのクレームと所有ユーザーを返す。
// GET /api/v1/auth/token?access_token=...
func (h *AuthHandler) TokenInfo(w http.ResponseWriter, r *http.Request) {
	accessToken := r.URL.Query().Get("access_token")
	if accessToken == "" {
		accessToken = middleware.BearerToken(r)
	}
	if accessToken == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	info, err := h.sessions.Describe(r.Context(), accessToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredential) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
			return
		}
		slog.Error("failed to describe access token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tokenInfoResponse{
		Claims: info.Claims,
		User:   toUserResponse(info.User),
	})
}

// begin はユーザーの新しいセッションを開始してグラントを返す。
func (h *AuthHandler) begin(w http.ResponseWriter, r *http.Request, grantType string, u *model.User) {
	grant, err := h.sessions.Begin(r.Context(), u)
	if err != nil {
		h.fail(w, grantType, "failed to issue session", err)
		return
	}
	h.grant(w, grantType, grant)
}

func (h *AuthHandler) grant(w http.ResponseWriter, grantType string, g *session.Grant) {
	h.observe(grantType, outcomeSuccess)
	middleware.WriteJSON(w, http.StatusOK, toGrantResponse(g))
}

func (h *AuthHandler) reject(w http.ResponseWriter, grantType string, statusCode int, apiErr *model.APIError) {
	h.observe(grantType, outcomeRejected)
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// fail は運用上のエラーを記録して500を返す。詳細はレスポンスに含めない。
func (h *AuthHandler) fail(w http.ResponseWriter, grantType, msg string, err error) {
	slog.Error(msg,
		slog.String("grant_type", grantType),
		slog.String("error", err.Error()),
	)
	h.observe(grantType, outcomeError)
	middleware.WriteInternalServerError(w)
}

func (h *AuthHandler) observe(grantType, outcome string) {
	if h.observer != nil {
		h.observer.ObserveGrant(grantType, outcome)
	}
}

// --- ヘルパー関数 ---

// decodeBody はJSONリクエストボディを読み込む。失敗時は400を書き込みfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました。"))
		return false
	}
	return true
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		IsSuperUser: u.IsSuperUser,
	}
}

func toGrantResponse(g *session.Grant) grantResponse {
	return grantResponse{
		Token:        g.AccessToken,
		TokenType:    g.TokenType,
		IssuedAt:     g.IssuedAt,
		ExpiresAt:    g.ExpiresAt,
		ExpiresIn:    int64(g.ExpiresAt.Sub(g.IssuedAt).Seconds()),
		RefreshToken: g.RefreshToken,
		User:         toUserResponse(g.User),
	}
}
