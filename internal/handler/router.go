package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/authcare/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string

	// 認証
	Authenticator    Authenticator
	SessionService   SessionService
	IdentityVerifier IdentityVerifier
	GrantObserver    GrantObserver

	// ユーザー
	UserService UserService

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → Logging → CORS → (BearerAuth)
//
// BearerAuthはサインアウトと退会のルートにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Authenticator, deps.SessionService, deps.IdentityVerifier, deps.UserService, deps.GrantObserver)
	userHandler := NewUserHandler(deps.SessionService, deps.UserService)

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Get("/health", Health(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Post("/signup", authHandler.Signup)
		r.Post("/token", authHandler.Token)
		r.Get("/token", authHandler.TokenInfo)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuthMiddleware(deps.SessionService))

			r.Post("/signout", userHandler.SignOut)
			r.Delete("/user", userHandler.DeleteUser)
		})
	})

	return r
}
