// Package session はログインセッションとリフレッシュトークンのライフサイクルを管理する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authcare/internal/model"
	"github.com/hitoshi/authcare/internal/repository"
	"github.com/hitoshi/authcare/internal/token"
)

var (
	// ErrRefreshTokenNotFound はリフレッシュトークンが存在しないことを示す。
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrTokenReused は失効済みリフレッシュトークンの再利用を示す。
	ErrTokenReused = errors.New("refresh token already used")
	// ErrSessionMissing はトークンに紐付くセッションが存在しないことを示す。
	ErrSessionMissing = errors.New("session not found")
	// ErrUserNotFound はトークンの所有ユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
	// ErrUserBanned は利用停止中のユーザーを示す。
	ErrUserBanned = errors.New("user is banned")
	// ErrInvalidCredential はアクセストークンが無効であることを示す。
	ErrInvalidCredential = errors.New("invalid access credential")
	// ErrIssue はセッションまたはトークンの発行失敗を示す。
	ErrIssue = errors.New("failed to issue session")
)

// Codec はアクセストークンの発行と検証を行う。
type Codec interface {
	NewClaims(userID, sessionID string) token.Claims
	Encode(claims token.Claims) (string, error)
	Decode(tokenString string) (*token.Claims, error)
}

// Observer はリフレッシュトークンの再利用検知を記録する。
type Observer interface {
	ObserveRefreshTokenReuse()
}

// Grant はクライアントに返却する認証情報一式。
type Grant struct {
	AccessToken  string
	TokenType    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RefreshToken string
	User         *model.User
}

// TokenInfo はアクセストークンのイントロスペクション結果。
type TokenInfo struct {
	Claims *token.Claims
	User   *model.User
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithObserver は再利用検知の記録先を指定する。
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock はテスト用の時刻関数を指定する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service はトークンライフサイクルのビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokenRepo   repository.RefreshTokenRepository
	codec       Codec
	observer    Observer
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokenRepo repository.RefreshTokenRepository,
	codec Codec,
	opts ...Option,
) *Service {
	s := &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokenRepo:   tokenRepo,
		codec:       codec,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue は新しいセッションと最初のリフレッシュトークンを作成する。
// トークン作成に失敗した場合、作成済みのセッションはクリーンアップジョブが回収する。
func (s *Service) Issue(ctx context.Context, user *model.User) (*model.Session, *model.RefreshToken, error) {
	now := s.now().UTC()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("%w: create session: %w", ErrIssue, err)
	}

	rt, err := newRefreshToken(user.ID, session.ID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrIssue, err)
	}
	if err := s.tokenRepo.Create(ctx, rt); err != nil {
		return nil, nil, fmt.Errorf("%w: create refresh token: %w", ErrIssue, err)
	}

	slog.Info("session issued",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)
	return session, rt, nil
}

// Rotate は古いリフレッシュトークンを失効させ、同じセッションの新しいトークンを返す。
// 失効済みトークンが提示された場合は漏洩とみなし、セッション全体を失効させる。
func (s *Service) Rotate(ctx context.Context, old string) (*model.RefreshToken, error) {
	rt, _, err := s.rotate(ctx, old)
	return rt, err
}

// Refresh はRotateを行い、新しいアクセストークンを含むGrantを返す。
func (s *Service) Refresh(ctx context.Context, old string) (*Grant, error) {
	rt, user, err := s.rotate(ctx, old)
	if err != nil {
		return nil, err
	}
	return s.Mint(user, rt)
}

// Begin は新しいセッションを発行し、Grantを返す。
func (s *Service) Begin(ctx context.Context, user *model.User) (*Grant, error) {
	_, rt, err := s.Issue(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.Mint(user, rt)
}

func (s *Service) rotate(ctx context.Context, old string) (*model.RefreshToken, *model.User, error) {
	current, err := s.tokenRepo.FindByToken(ctx, old)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	if current == nil {
		return nil, nil, ErrRefreshTokenNotFound
	}

	if current.Revoked {
		s.revokeReusedSession(ctx, current)
		return nil, nil, ErrTokenReused
	}

	session, err := s.sessionRepo.FindByID(ctx, current.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrSessionMissing
	}

	user, err := s.userRepo.FindByID(ctx, current.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	now := s.now().UTC()
	if user.IsBanned(now) {
		return nil, nil, ErrUserBanned
	}

	next, err := newRefreshToken(user.ID, session.ID, now)
	if err != nil {
		return nil, nil, err
	}
	revoked := *current
	revoked.Revoke(now)
	if err := s.tokenRepo.Rotate(ctx, &revoked, next); err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleRefreshToken):
			// 同時ローテーションの敗者。勝者のトークンは有効なのでセッションは残す。
			return nil, nil, ErrTokenReused
		case errors.Is(err, repository.ErrNotFound):
			// ローテーション中にサインアウトされた
			return nil, nil, ErrSessionMissing
		}
		return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return next, user, nil
}

func (s *Service) revokeReusedSession(ctx context.Context, rt *model.RefreshToken) {
	slog.Warn("refresh token reuse detected",
		slog.String("user_id", rt.UserID),
		slog.String("session_id", rt.SessionID),
	)
	if s.observer != nil {
		s.observer.ObserveRefreshTokenReuse()
	}
	if err := s.sessionRepo.DeleteByID(ctx, rt.SessionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to revoke session after token reuse",
			slog.String("session_id", rt.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// RevokeSession はセッションを削除する。紐付くリフレッシュトークンは使用できなくなる。
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("session revoked", slog.String("session_id", sessionID))
	return nil
}

// Describe はアクセストークンを検証し、クレームと所有ユーザーを返す。
// セッションが削除済みのトークンも無効として扱う。
func (s *Service) Describe(ctx context.Context, accessToken string) (*TokenInfo, error) {
	claims, err := s.codec.Decode(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidCredential)
	}

	if claims.SessionID != "" {
		session, err := s.sessionRepo.FindByID(ctx, claims.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to find session: %w", err)
		}
		if session == nil || session.UserID != claims.Subject {
			return nil, fmt.Errorf("%w: session revoked", ErrInvalidCredential)
		}
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", ErrInvalidCredential)
	}
	return &TokenInfo{Claims: claims, User: user}, nil
}

// Mint はユーザーとリフレッシュトークンからGrantを組み立てる。
func (s *Service) Mint(user *model.User, rt *model.RefreshToken) (*Grant, error) {
	claims := s.codec.NewClaims(user.ID, rt.SessionID)
	access, err := s.codec.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode access token: %w", err)
	}
	return &Grant{
		AccessToken:  access,
		TokenType:    token.TokenType,
		IssuedAt:     claims.IssuedTime(),
		ExpiresAt:    claims.ExpiresTime(),
		RefreshToken: rt.Token,
		User:         user,
	}, nil
}

func newRefreshToken(userID, sessionID string, now time.Time) (*model.RefreshToken, error) {
	value, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	return &model.RefreshToken{
		Token:     value,
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
