// Package auth はメールアドレスとパスワードによる認証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/authcare/internal/model"
	"github.com/hitoshi/authcare/internal/password"
	"github.com/hitoshi/authcare/internal/repository"
)

var (
	// ErrAccountNotFound はメールアドレスに一致するユーザーがいないことを示す。
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidCredentials はパスワード不一致、パスワード未設定、利用停止中のいずれかを示す。
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service はメールアドレスとパスワードの認証を行う。
// パスワード照合はpassword.Hasherのワーカープール上で実行される。
type Service struct {
	userRepo repository.UserRepository
	hasher   password.Hasher
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, hasher password.Hasher) *Service {
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
		now:      time.Now,
	}
}

// Authenticate はメールアドレスとパスワードを照合し、ユーザーを返す。
// 未登録はErrAccountNotFound、それ以外の認証失敗はErrInvalidCredentialsを返す。
// どちらもレスポンスでは区別しないこと。
func (s *Service) Authenticate(ctx context.Context, email, pw string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Info("authentication failed: account not found")
		return nil, ErrAccountNotFound
	}

	// 外部IdPのみで作成されたアカウント
	if !user.HasPassword() {
		slog.Info("authentication failed: password not set",
			slog.String("user_id", user.ID),
		)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, user.PasswordHash, pw)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		slog.Info("authentication failed: password mismatch",
			slog.String("user_id", user.ID),
		)
		return nil, ErrInvalidCredentials
	}

	if user.IsBanned(s.now()) {
		slog.Warn("authentication failed: user is banned",
			slog.String("user_id", user.ID),
		)
		return nil, ErrInvalidCredentials
	}

	return user, nil
}
