// Package user はユーザー管理のドメインロジックを提供する。
// サインアップ、外部IDからのユーザー解決、退会を扱う。
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authcare/internal/linking"
	"github.com/hitoshi/authcare/internal/model"
	"github.com/hitoshi/authcare/internal/oidc"
	"github.com/hitoshi/authcare/internal/password"
	"github.com/hitoshi/authcare/internal/repository"
)

var (
	// ErrValidation は入力値が不正であることを示す。リポジトリには触れない。
	ErrValidation = errors.New("validation failed")
	// ErrUserExists はメールアドレスが登録済みであることを示す。
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound はユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidExternalIdentity は外部IDのペイロードにsubjectが無いことを示す。
	ErrInvalidExternalIdentity = errors.New("external identity has no subject")
	// ErrMultipleAccounts はメールアドレスが複数ユーザーに一致したことを示す。
	ErrMultipleAccounts = errors.New("identity matches multiple accounts")
)

// MultipleAccountsError は紐付け候補となったユーザーIDを保持する。
// errors.Is(err, ErrMultipleAccounts) が成立する。
type MultipleAccountsError struct {
	UserIDs []string
}

func (e *MultipleAccountsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMultipleAccounts, strings.Join(e.UserIDs, ", "))
}

// Is はErrMultipleAccountsとの比較を可能にする。
func (e *MultipleAccountsError) Is(target error) bool {
	return target == ErrMultipleAccounts
}

// Resolver は外部IDの紐付け判定インターフェース。
type Resolver interface {
	Resolve(ctx context.Context, provider, subject string, emails []string) (*linking.Result, error)
}

// Observer は紐付け判定の結果を記録する。
type Observer interface {
	ObserveLinkingDecision(decision string)
}

// Option はServiceの設定関数。
type Option func(*Service)

// WithObserver は紐付け判定の記録先を指定する。
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	hasher      password.Hasher
	resolver    Resolver
	observer    Observer
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	hasher password.Hasher,
	resolver Resolver,
	opts ...Option,
) *Service {
	s := &Service{
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		resolver:    resolver,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail はメールアドレスを検証し、前後の空白を除いて小文字で返す。
// 表示名付きの形式（"Alice <a@x.com>"）は受け付けない。
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q is not an email address", ErrValidation, email)
	}
	return strings.ToLower(email), nil
}

// foldEmails はアドレスを小文字にし、重複を除いて元の順序で返す。
func foldEmails(emails []string) []string {
	var out []string
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// CreateUser はメールアドレスとパスワードでユーザーを作成する。
// ユーザーと"email"プロバイダのidentityを同時に作成する。
func (s *Service) CreateUser(ctx context.Context, email, pw string) (*model.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if pw == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}

	exists, err := s.userRepo.ExistsWithEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := s.hasher.Hash(ctx, pw)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, err := json.Marshal(map[string]string{"sub": user.ID, "email": email})
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity data: %w", err)
	}
	identity := &model.Identity{
		ID:           user.ID,
		UserID:       user.ID,
		Email:        email,
		Provider:     model.ProviderEmail,
		IdentityData: data,
		LastSignInAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		// ExistsWithEmailとの間に別リクエストが同じアドレスを登録した場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", model.ProviderEmail),
	)
	return user, nil
}

// ResolveExternalIdentity は検証済みの外部IDをローカルユーザーに解決する。
// 必要に応じてユーザーやidentityを作成する。複数候補がある場合は自動で選ばず
// *MultipleAccountsErrorを返す。
func (s *Service) ResolveExternalIdentity(ctx context.Context, provider string, data *oidc.UserProvidedData) (*model.User, error) {
	subject := data.Subject()
	if subject == "" {
		return nil, ErrInvalidExternalIdentity
	}
	// 未検証のアドレスは紐付け判定にもユーザー作成にも使わない
	emails := foldEmails(data.VerifiedEmailAddresses())

	identityData, err := data.MarshalIdentityData()
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity data: %w", err)
	}

	user, err := s.applyResolution(ctx, provider, subject, emails, identityData)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同じsubjectの初回ログインが並行した。先行リクエストが作成した行で解決し直す
		slog.Info("retrying account resolution after concurrent create",
			slog.String("provider", provider),
		)
		user, err = s.applyResolution(ctx, provider, subject, emails, identityData)
	}
	return user, err
}

func (s *Service) applyResolution(ctx context.Context, provider, subject string, emails []string, identityData json.RawMessage) (*model.User, error) {
	res, err := s.resolver.Resolve(ctx, provider, subject, emails)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	if s.observer != nil {
		s.observer.ObserveLinkingDecision(res.Decision.String())
	}

	now := s.now().UTC()
	var email string
	if len(emails) > 0 {
		email = emails[0]
	}

	switch res.Decision {
	case linking.AccountExists:
		if err := s.identRepo.TouchLastSignIn(ctx, subject, provider, now); err != nil {
			// サインイン日時の更新失敗でログインは止めない
			slog.Warn("failed to update identity sign-in time",
				slog.String("user_id", res.User.ID),
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", res.User.ID),
			slog.String("provider", provider),
		)
		return res.User, nil

	case linking.CreateAccount:
		user := &model.User{
			ID:          uuid.New().String(),
			Email:       email,
			ConfirmedAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		identity := newIdentity(subject, provider, user.ID, email, identityData, now)
		if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", provider),
		)
		return user, nil

	case linking.LinkAccount:
		identity := newIdentity(subject, provider, res.User.ID, email, identityData, now)
		if err := s.identRepo.Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", res.User.ID),
			slog.String("provider", provider),
		)
		return res.User, nil

	case linking.MultipleAccounts:
		ids := res.CandidateUserIDs()
		slog.Warn("external identity matches multiple accounts",
			slog.String("provider", provider),
			slog.Any("user_ids", ids),
		)
		return nil, &MultipleAccountsError{UserIDs: ids}

	default:
		return nil, fmt.Errorf("unexpected linking decision: %s", res.Decision)
	}
}

func newIdentity(subject, provider, userID, email string, data json.RawMessage, now time.Time) *model.Identity {
	return &model.Identity{
		ID:           subject,
		UserID:       userID,
		Email:        email,
		Provider:     provider,
		IdentityData: data,
		LastSignInAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// GetUser は指定IDのユーザーを返す。存在しない場合はErrUserNotFound。
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// FindUser はメールアドレスでユーザーを返す。存在しない場合はErrUserNotFound。
func (s *Service) FindUser(ctx context.Context, email string) (*model.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// DeleteUser はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, refresh_tokens）
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	slog.Info("deleting user", slog.String("user_id", userID))

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted", slog.String("user_id", userID))
	return nil
}
