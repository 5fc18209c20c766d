// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authcare/internal/model"
)

var (
	// ErrNotFound は削除・更新対象の行が存在しないことを示す。
	// 検索系メソッドは見つからない場合にnil, nilを返し、このエラーは使わない。
	ErrNotFound = errors.New("repository: not found")

	// ErrStaleRefreshToken は更新対象のリフレッシュトークンが既に失効済みであることを示す。
	// 同一トークンの同時ローテーションのうち1件のみが成功する。
	ErrStaleRefreshToken = errors.New("repository: refresh token already revoked")

	// ErrDuplicate は一意制約違反を示す。
	ErrDuplicate = errors.New("repository: duplicate key")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ExistsWithEmail は指定メールアドレスのユーザーが存在するかを返す。
	ExistsWithEmail(ctx context.Context, email string) (bool, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentity、session、refresh_tokenはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。紐付くリフレッシュトークンもCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// FindByToken はトークン文字列で検索する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.RefreshToken, error)

	// Create はトークンを作成し、採番されたIDをtoken.IDに設定する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// Rotate はoldを失効させてnextを作成する。両方が成功するか、どちらも反映されない。
	// oldが既に失効済みならErrStaleRefreshToken、セッションが消えていればErrNotFoundを返す。
	// 成功時は採番されたIDをnext.IDに設定する。
	Rotate(ctx context.Context, old, next *model.RefreshToken) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// Find はsubjectとproviderでidentityを検索する。見つからない場合はnilを返す。
	Find(ctx context.Context, subject, provider string) (*model.Identity, error)

	// FindAllByEmail はemailsのいずれかに一致するidentityをすべて返す。
	FindAllByEmail(ctx context.Context, emails []string) ([]*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error

	// TouchLastSignIn は最終サインイン日時を更新する。
	TouchLastSignIn(ctx context.Context, subject, provider string, at time.Time) error
}
