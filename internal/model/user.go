// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// ProviderEmail はメールアドレス+パスワード認証で作成されたidentityのprovider名。
const ProviderEmail = "email"

// User は認証主体となるユーザーを表す。
// Emailが空の場合はメールアドレス未登録、PasswordHashが空の場合はパスワード未設定を意味する。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsSuperUser  bool
	BannedUntil  *time.Time
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はパスワードが設定されているかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsBanned はnow時点でユーザーが利用停止中かを返す。
func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && u.BannedUntil.After(now)
}

// Identity は外部IdPまたはメールアドレス認証との紐付け情報を表す。
// (ID, Provider) の組で一意となる。IDはIdPのsubject、providerが"email"の場合はユーザーID。
type Identity struct {
	ID           string
	UserID       string
	Email        string
	Provider     string
	IdentityData json.RawMessage
	LastSignInAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はリフレッシュトークン群を束ねるログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshToken は長期有効な不透明トークンを表す。
// 一度ローテーションに使われるとRevokedになり、再利用できない。
type RefreshToken struct {
	ID        int64
	Token     string
	UserID    string
	SessionID string
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Revoke はトークンを失効状態にする。
func (t *RefreshToken) Revoke(now time.Time) {
	t.Revoked = true
	t.UpdatedAt = now
}
