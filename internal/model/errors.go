// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeUnsupportedGrant    = "UNSUPPORTED_GRANT_TYPE"
	ErrCodeUserExists          = "USER_EXISTS"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeIdentityRejected    = "IDENTITY_REJECTED"
	ErrCodeAccountConflict     = "ACCOUNT_CONFLICT"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnsupportedGrantError は未対応のgrant_typeエラーを生成する。
func NewUnsupportedGrantError(grantType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedGrant,
		Message:  fmt.Sprintf("未対応のgrant_typeです: %s", grantType),
		Category: "validation",
		Action:   "grant_typeには password、refresh_token、id_token のいずれかを指定してください。",
	}
}

// NewUserExistsError はメールアドレス重複エラーを生成する。
func NewUserExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// アカウント未存在とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidTokenError はアクセストークン不正エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "アクセストークンが無効です。",
		Category: "auth",
		Action:   "トークンを更新するか、ログインし直してください。",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークン不正エラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "リフレッシュトークンが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewIdentityRejectedError は外部IDトークンの検証失敗エラーを生成する。
func NewIdentityRejectedError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityRejected,
		Message:  "IDトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "IdPで再度サインインしてください。",
	}
}

// NewAccountConflictError は複数アカウントが候補になった場合のエラーを生成する。
func NewAccountConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountConflict,
		Message:  "このメールアドレスに紐付くアカウントが複数存在します。",
		Category: "auth",
		Action:   "サポートに連絡してください。",
	}
}

// NewUnsupportedProviderError は未設定のIdPエラーを生成する。
func NewUnsupportedProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("未対応のIdPです: %s", provider),
		Category: "provider",
		Action:   "apple または google を指定してください。",
	}
}

// NewProviderUnavailableError はIdPのディスカバリ失敗エラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "IdPに接続できませんでした。",
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は認証ヘッダー不足エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Authorizationヘッダーにアクセストークンを指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
