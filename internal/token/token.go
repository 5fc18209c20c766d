// Package token はアクセストークン（HS256署名のJWT）の生成と検証を提供する。
// ストレージには依存しない。セッションの存在確認は呼び出し側が行う。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAudience はアクセストークンのaudクレーム。
	DefaultAudience = "user"
	// DefaultIssuer はアクセストークンのissクレーム。
	DefaultIssuer = "authcare-v1"
	// DefaultTTL はアクセストークンの有効期間。
	DefaultTTL = 60 * time.Minute
	// TokenType はトークンレスポンスに含めるトークン種別。
	TokenType = "bearer"
)

var (
	// ErrSigning は署名処理に失敗したことを示す。
	ErrSigning = errors.New("token: signing failed")
	// ErrInvalidSignature は署名が検証できないことを示す。
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired は有効期限切れを示す。
	ErrExpired = errors.New("token: expired")
	// ErrMalformed はトークンの形式が不正であることを示す。
	ErrMalformed = errors.New("token: malformed")
	// ErrInvalidClaims はaud/issが一致しないことを示す（Strict時のみ）。
	ErrInvalidClaims = errors.New("token: invalid audience or issuer")
	// ErrEmptySecret は署名鍵が空であることを示す。
	ErrEmptySecret = errors.New("token: secret must not be empty")
)

// Claims はアクセストークンのクレームセット。
// JSON表現は {aud, exp, iat, iss, sub, sid} で、exp/iatはエポック秒。
type Claims struct {
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	SessionID string `json:"sid"`
}

// GetExpirationTime はjwt.Claimsを実装する。
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

// GetIssuedAt はjwt.Claimsを実装する。
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

// GetNotBefore はjwt.Claimsを実装する。nbfは使用しない。
func (c Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer はjwt.Claimsを実装する。
func (c Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

// GetSubject はjwt.Claimsを実装する。
func (c Claims) GetSubject() (string, error) {
	return c.Subject, nil
}

// GetAudience はjwt.Claimsを実装する。
func (c Claims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// IssuedTime はiatをtime.Timeで返す。
func (c Claims) IssuedTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

// ExpiresTime はexpをtime.Timeで返す。
func (c Claims) ExpiresTime() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

// DecodeOptions はDecodeの検証オプション。
type DecodeOptions struct {
	// Strict がtrueの場合、Audience/Issuerが一致しないトークンを拒否する。
	Strict   bool
	Audience string
	Issuer   string
	// Now は有効期限判定に使う現在時刻。nilの場合はtime.Now。
	Now func() time.Time
}

// Encode はクレームをHS256で署名したコンパクトJWTを返す。
func Encode(claims Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

// Decode はトークンの署名と有効期限を検証してクレームを返す。
// HS256以外のアルゴリズムは署名不正として扱う。
func Decode(tokenString string, secret []byte, opts DecodeOptions) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}
	if opts.Strict {
		parserOpts = append(parserOpts,
			jwt.WithAudience(opts.Audience),
			jwt.WithIssuer(opts.Issuer),
		)
	}

	claims := &Claims{}
	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// classify はjwtライブラリのエラーをこのパッケージのエラー種別に変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
