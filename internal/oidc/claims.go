package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// Email はプロバイダが主張するメールアドレス。
type Email struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Primary  bool   `json:"primary"`
}

// Claims はIDトークンから取り出したプロフィール情報。
// identity_dataとして保存される。
type Claims struct {
	Issuer        string         `json:"iss"`
	Subject       string         `json:"sub"`
	Name          string         `json:"name,omitempty"`
	GivenName     string         `json:"given_name,omitempty"`
	FamilyName    string         `json:"family_name,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Locale        string         `json:"locale,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	CustomClaims  map[string]any `json:"custom_claims,omitempty"`
}

// UserProvidedData は検証済みIDトークンから得たユーザー情報。
type UserProvidedData struct {
	Emails   []Email `json:"emails"`
	Metadata *Claims `json:"metadata"`
}

// Subject はプロバイダ内でのユーザー識別子を返す。
func (d *UserProvidedData) Subject() string {
	if d == nil || d.Metadata == nil {
		return ""
	}
	return d.Metadata.Subject
}

// PrimaryEmail は主メールアドレスを返す。無い場合は空文字列。
func (d *UserProvidedData) PrimaryEmail() string {
	if d == nil {
		return ""
	}
	for _, e := range d.Emails {
		if e.Primary {
			return e.Email
		}
	}
	return ""
}

// EmailAddresses はアカウント照合に使うアドレス一覧を返す。
func (d *UserProvidedData) EmailAddresses() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.Emails))
	for _, e := range d.Emails {
		if e.Email != "" {
			out = append(out, e.Email)
		}
	}
	return out
}

// VerifiedEmailAddresses はプロバイダが検証済みと主張するアドレスのみを返す。
// 未検証のアドレスで既存アカウントに紐付けないために使う。
func (d *UserProvidedData) VerifiedEmailAddresses() []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, e := range d.Emails {
		if e.Email != "" && e.Verified {
			out = append(out, e.Email)
		}
	}
	return out
}

// flexBool は true / "true" のどちらの表現も受け付ける。
// Appleはemail_verifiedなどを文字列で返すことがある。
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean claim %s: %w", data, err)
	}
	*b = flexBool(v)
	return nil
}

type appleClaims struct {
	Email          string    `json:"email"`
	IsPrivateEmail *flexBool `json:"is_private_email"`
	AuthTime       *int64    `json:"auth_time"`
}

type googleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Picture       string   `json:"picture"`
	Locale        string   `json:"locale"`
}

// extract はプロバイダごとの規則でクレームを取り出す。
func extract(p Provider, tok *gooidc.IDToken) (*UserProvidedData, error) {
	if tok.Subject == "" {
		return nil, ErrMissingSubject
	}

	switch p {
	case ProviderApple:
		return extractApple(tok)
	case ProviderGoogle:
		return extractGoogle(tok)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
}

// Appleはメールを常に検証済みとみなす。
func extractApple(tok *gooidc.IDToken) (*UserProvidedData, error) {
	var c appleClaims
	if err := tok.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	custom := map[string]any{}
	if c.IsPrivateEmail != nil {
		custom["is_private_email"] = bool(*c.IsPrivateEmail)
	}
	if c.AuthTime != nil {
		custom["auth_time"] = time.Unix(*c.AuthTime, 0).UTC().Format(time.RFC3339)
	}
	if len(custom) == 0 {
		custom = nil
	}

	data := &UserProvidedData{
		Metadata: &Claims{
			Issuer:        tok.Issuer,
			Subject:       tok.Subject,
			Email:         c.Email,
			EmailVerified: true,
			CustomClaims:  custom,
		},
	}
	if c.Email != "" {
		data.Emails = []Email{{Email: c.Email, Verified: true, Primary: true}}
	}
	return data, nil
}

func extractGoogle(tok *gooidc.IDToken) (*UserProvidedData, error) {
	var c googleClaims
	if err := tok.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	data := &UserProvidedData{
		Metadata: &Claims{
			Issuer:        tok.Issuer,
			Subject:       tok.Subject,
			Name:          c.Name,
			GivenName:     c.GivenName,
			FamilyName:    c.FamilyName,
			Picture:       c.Picture,
			Locale:        c.Locale,
			Email:         c.Email,
			EmailVerified: bool(c.EmailVerified),
		},
	}
	if c.Email != "" {
		data.Emails = []Email{{Email: c.Email, Verified: bool(c.EmailVerified), Primary: true}}
	}
	return data, nil
}

// MarshalIdentityData はidentity_data列に保存するJSONを返す。
func (d *UserProvidedData) MarshalIdentityData() (json.RawMessage, error) {
	if d == nil || d.Metadata == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity data: %w", err)
	}
	return b, nil
}
