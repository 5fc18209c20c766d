// Package oidc は外部IDプロバイダが発行したIDトークンを検証する。
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

var (
	// ErrUnknownProvider は未対応または未設定のプロバイダを示す。
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrDiscovery はディスカバリ文書の取得失敗を示す。
	ErrDiscovery = errors.New("oidc discovery failed")
	// ErrVerification はIDトークンの検証失敗を示す。
	ErrVerification = errors.New("id token verification failed")

	ErrNonceMissing   = fmt.Errorf("%w: nonce claim missing", ErrVerification)
	ErrNonceMismatch  = fmt.Errorf("%w: nonce mismatch", ErrVerification)
	ErrMissingSubject = fmt.Errorf("%w: subject claim missing", ErrVerification)
)

// IsOperational はエラーが再試行可能な運用上の障害（ディスカバリ失敗）かを返す。
// それ以外の検証エラーはリクエスト側の問題として扱う。
func IsOperational(err error) bool {
	return errors.Is(err, ErrDiscovery)
}

// ProviderConfig は1つのプロバイダの接続設定。
type ProviderConfig struct {
	Provider     Provider
	Issuer       string
	ClientID     string
	ClientSecret string
}

func (c ProviderConfig) validate() error {
	if c.Provider.DefaultIssuer() == "" {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, c.Provider)
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id is required for %s", c.Provider)
	}
	return nil
}

// Verifier は1つのプロバイダ向けのIDトークン検証器。
type Verifier struct {
	config   ProviderConfig
	verifier *gooidc.IDTokenVerifier
}

// NewVerifier はディスカバリを行い、検証器を生成する。
// httpClientがnilの場合はhttp.DefaultClientを使う。
func NewVerifier(ctx context.Context, cfg ProviderConfig, httpClient *http.Client) (*Verifier, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = cfg.Provider.DefaultIssuer()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if httpClient != nil {
		ctx = gooidc.ClientContext(ctx, httpClient)
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDiscovery, cfg.Issuer, err)
	}

	return &Verifier{
		config:   cfg,
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Provider は検証器が対象とするプロバイダを返す。
func (v *Verifier) Provider() Provider {
	return v.config.Provider
}

// Issuer は検証器のissuer URLを返す。
func (v *Verifier) Issuer() string {
	return v.config.Issuer
}

// Verify は署名・issuer・audience・有効期限を検証し、ユーザー情報を返す。
// nonceが空でない場合はトークンのnonceと一致する必要がある。
func (v *Verifier) Verify(ctx context.Context, rawIDToken, nonce string) (*UserProvidedData, error) {
	tok, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	if nonce != "" {
		if tok.Nonce == "" {
			return nil, ErrNonceMissing
		}
		if tok.Nonce != nonce {
			return nil, ErrNonceMismatch
		}
	}

	return extract(v.config.Provider, tok)
}
