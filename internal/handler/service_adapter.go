package handler

import (
	"context"

	"github.com/hitoshi/authcare/internal/oidc"
)

// RegistryAdapter は oidc.Registry を IdentityVerifier に適合させるアダプタ。
// プロバイダはidentityテーブルに保存する名前（"apple", "google"）で返す。
type RegistryAdapter struct {
	registry *oidc.Registry
}

// NewRegistryAdapter はRegistryAdapterを生成する。
func NewRegistryAdapter(registry *oidc.Registry) *RegistryAdapter {
	return &RegistryAdapter{registry: registry}
}

// Verify はIDトークンを検証し、プロバイダ名と提供データを返す。
func (a *RegistryAdapter) Verify(ctx context.Context, provider, issuer, rawIDToken, nonce string) (string, *oidc.UserProvidedData, error) {
	p, data, err := a.registry.Verify(ctx, provider, issuer, rawIDToken, nonce)
	if err != nil {
		return "", nil, err
	}
	return p.String(), data, nil
}
