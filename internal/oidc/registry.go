package oidc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultDiscoveryTimeout はHTTPクライアント未指定時のディスカバリとJWKS取得の時間制限。
const DefaultDiscoveryTimeout = 10 * time.Second

// Registry は設定済みプロバイダの検証器を保持する。
// ディスカバリは初回利用時に行い、成功した結果のみキャッシュする。
type Registry struct {
	configs    map[Provider]ProviderConfig
	httpClient *http.Client

	mu        sync.RWMutex
	verifiers map[Provider]*Verifier
	group     singleflight.Group
}

// RegistryOption はRegistryの設定を変更する。
type RegistryOption func(*Registry)

// WithHTTPClient はディスカバリとJWKS取得に使うHTTPクライアントを指定する。
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) {
		r.httpClient = c
	}
}

// NewRegistry は設定からRegistryを生成する。ネットワークアクセスは行わない。
func NewRegistry(configs []ProviderConfig, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		configs:   make(map[Provider]ProviderConfig, len(configs)),
		verifiers: make(map[Provider]*Verifier),
	}
	for _, cfg := range configs {
		if cfg.Issuer == "" {
			cfg.Issuer = cfg.Provider.DefaultIssuer()
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.configs[cfg.Provider]; dup {
			return nil, fmt.Errorf("provider %s configured twice", cfg.Provider)
		}
		r.configs[cfg.Provider] = cfg
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: DefaultDiscoveryTimeout}
	}
	return r, nil
}

// Enabled は設定済みのプロバイダを固定順で返す。
func (r *Registry) Enabled() []Provider {
	var out []Provider
	for _, p := range Providers() {
		if _, ok := r.configs[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Resolve はプロバイダ名、またはissuer URLから設定済みプロバイダを特定する。
func (r *Registry) Resolve(name, issuer string) (Provider, error) {
	if name != "" {
		p, err := ParseProvider(name)
		if err != nil {
			return 0, err
		}
		if _, ok := r.configs[p]; !ok {
			return 0, fmt.Errorf("%w: %s is not enabled", ErrUnknownProvider, p)
		}
		return p, nil
	}

	issuer = strings.TrimSuffix(issuer, "/")
	if issuer != "" {
		for _, p := range r.Enabled() {
			if strings.TrimSuffix(r.configs[p].Issuer, "/") == issuer {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: issuer %q", ErrUnknownProvider, issuer)
}

// Verifier はプロバイダの検証器を返す。未取得の場合はディスカバリを行う。
// 同時に呼ばれた場合でもディスカバリは1回にまとめられる。
// 呼び出し元のctxがキャンセルされても、待っている他の呼び出しのディスカバリは継続する。
func (r *Registry) Verifier(ctx context.Context, p Provider) (*Verifier, error) {
	cfg, ok := r.configs[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	r.mu.RLock()
	v, ok := r.verifiers[p]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	ch := r.group.DoChan(p.String(), func() (any, error) {
		r.mu.RLock()
		cached, ok := r.verifiers[p]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		// 検証器はJWKSの再取得にこのctxを使い続ける。時間制限はHTTPクライアント側で掛ける
		created, err := NewVerifier(context.WithoutCancel(ctx), cfg, r.httpClient)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.verifiers[p] = created
		r.mu.Unlock()
		return created, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Verifier), nil
	}
}

// Verify はプロバイダを特定してIDトークンを検証する。
func (r *Registry) Verify(ctx context.Context, name, issuer, rawIDToken, nonce string) (Provider, *UserProvidedData, error) {
	p, err := r.Resolve(name, issuer)
	if err != nil {
		return 0, nil, err
	}
	v, err := r.Verifier(ctx, p)
	if err != nil {
		return p, nil, err
	}
	data, err := v.Verify(ctx, rawIDToken, nonce)
	if err != nil {
		return p, nil, err
	}
	return p, data, nil
}

// Ready は全プロバイダのディスカバリが完了しているかを返す。
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.verifiers) == len(r.configs)
}
