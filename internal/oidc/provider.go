package oidc

import (
	"fmt"
	"strings"
)

// Provider は受け付ける外部IDプロバイダを表す。
type Provider int

const (
	ProviderApple Provider = iota + 1
	ProviderGoogle
)

const (
	AppleIssuer  = "https://appleid.apple.com"
	GoogleIssuer = "https://accounts.google.com"
)

// Providers は既知のプロバイダを固定順で返す。
func Providers() []Provider {
	return []Provider{ProviderApple, ProviderGoogle}
}

func (p Provider) String() string {
	switch p {
	case ProviderApple:
		return "apple"
	case ProviderGoogle:
		return "google"
	default:
		return fmt.Sprintf("provider(%d)", int(p))
	}
}

// DefaultIssuer はプロバイダの公開issuer URLを返す。
func (p Provider) DefaultIssuer() string {
	switch p {
	case ProviderApple:
		return AppleIssuer
	case ProviderGoogle:
		return GoogleIssuer
	default:
		return ""
	}
}

// ParseProvider はプロバイダ名（大文字小文字を区別しない）を解釈する。
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "apple":
		return ProviderApple, nil
	case "google":
		return ProviderGoogle, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
