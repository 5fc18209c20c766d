// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hitoshi/authcare/internal/oidc"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// JWT
	JWTSecret       string
	JWTExpiry       time.Duration
	JWTStrictClaims bool

	// Password
	PasswordWorkers int

	// Session
	SessionIdleTTL        time.Duration
	RefreshTokenRetention time.Duration
	CleanupInterval       time.Duration

	// Server
	ServerPort string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string

	// OAuth
	Providers ProviderEnv
}

// ProviderEnv は外部IDプロバイダの設定。クライアントIDが設定されたプロバイダのみ有効になる。
type ProviderEnv struct {
	AppleClientID  string `env:"OAUTH_APPLE_CLIENT_ID"`
	AppleIssuer    string `env:"OAUTH_APPLE_ISSUER"`
	GoogleClientID string `env:"OAUTH_GOOGLE_CLIENT_ID"`
	GoogleSecret   string `env:"OAUTH_GOOGLE_SECRET"`
	GoogleIssuer   string `env:"OAUTH_GOOGLE_ISSUER"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if err := env.Parse(&cfg.Providers); err != nil {
		return nil, fmt.Errorf("failed to parse provider configuration: %w", err)
	}
	if cfg.Providers.GoogleClientID != "" && cfg.Providers.GoogleSecret == "" {
		missing = append(missing, "OAUTH_GOOGLE_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTExpiry = time.Duration(getEnvInt("JWT_EXPIRED_IN", 60)) * time.Minute
	cfg.JWTStrictClaims = getEnvBool("JWT_STRICT_CLAIMS", false)
	cfg.PasswordWorkers = getEnvInt("PASSWORD_WORKERS", runtime.GOMAXPROCS(0))
	cfg.SessionIdleTTL = getEnvDuration("SESSION_IDLE_TTL", 30*24*time.Hour)
	cfg.RefreshTokenRetention = getEnvDuration("REFRESH_TOKEN_RETENTION", 7*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8403")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// ProviderConfigs は有効なプロバイダの接続設定を返す。
// issuerが未設定の場合は各プロバイダの既定値を使う。
func (c *Config) ProviderConfigs() []oidc.ProviderConfig {
	var out []oidc.ProviderConfig
	p := c.Providers
	if p.AppleClientID != "" {
		out = append(out, oidc.ProviderConfig{
			Provider: oidc.ProviderApple,
			Issuer:   orDefault(p.AppleIssuer, oidc.ProviderApple.DefaultIssuer()),
			ClientID: p.AppleClientID,
		})
	}
	if p.GoogleClientID != "" {
		out = append(out, oidc.ProviderConfig{
			Provider:     oidc.ProviderGoogle,
			Issuer:       orDefault(p.GoogleIssuer, oidc.ProviderGoogle.DefaultIssuer()),
			ClientID:     p.GoogleClientID,
			ClientSecret: p.GoogleSecret,
		})
	}
	return out
}

// LogValue はシークレットを伏せた設定をログ出力する。
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server_port", c.ServerPort),
		slog.Duration("jwt_expiry", c.JWTExpiry),
		slog.Bool("jwt_strict_claims", c.JWTStrictClaims),
		slog.Int("password_workers", c.PasswordWorkers),
		slog.Duration("session_idle_ttl", c.SessionIdleTTL),
		slog.Duration("refresh_token_retention", c.RefreshTokenRetention),
		slog.Duration("cleanup_interval", c.CleanupInterval),
		slog.Int("providers", len(c.ProviderConfigs())),
	)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
