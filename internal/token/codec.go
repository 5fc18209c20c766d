package token

import (
	"time"
)

// CodecConfig はCodecの設定。起動時に1回構築し、以後は変更しない。
type CodecConfig struct {
	Secret   []byte
	TTL      time.Duration
	Audience string
	Issuer   string
	// Strict がtrueの場合、デコード時にaud/issを検証する。
	Strict bool
	// Now はテスト用の時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Codec は署名鍵と定数クレームを保持し、アクセストークンの発行と検証を行う。
// 複数goroutineから同時に利用できる。
type Codec struct {
	secret   []byte
	ttl      time.Duration
	audience string
	issuer   string
	strict   bool
	now      func() time.Time
}

// NewCodec はCodecを生成する。Secretが空の場合はErrEmptySecretを返す。
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret:   append([]byte(nil), cfg.Secret...),
		ttl:      cfg.TTL,
		audience: cfg.Audience,
		issuer:   cfg.Issuer,
		strict:   cfg.Strict,
		now:      cfg.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.audience == "" {
		c.audience = DefaultAudience
	}
	if c.issuer == "" {
		c.issuer = DefaultIssuer
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// TTL はアクセストークンの有効期間を返す。
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// NewClaims はユーザーIDとセッションIDから発行用のクレームを組み立てる。
func (c *Codec) NewClaims(userID, sessionID string) Claims {
	now := c.now()
	return Claims{
		Audience:  c.audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.ttl).Unix(),
		Issuer:    c.issuer,
		Subject:   userID,
		SessionID: sessionID,
	}
}

// Encode はクレームに署名する。
func (c *Codec) Encode(claims Claims) (string, error) {
	return Encode(claims, c.secret)
}

// Decode はトークンを検証してクレームを返す。
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	return Decode(tokenString, c.secret, DecodeOptions{
		Strict:   c.strict,
		Audience: c.audience,
		Issuer:   c.issuer,
		Now:      c.now,
	})
}
