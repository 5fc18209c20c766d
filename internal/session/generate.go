package session

import (
	"crypto/rand"
	"fmt"
)

// TokenLength はリフレッシュトークン文字列の長さ。
const TokenLength = 64

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken は暗号的に安全な英数字のリフレッシュトークンを生成する。
// 剰余の偏りを避けるため、248以上のバイトは捨てて引き直す。
func GenerateToken() (string, error) {
	const limit = 256 - 256%len(tokenAlphabet)

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate refresh token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}
