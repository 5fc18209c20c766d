// Package password はargon2idによるパスワードハッシュと、
// CPU負荷の高いハッシュ処理を制限付きで実行するワーカープールを提供する。
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params はargon2idのパラメータ。
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams はargon2idの既定パラメータ（m=19456, t=2, p=1）。
var DefaultParams = Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// 保存済みハッシュから読み取るパラメータの上限。これを超えるものは不正な形式として扱う。
const (
	maxMemory      = 1 << 20 // KiB (1 GiB)
	maxIterations  = 10
	maxParallelism = 16
	maxKeyLength   = 1024
)

// ErrInvalidHash はPHC文字列として解釈できないことを示す。
var ErrInvalidHash = errors.New("password: invalid hash format")

var b64 = base64.RawStdEncoding

// Hash はランダムなソルトでパスワードをハッシュし、PHC形式の文字列を返す。
// 同じ入力でも呼び出しごとに異なる文字列になる。
func Hash(password string) (string, error) {
	return HashWithParams(password, DefaultParams)
}

// HashWithParams は指定パラメータでパスワードをハッシュする。
func HashWithParams(password string, p Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify はPHC形式のハッシュとパスワードを比較する。
// ハッシュが不正な形式の場合はfalseを返す。
func Verify(encoded, password string) bool {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false
	}
	other := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1
}

// decode はPHC文字列 $argon2id$v=19$m=...,t=...,p=...$salt$hash を分解する。
func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrInvalidHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Memory > maxMemory || p.Iterations > maxIterations || p.Parallelism > maxParallelism {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > maxKeyLength {
		return p, nil, nil, ErrInvalidHash
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
