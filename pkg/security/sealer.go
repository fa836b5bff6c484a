package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/imc400/tuka-backend/pkg/config"
)

const (
	sealedPrefix = "v1."
	nonceLen     = 24
	keyLen       = 32

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
)

// ErrUnsealFailed signals a tampered value or a rotated key.
var ErrUnsealFailed = errors.New("unable to unseal value")

// Sealer encrypts processor and storefront tokens before they are persisted.
type Sealer struct {
	key [keyLen]byte
}

// NewSealer derives the sealing key from the configured passphrase and salt
// with Argon2id.
func NewSealer(cfg config.SecurityConfig) (*Sealer, error) {
	if strings.TrimSpace(cfg.TokenPassphrase) == "" {
		return nil, fmt.Errorf("token passphrase is required")
	}
	if len(cfg.TokenSalt) < 8 {
		return nil, fmt.Errorf("token salt must be at least 8 bytes")
	}
	derived := argon2.IDKey([]byte(cfg.TokenPassphrase), []byte(cfg.TokenSalt), argonTime, argonMemory, argonThreads, keyLen)
	s := &Sealer{}
	copy(s.key[:], derived)
	return s, nil
}

// Seal encrypts plaintext into a printable string safe for text columns.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", ErrUnsealFailed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil || len(raw) < nonceLen+secretbox.Overhead {
		return "", ErrUnsealFailed
	}
	var nonce [nonceLen]byte
	copy(nonce[:], raw[:nonceLen])
	plain, ok := secretbox.Open(nil, raw[nonceLen:], &nonce, &s.key)
	if !ok {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}
