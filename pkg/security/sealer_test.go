package security

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imc400/tuka-backend/pkg/config"
)

func testSealer(t *testing.T, passphrase string) *Sealer {
	t.Helper()
	s, err := NewSealer(config.SecurityConfig{TokenPassphrase: passphrase, TokenSalt: "tuka-test-salt"})
	require.NoError(t, err)
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSealer(t, "correct horse")

	sealed, err := s.Seal("sk_live_access")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sealed, sealedPrefix))
	require.NotContains(t, sealed, "sk_live_access")

	again, err := s.Seal("sk_live_access")
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "sk_live_access", plain)
}

func TestOpenRejectsForeignKeyAndTampering(t *testing.T) {
	sealed, err := testSealer(t, "correct horse").Seal("secret")
	require.NoError(t, err)

	_, err = testSealer(t, "battery staple").Open(sealed)
	require.ErrorIs(t, err, ErrUnsealFailed)

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := sealedPrefix + base64.RawURLEncoding.EncodeToString(raw)
	_, err = testSealer(t, "correct horse").Open(tampered)
	require.ErrorIs(t, err, ErrUnsealFailed)

	_, err = testSealer(t, "correct horse").Open("plaintext")
	require.ErrorIs(t, err, ErrUnsealFailed)
}

func TestNewSealerValidatesConfig(t *testing.T) {
	_, err := NewSealer(config.SecurityConfig{TokenPassphrase: " ", TokenSalt: "long-enough"})
	require.Error(t, err)
	_, err = NewSealer(config.SecurityConfig{TokenPassphrase: "pass", TokenSalt: "short"})
	require.Error(t, err)
}
