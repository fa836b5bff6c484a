package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "tuka",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{Subject: "ops@tuka.example", Role: enums.OperatorRoleAdmin})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != "ops@tuka.example" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Role != enums.OperatorRoleAdmin {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be generated")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		t.Fatalf("expected expiry in the future")
	}
}

func TestParseAccessTokenRejectsTampering(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleSupport})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	other := cfg
	other.Secret = "different"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatalf("expected signature failure")
	}

	parts := strings.Split(token, ".")
	parts[1] = parts[1] + "x"
	if _, err := ParseAccessToken(cfg, strings.Join(parts, ".")); err == nil {
		t.Fatalf("expected error for tampered payload")
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestMintAccessTokenValidatesPayload(t *testing.T) {
	cfg := testJWTConfig()
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Subject: "ops", Role: "owner"}); err == nil {
		t.Fatalf("expected invalid role error")
	}
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.OperatorRoleAdmin}); err == nil {
		t.Fatalf("expected missing subject error")
	}
	cfg.Issuer = ""
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleAdmin}); err == nil {
		t.Fatalf("expected missing issuer error")
	}
}

func TestStateTokenRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	state, err := MintStateToken(cfg, time.Now(), "acme.example", time.Minute)
	if err != nil {
		t.Fatalf("mint state: %v", err)
	}
	claims, err := ParseStateToken(cfg, state)
	if err != nil {
		t.Fatalf("parse state: %v", err)
	}
	if claims.StoreKey != "acme.example" {
		t.Fatalf("unexpected store key %q", claims.StoreKey)
	}

	access, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.OperatorRoleAdmin})
	if err != nil {
		t.Fatalf("mint access: %v", err)
	}
	if _, err := ParseStateToken(cfg, access); err == nil {
		t.Fatalf("access token must not be accepted as state")
	}

	expired, err := MintStateToken(cfg, time.Now().Add(-time.Hour), "acme.example", time.Minute)
	if err != nil {
		t.Fatalf("mint expired state: %v", err)
	}
	if _, err := ParseStateToken(cfg, expired); err == nil {
		t.Fatalf("expected expired state to fail")
	}
}
