package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/imc400/tuka-backend/pkg/config"
)

const statePurposeConnect = "oauth_connect"

var jwtSigningMethod = jwt.SigningMethodHS256

// MintAccessToken issues a signed operator JWT using the configured TTL.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := requireSigningConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	if strings.TrimSpace(payload.Subject) == "" {
		return "", fmt.Errorf("subject is required")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid operator role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := AccessTokenClaims{
		Role: payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}
	return sign(cfg, claims)
}

// ParseAccessToken validates the JWT string and returns typed claims.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := parse(cfg, tokenString, claims); err != nil {
		return nil, err
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid operator role %q", claims.Role)
	}
	return claims, nil
}

// MintStateToken signs the OAuth state for a storefront connect round-trip.
func MintStateToken(cfg config.JWTConfig, now time.Time, storeKey string, ttl time.Duration) (string, error) {
	if err := requireSigningConfig(cfg); err != nil {
		return "", err
	}
	if strings.TrimSpace(storeKey) == "" {
		return "", fmt.Errorf("store key is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	claims := StateClaims{
		StoreKey: storeKey,
		Purpose:  statePurposeConnect,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return sign(cfg, claims)
}

// ParseStateToken validates an OAuth state and returns the storefront it was minted for.
func ParseStateToken(cfg config.JWTConfig, tokenString string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := parse(cfg, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != statePurposeConnect {
		return nil, fmt.Errorf("unexpected state purpose %q", claims.Purpose)
	}
	if strings.TrimSpace(claims.StoreKey) == "" {
		return nil, fmt.Errorf("state is missing store key")
	}
	return claims, nil
}

func requireSigningConfig(cfg config.JWTConfig) error {
	if cfg.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return fmt.Errorf("jwt issuer is required")
	}
	return nil
}

func sign(cfg config.JWTConfig, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func parse(cfg config.JWTConfig, tokenString string, claims jwt.Claims) error {
	if cfg.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	return err
}
