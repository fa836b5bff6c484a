package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/imc400/tuka-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting an operator JWT.
type AccessTokenPayload struct {
	Subject string
	Role    enums.OperatorRole
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented on the admin surface.
type AccessTokenClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}

// StateClaims bind an OAuth authorization round-trip to one storefront.
type StateClaims struct {
	StoreKey string `json:"store_key"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}
