package middleware

import (
	"net/http"
	"strings"

	"github.com/imc400/tuka-backend/api/responses"
	pkgAuth "github.com/imc400/tuka-backend/pkg/auth"
	"github.com/imc400/tuka-backend/pkg/config"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
)

const bearerScheme = "bearer"

// Auth admits requests carrying a valid operator token issued by this
// service and records the operator on the request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tuka-admin"`)
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tuka-admin", error="invalid_token"`)
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			op := Operator{ID: claims.Subject, Role: claims.Role, TokenID: claims.ID}
			ctx := WithOperator(r.Context(), op)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"operator_id":   op.ID,
					"operator_role": string(op.Role),
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the credential from an Authorization header. Only
// the Bearer scheme is accepted; a bare token is treated as missing.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization scheme must be Bearer")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return token, nil
}
