package config

const (
	EnvPrefix = "TUKA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "TUKA_APP_ENV"
	EnvPort      = "TUKA_APP_PORT"
	EnvDBDSN     = "TUKA_DB_DSN"
	EnvDBHost    = "TUKA_DB_HOST"
	EnvDBUser    = "TUKA_DB_USER"
	EnvDBName    = "TUKA_DB_NAME"
	EnvRedisURL  = "TUKA_REDIS_URL"
	EnvJWTSecret = "TUKA_JWT_SECRET"
	EnvJWTIssuer = "TUKA_JWT_ISSUER"

	EnvTokenPassphrase = "TUKA_TOKEN_PASSPHRASE"
	EnvTokenSalt       = "TUKA_TOKEN_SALT"

	EnvShippingFallbackPrice   = "TUKA_SHIPPING_FALLBACK_PRICE_CENTS"
	EnvShippingFallbackCeiling = "TUKA_SHIPPING_FALLBACK_CEILING_CENTS"
	EnvShippingMaxAttempts     = "TUKA_SHIPPING_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
