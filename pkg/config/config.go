package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
	OAuth        OAuthConfig
	Shipping     ShippingConfig
	Fulfillment  FulfillmentConfig
	Settlement   SettlementConfig
	Security     SecurityConfig
	Cron         CronConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Shipping.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TUKA_APP_ENV" required:"true"`
	Port         string `envconfig:"TUKA_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"TUKA_APP_PUBLIC_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"TUKA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TUKA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TUKA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TUKA_DB_DSN"`
	Driver string `envconfig:"TUKA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TUKA_DB_HOST"`
	LegacyPort     int    `envconfig:"TUKA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TUKA_DB_USER"`
	LegacyPassword string `envconfig:"TUKA_DB_PASSWORD"`
	LegacyName     string `envconfig:"TUKA_DB_NAME"`
	LegacySSLMode  string `envconfig:"TUKA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TUKA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TUKA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TUKA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TUKA_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"TUKA_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxMaxRetries       int           `envconfig:"TUKA_DB_TX_MAX_RETRIES" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TUKA_REDIS_URL"`
	Address      string        `envconfig:"TUKA_REDIS_ADDR"`
	Password     string        `envconfig:"TUKA_REDIS_PASSWORD"`
	DB           int           `envconfig:"TUKA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TUKA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TUKA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TUKA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TUKA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TUKA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig signs operator tokens and OAuth state values.
type JWTConfig struct {
	Secret            string `envconfig:"TUKA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TUKA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TUKA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TUKA_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TUKA_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"TUKA_PUBSUB_DOMAIN_TOPIC" default:"tuka-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TUKA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TUKA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TUKA_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"TUKA_OUTBOX_RETENTION_DAYS" default:"30"`
}

// StripeConfig configures the payment processor account that issues charge intents.
type StripeConfig struct {
	APIKey         string `envconfig:"TUKA_STRIPE_API_KEY"`
	Secret         string `envconfig:"TUKA_STRIPE_SECRET"`
	Env            string `envconfig:"TUKA_STRIPE_ENV" default:"test"`
	Currency       string `envconfig:"TUKA_STRIPE_CURRENCY" default:"usd"`
	SuccessURL     string `envconfig:"TUKA_STRIPE_SUCCESS_URL"`
	CancelURL      string `envconfig:"TUKA_STRIPE_CANCEL_URL"`
	NetworkRetries int64  `envconfig:"TUKA_STRIPE_NETWORK_RETRIES" default:"2"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// SquareConfig selects the storefront order-system environment. Access tokens are per storefront.
type SquareConfig struct {
	Env      string `envconfig:"TUKA_SQUARE_ENV" default:"sandbox"`
	Currency string `envconfig:"TUKA_SQUARE_CURRENCY" default:"USD"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// OAuthConfig describes the processor's OAuth endpoints used to connect storefront collectors.
type OAuthConfig struct {
	ClientID       string        `envconfig:"TUKA_OAUTH_CLIENT_ID"`
	ClientSecret   string        `envconfig:"TUKA_OAUTH_CLIENT_SECRET"`
	AuthURL        string        `envconfig:"TUKA_OAUTH_AUTH_URL" default:"https://connect.stripe.com/oauth/authorize"`
	TokenURL       string        `envconfig:"TUKA_OAUTH_TOKEN_URL" default:"https://connect.stripe.com/oauth/token"`
	RedirectURL    string        `envconfig:"TUKA_OAUTH_REDIRECT_URL"`
	Scopes         []string      `envconfig:"TUKA_OAUTH_SCOPES" default:"read_write"`
	CollectorField string        `envconfig:"TUKA_OAUTH_COLLECTOR_FIELD" default:"stripe_user_id"`
	RefreshWindow  time.Duration `envconfig:"TUKA_OAUTH_REFRESH_WINDOW" default:"24h"`
	DefaultTTL     time.Duration `envconfig:"TUKA_OAUTH_DEFAULT_TTL" default:"4320h"`
	// DefaultCommission applies to newly connected storefronts, e.g. "0.10".
	DefaultCommission string `envconfig:"TUKA_OAUTH_DEFAULT_COMMISSION" default:"0.10"`
}

type ShippingConfig struct {
	FallbackTitle        string        `envconfig:"TUKA_SHIPPING_FALLBACK_TITLE" default:"Standard shipping"`
	FallbackPriceCents   int64         `envconfig:"TUKA_SHIPPING_FALLBACK_PRICE_CENTS" default:"500"`
	FallbackCeilingCents int64         `envconfig:"TUKA_SHIPPING_FALLBACK_CEILING_CENTS" default:"20000"`
	PerStoreTimeout      time.Duration `envconfig:"TUKA_SHIPPING_PER_STORE_TIMEOUT" default:"3s"`
	MaxAttempts          int           `envconfig:"TUKA_SHIPPING_MAX_ATTEMPTS" default:"3"`
	Backoff              time.Duration `envconfig:"TUKA_SHIPPING_BACKOFF" default:"200ms"`
	OverallBudget        time.Duration `envconfig:"TUKA_SHIPPING_OVERALL_BUDGET" default:"8s"`
	QuoteTTL             time.Duration `envconfig:"TUKA_SHIPPING_QUOTE_TTL" default:"30m"`
	Concurrency          int           `envconfig:"TUKA_SHIPPING_CONCURRENCY" default:"8"`
}

func (s ShippingConfig) validate() error {
	if s.FallbackPriceCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvShippingFallbackPrice)
	}
	if s.FallbackCeilingCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvShippingFallbackCeiling)
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvShippingMaxAttempts)
	}
	return nil
}

type FulfillmentConfig struct {
	ClaimLease  time.Duration `envconfig:"TUKA_FULFILLMENT_CLAIM_LEASE" default:"2m"`
	MaxAttempts int           `envconfig:"TUKA_FULFILLMENT_MAX_ATTEMPTS" default:"3"`
	Backoff     time.Duration `envconfig:"TUKA_FULFILLMENT_BACKOFF" default:"250ms"`
}

// SettlementConfig bounds how long a webhook waits on the processor when
// re-reading the payment it announced.
type SettlementConfig struct {
	FetchMaxAttempts int           `envconfig:"TUKA_SETTLEMENT_FETCH_MAX_ATTEMPTS" default:"3"`
	FetchBackoff     time.Duration `envconfig:"TUKA_SETTLEMENT_FETCH_BACKOFF" default:"200ms"`
}

// SecurityConfig derives the key used to seal OAuth and storefront tokens at rest.
type SecurityConfig struct {
	TokenPassphrase string `envconfig:"TUKA_TOKEN_PASSPHRASE" required:"true"`
	TokenSalt       string `envconfig:"TUKA_TOKEN_SALT" required:"true"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"TUKA_CRON_INTERVAL" default:"15m"`
	LockKey         string        `envconfig:"TUKA_CRON_LOCK_KEY" default:"tuka:cron:lock"`
	LockTTL         time.Duration `envconfig:"TUKA_CRON_LOCK_TTL" default:"14m"`
	JobTimeout      time.Duration `envconfig:"TUKA_CRON_JOB_TIMEOUT" default:"5m"`
	OutboxRetention time.Duration `envconfig:"TUKA_CRON_OUTBOX_RETENTION" default:"720h"`
	// RecoveryGrace is how long an approved payment may go without a
	// fulfillment record before the recovery job hands it off.
	RecoveryGrace time.Duration `envconfig:"TUKA_CRON_RECOVERY_GRACE" default:"10m"`
	BatchSize     int           `envconfig:"TUKA_CRON_BATCH_SIZE" default:"100"`
}

// HTTPConfig tunes the public API edge.
type HTTPConfig struct {
	CORSOrigins       []string      `envconfig:"TUKA_HTTP_CORS_ORIGINS"`
	RateLimitWindow   time.Duration `envconfig:"TUKA_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP    int64         `envconfig:"TUKA_HTTP_RATE_LIMIT_PER_IP" default:"30"`
	RateLimitPerEmail int64         `envconfig:"TUKA_HTTP_RATE_LIMIT_PER_EMAIL" default:"10"`
	WebhookDedupeTTL  time.Duration `envconfig:"TUKA_HTTP_WEBHOOK_DEDUPE_TTL" default:"720h"`
	WebhookClaimTTL   time.Duration `envconfig:"TUKA_HTTP_WEBHOOK_CLAIM_TTL" default:"2m"`
	ReadHeaderTimeout time.Duration `envconfig:"TUKA_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownTimeout   time.Duration `envconfig:"TUKA_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
