package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultCurrency = "usd"
	maxRetries      = 5
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes each
// environment accepts.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// Client issues charge intents, looks up payments and verifies webhooks for
// the platform's processor account.
type Client struct {
	environment   string
	signingSecret string
	currency      string
	successURL    string
	cancelURL     string
	logg          *logger.Logger
}

// NewClient validates the account settings and points the stripe-go API
// backend at them. The SDK keeps its key and backend process-wide, so only
// one Client should be built per process.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	retries := cfg.NetworkRetries
	if retries < 0 {
		retries = 0
	}
	if retries > maxRetries {
		retries = maxRetries
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(retries),
	}
	if logg != nil {
		backendCfg.LeveledLogger = &sdkLogger{ctx: ctx, logg: logg}
	}
	stripe.Key = apiKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg))

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"stripe_env":      env,
			"currency":        currency,
			"network_retries": retries,
		})
		logg.Info(ctx, "stripe.ready")
	}

	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		currency:      currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		logg:          logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		return testEnv, nil
	}
	if _, ok := keyPrefixes[env]; !ok {
		return "", errInvalidStripeEnv
	}
	return env, nil
}

func validateAPIKey(env, key string) error {
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return errInvalidStripeEnv
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a key starting with %s", env, strings.Join(prefixes, " or "))
}

// sdkLogger forwards stripe-go's request logging into the service logger.
// SDK info lines are request chatter and go to debug.
type sdkLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (s *sdkLogger) Debugf(format string, v ...any) {
	s.logg.Debug(s.ctx, "stripe.sdk: "+fmt.Sprintf(format, v...))
}

func (s *sdkLogger) Infof(format string, v ...any) {
	s.logg.Debug(s.ctx, "stripe.sdk: "+fmt.Sprintf(format, v...))
}

func (s *sdkLogger) Warnf(format string, v ...any) {
	s.logg.Warn(s.ctx, "stripe.sdk: "+fmt.Sprintf(format, v...))
}

func (s *sdkLogger) Errorf(format string, v ...any) {
	s.logg.Error(s.ctx, "stripe.sdk", fmt.Errorf(format, v...))
}
