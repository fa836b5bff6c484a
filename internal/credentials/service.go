package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/imc400/tuka-backend/pkg/auth"
	"github.com/imc400/tuka-backend/pkg/config"
	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/db/models"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/storekey"
)

const (
	defaultRefreshWindow = 24 * time.Hour
	defaultTokenTTL      = 180 * 24 * time.Hour
	stateTTL             = 15 * time.Minute
	invalidGrant         = "invalid_grant"
)

// ErrNoCredential means the storefront never connected a collector account.
var ErrNoCredential = errors.New("store has no payment credential")

type credentialRepository interface {
	FindByStoreKey(ctx context.Context, storeKey string) (*models.StoreCredential, error)
	Upsert(ctx context.Context, cred *models.StoreCredential) error
	ReplaceTokens(ctx context.Context, id uuid.UUID, version int, updates map[string]any) (bool, error)
	RecordRefreshFailure(ctx context.Context, id uuid.UUID, message string, revoke bool) error
	ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.StoreCredential, error)
}

type tokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Grant is an unsealed, usable processor grant for one storefront.
type Grant struct {
	StoreKey       string
	CollectorID    string
	AccessToken    string
	ExpiresAt      time.Time
	CommissionRate decimal.Decimal
	// Stale is set when a refresh failed and the previous token was returned.
	Stale bool
}

// RefreshSummary reports one sweep of expiring grants.
type RefreshSummary struct {
	Checked   int
	Refreshed int
	Failed    int
}

// Manager owns every storefront's processor OAuth grant.
type Manager interface {
	AuthorizationURL(ctx context.Context, storeKey string) (string, error)
	Connect(ctx context.Context, state, code string) (*Grant, error)
	GetValidToken(ctx context.Context, storeKey string) (*Grant, error)
	Refresh(ctx context.Context, storeKey string) (*Grant, error)
	RefreshExpiring(ctx context.Context) (RefreshSummary, error)
}

// ManagerParams wires the credential manager.
type ManagerParams struct {
	OAuth      config.OAuthConfig
	JWT        config.JWTConfig
	Repository credentialRepository
	Sealer     tokenSealer
	Logger     *logger.Logger
	Metrics    *metrics.SettlementMetrics
	HTTPClient *http.Client
}

type manager struct {
	oauth          *oauth2.Config
	jwt            config.JWTConfig
	collectorField string
	window         time.Duration
	defaultTTL     time.Duration
	commission     decimal.Decimal
	repo           credentialRepository
	sealer         tokenSealer
	logg           *logger.Logger
	metrics        *metrics.SettlementMetrics
	httpClient     *http.Client
	group          singleflight.Group
	now            func() time.Time
}

// NewManager validates the OAuth configuration and builds a Manager.
func NewManager(params ManagerParams) (Manager, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("credential repository required")
	}
	if params.Sealer == nil {
		return nil, fmt.Errorf("token sealer required")
	}
	cfg := params.OAuth
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("oauth client id and secret are required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("oauth token url is required")
	}
	commission := decimal.Zero
	if raw := strings.TrimSpace(cfg.DefaultCommission); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse default commission: %w", err)
		}
		commission = parsed
	}
	if commission.IsNegative() || commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("default commission must be in [0, 1)")
	}
	window := cfg.RefreshWindow
	if window <= 0 {
		window = defaultRefreshWindow
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	field := strings.TrimSpace(cfg.CollectorField)
	if field == "" {
		field = "stripe_user_id"
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		jwt:            params.JWT,
		collectorField: field,
		window:         window,
		defaultTTL:     ttl,
		commission:     commission,
		repo:           params.Repository,
		sealer:         params.Sealer,
		logg:           params.Logger,
		metrics:        params.Metrics,
		httpClient:     httpClient,
		now:            time.Now,
	}, nil
}

// AuthorizationURL builds the consent URL with a signed state bound to the storefront.
func (m *manager) AuthorizationURL(ctx context.Context, storeKey string) (string, error) {
	key := storekey.Normalize(storeKey)
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "store key is required")
	}
	state, err := auth.MintStateToken(m.jwt, m.now(), key, stateTTL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint oauth state")
	}
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Connect completes the authorization-code grant and stores the sealed pair.
func (m *manager) Connect(ctx context.Context, state, code string) (*Grant, error) {
	claims, err := auth.ParseStateToken(m.jwt, state)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid oauth state")
	}
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required")
	}
	key := storekey.Normalize(claims.StoreKey)
	logCtx := m.logCtx(ctx, key)

	token, err := m.oauth.Exchange(m.clientCtx(ctx), code)
	if err != nil {
		m.logError(logCtx, "oauth code exchange failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "exchange authorization code")
	}
	collector, _ := token.Extra(m.collectorField).(string)
	if strings.TrimSpace(collector) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("token response missing %s", m.collectorField))
	}
	if token.RefreshToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token response missing refresh token")
	}

	now := m.now().UTC()
	sealedAccess, sealedRefresh, err := m.sealPair(token.AccessToken, token.RefreshToken)
	if err != nil {
		return nil, err
	}
	cred := &models.StoreCredential{
		StoreKey:           key,
		CollectorID:        collector,
		SealedAccessToken:  sealedAccess,
		SealedRefreshToken: sealedRefresh,
		TokenType:          tokenType(token),
		ExpiresAt:          m.expiry(token, now),
		CommissionRate:     m.commission,
		LastRefreshedAt:    &now,
	}
	if err := m.repo.Upsert(ctx, cred); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store credential")
	}
	stored, err := m.repo.FindByStoreKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload credential")
	}
	if m.logg != nil {
		m.logg.Info(m.logg.WithField(logCtx, "collector_id", collector), "store credential connected")
	}
	return &Grant{
		StoreKey:       key,
		CollectorID:    collector,
		AccessToken:    token.AccessToken,
		ExpiresAt:      stored.ExpiresAt,
		CommissionRate: stored.CommissionRate,
	}, nil
}

// GetValidToken returns a usable grant, refreshing first when the token is
// inside the safety window. A failed refresh falls back to the stored token
// while it has not expired yet.
func (m *manager) GetValidToken(ctx context.Context, storeKey string) (*Grant, error) {
	key := storekey.Normalize(storeKey)
	cred, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if cred.Revoked {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, fmt.Sprintf("processor grant for %s was revoked; reconnect required", key))
	}
	now := m.now()
	if cred.ExpiresAt.Sub(now) > m.window {
		return m.unseal(cred)
	}

	grant, refreshErr := m.Refresh(ctx, key)
	if refreshErr == nil {
		return grant, nil
	}
	if typed := pkgerrors.As(refreshErr); typed != nil && typed.Code() == pkgerrors.CodeUnauthorized {
		return nil, refreshErr
	}
	if now.Before(cred.ExpiresAt) {
		grant, err := m.unseal(cred)
		if err != nil {
			return nil, err
		}
		grant.Stale = true
		if m.logg != nil {
			m.logg.Warn(m.logg.WithField(m.logCtx(ctx, key), "error", refreshErr.Error()), "refresh failed; using stored token until expiry")
		}
		return grant, nil
	}
	return nil, refreshErr
}

// Refresh exchanges the refresh token. Concurrent callers for the same store
// share one exchange.
func (m *manager) Refresh(ctx context.Context, storeKey string) (*Grant, error) {
	key := storekey.Normalize(storeKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store key is required")
	}
	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.refresh(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	grant := *result.(*Grant)
	return &grant, nil
}

func (m *manager) refresh(ctx context.Context, key string) (*Grant, error) {
	logCtx := m.logCtx(ctx, key)
	cred, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if cred.Revoked {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, fmt.Sprintf("processor grant for %s was revoked; reconnect required", key))
	}
	refreshToken, err := m.sealer.Open(cred.SealedRefreshToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unseal refresh token")
	}

	source := m.oauth.TokenSource(m.clientCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		revoke := isInvalidGrant(err)
		if recErr := m.repo.RecordRefreshFailure(ctx, cred.ID, pkgerrors.Summary(err, 512), revoke); recErr != nil {
			m.logError(logCtx, "record refresh failure", recErr)
		}
		m.logError(logCtx, "oauth refresh failed", err)
		if revoke {
			m.metrics.CredentialRefresh("revoked")
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "processor grant revoked")
		}
		m.metrics.CredentialRefresh("failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh processor grant")
	}

	now := m.now().UTC()
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	sealedAccess, sealedRefresh, err := m.sealPair(token.AccessToken, newRefresh)
	if err != nil {
		return nil, err
	}
	expiresAt := m.expiry(token, now)
	updates := map[string]any{
		"sealed_access_token":  sealedAccess,
		"sealed_refresh_token": sealedRefresh,
		"token_type":           tokenType(token),
		"expires_at":           expiresAt,
		"last_refreshed_at":    now,
		"last_refresh_error":   nil,
	}
	if collector, _ := token.Extra(m.collectorField).(string); collector != "" {
		updates["collector_id"] = collector
	}
	ok, err := m.repo.ReplaceTokens(ctx, cred.ID, cred.Version, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store refreshed credential")
	}
	if !ok {
		// Another process refreshed first; its pair is the current one.
		latest, err := m.load(ctx, key)
		if err != nil {
			return nil, err
		}
		m.metrics.CredentialRefresh("superseded")
		return m.unseal(latest)
	}
	m.metrics.CredentialRefresh("refreshed")
	if m.logg != nil {
		m.logg.Info(m.logg.WithField(logCtx, "expires_at", expiresAt), "store credential refreshed")
	}
	collector := cred.CollectorID
	if c, ok := updates["collector_id"].(string); ok {
		collector = c
	}
	return &Grant{
		StoreKey:       key,
		CollectorID:    collector,
		AccessToken:    token.AccessToken,
		ExpiresAt:      expiresAt,
		CommissionRate: cred.CommissionRate,
	}, nil
}

// RefreshExpiring refreshes every live grant inside the safety window. One
// storefront's failure never stops the sweep.
func (m *manager) RefreshExpiring(ctx context.Context) (RefreshSummary, error) {
	var summary RefreshSummary
	rows, err := m.repo.ListExpiring(ctx, m.now().Add(m.window), 0)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expiring credentials")
	}
	var errs error
	for _, row := range rows {
		summary.Checked++
		if _, err := m.Refresh(ctx, row.StoreKey); err != nil {
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", row.StoreKey, err))
			continue
		}
		summary.Refreshed++
	}
	return summary, errs
}

func (m *manager) load(ctx context.Context, key string) (*models.StoreCredential, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store key is required")
	}
	cred, err := m.repo.FindByStoreKey(ctx, key)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, ErrNoCredential
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load credential")
	}
	return cred, nil
}

func (m *manager) unseal(cred *models.StoreCredential) (*Grant, error) {
	access, err := m.sealer.Open(cred.SealedAccessToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unseal access token")
	}
	return &Grant{
		StoreKey:       cred.StoreKey,
		CollectorID:    cred.CollectorID,
		AccessToken:    access,
		ExpiresAt:      cred.ExpiresAt,
		CommissionRate: cred.CommissionRate,
	}, nil
}

func (m *manager) sealPair(access, refresh string) (string, string, error) {
	sealedAccess, err := m.sealer.Seal(access)
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal access token")
	}
	sealedRefresh, err := m.sealer.Seal(refresh)
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal refresh token")
	}
	return sealedAccess, sealedRefresh, nil
}

func (m *manager) expiry(token *oauth2.Token, now time.Time) time.Time {
	if !token.Expiry.IsZero() {
		return token.Expiry.UTC()
	}
	return now.Add(m.defaultTTL)
}

func (m *manager) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *manager) logCtx(ctx context.Context, key string) context.Context {
	if m.logg == nil {
		return ctx
	}
	return m.logg.WithStoreKey(ctx, key)
}

func (m *manager) logError(ctx context.Context, msg string, err error) {
	if m.logg == nil {
		return
	}
	m.logg.Error(ctx, msg, err)
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == invalidGrant {
			return true
		}
		return strings.Contains(string(retrieveErr.Body), invalidGrant)
	}
	return false
}

func tokenType(token *oauth2.Token) string {
	if token.TokenType == "" {
		return "bearer"
	}
	return strings.ToLower(token.TokenType)
}
