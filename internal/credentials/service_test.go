package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/db/models"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/security"
)

type tokenServer struct {
	*httptest.Server
	refreshCalls  atomic.Int32
	refreshStatus atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.refreshStatus.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":   "access-" + r.PostForm.Get("code"),
				"refresh_token":  "refresh-1",
				"token_type":     "bearer",
				"expires_in":     int((7 * 24 * time.Hour).Seconds()),
				"stripe_user_id": "acct_123",
			})
		case "refresh_token":
			n := ts.refreshCalls.Add(1)
			status := int(ts.refreshStatus.Load())
			if status == http.StatusBadRequest {
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
				return
			}
			if status != http.StatusOK {
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "server_error"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-refreshed-" + string(rune('0'+n)),
				"refresh_token": "refresh-rotated",
				"token_type":    "bearer",
				"expires_in":    int((7 * 24 * time.Hour).Seconds()),
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(t *testing.T) (*manager, *tokenServer, *gorm.DB) {
	t.Helper()
	dsn := "file:credentials_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.StoreCredential{}))

	sealer, err := security.NewSealer(config.SecurityConfig{TokenPassphrase: "passphrase", TokenSalt: "salt-salt-salt"})
	require.NoError(t, err)

	ts := newTokenServer(t)
	mgr, err := NewManager(ManagerParams{
		OAuth: config.OAuthConfig{
			ClientID:          "ca_test",
			ClientSecret:      "sk_test",
			AuthURL:           ts.URL + "/authorize",
			TokenURL:          ts.URL + "/token",
			RedirectURL:       "https://tuka.example/oauth/callback",
			CollectorField:    "stripe_user_id",
			RefreshWindow:     24 * time.Hour,
			DefaultCommission: "0.10",
		},
		JWT:        config.JWTConfig{Secret: "test-secret", Issuer: "tuka-test"},
		Repository: NewRepository(conn),
		Sealer:     sealer,
		HTTPClient: ts.Client(),
	})
	require.NoError(t, err)
	return mgr.(*manager), ts, conn
}

func connect(t *testing.T, mgr *manager, storeKey string) *Grant {
	t.Helper()
	ctx := context.Background()
	authURL, err := mgr.AuthorizationURL(ctx, storeKey)
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))

	grant, err := mgr.Connect(ctx, parsed.Query().Get("state"), "code-1")
	require.NoError(t, err)
	return grant
}

func expireSoon(t *testing.T, conn *gorm.DB, storeKey string, in time.Duration) {
	t.Helper()
	require.NoError(t, conn.Model(&models.StoreCredential{}).
		Where("store_key = ?", storeKey).
		Update("expires_at", time.Now().Add(in)).Error)
}

func TestConnectSealsTokensAndServesThemUntilWindow(t *testing.T) {
	mgr, ts, conn := newTestManager(t)
	grant := connect(t, mgr, "https://www.Acme.example/")

	assert.Equal(t, "acme.example", grant.StoreKey)
	assert.Equal(t, "acct_123", grant.CollectorID)
	assert.Equal(t, "0.1", grant.CommissionRate.String())

	var stored models.StoreCredential
	require.NoError(t, conn.First(&stored, "store_key = ?", "acme.example").Error)
	assert.NotContains(t, stored.SealedAccessToken, "access-code-1")
	assert.NotContains(t, stored.SealedRefreshToken, "refresh-1")

	got, err := mgr.GetValidToken(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "access-code-1", got.AccessToken)
	assert.False(t, got.Stale)
	assert.Equal(t, int32(0), ts.refreshCalls.Load())
}

func TestConnectRejectsForgedState(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Connect(context.Background(), "not-a-jwt", "code-1")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

func TestGetValidTokenRefreshesInsideWindow(t *testing.T) {
	mgr, ts, conn := newTestManager(t)
	connect(t, mgr, "acme.example")
	expireSoon(t, conn, "acme.example", time.Hour)

	got, err := mgr.GetValidToken(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed-1", got.AccessToken)
	assert.Equal(t, int32(1), ts.refreshCalls.Load())

	var stored models.StoreCredential
	require.NoError(t, conn.First(&stored, "store_key = ?", "acme.example").Error)
	assert.Equal(t, 2, stored.Version)
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(24*time.Hour)))
	assert.Nil(t, stored.LastRefreshError)

	refresh, err := mgr.sealer.Open(stored.SealedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-rotated", refresh)
}

func TestInvalidGrantRevokesCredential(t *testing.T) {
	mgr, ts, conn := newTestManager(t)
	connect(t, mgr, "acme.example")
	expireSoon(t, conn, "acme.example", time.Hour)
	ts.refreshStatus.Store(http.StatusBadRequest)

	_, err := mgr.GetValidToken(context.Background(), "acme.example")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())

	var stored models.StoreCredential
	require.NoError(t, conn.First(&stored, "store_key = ?", "acme.example").Error)
	assert.True(t, stored.Revoked)
	require.NotNil(t, stored.LastRefreshError)

	_, err = mgr.GetValidToken(context.Background(), "acme.example")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
	assert.Equal(t, int32(1), ts.refreshCalls.Load())

	// Reconnecting clears the revocation.
	connect(t, mgr, "acme.example")
	got, err := mgr.GetValidToken(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "access-code-1", got.AccessToken)
}

func TestTransientRefreshFailureFallsBackToLiveToken(t *testing.T) {
	mgr, ts, conn := newTestManager(t)
	connect(t, mgr, "acme.example")
	expireSoon(t, conn, "acme.example", time.Hour)
	ts.refreshStatus.Store(http.StatusInternalServerError)

	got, err := mgr.GetValidToken(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.Equal(t, "access-code-1", got.AccessToken)

	var stored models.StoreCredential
	require.NoError(t, conn.First(&stored, "store_key = ?", "acme.example").Error)
	assert.False(t, stored.Revoked)
	assert.NotNil(t, stored.LastRefreshError)
	assert.Equal(t, 1, stored.Version)
}

func TestTransientRefreshFailureAfterExpiryIsAnError(t *testing.T) {
	mgr, ts, conn := newTestManager(t)
	connect(t, mgr, "acme.example")
	expireSoon(t, conn, "acme.example", -time.Minute)
	ts.refreshStatus.Store(http.StatusInternalServerError)

	_, err := mgr.GetValidToken(context.Background(), "acme.example")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestGetValidTokenWithoutCredential(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.GetValidToken(context.Background(), "nobody.example")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRefreshExpiringIsolatesFailures(t *testing.T) {
	mgr, ts, conn := newTestManager(t)
	connect(t, mgr, "acme.example")
	connect(t, mgr, "globex.example")
	connect(t, mgr, "initech.example")
	expireSoon(t, conn, "acme.example", time.Hour)
	expireSoon(t, conn, "globex.example", 2*time.Hour)

	summary, err := mgr.RefreshExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshSummary{Checked: 2, Refreshed: 2}, summary)

	expireSoon(t, conn, "acme.example", time.Hour)
	expireSoon(t, conn, "globex.example", 2*time.Hour)
	ts.refreshStatus.Store(http.StatusInternalServerError)
	summary, err = mgr.RefreshExpiring(context.Background())
	require.Error(t, err)
	assert.Equal(t, RefreshSummary{Checked: 2, Failed: 2}, summary)
	assert.Contains(t, err.Error(), "acme.example")
	assert.Contains(t, err.Error(), "globex.example")
}

func TestNewManagerRejectsBadCommission(t *testing.T) {
	_, err := NewManager(ManagerParams{
		OAuth:      config.OAuthConfig{ClientID: "a", ClientSecret: "b", TokenURL: "http://x", DefaultCommission: "1.5"},
		Repository: &Repository{},
		Sealer:     fakeSealer{},
	})
	require.Error(t, err)
}

type fakeSealer struct{}

func (fakeSealer) Seal(s string) (string, error) { return s, nil }
func (fakeSealer) Open(s string) (string, error) { return s, nil }
