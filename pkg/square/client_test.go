package square

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imc400/tuka-backend/pkg/config"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
)

func TestFactoryBuildsPerStoreClients(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard})

	_, err := NewFactory(config.SquareConfig{}, nil)
	require.ErrorIs(t, err, errLoggerRequired)

	factory, err := NewFactory(config.SquareConfig{}, logg)
	require.NoError(t, err)
	assert.Equal(t, baseURLs[sandboxEnv], factory.baseURL)

	_, err = factory.ForStore("  ")
	require.ErrorIs(t, err, errAccessTokenRequired)

	client, err := factory.WithBaseURL("http://127.0.0.1:9999/").ForStore("tok_acme")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", client.baseURL)
	assert.Equal(t, sandboxEnv, client.Environment())
	assert.Equal(t, baseURLs[sandboxEnv], factory.baseURL, "WithBaseURL must not mutate the shared factory")
}

func TestNormalizeEnv(t *testing.T) {
	for raw, want := range map[string]string{"": sandboxEnv, " Production ": productionEnv, "sandbox": sandboxEnv} {
		got, err := normalizeEnv(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := normalizeEnv("staging")
	require.ErrorIs(t, err, errInvalidSquareEnv)
}

func TestIdempotencyKeysPreferCallerValue(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "txn-42/acme.example:order", c.ensureIdempotencyKey("order.create", "txn-42/acme.example:order"))
	generated := c.ensureIdempotencyKey("customer.create", "")
	assert.True(t, strings.HasPrefix(generated, "customer.create-"), generated)
	assert.True(t, strings.HasPrefix(c.NewIdempotencyKey(" "), "tuka-"))
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := map[int]pkgerrors.Code{
		http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
		http.StatusForbidden:           pkgerrors.CodeForbidden,
		http.StatusNotFound:            pkgerrors.CodeNotFound,
		http.StatusConflict:            pkgerrors.CodeConflict,
		http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
		http.StatusBadRequest:          pkgerrors.CodeValidation,
		http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
		http.StatusPaymentRequired:     pkgerrors.CodeValidation,
		http.StatusBadGateway:          pkgerrors.CodeDependency,
	}
	for status, want := range tests {
		assert.Equal(t, want, domainCodeForStatus(status), "status %d", status)
	}
}

func TestMapSquareError(t *testing.T) {
	c := &Client{}
	table := []struct {
		name    string
		status  int
		payload string
		want    pkgerrors.Code
	}{
		{"revoked storefront token", http.StatusUnauthorized, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`, pkgerrors.CodeUnauthorized},
		{"replayed order key", http.StatusBadRequest, `{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`, pkgerrors.CodeIdempotency},
		{"storefront outage", http.StatusServiceUnavailable, `not json`, pkgerrors.CodeDependency},
	}
	for _, tt := range table {
		mapped := c.mapSquareError(sqcore.NewAPIError(tt.status, errors.New(tt.payload)), "create order")
		require.Equal(t, tt.want, pkgerrors.CodeOf(mapped, ""), tt.name)
	}

	transport := c.mapSquareError(errors.New("dial tcp: timeout"), "search customer")
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(transport, ""))
	assert.True(t, pkgerrors.IsRetryable(transport))
	assert.Nil(t, c.mapSquareError(nil, "noop"))
}
