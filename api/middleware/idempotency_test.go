package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
)

type fakeStore struct {
	data   map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("idem:%s:%s", scope, id)
}

func checkoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/checkout"}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload.Error.Code
}

func TestRouteTTL(t *testing.T) {
	tests := []struct {
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{http.MethodPost, "/api/v1/checkout", checkoutIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/checkout/{transactionId}/retry", checkoutIdempotencyTTL, true},
		{http.MethodPost, "/api/v1/shipping/quotes", quoteIdempotencyTTL, true},
		{http.MethodPost, "/api/admin/v1/transactions/{transactionId}/stores/{storeKey}/fulfillment/replay", quoteIdempotencyTTL, true},
		{http.MethodPost, "/api/admin/v1/stores/{storeKey}/credentials/refresh", quoteIdempotencyTTL, true},
		{http.MethodGet, "/api/v1/transactions/{transactionId}", 0, false},
		{http.MethodPost, "/api/v1/webhooks/payments", 0, false},
		{http.MethodPut, "/api/admin/v1/stores", 0, false},
	}
	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.pattern)
		assert.Equal(t, tt.ok, ok, "%s %s", tt.method, tt.pattern)
		assert.Equal(t, tt.want, ttl, "%s %s", tt.method, tt.pattern)
	}
}

func TestIdempotencyRequiresUsableKey(t *testing.T) {
	called := false
	h := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	for _, key := range []string{"", strings.Repeat("k", maxIdempotencyKeyLen+1)} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, checkoutRequest(key, `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.False(t, called)
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"echo":%s,"call":%d}`, body, calls)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, checkoutRequest("k-1", `{"cart":1}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, checkoutRequest("k-1", `{"cart":1}`))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"echo":{"cart":1},"call":1}`, replay.Body.String())
	assert.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		assert.Equal(t, checkoutIdempotencyTTL, ttl, key)
	}
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(newFakeStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), checkoutRequest("k-2", `{"cart":1}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, checkoutRequest("k-2", `{"cart":2}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyConflictWhileInFlight(t *testing.T) {
	store := newFakeStore()
	var inner *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// a duplicate arrives before the first request finishes
		inner = httptest.NewRecorder()
		h.ServeHTTP(inner, checkoutRequest("k-3", `{"cart":1}`))
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, checkoutRequest("k-3", `{"cart":1}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, inner)
	assert.Equal(t, http.StatusConflict, inner.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, inner))
}

func TestIdempotencyForgetsServerErrors(t *testing.T) {
	store := newFakeStore()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, checkoutRequest("k-4", `{}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, store.data, "5xx must release the key")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, checkoutRequest("k-4", `{}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("dial tcp: connection refused")
	called := false
	h := Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, checkoutRequest("k-5", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestIdempotencySkipsUnlistedRoutesAndNilStore(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ })

	get := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/9", nil)
	Idempotency(newFakeStore(), nil)(next).ServeHTTP(httptest.NewRecorder(), get)
	Idempotency(nil, nil)(next).ServeHTTP(httptest.NewRecorder(), checkoutRequest("", `{}`))
	assert.Equal(t, 2, calls)
}
