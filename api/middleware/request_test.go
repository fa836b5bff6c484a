package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/types"
)

func TestRequestIDKeepsValidInboundID(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "mw-test", Output: &bytes.Buffer{}})
	var seen string
	h := RequestID(logg)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "lb-4f2c.91")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "lb-4f2c.91", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "lb-4f2c.91", seen)
}

func TestRequestIDReplacesUnsafeInboundID(t *testing.T) {
	h := RequestID(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for _, inbound := range []string{"", "bad id\nwith newline", strings.Repeat("a", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, inbound)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		got := rec.Header().Get(requestIDHeader)
		assert.NotEqual(t, inbound, got)
		assert.True(t, validRequestID(got), got)
	}
}

func TestRecovererWritesInternalEnvelope(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "mw-test", Output: &buf})
	h := RequestID(logg)(Recoverer(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, rec.Header().Get(requestIDHeader), body.Error.RequestID)
	assert.NotContains(t, rec.Body.String(), "nil map write")
	assert.Contains(t, buf.String(), "panic.recovered")
	assert.Contains(t, buf.String(), `"stack"`)
}

func TestRecovererReraisesAbort(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingRecordsRouteStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "mw-test", Output: &buf})
	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/api/v1/transactions/{transactionId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{}}`))
	})
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "health probes log at debug")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "request.done", entry["message"])
	assert.Equal(t, "/api/v1/transactions/{transactionId}", entry["route"])
	assert.Equal(t, float64(404), entry["status"])
	assert.Equal(t, float64(len(`{"error":{}}`)), entry["bytes"])
}
