package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
)

type lineInput struct {
	StoreKey string `json:"store_key" validate:"required,storekey"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type orderInput struct {
	Email string      `json:"email" validate:"required,email"`
	Lines []lineInput `json:"lines" validate:"required,min=1,dive"`
}

func decode(t *testing.T, body string) (orderInput, error) {
	t.Helper()
	var in orderInput
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return in, DecodeJSONBody(req, &in)
}

func TestDecodeJSONBodyAcceptsValidInput(t *testing.T) {
	in, err := decode(t, `{"email":"ana@tienda.cl","lines":[{"store_key":"https://www.acme.example/","quantity":2}]}`)
	require.NoError(t, err)
	assert.Equal(t, 2, in.Lines[0].Quantity)
}

func TestDecodeJSONBodyReportsNestedPaths(t *testing.T) {
	_, err := decode(t, `{"email":"ana@tienda.cl","lines":[{"store_key":"///","quantity":0}]}`)
	require.Error(t, err)
	var typed *pkgerrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok, "details type %T", typed.Details())
	assert.Equal(t, "must be a storefront domain", details["lines[0].store_key"])
	assert.Equal(t, "must be greater than 0", details["lines[0].quantity"])
}

func TestDecodeJSONBodyRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"unknown field":  `{"email":"ana@tienda.cl","coupon":"FREE","lines":[{"store_key":"a.cl","quantity":1}]}`,
		"trailing value": `{"email":"ana@tienda.cl","lines":[{"store_key":"a.cl","quantity":1}]} {}`,
		"empty cart":     `{"email":"ana@tienda.cl","lines":[]}`,
		"not json":       `email=ana`,
		"too large":      `{"email":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, body)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err, pkgerrors.CodeInternal))
		})
	}
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  María   José ", 0, "María José"},
		{"Peñalolén", 4, "Peña"},
		{"ab\tcd", 0, "ab cd"},
		{"ab\x00cd", 0, "abcd"},
		{"ab  cd", 3, "ab"},
		{"", 10, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeString(tc.in, tc.max), "input %q", tc.in)
	}
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&since=2026-05-01T10:00:00-04:00&reason=max_attempts&bad=zz", nil)

	limit, err := ParseQueryInt(req, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)
	limit, err = ParseQueryInt(req, "missing", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)
	_, err = ParseQueryInt(req, "bad", 50, 1, 200)
	assert.Error(t, err)

	since, err := ParseQueryTime(req, "since")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC), since)
	_, err = ParseQueryTime(req, "bad")
	assert.Error(t, err)

	reason, err := ParseQueryEnum(req, "reason", enums.ParseOutboxDLQErrorReason)
	require.NoError(t, err)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, reason)
	_, err = ParseQueryEnum(req, "bad", enums.ParseOutboxDLQErrorReason)
	assert.Error(t, err)
	empty, err := ParseQueryEnum(req, "missing", enums.ParseOutboxEventType)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
