package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/imc400/tuka-backend/internal/checkout"
	"github.com/imc400/tuka-backend/internal/fulfillment"
	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
)

type fakeCheckout struct {
	started *checkout.StartInput
	retried uint64
	err     error
}

func (f *fakeCheckout) Start(_ context.Context, input checkout.StartInput) (*checkout.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = &input
	return &checkout.Result{TransactionID: 7, Status: enums.TransactionStatusPending, TotalCents: 1500}, nil
}

func (f *fakeCheckout) Retry(_ context.Context, id uint64) (*checkout.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.retried = id
	return &checkout.Result{TransactionID: id, Status: enums.TransactionStatusPartial}, nil
}

type fakeLedger struct {
	txn *models.Transaction
}

func (f *fakeLedger) Get(_ context.Context, id uint64) (*models.Transaction, error) {
	if f.txn == nil || f.txn.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return f.txn, nil
}

type fakeReplayer struct {
	key string
}

func (f *fakeReplayer) Replay(_ context.Context, id uint64, storeKey string) (*fulfillment.Outcome, error) {
	f.key = storeKey
	return &fulfillment.Outcome{TransactionID: id, StoreKey: storeKey, Status: enums.FulfillmentStatusCreated}, nil
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

const validCheckout = `{
	"buyer": {"email": " Ana@Example.com ", "first_name": "  Ana  "},
	"address": {"line1": "1 Main St", "city": "Austin", "country": "US"},
	"lines": [{"store_key": "a.example", "product_id": "p1", "variant_id": "v1", "title": "Tee", "unit_price_cents": 1000, "quantity": 1}],
	"quote_id": "q-1",
	"picks": [{"store_key": "a.example", "code": "std"}]
}`

func withRoute(r *http.Request, params map[string]string) *http.Request {
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func TestCheckoutCreatesTransaction(t *testing.T) {
	svc := &fakeCheckout{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(validCheckout))
	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.started)
	require.Equal(t, "ana@example.com", svc.started.Buyer.Email)
	require.Equal(t, "Ana", svc.started.Buyer.FirstName)
	require.Equal(t, "q-1", svc.started.QuoteID)
	require.Len(t, svc.started.Picks, 1)

	var body struct {
		Data checkout.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, uint64(7), body.Data.TransactionID)
}

func TestCheckoutRejectsInvalidBody(t *testing.T) {
	cases := map[string]string{
		"empty cart":    `{"buyer":{"email":"a@b.co","first_name":"A"},"address":{"line1":"x","city":"y","country":"US"},"lines":[]}`,
		"bad email":     `{"buyer":{"email":"nope","first_name":"A"},"address":{"line1":"x","city":"y","country":"US"},"lines":[{"store_key":"a","product_id":"p","variant_id":"v","title":"t","unit_price_cents":1,"quantity":1}]}`,
		"unknown field": `{"buyer":{"email":"a@b.co","first_name":"A"},"coupon":"FREE"}`,
		"no quote":      `{"buyer":{"email":"a@b.co","first_name":"A"},"address":{"line1":"x","city":"y","country":"US"},"lines":[{"store_key":"a.example","product_id":"p","variant_id":"v","title":"t","unit_price_cents":1,"quantity":1}]}`,
		"no picks":      `{"buyer":{"email":"a@b.co","first_name":"A"},"address":{"line1":"x","city":"y","country":"US"},"lines":[{"store_key":"a.example","product_id":"p","variant_id":"v","title":"t","unit_price_cents":1,"quantity":1}],"quote_id":"q-1","picks":[]}`,
	}
	for name, body := range cases {
		svc := &fakeCheckout{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		Checkout(svc, nil).ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		require.Nil(t, svc.started, name)
	}
}

func TestCheckoutSurfacesServiceErrors(t *testing.T) {
	svc := &fakeCheckout{err: pkgerrors.New(pkgerrors.CodeStateConflict, "quote expired")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(validCheckout))
	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCheckoutRetryParsesTransactionID(t *testing.T) {
	svc := &fakeCheckout{}
	req := withRoute(httptest.NewRequest(http.MethodPost, "/api/v1/checkout/42/retry", nil), map[string]string{"transactionId": "42"})
	rec := httptest.NewRecorder()
	CheckoutRetry(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(42), svc.retried)

	req = withRoute(httptest.NewRequest(http.MethodPost, "/api/v1/checkout/abc/retry", nil), map[string]string{"transactionId": "abc"})
	rec = httptest.NewRecorder()
	CheckoutRetry(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionDetail(t *testing.T) {
	url := "https://pay.example/s/1"
	ledger := &fakeLedger{txn: &models.Transaction{
		ID:     9,
		Status: enums.TransactionStatusPartial,
		StorePayments: []models.StorePayment{
			{StoreKey: "a.example", Status: enums.StorePaymentStatusApproved, GrossCents: 1000, CheckoutURL: &url},
			{StoreKey: "b.example", Status: enums.StorePaymentStatusRejected, GrossCents: 500},
		},
	}}

	req := withRoute(httptest.NewRequest(http.MethodGet, "/api/v1/transactions/9", nil), map[string]string{"transactionId": "9"})
	rec := httptest.NewRecorder()
	TransactionDetail(ledger, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Status   string `json:"status"`
			Payments []struct {
				StoreKey string `json:"store_key"`
				Status   string `json:"status"`
			} `json:"payments"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "partial", body.Data.Status)
	require.Len(t, body.Data.Payments, 2)
	require.NotContains(t, rec.Body.String(), "intent_id")

	req = withRoute(httptest.NewRequest(http.MethodGet, "/api/v1/transactions/10", nil), map[string]string{"transactionId": "10"})
	rec = httptest.NewRecorder()
	TransactionDetail(ledger, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplayFulfillmentNormalizesStoreKey(t *testing.T) {
	svc := &fakeReplayer{}
	req := withRoute(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"transactionId": "5", "storeKey": "https://WWW.Shop.Example/"})
	rec := httptest.NewRecorder()
	ReplayFulfillment(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "shop.example", svc.key)
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": fakePinger{}, "redis": fakePinger{}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": fakePinger{}, "redis": fakePinger{err: errors.New("down")}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
