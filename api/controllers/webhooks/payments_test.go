package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/imc400/tuka-backend/internal/settlement"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/stripe"
)

type fakeParser struct {
	event *stripe.Event
	err   error
}

func (f *fakeParser) ParseWebhook(_ []byte, signature string) (*stripe.Event, error) {
	if signature != "valid" {
		return nil, errors.New("verify signature: no matching v1 signature")
	}
	return f.event, f.err
}

type fakeSettlement struct {
	calls  int
	result *settlement.Result
	err    error
}

func (f *fakeSettlement) HandleEvent(_ context.Context, _ *stripe.Event) (*settlement.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *inMemoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("tuka:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func newGuard(t *testing.T) *settlement.EventGuard {
	t.Helper()
	guard, _ := newGuardWithStore(t)
	return guard
}

func newGuardWithStore(t *testing.T) (*settlement.EventGuard, *inMemoryStore) {
	t.Helper()
	store := newInMemoryStore()
	guard, err := settlement.NewEventGuard(store, time.Hour, time.Minute, "payments-webhook")
	require.NoError(t, err)
	return guard, store
}

func post(handler http.Handler, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader([]byte(`{}`)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func outcomeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Data ackView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data.Outcome
}

func TestPaymentWebhookAppliesOnceAndAcksRedelivery(t *testing.T) {
	parser := &fakeParser{event: &stripe.Event{ID: "evt_1", Type: "payment_intent.succeeded", PaymentID: "pi_1"}}
	svc := &fakeSettlement{result: &settlement.Result{Outcome: settlement.OutcomeApplied}}
	handler := PaymentWebhook(svc, parser, newGuard(t), nil)

	rec := post(handler, "valid")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "applied", outcomeOf(t, rec))

	rec = post(handler, "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "duplicate", outcomeOf(t, rec))
	require.Equal(t, 1, svc.calls)
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeSettlement{}
	handler := PaymentWebhook(svc, &fakeParser{}, newGuard(t), nil)

	require.Equal(t, http.StatusBadRequest, post(handler, "").Code)
	require.Equal(t, http.StatusUnauthorized, post(handler, "t=1,v1=bogus").Code)
	require.Zero(t, svc.calls)
}

func TestPaymentWebhookAcksUnsupportedEvents(t *testing.T) {
	parser := &fakeParser{
		event: &stripe.Event{ID: "evt_2", Type: "customer.created"},
		err:   stripe.ErrUnsupportedEvent,
	}
	svc := &fakeSettlement{}
	rec := post(PaymentWebhook(svc, parser, newGuard(t), nil), "valid")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ignored", outcomeOf(t, rec))
	require.Zero(t, svc.calls)
}

func TestPaymentWebhookReleasesGuardOnFailure(t *testing.T) {
	parser := &fakeParser{event: &stripe.Event{ID: "evt_3", Type: "payment_intent.succeeded", PaymentID: "pi_3"}}
	svc := &fakeSettlement{err: pkgerrors.New(pkgerrors.CodeDependency, "fetch payment")}
	handler := PaymentWebhook(svc, parser, newGuard(t), nil)

	rec := post(handler, "valid")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.err = nil
	svc.result = &settlement.Result{Outcome: settlement.OutcomeApplied}
	rec = post(handler, "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "applied", outcomeOf(t, rec))
	require.Equal(t, 2, svc.calls)
}

func TestPaymentWebhookRedeliversAfterInterruptedSettlement(t *testing.T) {
	parser := &fakeParser{event: &stripe.Event{ID: "evt_4", Type: "payment_intent.succeeded", PaymentID: "pi_4"}}
	svc := &fakeSettlement{result: &settlement.Result{Outcome: settlement.OutcomeApplied}}
	guard, store := newGuardWithStore(t)
	handler := PaymentWebhook(svc, parser, guard, nil)
	key := store.IdempotencyKey("payments-webhook", "evt_4")

	// a worker claimed the event and died before settling it
	store.data[key] = "processing"
	rec := post(handler, "valid")
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Zero(t, svc.calls)

	// once the claim lapses the redelivery settles normally
	delete(store.data, key)
	rec = post(handler, "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "applied", outcomeOf(t, rec))
	require.Equal(t, "done", store.data[key])

	rec = post(handler, "valid")
	require.Equal(t, "duplicate", outcomeOf(t, rec))
	require.Equal(t, 1, svc.calls)
}
