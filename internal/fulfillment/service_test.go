package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/internal/ledger"
	"github.com/imc400/tuka-backend/internal/stores"
	"github.com/imc400/tuka-backend/pkg/config"
	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/outbox"
	"github.com/imc400/tuka-backend/pkg/square"
	"github.com/imc400/tuka-backend/pkg/types"
)

type fakeAccess struct{}

func (fakeAccess) AccessFor(_ context.Context, key string) (*stores.OrderAccess, error) {
	return &stores.OrderAccess{StoreKey: key, LocationID: "LOC-" + key, AccessToken: "tok-" + key, Currency: "CLP"}, nil
}

type fakeOrders struct {
	mu          sync.Mutex
	orders      map[string]*sq.Order
	drafts      []square.DraftOrderParams
	completes   []square.CompleteOrderParams
	failAll     error
	failOnce    int
	nextOrderID int
}

func (f *fakeOrders) EnsureCustomer(_ context.Context, params square.CustomerCreateParams) (*sq.Customer, error) {
	id := "CUST-" + params.Email
	return &sq.Customer{ID: &id}, nil
}

func (f *fakeOrders) FindOrderByReference(_ context.Context, _, _, reference string) (*sq.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[reference], nil
}

func (f *fakeOrders) CreateDraftOrder(_ context.Context, params square.DraftOrderParams) (*sq.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, params)
	if f.failAll != nil {
		return nil, f.failAll
	}
	if f.failOnce > 0 {
		f.failOnce--
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order system unavailable")
	}
	f.nextOrderID++
	id := fmt.Sprintf("ORDER-%d", f.nextOrderID)
	state := sq.OrderStateDraft
	version := 1
	order := &sq.Order{ID: &id, State: &state, Version: &version, ReferenceID: &params.ReferenceID}
	f.orders[params.ReferenceID] = order
	return order, nil
}

func (f *fakeOrders) CompleteOrderAsPaid(_ context.Context, params square.CompleteOrderParams) (*sq.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, params)
	order := f.orders[params.ReferenceID]
	state := sq.OrderStateCompleted
	order.State = &state
	return order, nil
}

type fakeConnector struct {
	orders *fakeOrders
	tokens []string
}

func (c *fakeConnector) ForStore(token string) (OrderSystem, error) {
	c.tokens = append(c.tokens, token)
	return c.orders, nil
}

type fixture struct {
	svc    Service
	conn   *gorm.DB
	ledger ledger.Service
	orders *fakeOrders
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.Transaction{}, &models.StorePayment{}, &models.FulfillmentOrder{}, &models.OutboxEvent{}))

	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:         dbpkg.Wrap(conn),
		Repository: ledgerRepo,
		Outbox:     emitter,
	})
	require.NoError(t, err)

	f := &fixture{
		conn:   conn,
		ledger: ledgerSvc,
		orders: &fakeOrders{orders: map[string]*sq.Order{}},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		DB:         dbpkg.Wrap(conn),
		Repository: NewRepository(conn),
		Ledger:     ledgerRepo,
		Stores:     fakeAccess{},
		Connector:  &fakeConnector{orders: f.orders},
		Outbox:     emitter,
		Config:     config.FulfillmentConfig{ClaimLease: time.Minute, MaxAttempts: 2, Backoff: time.Millisecond},
	})
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return f.now }
	f.svc = svc
	return f
}

func (f *fixture) approvedTransaction(t *testing.T, approved ...string) *models.Transaction {
	t.Helper()
	txn, err := f.ledger.Create(context.Background(), ledger.CreateInput{
		Buyer:   types.Buyer{Email: "buyer@example.com", FirstName: "Ana", LastName: "Rojas"},
		Address: types.ShippingAddress{Line1: "1 Main", City: "Santiago", Country: "CL"},
		Lines: types.CartLines{
			{StoreKey: "acme.example", ProductID: "p1", VariantID: "v1", Title: "Sofa", UnitPriceCents: 5000000, Quantity: 1},
			{StoreKey: "shop-y.example", ProductID: "p3", VariantID: "v3", Title: "Chair", UnitPriceCents: 1500000, Quantity: 2},
		},
		Selections: types.ShippingSelections{{StoreKey: "acme.example", Code: "express", Title: "Express", PriceCents: 9900}},
	})
	require.NoError(t, err)
	for _, key := range []string{"acme.example", "shop-y.example"} {
		status := enums.StorePaymentStatusPending
		for _, a := range approved {
			if a == key {
				status = enums.StorePaymentStatusApproved
			}
		}
		require.NoError(t, f.conn.Create(&models.StorePayment{
			TransactionID: txn.ID,
			StoreKey:      key,
			GrossCents:    100,
			NetCents:      100,
			Status:        status,
		}).Error)
	}
	return txn
}

func (f *fixture) records(t *testing.T, id uint64, key string) []models.FulfillmentOrder {
	t.Helper()
	var rows []models.FulfillmentOrder
	require.NoError(t, f.conn.Where("transaction_id = ? AND store_key = ?", id, key).Find(&rows).Error)
	return rows
}

func (f *fixture) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestHandoffCreatesOrderWithOnlyStoreLines(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")

	out, err := f.svc.Handoff(context.Background(), txn.ID, "real-acme.example")
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusCreated, out.Status)
	assert.Equal(t, "ORDER-1", out.ExternalOrderID)
	assert.False(t, out.Recovered)

	require.Len(t, f.orders.drafts, 1)
	draft := f.orders.drafts[0]
	reference := fmt.Sprintf("txn-%d/acme.example", txn.ID)
	assert.Equal(t, reference, draft.ReferenceID)
	assert.Equal(t, reference+":order", draft.IdempotencyKey)
	assert.Equal(t, "LOC-acme.example", draft.LocationID)
	require.Len(t, draft.Lines, 1)
	assert.Equal(t, "v1", draft.Lines[0].VariantID)
	require.NotNil(t, draft.Shipping)
	assert.Equal(t, int64(9900), draft.Shipping.PriceCents)

	require.Len(t, f.orders.completes, 1)
	assert.Equal(t, int64(5009900), f.orders.completes[0].AmountCents)
	assert.Equal(t, reference+":order", f.orders.completes[0].IdempotencyKey)

	rows := f.records(t, txn.ID, "acme.example")
	require.Len(t, rows, 1)
	assert.Equal(t, enums.FulfillmentStatusCreated, rows[0].Status)
	require.NotNil(t, rows[0].CompletedAt)

	var payment models.StorePayment
	require.NoError(t, f.conn.Where("transaction_id = ? AND store_key = ?", txn.ID, "acme.example").First(&payment).Error)
	require.NotNil(t, payment.StoreOrderID)
	assert.Equal(t, "ORDER-1", *payment.StoreOrderID)
	assert.Equal(t, int64(1), f.events(t, enums.EventFulfillmentCreated))
}

func TestHandoffIsIdempotent(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")

	_, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	out, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)

	assert.True(t, out.Existing)
	assert.Equal(t, "ORDER-1", out.ExternalOrderID)
	assert.Len(t, f.orders.drafts, 1)
	assert.Len(t, f.records(t, txn.ID, "acme.example"), 1)
}

func TestHandoffRejectsUnapprovedPayment(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")

	_, err := f.svc.Handoff(context.Background(), txn.ID, "shop-y.example")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Empty(t, f.orders.drafts)
}

func TestHandoffRespectsFreshClaim(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")
	var payment models.StorePayment
	require.NoError(t, f.conn.Where("transaction_id = ? AND store_key = ?", txn.ID, "acme.example").First(&payment).Error)
	require.NoError(t, f.conn.Create(&models.FulfillmentOrder{
		TransactionID:  txn.ID,
		StoreKey:       "acme.example",
		StorePaymentID: payment.ID,
		Status:         enums.FulfillmentStatusPending,
		Attempts:       1,
		ClaimedAt:      f.now.Add(-10 * time.Second),
	}).Error)

	out, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	assert.True(t, out.InProgress)
	assert.Empty(t, f.orders.drafts)

	f.now = f.now.Add(2 * time.Minute)
	out, err = f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusCreated, out.Status)
	assert.Equal(t, 2, out.Attempts)
}

func TestHandoffRecoversOrderCreatedBeforeCrash(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")
	reference := fmt.Sprintf("txn-%d/acme.example", txn.ID)
	id := "ORDER-EARLIER"
	state := sq.OrderStateOpen
	f.orders.orders[reference] = &sq.Order{ID: &id, State: &state}

	out, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	assert.True(t, out.Recovered)
	assert.Equal(t, "ORDER-EARLIER", out.ExternalOrderID)
	assert.Empty(t, f.orders.drafts)
	assert.Empty(t, f.orders.completes)
}

func TestHandoffRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")
	f.orders.failOnce = 1

	out, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusCreated, out.Status)
	require.Len(t, f.orders.drafts, 2)
	assert.Equal(t, f.orders.drafts[0].IdempotencyKey, f.orders.drafts[1].IdempotencyKey)
}

func TestFailedHandoffIsRecordedAndReplayable(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example", "shop-y.example")
	f.orders.failAll = pkgerrors.New(pkgerrors.CodeValidation, "location closed")

	out, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, enums.FulfillmentStatusFailed, out.Status)
	assert.Contains(t, out.Error, "location closed")
	assert.Equal(t, int64(1), f.events(t, enums.EventFulfillmentFailed))

	// the other storefront is unaffected by the failure
	f.orders.failAll = nil
	other, err := f.svc.Handoff(context.Background(), txn.ID, "shop-y.example")
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusCreated, other.Status)

	again, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusFailed, again.Status)

	replayed, err := f.svc.Replay(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStatusCreated, replayed.Status)
	assert.Equal(t, 2, replayed.Attempts)

	rows := f.records(t, txn.ID, "acme.example")
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ErrorMessage)

	failed, err := NewRepository(f.conn).ListFailed(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestFailedHandoffStoresValidUTF8Message(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example")
	f.orders.failAll = pkgerrors.New(pkgerrors.CodeValidation, strings.Repeat("a", 1000)+strings.Repeat("ñ", 40))

	_, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.Error(t, err)

	rows := f.records(t, txn.ID, "acme.example")
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.True(t, utf8.ValidString(*rows[0].ErrorMessage))
	assert.LessOrEqual(t, len(*rows[0].ErrorMessage), 1024)
}

func TestHandoffUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Handoff(context.Background(), 999, "acme.example")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestListOrphansFindsUnhandedApprovedPayments(t *testing.T) {
	f := newFixture(t)
	txn := f.approvedTransaction(t, "acme.example", "shop-y.example")
	settled := f.now.Add(-time.Hour)
	require.NoError(t, f.conn.Model(&models.StorePayment{}).
		Where("transaction_id = ?", txn.ID).
		Update("resolved_at", settled).Error)

	_, err := f.svc.Handoff(context.Background(), txn.ID, "acme.example")
	require.NoError(t, err)

	orphans, err := NewRepository(f.conn).ListOrphans(context.Background(), f.now, f.now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, Orphan{TransactionID: txn.ID, StoreKey: "shop-y.example"}, orphans[0])
}
