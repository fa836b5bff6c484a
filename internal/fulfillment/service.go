package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/internal/stores"
	"github.com/imc400/tuka-backend/pkg/checkout"
	"github.com/imc400/tuka-backend/pkg/config"
	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/outbox"
	"github.com/imc400/tuka-backend/pkg/outbox/payloads"
	"github.com/imc400/tuka-backend/pkg/square"
	"github.com/imc400/tuka-backend/pkg/storekey"
)

const (
	defaultClaimLease  = 2 * time.Minute
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// OrderSystem is one storefront's order-management API.
type OrderSystem interface {
	EnsureCustomer(ctx context.Context, params square.CustomerCreateParams) (*sq.Customer, error)
	FindOrderByReference(ctx context.Context, locationID, customerID, reference string) (*sq.Order, error)
	CreateDraftOrder(ctx context.Context, params square.DraftOrderParams) (*sq.Order, error)
	CompleteOrderAsPaid(ctx context.Context, params square.CompleteOrderParams) (*sq.Order, error)
}

// Connector opens an OrderSystem authenticated as one storefront.
type Connector interface {
	ForStore(accessToken string) (OrderSystem, error)
}

type squareConnector struct {
	factory *square.Factory
}

// NewSquareConnector adapts the Square client factory to Connector.
func NewSquareConnector(factory *square.Factory) Connector {
	return squareConnector{factory: factory}
}

func (c squareConnector) ForStore(accessToken string) (OrderSystem, error) {
	client, err := c.factory.ForStore(accessToken)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transactionFinder interface {
	FindByID(ctx context.Context, id uint64) (*models.Transaction, error)
}

type accessProvider interface {
	AccessFor(ctx context.Context, key string) (*stores.OrderAccess, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Outcome describes what a handoff did for one storefront.
type Outcome struct {
	TransactionID   uint64                  `json:"transaction_id"`
	StoreKey        string                  `json:"store_key"`
	Status          enums.FulfillmentStatus `json:"status"`
	ExternalOrderID string                  `json:"external_order_id,omitempty"`
	Attempts        int                     `json:"attempts"`
	// Existing means an earlier handoff already created the order.
	Existing bool `json:"existing"`
	// InProgress means another worker holds a fresh claim on the pair.
	InProgress bool `json:"in_progress"`
	// Recovered means the order was found in the storefront without a local record of it.
	Recovered bool   `json:"recovered"`
	Error     string `json:"error,omitempty"`
}

// Service hands paid storefront orders to the storefront's order system.
type Service interface {
	Handoff(ctx context.Context, transactionID uint64, storeKey string) (*Outcome, error)
	Replay(ctx context.Context, transactionID uint64, storeKey string) (*Outcome, error)
}

// ServiceParams wires the fulfillment service.
type ServiceParams struct {
	DB         txRunner
	Repository *Repository
	Ledger     transactionFinder
	Stores     accessProvider
	Connector  Connector
	Outbox     eventEmitter
	Config     config.FulfillmentConfig
	Logger     *logger.Logger
	Metrics    *metrics.SettlementMetrics
}

type service struct {
	db        txRunner
	repo      *Repository
	ledger    transactionFinder
	stores    accessProvider
	connector Connector
	outbox    eventEmitter
	lease     time.Duration
	attempts  int
	backoff   time.Duration
	logg      *logger.Logger
	metrics   *metrics.SettlementMetrics
	now       func() time.Time
}

// NewService validates dependencies and returns a fulfillment service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("fulfillment repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Stores == nil:
		return nil, fmt.Errorf("store access provider required")
	case params.Connector == nil:
		return nil, fmt.Errorf("order system connector required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	svc := &service{
		db:        params.DB,
		repo:      params.Repository,
		ledger:    params.Ledger,
		stores:    params.Stores,
		connector: params.Connector,
		outbox:    params.Outbox,
		lease:     params.Config.ClaimLease,
		attempts:  params.Config.MaxAttempts,
		backoff:   params.Config.Backoff,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       time.Now,
	}
	if svc.lease <= 0 {
		svc.lease = defaultClaimLease
	}
	if svc.attempts <= 0 {
		svc.attempts = defaultMaxAttempts
	}
	if svc.backoff <= 0 {
		svc.backoff = defaultBackoff
	}
	return svc, nil
}

// Handoff creates the storefront order for an approved store payment, or
// returns the one that already exists. A failed earlier attempt is reported
// as-is; only Replay retries it.
func (s *service) Handoff(ctx context.Context, transactionID uint64, storeKey string) (*Outcome, error) {
	return s.handoff(ctx, transactionID, storeKey, false)
}

// Replay retries a failed handoff. It is the operator's path for a paid order
// that never reached the storefront.
func (s *service) Replay(ctx context.Context, transactionID uint64, storeKey string) (*Outcome, error) {
	return s.handoff(ctx, transactionID, storeKey, true)
}

type claim struct {
	order   *models.FulfillmentOrder
	payment *models.StorePayment
	outcome *Outcome
}

func (s *service) handoff(ctx context.Context, transactionID uint64, storeKey string, replay bool) (*Outcome, error) {
	key := storekey.Normalize(storeKey)
	if transactionID == 0 || key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id and store key are required")
	}
	if s.logg != nil {
		ctx = s.logg.WithStoreKey(s.logg.WithTransactionID(ctx, transactionID), key)
	}

	txn, err := s.ledger.FindByID(ctx, transactionID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}

	c, err := s.claim(ctx, txn.ID, key, replay)
	if err != nil {
		return nil, err
	}
	if c.outcome != nil {
		return c.outcome, nil
	}

	result, runErr := s.run(ctx, txn, key, c.order)
	if runErr != nil {
		return s.recordFailure(ctx, txn.ID, key, c, result, runErr)
	}
	return s.recordSuccess(ctx, txn.ID, key, c, result)
}

// claim takes the (transaction, storefront) pair inside a DB transaction.
// The store payment row lock serializes concurrent deliveries on Postgres.
func (s *service) claim(ctx context.Context, transactionID uint64, key string, replay bool) (*claim, error) {
	var c claim
	now := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.LockStorePayment(ctx, transactionID, key)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no store payment for %s", key))
			}
			return err
		}
		if payment.Status != enums.StorePaymentStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("store payment for %s is %s, not approved", key, payment.Status))
		}
		c.payment = payment

		existing, err := repo.FindActive(ctx, transactionID, key)
		if err != nil && !dbpkg.IsNotFound(err) {
			return err
		}
		if existing != nil {
			switch existing.Status {
			case enums.FulfillmentStatusCreated:
				c.outcome = outcomeFor(existing)
				c.outcome.Existing = true
				return nil
			case enums.FulfillmentStatusPending:
				if now.Sub(existing.ClaimedAt) < s.lease {
					c.outcome = outcomeFor(existing)
					c.outcome.InProgress = true
					return nil
				}
			case enums.FulfillmentStatusFailed:
				if !replay {
					c.outcome = outcomeFor(existing)
					return nil
				}
			}
			ok, err := repo.Update(ctx, existing.ID, existing.Status, map[string]any{
				"status":        enums.FulfillmentStatusPending,
				"claimed_at":    now,
				"attempts":      existing.Attempts + 1,
				"error_message": nil,
			})
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "fulfillment claim changed concurrently")
			}
			existing.Status = enums.FulfillmentStatusPending
			existing.ClaimedAt = now
			existing.Attempts++
			existing.ErrorMessage = nil
			c.order = existing
			return nil
		}

		order := &models.FulfillmentOrder{
			TransactionID:  transactionID,
			StoreKey:       key,
			StorePaymentID: payment.ID,
			Status:         enums.FulfillmentStatusPending,
			Attempts:       1,
			ClaimedAt:      now,
		}
		if err := repo.Create(ctx, order); err != nil {
			return err
		}
		c.order = order
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim fulfillment")
	}
	if c.outcome != nil {
		c.outcome.TransactionID = transactionID
		c.outcome.StoreKey = key
	}
	return &c, nil
}

type runResult struct {
	customerID string
	orderID    string
	recovered  bool
}

// run talks to the storefront's order system. The reference doubles as the
// idempotency root so a crashed attempt cannot create a second order.
func (s *service) run(ctx context.Context, txn *models.Transaction, key string, order *models.FulfillmentOrder) (runResult, error) {
	var result runResult
	access, err := s.stores.AccessFor(ctx, key)
	if err != nil {
		return result, err
	}
	client, err := s.connector.ForStore(access.AccessToken)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open order system")
	}
	reference := storekey.Reference(txn.ID, key)
	address := square.NewAddress(
		txn.ShippingAddress.Line1,
		txn.ShippingAddress.Line2,
		txn.ShippingAddress.City,
		txn.ShippingAddress.Region,
		txn.ShippingAddress.PostalCode,
		txn.ShippingAddress.Country,
	)

	var customer *sq.Customer
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		customer, err = client.EnsureCustomer(ctx, square.CustomerCreateParams{
			Email:          txn.Buyer.Email,
			PhoneNumber:    txn.Buyer.Phone,
			GivenName:      txn.Buyer.FirstName,
			FamilyName:     txn.Buyer.LastName,
			ReferenceID:    reference,
			Address:        address,
			IdempotencyKey: reference + ":customer",
		})
		return err
	})
	if err != nil {
		return result, fmt.Errorf("ensure customer: %w", err)
	}
	result.customerID = deref(customer.ID)

	var found *sq.Order
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		found, err = client.FindOrderByReference(ctx, access.LocationID, result.customerID, reference)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("search existing orders: %w", err)
	}
	if found != nil && isCommitted(found) {
		result.orderID = deref(found.ID)
		result.recovered = true
		return result, nil
	}

	currency := strings.TrimSpace(access.Currency)
	if currency == "" {
		currency = txn.Currency
	}
	group, ok := groupFor(txn, key)
	if !ok {
		return result, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("transaction has no cart lines for %s", key))
	}
	params := square.DraftOrderParams{
		LocationID:     access.LocationID,
		CustomerID:     result.customerID,
		ReferenceID:    reference,
		Currency:       currency,
		IdempotencyKey: reference + ":order",
		Recipient: square.Recipient{
			DisplayName: strings.TrimSpace(txn.Buyer.FirstName + " " + txn.Buyer.LastName),
			Email:       txn.Buyer.Email,
			Phone:       txn.Buyer.Phone,
			Address:     address,
		},
	}
	for _, line := range group.Lines {
		params.Lines = append(params.Lines, square.OrderLine{
			VariantID:      line.VariantID,
			Name:           line.Title,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}
	var shippingCents int64
	if sel, ok := txn.ShippingSelection.For(key); ok {
		params.Shipping = &square.ShippingLine{Title: sel.Title, Code: sel.Code, PriceCents: sel.PriceCents}
		shippingCents = sel.PriceCents
	}

	draft := found
	if draft == nil {
		err = s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			draft, err = client.CreateDraftOrder(ctx, params)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("create draft order: %w", err)
		}
	}
	result.orderID = deref(draft.ID)

	amount := group.SubtotalCents + shippingCents
	if draft.TotalMoney != nil && draft.TotalMoney.Amount != nil {
		amount = *draft.TotalMoney.Amount
	}
	err = s.withRetry(ctx, func(ctx context.Context) error {
		_, err := client.CompleteOrderAsPaid(ctx, square.CompleteOrderParams{
			OrderID:        result.orderID,
			LocationID:     access.LocationID,
			CustomerID:     result.customerID,
			Version:        draft.Version,
			AmountCents:    amount,
			Currency:       currency,
			ReferenceID:    reference,
			IdempotencyKey: reference + ":order",
		})
		return err
	})
	if err != nil {
		return result, fmt.Errorf("complete order %s: %w", result.orderID, err)
	}
	return result, nil
}

func (s *service) recordSuccess(ctx context.Context, transactionID uint64, key string, c *claim, result runResult) (*Outcome, error) {
	now := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Update(ctx, c.order.ID, enums.FulfillmentStatusPending, map[string]any{
			"status":            enums.FulfillmentStatusCreated,
			"customer_id":       result.customerID,
			"external_order_id": result.orderID,
			"completed_at":      now,
			"error_message":     nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "fulfillment claim was taken over")
		}
		if err := repo.SetStoreOrderID(ctx, c.payment.ID, result.orderID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentCreated,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   c.order.ID.String(),
			Source:        &outbox.Source{Component: "fulfillment", StoreKey: key},
			Data: payloads.FulfillmentCreatedEvent{
				TransactionID:   transactionID,
				StoreKey:        key,
				ExternalOrderID: result.orderID,
				Recovered:       result.recovered,
			},
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record fulfillment")
	}
	s.metrics.Fulfillment("created")
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "external_order_id", result.orderID), "storefront order created")
	}
	return &Outcome{
		TransactionID:   transactionID,
		StoreKey:        key,
		Status:          enums.FulfillmentStatusCreated,
		ExternalOrderID: result.orderID,
		Attempts:        c.order.Attempts,
		Recovered:       result.recovered,
	}, nil
}

// recordFailure persists the failed record that operators replay from. The
// cause is returned to the caller after the record is durable.
func (s *service) recordFailure(ctx context.Context, transactionID uint64, key string, c *claim, result runResult, cause error) (*Outcome, error) {
	message := pkgerrors.Summary(cause, 1024)
	updates := map[string]any{
		"status":        enums.FulfillmentStatusFailed,
		"error_message": message,
	}
	if result.customerID != "" {
		updates["customer_id"] = result.customerID
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Update(ctx, c.order.ID, enums.FulfillmentStatusPending, updates)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "fulfillment claim was taken over")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFulfillmentFailed,
			AggregateType: enums.AggregateFulfillment,
			AggregateID:   c.order.ID.String(),
			Source:        &outbox.Source{Component: "fulfillment", StoreKey: key},
			Data: payloads.FulfillmentFailedEvent{
				TransactionID: transactionID,
				StoreKey:      key,
				Attempts:      c.order.Attempts,
				Error:         message,
			},
		})
	})
	s.metrics.Fulfillment("failed")
	if s.logg != nil {
		s.logg.Error(ctx, "storefront order handoff failed", cause)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, errors.Join(cause, err), "record fulfillment failure")
	}
	outcome := &Outcome{
		TransactionID: transactionID,
		StoreKey:      key,
		Status:        enums.FulfillmentStatusFailed,
		Attempts:      c.order.Attempts,
		Error:         message,
	}
	return outcome, pkgerrors.Wrap(pkgerrors.CodeOf(cause, pkgerrors.CodeDependency), cause, "fulfillment handoff failed")
}

func (s *service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewExponential(s.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func groupFor(txn *models.Transaction, key string) (checkout.StoreGroup, bool) {
	for _, group := range checkout.GroupByStore(txn.CartSnapshot) {
		if group.StoreKey == key {
			return group, true
		}
	}
	return checkout.StoreGroup{}, false
}

// isCommitted reports whether an order found by reference is past the draft
// stage. A leftover draft is reused and completed instead.
func isCommitted(order *sq.Order) bool {
	if order.State == nil {
		return false
	}
	return *order.State == sq.OrderStateOpen || *order.State == sq.OrderStateCompleted
}

func outcomeFor(order *models.FulfillmentOrder) *Outcome {
	out := &Outcome{
		Status:   order.Status,
		Attempts: order.Attempts,
	}
	if order.ExternalOrderID != nil {
		out.ExternalOrderID = *order.ExternalOrderID
	}
	if order.ErrorMessage != nil {
		out.Error = *order.ErrorMessage
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
