package splitter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/imc400/tuka-backend/internal/credentials"
	"github.com/imc400/tuka-backend/internal/ledger"
	"github.com/imc400/tuka-backend/pkg/checkout"
	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/storekey"
	"github.com/imc400/tuka-backend/pkg/stripe"
	"github.com/imc400/tuka-backend/pkg/types"
)

const (
	defaultConcurrency = 4
	defaultMaxAttempts = 3
	defaultBackoff     = 250 * time.Millisecond
)

type transactionReader interface {
	Get(ctx context.Context, id uint64) (*models.Transaction, error)
}

type grantSource interface {
	GetValidToken(ctx context.Context, storeKey string) (*credentials.Grant, error)
}

type intentCreator interface {
	CreateChargeIntent(ctx context.Context, req stripe.ChargeIntentRequest) (*stripe.ChargeIntent, error)
}

// Intent is one storefront's payable charge intent.
type Intent struct {
	StoreKey    string                   `json:"store_key"`
	IntentID    string                   `json:"intent_id"`
	CheckoutURL string                   `json:"checkout_url,omitempty"`
	GrossCents  int64                    `json:"gross_cents"`
	FeeCents    int64                    `json:"fee_cents"`
	NetCents    int64                    `json:"net_cents"`
	Status      enums.StorePaymentStatus `json:"status"`
	// Reused is set when the intent was created by an earlier split.
	Reused bool `json:"reused"`
}

// Result lists every storefront outcome of one split.
type Result struct {
	TransactionID uint64             `json:"transaction_id"`
	Intents       []Intent           `json:"intents"`
	Errors        []types.StoreError `json:"errors"`
}

// Err folds the per-store errors into one error, or nil when every store succeeded.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	var combined error
	for _, storeErr := range r.Errors {
		combined = multierr.Append(combined, fmt.Errorf("%s: %s: %s", storeErr.StoreKey, storeErr.Code, storeErr.Message))
	}
	return combined
}

// Service requests one charge intent per storefront of a transaction.
type Service interface {
	Split(ctx context.Context, transactionID uint64) (*Result, error)
}

// ServiceParams wires the splitter.
type ServiceParams struct {
	Ledger      transactionReader
	Repository  ledger.Repository
	Credentials grantSource
	Processor   intentCreator
	Logger      *logger.Logger
	Metrics     *metrics.SettlementMetrics
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
}

type service struct {
	ledger      transactionReader
	repo        ledger.Repository
	credentials grantSource
	processor   intentCreator
	logg        *logger.Logger
	metrics     *metrics.SettlementMetrics
	concurrency int
	maxAttempts int
	backoff     time.Duration
}

// NewService validates dependencies and returns a payment splitter.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential source required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	svc := &service{
		ledger:      params.Ledger,
		repo:        params.Repository,
		credentials: params.Credentials,
		processor:   params.Processor,
		logg:        params.Logger,
		metrics:     params.Metrics,
		concurrency: params.Concurrency,
		maxAttempts: params.MaxAttempts,
		backoff:     params.Backoff,
	}
	if svc.concurrency <= 0 {
		svc.concurrency = defaultConcurrency
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.backoff <= 0 {
		svc.backoff = defaultBackoff
	}
	return svc, nil
}

type storeOutcome struct {
	intent *Intent
	err    *types.StoreError
}

// Split is safe to call repeatedly: storefronts that already hold a live
// intent are returned as-is and only pending storefronts without one are
// requested again. Transaction-fatal problems abort before any external call.
func (s *service) Split(ctx context.Context, transactionID uint64) (*Result, error) {
	txn, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsFinal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transaction %d is already %s", txn.ID, txn.Status))
	}
	if err := checkout.ValidateLines(txn.CartSnapshot); err != nil {
		return nil, err
	}
	groups := checkout.GroupByStore(txn.CartSnapshot)
	if len(groups) != txn.TotalPayments {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("transaction %d expects %d store payments but cart has %d stores", txn.ID, txn.TotalPayments, len(groups)))
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithTransactionID(ctx, txn.ID)
	}

	outcomes := make([]storeOutcome, len(groups))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, group := range groups {
		g.Go(func() error {
			outcomes[i] = s.splitStore(logCtx, txn, group)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{TransactionID: txn.ID, Intents: []Intent{}, Errors: []types.StoreError{}}
	for _, outcome := range outcomes {
		if outcome.intent != nil {
			result.Intents = append(result.Intents, *outcome.intent)
		}
		if outcome.err != nil {
			result.Errors = append(result.Errors, *outcome.err)
		}
	}
	if s.logg != nil {
		fields := map[string]any{"intents": len(result.Intents), "store_errors": len(result.Errors)}
		if combined := result.Err(); combined != nil {
			s.logg.Warn(s.logg.WithFields(s.logg.WithField(logCtx, "error", combined.Error()), fields), "split completed with store errors")
		} else {
			s.logg.Info(s.logg.WithFields(logCtx, fields), "split completed")
		}
	}
	return result, nil
}

func (s *service) splitStore(ctx context.Context, txn *models.Transaction, group checkout.StoreGroup) storeOutcome {
	if s.logg != nil {
		ctx = s.logg.WithStoreKey(ctx, group.StoreKey)
	}

	existing, err := s.repo.FindStorePayment(ctx, txn.ID, group.StoreKey)
	if err != nil && !dbpkg.IsNotFound(err) {
		return s.fail(ctx, group.StoreKey, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store payment"))
	}
	if existing != nil {
		if outcome, done := s.existingOutcome(existing); done {
			return outcome
		}
	}

	amounts, err := s.price(ctx, txn, group)
	if err != nil {
		s.recordFailure(ctx, txn, group.StoreKey, existing, amounts, err)
		return s.fail(ctx, group.StoreKey, err)
	}

	payment, err := s.claim(ctx, txn, group.StoreKey, existing, amounts)
	if err != nil {
		return s.fail(ctx, group.StoreKey, err)
	}

	reference := storekey.Reference(txn.ID, group.StoreKey)
	req := stripe.ChargeIntentRequest{
		TransactionID:  txn.ID,
		StoreKey:       group.StoreKey,
		Reference:      reference,
		IdempotencyKey: fmt.Sprintf("%s:attempt-%d", reference, payment.Attempt),
		PayerEmail:     txn.Buyer.Email,
		CollectorID:    amounts.collectorID,
		FeeCents:       amounts.fee,
	}
	for _, line := range group.Lines {
		name := line.Title
		if v := strings.TrimSpace(line.VariantTitle); v != "" {
			name = fmt.Sprintf("%s (%s)", line.Title, v)
		}
		req.Lines = append(req.Lines, stripe.ChargeLine{Name: name, UnitPriceCents: line.UnitPriceCents, Quantity: int64(line.Quantity)})
	}
	if sel, ok := txn.ShippingSelection.For(group.StoreKey); ok {
		req.ShippingTitle = sel.Title
		req.ShippingCents = sel.PriceCents
	}

	intent, err := s.createIntent(ctx, req)
	if err != nil {
		if _, recErr := s.repo.UpdateStorePayment(ctx, payment.ID, enums.StorePaymentStatusPending, map[string]any{"last_error": pkgerrors.Summary(err, 1024)}); recErr != nil && s.logg != nil {
			s.logg.Error(ctx, "record intent failure", recErr)
		}
		s.metrics.ChargeIntent("failed")
		return s.fail(ctx, group.StoreKey, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create charge intent"))
	}

	ok, err := s.repo.UpdateStorePayment(ctx, payment.ID, enums.StorePaymentStatusPending, map[string]any{
		"intent_id":    intent.ID,
		"checkout_url": intent.CheckoutURL,
		"last_error":   nil,
	})
	if err != nil {
		return s.fail(ctx, group.StoreKey, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record charge intent"))
	}
	if !ok && s.logg != nil {
		// A webhook already moved the payment forward; the intent is still the buyer's.
		s.logg.Warn(s.logg.WithField(ctx, "intent_id", intent.ID), "store payment advanced before intent was recorded")
	}
	s.metrics.ChargeIntent("created")
	return storeOutcome{intent: &Intent{
		StoreKey:    group.StoreKey,
		IntentID:    intent.ID,
		CheckoutURL: intent.CheckoutURL,
		GrossCents:  amounts.gross,
		FeeCents:    amounts.fee,
		NetCents:    amounts.gross - amounts.fee,
		Status:      enums.StorePaymentStatusPending,
	}}
}

// existingOutcome decides whether a stored payment settles the store without
// calling the processor again.
func (s *service) existingOutcome(payment *models.StorePayment) (storeOutcome, bool) {
	switch {
	case payment.HasLiveIntent():
		s.metrics.ChargeIntent("reused")
		intent := &Intent{
			StoreKey:   payment.StoreKey,
			IntentID:   *payment.IntentID,
			GrossCents: payment.GrossCents,
			FeeCents:   payment.FeeCents,
			NetCents:   payment.NetCents,
			Status:     payment.Status,
			Reused:     true,
		}
		if payment.CheckoutURL != nil {
			intent.CheckoutURL = *payment.CheckoutURL
		}
		return storeOutcome{intent: intent}, true
	case payment.Status.IsFailure():
		return storeOutcome{err: &types.StoreError{
			StoreKey: payment.StoreKey,
			Code:     string(pkgerrors.CodeStateConflict),
			Message:  fmt.Sprintf("payment for %s ended as %s", payment.StoreKey, payment.Status),
		}}, true
	case payment.Status != enums.StorePaymentStatusPending:
		return storeOutcome{err: &types.StoreError{
			StoreKey: payment.StoreKey,
			Code:     string(pkgerrors.CodeStateConflict),
			Message:  fmt.Sprintf("payment for %s is %s without an intent", payment.StoreKey, payment.Status),
		}}, true
	default:
		return storeOutcome{}, false
	}
}

type storeAmounts struct {
	gross       int64
	shipping    int64
	fee         int64
	collectorID string
}

// price computes gross = goods + selected shipping and the platform fee. A
// storefront without a credential gets no fee: the platform collects it all.
func (s *service) price(ctx context.Context, txn *models.Transaction, group checkout.StoreGroup) (storeAmounts, error) {
	amounts := storeAmounts{gross: group.SubtotalCents}
	if sel, ok := txn.ShippingSelection.For(group.StoreKey); ok {
		amounts.shipping = sel.PriceCents
		amounts.gross += sel.PriceCents
	}

	grant, err := s.credentials.GetValidToken(ctx, group.StoreKey)
	switch {
	case errors.Is(err, credentials.ErrNoCredential):
		return amounts, nil
	case err != nil:
		if typed := pkgerrors.As(err); typed != nil {
			return amounts, typed
		}
		return amounts, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store credential")
	}
	amounts.collectorID = grant.CollectorID
	amounts.fee = Fee(amounts.gross, grant.CommissionRate)
	return amounts, nil
}

// Fee is gross × rate rounded half away from zero to a whole cent.
func Fee(grossCents int64, rate decimal.Decimal) int64 {
	if grossCents <= 0 || !rate.IsPositive() {
		return 0
	}
	fee := decimal.NewFromInt(grossCents).Mul(rate).Round(0).IntPart()
	if fee > grossCents {
		return grossCents
	}
	return fee
}

// claim persists the pending row before any processor call and reserves the
// next attempt number for this caller.
func (s *service) claim(ctx context.Context, txn *models.Transaction, key string, existing *models.StorePayment, amounts storeAmounts) (*models.StorePayment, error) {
	var collector *string
	if amounts.collectorID != "" {
		c := amounts.collectorID
		collector = &c
	}
	if existing == nil {
		payment := &models.StorePayment{
			TransactionID: txn.ID,
			StoreKey:      key,
			GrossCents:    amounts.gross,
			FeeCents:      amounts.fee,
			NetCents:      amounts.gross - amounts.fee,
			ShippingCents: amounts.shipping,
			CollectorID:   collector,
			Attempt:       1,
			Status:        enums.StorePaymentStatusPending,
		}
		if err := s.repo.CreateStorePayment(ctx, payment); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("charge intent for %s is already being created", key))
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist store payment")
		}
		return payment, nil
	}

	ok, err := s.repo.ClaimAttempt(ctx, existing.ID, existing.Attempt, map[string]any{
		"gross_cents":    amounts.gross,
		"fee_cents":      amounts.fee,
		"net_cents":      amounts.gross - amounts.fee,
		"shipping_cents": amounts.shipping,
		"collector_id":   collector,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim store payment")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("charge intent for %s is already being created", key))
	}
	existing.Attempt++
	existing.GrossCents = amounts.gross
	existing.FeeCents = amounts.fee
	existing.NetCents = amounts.gross - amounts.fee
	existing.ShippingCents = amounts.shipping
	existing.CollectorID = collector
	return existing, nil
}

// recordFailure notes a failure that happened before any processor call. A
// row is created when none exists so operators see every storefront.
func (s *service) recordFailure(ctx context.Context, txn *models.Transaction, key string, existing *models.StorePayment, amounts storeAmounts, cause error) {
	message := pkgerrors.Summary(cause, 1024)
	var err error
	if existing == nil {
		err = s.repo.CreateStorePayment(ctx, &models.StorePayment{
			TransactionID: txn.ID,
			StoreKey:      key,
			GrossCents:    amounts.gross,
			NetCents:      amounts.gross,
			ShippingCents: amounts.shipping,
			Status:        enums.StorePaymentStatusPending,
			LastError:     &message,
		})
		if dbpkg.IsUniqueViolation(err, "") {
			err = nil
		}
	} else {
		_, err = s.repo.UpdateStorePayment(ctx, existing.ID, enums.StorePaymentStatusPending, map[string]any{"last_error": message})
	}
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "record store payment failure", err)
	}
}

func (s *service) createIntent(ctx context.Context, req stripe.ChargeIntentRequest) (*stripe.ChargeIntent, error) {
	var intent *stripe.ChargeIntent
	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		created, err := s.processor.CreateChargeIntent(ctx, req)
		if err != nil {
			if stripe.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		intent = created
		return nil
	})
	return intent, err
}

func (s *service) fail(ctx context.Context, key string, err error) storeOutcome {
	code := pkgerrors.CodeInternal
	message := err.Error()
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	if s.logg != nil {
		s.logg.Error(ctx, "store split failed", err)
	}
	return storeOutcome{err: &types.StoreError{StoreKey: key, Code: string(code), Message: message}}
}
