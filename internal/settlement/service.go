package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/internal/fulfillment"
	"github.com/imc400/tuka-backend/internal/ledger"
	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/outbox"
	"github.com/imc400/tuka-backend/pkg/outbox/payloads"
	"github.com/imc400/tuka-backend/pkg/storekey"
	"github.com/imc400/tuka-backend/pkg/stripe"
)

// Outcome classifies what an inbound event did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnknown   Outcome = "unknown"
)

type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*stripe.PaymentDetail, error)
}

type settlementLedger interface {
	Recompute(ctx context.Context, tx *gorm.DB, id uint64) (*ledger.Recomputation, error)
}

type fulfiller interface {
	Handoff(ctx context.Context, transactionID uint64, storeKey string) (*fulfillment.Outcome, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Result reports the effect of one webhook event.
type Result struct {
	Outcome           Outcome
	TransactionID     uint64
	StoreKey          string
	PreviousStatus    enums.StorePaymentStatus
	Status            enums.StorePaymentStatus
	TransactionStatus enums.TransactionStatus
	Fulfillment       *fulfillment.Outcome
}

// Service applies processor notifications to the ledger.
type Service interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (*Result, error)
}

// ServiceParams wires the settlement processor.
type ServiceParams struct {
	DB          txRunner
	Repository  ledger.Repository
	Ledger      settlementLedger
	Payments    paymentFetcher
	Fulfillment fulfiller
	Outbox      eventEmitter
	Logger      *logger.Logger
	Metrics     *metrics.SettlementMetrics
	MaxAttempts int
	Backoff     time.Duration
}

type service struct {
	db          txRunner
	repo        ledger.Repository
	ledger      settlementLedger
	payments    paymentFetcher
	fulfillment fulfiller
	outbox      eventEmitter
	logg        *logger.Logger
	metrics     *metrics.SettlementMetrics
	attempts    int
	backoff     time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Repository == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	case params.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment fetcher required")
	case params.Fulfillment == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	svc := &service{
		db:          params.DB,
		repo:        params.Repository,
		ledger:      params.Ledger,
		payments:    params.Payments,
		fulfillment: params.Fulfillment,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		attempts:    params.MaxAttempts,
		backoff:     params.Backoff,
		now:         time.Now,
	}
	if svc.attempts <= 0 {
		svc.attempts = 3
	}
	if svc.backoff <= 0 {
		svc.backoff = 200 * time.Millisecond
	}
	return svc, nil
}

// HandleEvent re-fetches the payment named by the event, moves the matching
// store payment through its state machine and, once approved, hands that
// storefront's order off. Events that cannot be associated with a store
// payment are acknowledged without mutation.
func (s *service) HandleEvent(ctx context.Context, event *stripe.Event) (*Result, error) {
	if event == nil || event.PaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event required")
	}
	ctx = s.withFields(ctx, map[string]any{"event_id": event.ID, "event_type": event.Type, "payment_id": event.PaymentID})

	detail, err := s.fetch(ctx, event.PaymentID)
	if err != nil {
		s.metrics.WebhookEvent("fetch_failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment detail")
	}

	transactionID, key, err := storekey.ParseReference(detail.Reference)
	if err != nil {
		s.warn(ctx, "payment reference not recognised")
		return s.finish(&Result{Outcome: OutcomeUnknown}), nil
	}
	ctx = s.withFields(ctx, map[string]any{"transaction_id": transactionID, "store_key": key})
	result := &Result{TransactionID: transactionID, StoreKey: key, Status: detail.Status}

	if !detail.Status.IsValid() || detail.Status == enums.StorePaymentStatusPending {
		result.Outcome = OutcomeIgnored
		return s.finish(result), nil
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.apply(ctx, tx, detail, result)
	})
	if err != nil {
		if errors.Is(err, errUnknownPayment) {
			s.warn(ctx, "payment event for unknown store payment")
			result.Outcome = OutcomeUnknown
			return s.finish(result), nil
		}
		s.metrics.WebhookEvent("error")
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply payment event")
	}

	if result.Status == enums.StorePaymentStatusApproved &&
		(result.Outcome == OutcomeApplied || result.Outcome == OutcomeDuplicate) {
		s.handoff(ctx, result)
	}
	return s.finish(result), nil
}

var errUnknownPayment = errors.New("unknown store payment")

// apply runs the store payment transition and the transaction recount in one
// DB transaction so two storefronts settling together cannot lose a count.
func (s *service) apply(ctx context.Context, tx *gorm.DB, detail *stripe.PaymentDetail, result *Result) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindStorePayment(ctx, result.TransactionID, result.StoreKey)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return errUnknownPayment
		}
		return err
	}
	result.PreviousStatus = payment.Status

	switch {
	case payment.Status == detail.Status:
		result.Outcome = OutcomeDuplicate
		return nil
	case payment.Status.IsTerminal():
		result.Outcome = OutcomeIgnored
		result.Status = payment.Status
		return nil
	case !payment.Status.CanTransitionTo(detail.Status):
		result.Outcome = OutcomeStale
		result.Status = payment.Status
		return nil
	}

	if detail.Status == enums.StorePaymentStatusApproved && detail.AmountCents > 0 && detail.AmountCents != payment.GrossCents {
		s.warn(s.withFields(ctx, map[string]any{
			"expected_cents": payment.GrossCents,
			"paid_cents":     detail.AmountCents,
		}), "settled amount differs from store payment gross")
	}

	updates := map[string]any{"status": detail.Status}
	if detail.PaymentID != "" {
		updates["processor_payment_id"] = detail.PaymentID
	}
	if payment.IntentID == nil && detail.IntentID != "" {
		updates["intent_id"] = detail.IntentID
	}
	if detail.Status.IsTerminal() {
		updates["resolved_at"] = s.now().UTC()
	}
	ok, err := repo.UpdateStorePayment(ctx, payment.ID, payment.Status, updates)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "store payment changed concurrently")
	}
	result.Outcome = OutcomeApplied

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStorePaymentStatusChanged,
		AggregateType: enums.AggregateStorePayment,
		AggregateID:   payment.ID.String(),
		Source:        &outbox.Source{Component: "settlement", StoreKey: result.StoreKey},
		Data: payloads.StorePaymentStatusChangedEvent{
			TransactionID:      result.TransactionID,
			StoreKey:           result.StoreKey,
			StorePaymentID:     payment.ID.String(),
			PreviousStatus:     payment.Status,
			Status:             detail.Status,
			ProcessorPaymentID: detail.PaymentID,
			GrossCents:         payment.GrossCents,
			NetCents:           payment.NetCents,
		},
	}); err != nil {
		return err
	}

	if !detail.Status.IsTerminal() {
		return nil
	}
	recount, err := s.ledger.Recompute(ctx, tx, result.TransactionID)
	if err != nil {
		return err
	}
	result.TransactionStatus = recount.Transaction.Status
	return nil
}

// handoff is per storefront and never gated on siblings. A failure is already
// persisted as a replayable record, so it is logged rather than returned.
func (s *service) handoff(ctx context.Context, result *Result) {
	out, err := s.fulfillment.Handoff(ctx, result.TransactionID, result.StoreKey)
	result.Fulfillment = out
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "fulfillment handoff failed", err)
	}
}

func (s *service) fetch(ctx context.Context, paymentID string) (*stripe.PaymentDetail, error) {
	var detail *stripe.PaymentDetail
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		detail, err = s.payments.GetPayment(ctx, paymentID)
		if err != nil && stripe.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	return detail, nil
}

func (s *service) finish(result *Result) *Result {
	s.metrics.WebhookEvent(string(result.Outcome))
	return result
}

func (s *service) withFields(ctx context.Context, fields map[string]any) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithFields(ctx, fields)
}

func (s *service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
