package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/pkg/checkout"
	dbpkg "github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/outbox"
	"github.com/imc400/tuka-backend/pkg/outbox/payloads"
	"github.com/imc400/tuka-backend/pkg/storekey"
	"github.com/imc400/tuka-backend/pkg/types"
)

const defaultCurrency = "usd"

// Service defines the operations on the transaction ledger.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Transaction, error)
	Get(ctx context.Context, id uint64) (*models.Transaction, error)
	MarkStatus(ctx context.Context, id uint64, status enums.TransactionStatus) (*models.Transaction, error)
	Recompute(ctx context.Context, tx *gorm.DB, id uint64) (*Recomputation, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CreateInput is everything captured at checkout time. Lines and selections
// are copied verbatim into the snapshot.
type CreateInput struct {
	Buyer      types.Buyer
	Address    types.ShippingAddress
	Lines      types.CartLines
	Selections types.ShippingSelections
	Currency   string
	QuoteID    string
	// ExpectedTotalCents, when set, must match the computed total.
	ExpectedTotalCents int64
}

// Recomputation is the outcome of settling a transaction's counters.
type Recomputation struct {
	Transaction    *models.Transaction
	PreviousStatus enums.TransactionStatus
	StatusChanged  bool
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	DB              txRunner
	Repository      Repository
	Outbox          eventEmitter
	Logger          *logger.Logger
	DefaultCurrency string
}

type service struct {
	db       txRunner
	repo     Repository
	outbox   eventEmitter
	logg     *logger.Logger
	currency string
	now      func() time.Time
}

// NewService wires a ledger service with the provided collaborators.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &service{
		db:       params.DB,
		repo:     params.Repository,
		outbox:   params.Outbox,
		logg:     params.Logger,
		currency: currency,
		now:      time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Transaction, error) {
	if err := checkout.ValidateLines(input.Lines); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Buyer.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer email is required")
	}
	if strings.TrimSpace(input.Address.Line1) == "" || strings.TrimSpace(input.Address.Country) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete")
	}

	lines := checkout.NormalizeLines(input.Lines)
	groups := checkout.GroupByStore(lines)
	selections, err := normalizeSelections(input.Selections, groups)
	if err != nil {
		return nil, err
	}

	subtotal := lines.SubtotalCents()
	var shipping int64
	for _, sel := range selections {
		shipping += sel.PriceCents
	}
	total := subtotal + shipping
	if input.ExpectedTotalCents > 0 && input.ExpectedTotalCents != total {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart total does not match").WithDetails(map[string]any{
			"expected_total_cents": input.ExpectedTotalCents,
			"computed_total_cents": total,
		})
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}

	buyer := input.Buyer
	buyer.Email = strings.ToLower(strings.TrimSpace(buyer.Email))
	address := input.Address
	address.Country = strings.ToUpper(strings.TrimSpace(address.Country))

	txn := &models.Transaction{
		Buyer:             buyer,
		ShippingAddress:   address,
		CartSnapshot:      lines,
		ShippingSelection: selections,
		Currency:          currency,
		SubtotalCents:     subtotal,
		ShippingCents:     shipping,
		TotalCents:        total,
		PaymentMode:       enums.PaymentModeFor(len(groups)),
		Status:            enums.TransactionStatusPending,
		TotalPayments:     len(groups),
	}
	if quoteID := strings.TrimSpace(input.QuoteID); quoteID != "" {
		txn.QuoteID = &quoteID
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionCreated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   strconv.FormatUint(txn.ID, 10),
			Source:        &outbox.Source{Component: "ledger"},
			Data: payloads.TransactionCreatedEvent{
				TransactionID: txn.ID,
				BuyerEmail:    buyer.Email,
				StoreKeys:     checkout.StoreKeys(groups),
				TotalCents:    total,
				Currency:      currency,
				PaymentMode:   txn.PaymentMode,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create transaction")
	}

	if s.logg != nil {
		logCtx := s.logg.WithTransactionID(ctx, txn.ID)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"store_count": txn.TotalPayments,
			"total_cents": txn.TotalCents,
		})
		s.logg.Info(logCtx, "transaction created")
	}
	return txn, nil
}

func normalizeSelections(input types.ShippingSelections, groups []checkout.StoreGroup) (types.ShippingSelections, error) {
	inCart := make(map[string]bool, len(groups))
	for _, g := range groups {
		inCart[g.StoreKey] = true
	}
	seen := make(map[string]bool, len(input))
	out := make(types.ShippingSelections, 0, len(input))
	for _, sel := range input {
		key := storekey.Normalize(sel.StoreKey)
		if !inCart[key] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping selected for store %q which has no cart lines", sel.StoreKey))
		}
		if seen[key] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate shipping selection for store %q", key))
		}
		if sel.PriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping price must not be negative")
		}
		seen[key] = true
		sel.StoreKey = key
		out = append(out, sel)
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id uint64) (*models.Transaction, error) {
	if id == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

// MarkStatus moves a transaction forward. The target must agree with the
// settled counters: approved iff every store payment completed and none failed.
func (s *service) MarkStatus(ctx context.Context, id uint64, status enums.TransactionStatus) (*models.Transaction, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", status))
	}
	var updated *models.Transaction
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.LockByID(ctx, id)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return err
		}
		if txn.Status == status {
			updated = txn
			return nil
		}
		if !txn.Status.CanTransitionTo(status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move transaction from %s to %s", txn.Status, status))
		}
		fullyApproved := txn.CompletedPayments == txn.TotalPayments && txn.FailedPayments == 0
		if (status == enums.TransactionStatusApproved) != fullyApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("status %s disagrees with settled payments", status)).WithDetails(map[string]any{
				"total_payments":     txn.TotalPayments,
				"completed_payments": txn.CompletedPayments,
				"failed_payments":    txn.FailedPayments,
			})
		}
		previous := txn.Status
		if err := s.applyStatus(ctx, repo, tx, txn, status); err != nil {
			return err
		}
		updated = txn
		return s.emitStatusChanged(ctx, tx, txn, previous)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark transaction status")
	}
	return updated, nil
}

// Recompute recounts settled store payments and derives the status in one
// locked read-modify-write. It must run inside the caller's transaction so
// that concurrent settlements of sibling storefronts serialize on the row.
func (s *service) Recompute(ctx context.Context, tx *gorm.DB, id uint64) (*Recomputation, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	txn, err := repo.LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	completed, failed, err := repo.CountSettled(ctx, id)
	if err != nil {
		return nil, err
	}
	if completed+failed > txn.TotalPayments {
		return nil, fmt.Errorf("transaction %d has %d settled payments but expects %d", id, completed+failed, txn.TotalPayments)
	}

	result := &Recomputation{Transaction: txn, PreviousStatus: txn.Status}
	next := DeriveStatus(txn.TotalPayments, completed, failed)
	if !txn.Status.CanTransitionTo(next) {
		next = txn.Status
	}
	if completed == txn.CompletedPayments && failed == txn.FailedPayments && next == txn.Status {
		return result, nil
	}

	updates := map[string]any{
		"completed_payments": completed,
		"failed_payments":    failed,
		"status":             next,
	}
	var finalizedAt *time.Time
	if next.IsFinal() && txn.FinalizedAt == nil {
		at := s.now().UTC()
		finalizedAt = &at
		updates["finalized_at"] = at
	}
	ok, err := repo.UpdateStatus(ctx, id, txn.Status, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction changed concurrently")
	}
	txn.CompletedPayments = completed
	txn.FailedPayments = failed
	txn.Status = next
	if finalizedAt != nil {
		txn.FinalizedAt = finalizedAt
	}

	if next != result.PreviousStatus {
		result.StatusChanged = true
		if err := s.emitStatusChanged(ctx, tx, txn, result.PreviousStatus); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *service) applyStatus(ctx context.Context, repo Repository, tx *gorm.DB, txn *models.Transaction, status enums.TransactionStatus) error {
	updates := map[string]any{"status": status}
	if status.IsFinal() && txn.FinalizedAt == nil {
		at := s.now().UTC()
		updates["finalized_at"] = at
		txn.FinalizedAt = &at
	}
	ok, err := repo.UpdateStatus(ctx, txn.ID, txn.Status, updates)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "transaction changed concurrently")
	}
	txn.Status = status
	return nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, txn *models.Transaction, previous enums.TransactionStatus) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTransactionStatusChanged,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   strconv.FormatUint(txn.ID, 10),
		Source:        &outbox.Source{Component: "ledger"},
		Data: payloads.TransactionStatusChangedEvent{
			TransactionID:     txn.ID,
			PreviousStatus:    previous,
			Status:            txn.Status,
			TotalPayments:     txn.TotalPayments,
			CompletedPayments: txn.CompletedPayments,
			FailedPayments:    txn.FailedPayments,
			FinalizedAt:       txn.FinalizedAt,
		},
	})
}

// DeriveStatus maps settled counters to a transaction status. A transaction
// is approved only when every store payment completed and none failed; once
// every payment is terminal with at least one failure it is rejected.
func DeriveStatus(total, completed, failed int) enums.TransactionStatus {
	switch {
	case total > 0 && completed == total && failed == 0:
		return enums.TransactionStatusApproved
	case total > 0 && completed+failed >= total:
		return enums.TransactionStatusRejected
	case completed+failed > 0:
		return enums.TransactionStatusPartial
	default:
		return enums.TransactionStatusPending
	}
}
