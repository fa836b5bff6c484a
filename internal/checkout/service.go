package checkout

import (
	"context"
	"fmt"

	"github.com/imc400/tuka-backend/internal/ledger"
	"github.com/imc400/tuka-backend/internal/rates"
	"github.com/imc400/tuka-backend/internal/splitter"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/types"
)

type selectionResolver interface {
	Resolve(ctx context.Context, quoteID string, lines types.CartLines, picks []rates.Pick) (types.ShippingSelections, error)
}

type transactionStore interface {
	Create(ctx context.Context, input ledger.CreateInput) (*models.Transaction, error)
	Get(ctx context.Context, id uint64) (*models.Transaction, error)
}

type paymentSplitter interface {
	Split(ctx context.Context, transactionID uint64) (*splitter.Result, error)
}

// Service turns a priced cart into a transaction with one payment per storefront.
type Service interface {
	Start(ctx context.Context, input StartInput) (*Result, error)
	Retry(ctx context.Context, transactionID uint64) (*Result, error)
}

// StartInput is what the buyer submits at checkout.
type StartInput struct {
	Buyer              types.Buyer
	Address            types.ShippingAddress
	Lines              types.CartLines
	QuoteID            string
	Picks              []rates.Pick
	Currency           string
	ExpectedTotalCents int64
}

// Result is the buyer-facing view of a checkout attempt.
type Result struct {
	TransactionID uint64                  `json:"transaction_id"`
	Status        enums.TransactionStatus `json:"status"`
	Currency      string                  `json:"currency"`
	SubtotalCents int64                   `json:"subtotal_cents"`
	ShippingCents int64                   `json:"shipping_cents"`
	TotalCents    int64                   `json:"total_cents"`
	Payments      []splitter.Intent       `json:"payments"`
	Errors        []types.StoreError      `json:"errors"`
}

type service struct {
	rates    selectionResolver
	ledger   transactionStore
	splitter paymentSplitter
	logg     *logger.Logger
}

// NewService builds the checkout orchestrator.
func NewService(resolver selectionResolver, store transactionStore, split paymentSplitter, logg *logger.Logger) (Service, error) {
	if resolver == nil {
		return nil, fmt.Errorf("rate resolver required")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if split == nil {
		return nil, fmt.Errorf("payment splitter required")
	}
	return &service{rates: resolver, ledger: store, splitter: split, logg: logg}, nil
}

// Start verifies the shipping picks against the cached quote, records the
// transaction and requests the per-storefront charge intents. Storefronts
// whose intent failed are reported in Errors and can be retried.
func (s *service) Start(ctx context.Context, input StartInput) (*Result, error) {
	selections, err := s.rates.Resolve(ctx, input.QuoteID, input.Lines, input.Picks)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.Create(ctx, ledger.CreateInput{
		Buyer:              input.Buyer,
		Address:            input.Address,
		Lines:              input.Lines,
		Selections:         selections,
		Currency:           input.Currency,
		QuoteID:            input.QuoteID,
		ExpectedTotalCents: input.ExpectedTotalCents,
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithTransactionID(ctx, txn.ID)
		s.logg.Info(ctx, "checkout transaction created")
	}
	return s.split(ctx, txn)
}

// Retry re-runs the split; storefronts that already hold a live intent get it back unchanged.
func (s *service) Retry(ctx context.Context, transactionID uint64) (*Result, error) {
	txn, err := s.ledger.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsFinal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transaction is %s", txn.Status))
	}
	if s.logg != nil {
		ctx = s.logg.WithTransactionID(ctx, txn.ID)
	}
	return s.split(ctx, txn)
}

func (s *service) split(ctx context.Context, txn *models.Transaction) (*Result, error) {
	result, err := s.splitter.Split(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	if failed := result.Err(); failed != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "store_errors", failed.Error()), "checkout split incomplete")
	}
	out := &Result{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Currency:      txn.Currency,
		SubtotalCents: txn.SubtotalCents,
		ShippingCents: txn.ShippingCents,
		TotalCents:    txn.TotalCents,
		Payments:      result.Intents,
		Errors:        result.Errors,
	}
	if out.Payments == nil {
		out.Payments = []splitter.Intent{}
	}
	if out.Errors == nil {
		out.Errors = []types.StoreError{}
	}
	return out, nil
}
