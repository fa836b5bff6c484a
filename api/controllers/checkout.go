package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/imc400/tuka-backend/api/responses"
	"github.com/imc400/tuka-backend/api/validators"
	"github.com/imc400/tuka-backend/internal/checkout"
	"github.com/imc400/tuka-backend/internal/ledger"
	"github.com/imc400/tuka-backend/internal/rates"
	"github.com/imc400/tuka-backend/pkg/db/models"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/types"
)

const maxNameLength = 120

type transactionReader interface {
	Get(ctx context.Context, id uint64) (*models.Transaction, error)
}

type checkoutRequest struct {
	Buyer              types.Buyer           `json:"buyer" validate:"required"`
	Address            types.ShippingAddress `json:"address" validate:"required"`
	Lines              types.CartLines       `json:"lines" validate:"required,min=1,dive"`
	QuoteID            string                `json:"quote_id" validate:"required"`
	Picks              []rates.Pick          `json:"picks" validate:"required,min=1,dive"`
	Currency           string                `json:"currency,omitempty" validate:"omitempty,len=3"`
	ExpectedTotalCents int64                 `json:"expected_total_cents,omitempty" validate:"gte=0"`
}

// ShippingQuotes prices every storefront in the cart.
func ShippingQuotes(svc rates.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "rate service unavailable"))
			return
		}

		var req rates.QuoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// Checkout records the transaction and returns one charge intent per storefront.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buyer := req.Buyer
		buyer.Email = strings.ToLower(strings.TrimSpace(buyer.Email))
		buyer.FirstName = validators.SanitizeString(buyer.FirstName, maxNameLength)
		buyer.LastName = validators.SanitizeString(buyer.LastName, maxNameLength)

		result, err := svc.Start(r.Context(), checkout.StartInput{
			Buyer:              buyer,
			Address:            req.Address,
			Lines:              req.Lines,
			QuoteID:            strings.TrimSpace(req.QuoteID),
			Picks:              req.Picks,
			Currency:           req.Currency,
			ExpectedTotalCents: req.ExpectedTotalCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CheckoutRetry re-requests intents for storefronts that do not hold a live one.
func CheckoutRetry(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		id, err := transactionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Retry(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func TransactionDetail(svc transactionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}

		id, err := transactionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ledger.FromModel(txn))
	}
}
