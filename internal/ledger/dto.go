package ledger

import (
	"time"

	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	"github.com/imc400/tuka-backend/pkg/types"
)

// TransactionDTO is the buyer-facing view of a transaction and its store payments.
type TransactionDTO struct {
	ID                uint64                   `json:"transaction_id"`
	Status            enums.TransactionStatus  `json:"status"`
	Currency          string                   `json:"currency"`
	SubtotalCents     int64                    `json:"subtotal_cents"`
	ShippingCents     int64                    `json:"shipping_cents"`
	TotalCents        int64                    `json:"total_cents"`
	TotalPayments     int                      `json:"total_payments"`
	CompletedPayments int                      `json:"completed_payments"`
	FailedPayments    int                      `json:"failed_payments"`
	Shipping          types.ShippingSelections `json:"shipping"`
	Payments          []StorePaymentDTO        `json:"payments"`
	FinalizedAt       *time.Time               `json:"finalized_at,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
}

// StorePaymentDTO omits processor internals the buyer has no use for.
type StorePaymentDTO struct {
	StoreKey      string                   `json:"store_key"`
	Status        enums.StorePaymentStatus `json:"status"`
	GrossCents    int64                    `json:"gross_cents"`
	ShippingCents int64                    `json:"shipping_cents"`
	CheckoutURL   *string                  `json:"checkout_url,omitempty"`
	StoreOrderID  *string                  `json:"store_order_id,omitempty"`
	ResolvedAt    *time.Time               `json:"resolved_at,omitempty"`
}

func FromModel(txn *models.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                txn.ID,
		Status:            txn.Status,
		Currency:          txn.Currency,
		SubtotalCents:     txn.SubtotalCents,
		ShippingCents:     txn.ShippingCents,
		TotalCents:        txn.TotalCents,
		TotalPayments:     txn.TotalPayments,
		CompletedPayments: txn.CompletedPayments,
		FailedPayments:    txn.FailedPayments,
		Shipping:          txn.ShippingSelection,
		Payments:          make([]StorePaymentDTO, 0, len(txn.StorePayments)),
		FinalizedAt:       txn.FinalizedAt,
		CreatedAt:         txn.CreatedAt,
	}
	for _, p := range txn.StorePayments {
		dto.Payments = append(dto.Payments, StorePaymentDTO{
			StoreKey:      p.StoreKey,
			Status:        p.Status,
			GrossCents:    p.GrossCents,
			ShippingCents: p.ShippingCents,
			CheckoutURL:   p.CheckoutURL,
			StoreOrderID:  p.StoreOrderID,
			ResolvedAt:    p.ResolvedAt,
		})
	}
	return dto
}
