package payloads

import (
	"time"

	"github.com/imc400/tuka-backend/pkg/enums"
)

// TransactionCreatedEvent is emitted once the ledger row and cart snapshot are stored.
type TransactionCreatedEvent struct {
	TransactionID uint64            `json:"transaction_id"`
	BuyerEmail    string            `json:"buyer_email"`
	StoreKeys     []string          `json:"store_keys"`
	TotalCents    int64             `json:"total_cents"`
	Currency      string            `json:"currency"`
	PaymentMode   enums.PaymentMode `json:"payment_mode"`
}

// TransactionStatusChangedEvent reports a ledger status transition and the counters behind it.
type TransactionStatusChangedEvent struct {
	TransactionID     uint64                  `json:"transaction_id"`
	PreviousStatus    enums.TransactionStatus `json:"previous_status"`
	Status            enums.TransactionStatus `json:"status"`
	TotalPayments     int                     `json:"total_payments"`
	CompletedPayments int                     `json:"completed_payments"`
	FailedPayments    int                     `json:"failed_payments"`
	FinalizedAt       *time.Time              `json:"finalized_at,omitempty"`
}

// StorePaymentStatusChangedEvent reports a settlement transition for one storefront.
type StorePaymentStatusChangedEvent struct {
	TransactionID      uint64                   `json:"transaction_id"`
	StoreKey           string                   `json:"store_key"`
	StorePaymentID     string                   `json:"store_payment_id"`
	PreviousStatus     enums.StorePaymentStatus `json:"previous_status"`
	Status             enums.StorePaymentStatus `json:"status"`
	ProcessorPaymentID string                   `json:"processor_payment_id,omitempty"`
	GrossCents         int64                    `json:"gross_cents"`
	NetCents           int64                    `json:"net_cents"`
}

// FulfillmentCreatedEvent signals the storefront order exists and is paid.
type FulfillmentCreatedEvent struct {
	TransactionID   uint64 `json:"transaction_id"`
	StoreKey        string `json:"store_key"`
	ExternalOrderID string `json:"external_order_id"`
	Recovered       bool   `json:"recovered"`
}

// FulfillmentFailedEvent flags a paid storefront order that needs a manual replay.
type FulfillmentFailedEvent struct {
	TransactionID uint64 `json:"transaction_id"`
	StoreKey      string `json:"store_key"`
	Attempts      int    `json:"attempts"`
	Error         string `json:"error"`
}
