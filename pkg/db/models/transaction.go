package models

import (
	"time"

	"github.com/imc400/tuka-backend/pkg/enums"
	"github.com/imc400/tuka-backend/pkg/types"
)

// Transaction is the durable record of one checkout attempt. The numeric id is
// the idempotency root for every downstream external call.
type Transaction struct {
	ID                uint64                   `gorm:"column:id;primaryKey;autoIncrement"`
	Buyer             types.Buyer              `gorm:"column:buyer;type:jsonb;not null"`
	ShippingAddress   types.ShippingAddress    `gorm:"column:shipping_address;type:jsonb;not null"`
	CartSnapshot      types.CartLines          `gorm:"column:cart_snapshot;type:jsonb;not null"`
	ShippingSelection types.ShippingSelections `gorm:"column:shipping_selection;type:jsonb;not null"`
	Currency          string                   `gorm:"column:currency;not null"`
	SubtotalCents     int64                    `gorm:"column:subtotal_cents;not null"`
	ShippingCents     int64                    `gorm:"column:shipping_cents;not null"`
	TotalCents        int64                    `gorm:"column:total_cents;not null"`
	PaymentMode       enums.PaymentMode        `gorm:"column:payment_mode;type:text;not null"`
	Status            enums.TransactionStatus  `gorm:"column:status;type:text;not null;default:'pending'"`
	TotalPayments     int                      `gorm:"column:total_payments;not null;default:0"`
	CompletedPayments int                      `gorm:"column:completed_payments;not null;default:0"`
	FailedPayments    int                      `gorm:"column:failed_payments;not null;default:0"`
	QuoteID           *string                  `gorm:"column:quote_id"`
	FinalizedAt       *time.Time               `gorm:"column:finalized_at"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
	StorePayments     []StorePayment           `gorm:"foreignKey:TransactionID"`
}
