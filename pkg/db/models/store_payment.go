package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/pkg/enums"
)

// StorePayment is one storefront's share of a transaction.
type StorePayment struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID      uint64                   `gorm:"column:transaction_id;not null;uniqueIndex:uq_store_payments_tx_store"`
	StoreKey           string                   `gorm:"column:store_key;not null;uniqueIndex:uq_store_payments_tx_store"`
	GrossCents         int64                    `gorm:"column:gross_cents;not null"`
	FeeCents           int64                    `gorm:"column:fee_cents;not null"`
	NetCents           int64                    `gorm:"column:net_cents;not null"`
	ShippingCents      int64                    `gorm:"column:shipping_cents;not null;default:0"`
	CollectorID        *string                  `gorm:"column:collector_id"`
	Attempt            int                      `gorm:"column:attempt;not null;default:0"`
	IntentID           *string                  `gorm:"column:intent_id"`
	CheckoutURL        *string                  `gorm:"column:checkout_url"`
	ProcessorPaymentID *string                  `gorm:"column:processor_payment_id"`
	Status             enums.StorePaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	LastError          *string                  `gorm:"column:last_error"`
	StoreOrderID       *string                  `gorm:"column:store_order_id"`
	ResolvedAt         *time.Time               `gorm:"column:resolved_at"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *StorePayment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// HasLiveIntent reports whether a charge intent exists that the buyer can
// still complete or that already settled.
func (p StorePayment) HasLiveIntent() bool {
	if p.IntentID == nil || *p.IntentID == "" {
		return false
	}
	return !p.Status.IsFailure()
}
