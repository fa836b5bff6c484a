package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/imc400/tuka-backend/pkg/enums"
)

// FulfillmentOrder records the order handed to one storefront's order system.
// A failed row is the replay handle for operators.
type FulfillmentOrder struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID   uint64                  `gorm:"column:transaction_id;not null;index:idx_fulfillment_tx_store"`
	StoreKey        string                  `gorm:"column:store_key;not null;index:idx_fulfillment_tx_store"`
	StorePaymentID  uuid.UUID               `gorm:"column:store_payment_id;type:uuid;not null"`
	Status          enums.FulfillmentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	CustomerID      *string                 `gorm:"column:customer_id"`
	ExternalOrderID *string                 `gorm:"column:external_order_id"`
	Attempts        int                     `gorm:"column:attempts;not null;default:0"`
	ErrorMessage    *string                 `gorm:"column:error_message"`
	ClaimedAt       time.Time               `gorm:"column:claimed_at;not null"`
	CompletedAt     *time.Time              `gorm:"column:completed_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *FulfillmentOrder) BeforeCreate(*gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
